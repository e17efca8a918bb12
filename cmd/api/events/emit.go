package events

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	apppkg "github.com/wbrunovieira/WB-project-manager-sub000/cmd/api/app"
)

const (
	StatusChanged    = "status_changed"
	SLAStatusChanged = "sla_status_changed"
)

// Emit records an issue event in the database. Best effort; failures are
// logged and otherwise ignored.
func Emit(ctx context.Context, db apppkg.DB, issueID, typ string, data interface{}) {
	if db == nil {
		return
	}
	b, err := json.Marshal(data)
	if err != nil {
		return
	}
	const q = `insert into issue_events (issue_id, workspace_id, event_type, payload)
select id, workspace_id, $2, $3 from issues where id=$1`
	if _, err := db.Exec(ctx, q, issueID, typ, b); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("issue", issueID).Str("event", typ).Msg("emit event")
	}
}
