package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Channel is the Redis pub/sub channel carrying live issue events between
// the API replicas and the worker.
const Channel = "issue_events"

// Live is an issue event fanned out to connected clients.
type Live struct {
	Type        string      `json:"type"`
	WorkspaceID string      `json:"workspace_id"`
	IssueID     string      `json:"issue_id"`
	Data        interface{} `json:"data,omitempty"`
}

// Publish sends ev on Channel. A nil client disables publishing.
func Publish(ctx context.Context, rdb *redis.Client, ev Live) {
	if rdb == nil {
		return
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := rdb.Publish(ctx, Channel, b).Err(); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("event", ev.Type).Msg("publish event")
	}
}
