package main

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	apppkg "github.com/wbrunovieira/WB-project-manager-sub000/cmd/api/app"
	"github.com/wbrunovieira/WB-project-manager-sub000/cmd/api/events"
	"github.com/wbrunovieira/WB-project-manager-sub000/internal/sla"
)

const (
	jobsQueue     = "jobs"
	notifySLAType = "notify_sla"
)

type Job struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// SLANotice is the payload of a notify_sla job.
type SLANotice struct {
	IssueID        string    `json:"issue_id"`
	WorkspaceID    string    `json:"workspace_id"`
	Identifier     string    `json:"identifier"`
	State          sla.State `json:"state"`
	PercentageUsed int       `json:"percentage_used"`
	Message        string    `json:"message"`
}

// titles may carry markup pasted from rich text editors
var textPolicy = bluemonday.StrictPolicy()

type openIssue struct {
	id, workspaceID, identifier, title string
	stored                             sla.State
	start                              time.Time
	hours                              int
}

// Sweeper reclassifies open issues against their resolution targets.
type Sweeper struct {
	DB  apppkg.DB
	Q   *redis.Client
	Now func() time.Time
}

func (s *Sweeper) open(ctx context.Context) ([]openIssue, error) {
	rows, err := s.DB.Query(ctx, `select i.id::text, i.workspace_id::text, i.identifier, i.title, i.sla_status,
coalesce(i.reported_at, i.created_at), p.resolution_hours
from issues i
join sla_policies p on p.workspace_id=i.workspace_id and p.priority=i.priority
where i.resolved_at is null and i.status not in ('done','canceled')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []openIssue
	for rows.Next() {
		var it openIssue
		var stored string
		if err := rows.Scan(&it.id, &it.workspaceID, &it.identifier, &it.title, &stored, &it.start, &it.hours); err != nil {
			return nil, err
		}
		it.stored = sla.State(stored)
		out = append(out, it)
	}
	return out, rows.Err()
}

// Run performs one sweep and returns how many issues changed state. A state
// only ever advances; an issue already overdue stays overdue until resolved.
func (s *Sweeper) Run(ctx context.Context) (int, error) {
	items, err := s.open(ctx)
	if err != nil {
		return 0, fmt.Errorf("load open issues: %w", err)
	}
	now := s.Now()
	changed := 0
	for _, it := range items {
		st := sla.CheckStatus(it.start, it.hours, now)
		if st.State.Rank() <= it.stored.Rank() {
			continue
		}
		if _, err := s.DB.Exec(ctx, `update issues set sla_status=$2 where id=$1 and resolved_at is null`, it.id, string(st.State)); err != nil {
			log.Error().Err(err).Str("issue", it.id).Msg("update sla status")
			continue
		}
		changed++
		payload := map[string]any{
			"from":            it.stored,
			"to":              st.State,
			"percentage_used": st.PercentageUsed,
		}
		events.Emit(ctx, s.DB, it.id, events.SLAStatusChanged, payload)
		events.Publish(ctx, s.Q, events.Live{Type: events.SLAStatusChanged, WorkspaceID: it.workspaceID, IssueID: it.id, Data: payload})
		if err := s.notify(ctx, it, st); err != nil {
			log.Error().Err(err).Str("issue", it.id).Msg("enqueue sla notice")
		}
	}
	return changed, nil
}

func (s *Sweeper) notify(ctx context.Context, it openIssue, st sla.Status) error {
	if s.Q == nil {
		return nil
	}
	n := SLANotice{
		IssueID:        it.id,
		WorkspaceID:    it.workspaceID,
		Identifier:     it.identifier,
		State:          st.State,
		PercentageUsed: st.PercentageUsed,
		Message:        noticeText(it, st),
	}
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(Job{ID: uuid.NewString(), Type: notifySLAType, Data: data})
	if err != nil {
		return err
	}
	return s.Q.RPush(ctx, jobsQueue, payload).Err()
}

func noticeText(it openIssue, st sla.Status) string {
	// the policy escapes entities; messages are plain text
	title := html.UnescapeString(textPolicy.Sanitize(it.title))
	if st.State == sla.Overdue {
		return fmt.Sprintf("%s %s is overdue by %s (target %dh)", it.identifier, title, sla.FormatMinutes(-st.RemainingMinutes), it.hours)
	}
	return fmt.Sprintf("%s %s has used %d%% of its %dh target, %s left", it.identifier, title, st.PercentageUsed, it.hours, sla.FormatMinutes(st.RemainingMinutes))
}
