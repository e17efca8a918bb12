package sla

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrNoPolicy is returned when a workspace has no target for a priority.
var ErrNoPolicy = errors.New("no sla policy")

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Policy holds a workspace's business-hour targets for one issue priority.
type Policy struct {
	ID              string `json:"id"`
	WorkspaceID     string `json:"workspace_id"`
	Priority        int    `json:"priority"`
	ResponseHours   int    `json:"response_hours"`
	ResolutionHours int    `json:"resolution_hours"`
}

// ListPolicies returns the SLA policies of a workspace.
func ListPolicies(ctx context.Context, db DB, workspaceID string) ([]Policy, error) {
	rows, err := db.Query(ctx, `select id::text, workspace_id::text, priority, response_hours, resolution_hours from sla_policies where workspace_id=$1 order by priority`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Policy{}
	for rows.Next() {
		var p Policy
		if err := rows.Scan(&p.ID, &p.WorkspaceID, &p.Priority, &p.ResponseHours, &p.ResolutionHours); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PolicyFor returns the policy matching a workspace and priority.
func PolicyFor(ctx context.Context, db DB, workspaceID string, priority int) (Policy, error) {
	var p Policy
	err := db.QueryRow(ctx, `select id::text, workspace_id::text, priority, response_hours, resolution_hours from sla_policies where workspace_id=$1 and priority=$2`, workspaceID, priority).
		Scan(&p.ID, &p.WorkspaceID, &p.Priority, &p.ResponseHours, &p.ResolutionHours)
	if errors.Is(err, pgx.ErrNoRows) {
		return Policy{}, fmt.Errorf("workspace %s priority %d: %w", workspaceID, priority, ErrNoPolicy)
	}
	if err != nil {
		return Policy{}, err
	}
	return p, nil
}
