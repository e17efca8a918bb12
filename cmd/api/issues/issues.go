package issues

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	app "github.com/wbrunovieira/WB-project-manager-sub000/cmd/api/app"
	authpkg "github.com/wbrunovieira/WB-project-manager-sub000/cmd/api/auth"
	"github.com/wbrunovieira/WB-project-manager-sub000/cmd/api/events"
	"github.com/wbrunovieira/WB-project-manager-sub000/cmd/api/metrics"
	"github.com/wbrunovieira/WB-project-manager-sub000/internal/sla"
)

const (
	StatusBacklog    = "backlog"
	StatusTodo       = "todo"
	StatusInProgress = "in_progress"
	StatusInReview   = "in_review"
	StatusDone       = "done"
	StatusCanceled   = "canceled"
)

type Issue struct {
	ID                    string     `json:"id"`
	WorkspaceID           string     `json:"workspace_id"`
	Identifier            string     `json:"identifier"`
	Title                 string     `json:"title"`
	Status                string     `json:"status"`
	Priority              int        `json:"priority"`
	ReportedAt            *time.Time `json:"reported_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	FirstResponseAt       *time.Time `json:"first_response_at,omitempty"`
	ResolvedAt            *time.Time `json:"resolved_at,omitempty"`
	ResolutionTimeMinutes *int       `json:"resolution_time_minutes,omitempty"`
}

// ClockStart is the instant SLA and resolution time are measured from.
func (i Issue) ClockStart() time.Time {
	if i.ReportedAt != nil {
		return *i.ReportedAt
	}
	return i.CreatedAt
}

const selectIssue = `select i.id::text, i.workspace_id::text, i.identifier, i.title, i.status, i.priority,
i.reported_at, i.created_at, i.first_response_at, i.resolved_at, i.resolution_time_minutes
from issues i
join workspace_members m on m.workspace_id=i.workspace_id and m.user_id=$2
where i.id=$1`

// load fetches an issue visible to userID.
func load(ctx context.Context, db app.DB, id, userID string) (Issue, error) {
	var i Issue
	err := db.QueryRow(ctx, selectIssue, id, userID).Scan(&i.ID, &i.WorkspaceID, &i.Identifier, &i.Title, &i.Status, &i.Priority,
		&i.ReportedAt, &i.CreatedAt, &i.FirstResponseAt, &i.ResolvedAt, &i.ResolutionTimeMinutes)
	return i, err
}

func loadOrAbort(c *gin.Context, a *app.App) (Issue, bool) {
	u, _ := authpkg.CurrentUser(c)
	iss, err := load(c.Request.Context(), a.DB, c.Param("id"), u.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		app.AbortError(c, http.StatusNotFound, "not_found", "issue not found", nil)
		return Issue{}, false
	}
	if err != nil {
		app.AbortError(c, http.StatusInternalServerError, "db_error", err.Error(), nil)
		return Issue{}, false
	}
	return iss, true
}

// Get returns an issue by id.
func Get(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.DB == nil {
			c.JSON(http.StatusOK, Issue{})
			return
		}
		iss, ok := loadOrAbort(c, a)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, iss)
	}
}

type transitionReq struct {
	Status string `json:"status" binding:"required,oneof=backlog todo in_progress in_review done canceled"`
}

// apply moves iss to status at now and reports whether it was resolved or
// reopened by the move.
func apply(iss *Issue, status string, now time.Time) (resolved, reopened bool) {
	switch {
	case status == StatusDone:
		mins := sla.BusinessMinutes(iss.ClockStart(), now)
		iss.ResolvedAt = &now
		iss.ResolutionTimeMinutes = &mins
		resolved = true
	case iss.Status == StatusDone:
		iss.ResolvedAt = nil
		iss.ResolutionTimeMinutes = nil
		reopened = true
	}
	if (status == StatusInProgress || status == StatusInReview) && iss.FirstResponseAt == nil {
		iss.FirstResponseAt = &now
	}
	iss.Status = status
	return resolved, reopened
}

// Transition changes an issue's workflow status. Resolving stamps the
// business minutes since the issue was reported; reopening clears them.
func Transition(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in transitionReq
		if err := c.ShouldBindJSON(&in); err != nil {
			app.AbortBind(c, err)
			return
		}
		if a.DB == nil {
			c.JSON(http.StatusOK, Issue{Status: in.Status})
			return
		}
		iss, ok := loadOrAbort(c, a)
		if !ok {
			return
		}
		if iss.Status == in.Status {
			c.JSON(http.StatusOK, iss)
			return
		}
		from := iss.Status
		resolved, reopened := apply(&iss, in.Status, a.Now())
		ctx := c.Request.Context()
		const q = `update issues set status=$2, first_response_at=$3, resolved_at=$4, resolution_time_minutes=$5, updated_at=now() where id=$1`
		if _, err := a.DB.Exec(ctx, q, iss.ID, iss.Status, iss.FirstResponseAt, iss.ResolvedAt, iss.ResolutionTimeMinutes); err != nil {
			app.AbortError(c, http.StatusInternalServerError, "db_error", err.Error(), nil)
			return
		}
		payload := gin.H{
			"from":                    from,
			"to":                      iss.Status,
			"resolution_time_minutes": iss.ResolutionTimeMinutes,
		}
		events.Emit(ctx, a.DB, iss.ID, events.StatusChanged, payload)
		events.Publish(ctx, a.Q, events.Live{Type: events.StatusChanged, WorkspaceID: iss.WorkspaceID, IssueID: iss.ID, Data: payload})
		if resolved {
			metrics.IssuesResolvedTotal.Inc()
			metrics.ResolutionMinutes.Observe(float64(*iss.ResolutionTimeMinutes))
			log.Ctx(ctx).Info().Str("issue", iss.ID).Int("resolution_minutes", *iss.ResolutionTimeMinutes).Msg("issue resolved")
		}
		if reopened {
			metrics.IssuesReopenedTotal.Inc()
		}
		c.JSON(http.StatusOK, iss)
	}
}
