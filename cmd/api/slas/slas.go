package slas

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	app "github.com/wbrunovieira/WB-project-manager-sub000/cmd/api/app"
	"github.com/wbrunovieira/WB-project-manager-sub000/internal/sla"
)

// List returns the SLA policies of the workspace in the route.
func List(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.DB == nil {
			c.JSON(http.StatusOK, []sla.Policy{})
			return
		}
		policies, err := sla.ListPolicies(c.Request.Context(), a.DB, c.Param("id"))
		if err != nil {
			app.AbortError(c, http.StatusInternalServerError, "db_error", err.Error(), nil)
			return
		}
		c.JSON(http.StatusOK, policies)
	}
}

type calcReq struct {
	Start *time.Time `json:"start" binding:"required"`
	End   *time.Time `json:"end"`
	Hours *float64   `json:"hours"`
}

type calcResp struct {
	Minutes   *int       `json:"minutes,omitempty"`
	Formatted string     `json:"formatted,omitempty"`
	DueAt     *time.Time `json:"due_at,omitempty"`
}

// Calculate measures business time between two instants, or projects a due
// instant from a start and a number of business hours.
func Calculate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var in calcReq
		if err := c.ShouldBindJSON(&in); err != nil {
			app.AbortBind(c, err)
			return
		}
		switch {
		case in.End != nil && in.Hours != nil:
			app.AbortError(c, http.StatusBadRequest, "invalid_argument", "end and hours are mutually exclusive", nil)
		case in.End != nil:
			mins := sla.BusinessMinutes(*in.Start, *in.End)
			c.JSON(http.StatusOK, calcResp{Minutes: &mins, Formatted: sla.FormatMinutes(mins)})
		case in.Hours != nil:
			due, err := sla.AddBusinessHours(*in.Start, *in.Hours)
			if errors.Is(err, sla.ErrInvalidArgument) {
				app.AbortError(c, http.StatusBadRequest, "invalid_argument", err.Error(), map[string]string{"hours": "range"})
				return
			}
			if err != nil {
				app.AbortError(c, http.StatusInternalServerError, "internal", err.Error(), nil)
				return
			}
			c.JSON(http.StatusOK, calcResp{DueAt: &due})
		default:
			app.AbortError(c, http.StatusBadRequest, "invalid_argument", "end or hours is required", nil)
		}
	}
}

type upsertReq struct {
	ResponseHours   *int `json:"response_hours" binding:"required,gte=0"`
	ResolutionHours *int `json:"resolution_hours" binding:"required,gte=0"`
}

// Upsert sets the targets for one priority of the workspace. Only owners and
// admins may change policies.
func Upsert(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if role := c.GetString("workspace_role"); role != "" && role != "owner" && role != "admin" {
			app.AbortError(c, http.StatusForbidden, "forbidden", "only workspace admins can change SLA policies", nil)
			return
		}
		priority, err := strconv.Atoi(c.Param("priority"))
		if err != nil || priority < 0 || priority > 4 {
			app.AbortError(c, http.StatusBadRequest, "invalid_argument", "priority must be between 0 and 4", map[string]string{"priority": "range"})
			return
		}
		var in upsertReq
		if err := c.ShouldBindJSON(&in); err != nil {
			app.AbortBind(c, err)
			return
		}
		p := sla.Policy{WorkspaceID: c.Param("id"), Priority: priority, ResponseHours: *in.ResponseHours, ResolutionHours: *in.ResolutionHours}
		if a.DB == nil {
			c.JSON(http.StatusOK, p)
			return
		}
		const q = `insert into sla_policies (workspace_id, priority, response_hours, resolution_hours) values ($1, $2, $3, $4)
on conflict (workspace_id, priority) do update set response_hours=excluded.response_hours, resolution_hours=excluded.resolution_hours
returning id::text`
		if err := a.DB.QueryRow(c.Request.Context(), q, p.WorkspaceID, p.Priority, p.ResponseHours, p.ResolutionHours).Scan(&p.ID); err != nil {
			app.AbortError(c, http.StatusInternalServerError, "db_error", err.Error(), nil)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}
