package issues

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	app "github.com/wbrunovieira/WB-project-manager-sub000/cmd/api/app"
	"github.com/wbrunovieira/WB-project-manager-sub000/internal/sla"
)

// Badge is the SLA summary rendered next to an issue.
type Badge struct {
	sla.Status
	SLAHours     int       `json:"sla_hours"`
	Elapsed      string    `json:"elapsed"`
	Remaining    string    `json:"remaining,omitempty"`
	OverdueBy    string    `json:"overdue_by,omitempty"`
	DueAt        time.Time `json:"due_at"`
	Resolved     bool      `json:"resolved"`
	ClockRunning bool      `json:"clock_running"`
}

func badge(iss Issue, hours int, now time.Time) (Badge, error) {
	start := iss.ClockStart()
	current := now
	if iss.ResolvedAt != nil {
		current = *iss.ResolvedAt
	}
	due, err := sla.AddBusinessHours(start, float64(hours))
	if err != nil {
		return Badge{}, err
	}
	st := sla.CheckStatus(start, hours, current)
	b := Badge{
		Status:   st,
		SLAHours: hours,
		Elapsed:  sla.FormatMinutes(st.ElapsedMinutes),
		DueAt:    due,
		Resolved: iss.ResolvedAt != nil,
	}
	if st.RemainingMinutes < 0 {
		b.OverdueBy = sla.FormatMinutes(-st.RemainingMinutes)
	} else {
		b.Remaining = sla.FormatMinutes(st.RemainingMinutes)
	}
	b.ClockRunning = !b.Resolved && iss.Status != StatusCanceled && sla.IsBusinessTime(now) && !now.Before(start)
	return b, nil
}

// SLA reports the issue's position against its workspace resolution target.
func SLA(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.DB == nil {
			c.JSON(http.StatusOK, Badge{})
			return
		}
		iss, ok := loadOrAbort(c, a)
		if !ok {
			return
		}
		p, err := sla.PolicyFor(c.Request.Context(), a.DB, iss.WorkspaceID, iss.Priority)
		if errors.Is(err, sla.ErrNoPolicy) {
			app.AbortError(c, http.StatusNotFound, "no_sla_policy", err.Error(), nil)
			return
		}
		if err != nil {
			app.AbortError(c, http.StatusInternalServerError, "db_error", err.Error(), nil)
			return
		}
		b, err := badge(iss, p.ResolutionHours, a.Now())
		if err != nil {
			app.AbortError(c, http.StatusUnprocessableEntity, "invalid_argument", err.Error(), nil)
			return
		}
		c.JSON(http.StatusOK, b)
	}
}
