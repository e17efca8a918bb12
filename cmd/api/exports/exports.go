package exports

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	app "github.com/wbrunovieira/WB-project-manager-sub000/cmd/api/app"
	"github.com/wbrunovieira/WB-project-manager-sub000/internal/sla"
)

var header = []string{"identifier", "title", "status", "priority", "reported_at", "resolved_at", "resolution_minutes", "resolution", "sla_hours", "sla_status", "percentage_used"}

type row struct {
	identifier, title, status string
	priority                  int
	start                     time.Time
	resolvedAt                *time.Time
	resolutionMins            *int
	slaHours                  *int
}

func (r row) record(now time.Time) []string {
	rec := []string{r.identifier, r.title, r.status, strconv.Itoa(r.priority), r.start.Format(time.RFC3339), "", "", "", "", "", ""}
	current := now
	if r.resolvedAt != nil {
		rec[5] = r.resolvedAt.Format(time.RFC3339)
		current = *r.resolvedAt
	}
	mins := r.resolutionMins
	if mins == nil && r.resolvedAt != nil {
		m := sla.BusinessMinutes(r.start, *r.resolvedAt)
		mins = &m
	}
	if mins != nil {
		rec[6] = strconv.Itoa(*mins)
		rec[7] = sla.FormatMinutes(*mins)
	}
	if r.slaHours != nil {
		st := sla.CheckStatus(r.start, *r.slaHours, current)
		rec[8] = strconv.Itoa(*r.slaHours)
		rec[9] = string(st.State)
		rec[10] = strconv.Itoa(st.PercentageUsed)
	}
	return rec
}

// Issues streams the workspace's issues as CSV with their resolution time
// and SLA position.
func Issues(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws := c.Param("id")
		c.Header("Content-Type", "text/csv; charset=utf-8")
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="issues-%s.csv"`, ws))
		w := csv.NewWriter(c.Writer)
		_ = w.Write(header)
		if a.DB == nil {
			w.Flush()
			return
		}
		const q = `select i.identifier, i.title, i.status, i.priority, coalesce(i.reported_at, i.created_at),
i.resolved_at, i.resolution_time_minutes, p.resolution_hours
from issues i
left join sla_policies p on p.workspace_id=i.workspace_id and p.priority=i.priority
where i.workspace_id=$1
order by i.created_at`
		rows, err := a.DB.Query(c.Request.Context(), q, ws)
		if err != nil {
			app.AbortError(c, http.StatusInternalServerError, "db_error", err.Error(), nil)
			return
		}
		defer rows.Close()
		now := a.Now()
		for rows.Next() {
			var r row
			if err := rows.Scan(&r.identifier, &r.title, &r.status, &r.priority, &r.start, &r.resolvedAt, &r.resolutionMins, &r.slaHours); err != nil {
				app.AbortError(c, http.StatusInternalServerError, "db_error", err.Error(), nil)
				return
			}
			if err := w.Write(r.record(now)); err != nil {
				return
			}
		}
		w.Flush()
	}
}
