package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	app "github.com/wbrunovieira/WB-project-manager-sub000/cmd/api/app"
	"github.com/wbrunovieira/WB-project-manager-sub000/internal/sla"
)

const (
	defaultDays = 30
	maxDays     = 365
)

// Summary aggregates business-time figures over a workspace's recent issues.
type Summary struct {
	WorkspaceID             string            `json:"workspace_id"`
	Days                    int               `json:"days"`
	Issues                  int               `json:"issues"`
	Resolved                int               `json:"resolved"`
	AvgResolutionMinutes    int               `json:"avg_resolution_minutes"`
	AvgResolution           string            `json:"avg_resolution"`
	Responded               int               `json:"responded"`
	AvgFirstResponseMinutes int               `json:"avg_first_response_minutes"`
	AvgFirstResponse        string            `json:"avg_first_response"`
	OpenBySLA               map[sla.State]int `json:"open_by_sla"`
	GeneratedAt             time.Time         `json:"generated_at"`
}

// issueTimes is the subset of an issue the dashboard measures.
type issueTimes struct {
	start           time.Time
	firstResponseAt *time.Time
	resolvedAt      *time.Time
	resolutionMins  *int
	resolutionHours *int
}

func summarize(items []issueTimes, now time.Time) Summary {
	s := Summary{
		Issues:    len(items),
		OpenBySLA: map[sla.State]int{sla.OnTime: 0, sla.AtRisk: 0, sla.Overdue: 0},
	}
	var resTotal, respTotal int
	for _, it := range items {
		if it.firstResponseAt != nil {
			respTotal += sla.BusinessMinutes(it.start, *it.firstResponseAt)
			s.Responded++
		}
		if it.resolvedAt != nil {
			if it.resolutionMins != nil {
				resTotal += *it.resolutionMins
			} else {
				resTotal += sla.BusinessMinutes(it.start, *it.resolvedAt)
			}
			s.Resolved++
			continue
		}
		if it.resolutionHours != nil {
			st := sla.CheckStatus(it.start, *it.resolutionHours, now)
			s.OpenBySLA[st.State]++
		}
	}
	if s.Resolved > 0 {
		s.AvgResolutionMinutes = resTotal / s.Resolved
	}
	if s.Responded > 0 {
		s.AvgFirstResponseMinutes = respTotal / s.Responded
	}
	s.AvgResolution = sla.FormatMinutes(s.AvgResolutionMinutes)
	s.AvgFirstResponse = sla.FormatMinutes(s.AvgFirstResponseMinutes)
	s.GeneratedAt = now
	return s
}

// Dashboard returns resolution and first-response averages plus the SLA
// spread of open issues created in the last ?days days.
func Dashboard(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws := c.Param("id")
		days := defaultDays
		if v := c.Query("days"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > maxDays {
				app.AbortError(c, http.StatusBadRequest, "invalid_argument", fmt.Sprintf("days must be between 1 and %d", maxDays), map[string]string{"days": "range"})
				return
			}
			days = n
		}
		ctx := c.Request.Context()
		key := fmt.Sprintf("dashboard:%s:%d", ws, days)
		cache := a.Q != nil && a.Cfg.DashboardCache > 0
		if cache {
			if b, err := a.Q.Get(ctx, key).Bytes(); err == nil {
				DashboardCacheTotal.WithLabelValues("hit").Inc()
				c.Data(http.StatusOK, "application/json; charset=utf-8", b)
				return
			}
			DashboardCacheTotal.WithLabelValues("miss").Inc()
		}
		if a.DB == nil {
			c.JSON(http.StatusOK, Summary{WorkspaceID: ws, Days: days})
			return
		}
		now := a.Now()
		const q = `select coalesce(i.reported_at, i.created_at), i.first_response_at, i.resolved_at, i.resolution_time_minutes, p.resolution_hours
from issues i
left join sla_policies p on p.workspace_id=i.workspace_id and p.priority=i.priority
where i.workspace_id=$1 and i.created_at >= $2 and i.status <> 'canceled'`
		rows, err := a.DB.Query(ctx, q, ws, now.AddDate(0, 0, -days))
		if err != nil {
			app.AbortError(c, http.StatusInternalServerError, "db_error", err.Error(), nil)
			return
		}
		defer rows.Close()
		items := []issueTimes{}
		for rows.Next() {
			var it issueTimes
			if err := rows.Scan(&it.start, &it.firstResponseAt, &it.resolvedAt, &it.resolutionMins, &it.resolutionHours); err != nil {
				app.AbortError(c, http.StatusInternalServerError, "db_error", err.Error(), nil)
				return
			}
			items = append(items, it)
		}
		if err := rows.Err(); err != nil {
			app.AbortError(c, http.StatusInternalServerError, "db_error", err.Error(), nil)
			return
		}
		s := summarize(items, now)
		s.WorkspaceID = ws
		s.Days = days
		b, err := json.Marshal(s)
		if err != nil {
			app.AbortError(c, http.StatusInternalServerError, "internal", err.Error(), nil)
			return
		}
		if cache {
			if err := a.Q.Set(ctx, key, b, a.Cfg.DashboardCache).Err(); err != nil {
				log.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("dashboard cache set")
			}
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", b)
	}
}
