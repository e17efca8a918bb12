package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	IssuesResolvedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "issues_resolved_total",
		Help: "Issues moved to done.",
	})
	IssuesReopenedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "issues_reopened_total",
		Help: "Issues moved out of done.",
	})
	ResolutionMinutes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "issue_resolution_business_minutes",
		Help:    "Business minutes from report to resolution.",
		Buckets: []float64{60, 240, 540, 1080, 2700, 5400, 10800},
	})
	DashboardCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_cache_total",
		Help: "Dashboard cache lookups by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(IssuesResolvedTotal, IssuesReopenedTotal, ResolutionMinutes, DashboardCacheTotal)
}

// Handler exposes the default registry.
func Handler() gin.HandlerFunc { return gin.WrapH(promhttp.Handler()) }
