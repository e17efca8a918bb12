package sla

import (
	"math"
	"time"
)

// State classifies elapsed time against an SLA allotment.
type State string

const (
	OnTime  State = "on-time"
	AtRisk  State = "at-risk"
	Overdue State = "overdue"
)

const (
	atRiskPercent  = 80
	overduePercent = 100
)

// Rank orders states so callers can tell whether a change moves forward.
func (s State) Rank() int {
	switch s {
	case AtRisk:
		return 1
	case Overdue:
		return 2
	default:
		return 0
	}
}

// Status is the SLA position of one item at a point in time.
type Status struct {
	State            State `json:"status"`
	ElapsedMinutes   int   `json:"elapsed_minutes"`
	RemainingMinutes int   `json:"remaining_minutes"`
	PercentageUsed   int   `json:"percentage_used"`
}

// CheckStatus measures the business time from start to current against an
// allotment of slaHours. Thresholds apply to the unclamped percentage;
// PercentageUsed is clamped to [0, 100] and then rounded half up.
//
// A zero allotment with nothing elapsed is on-time at 0%.
func CheckStatus(start time.Time, slaHours int, current time.Time) Status {
	elapsed := BusinessMinutes(start, current)
	slaMinutes := slaHours * 60
	st := Status{
		ElapsedMinutes:   elapsed,
		RemainingMinutes: slaMinutes - elapsed,
	}
	pct := float64(elapsed) / float64(slaMinutes) * 100
	switch {
	case math.IsNaN(pct):
		st.State = OnTime
		return st
	case pct >= overduePercent:
		st.State = Overdue
	case pct >= atRiskPercent:
		st.State = AtRisk
	default:
		st.State = OnTime
	}
	st.PercentageUsed = int(math.Floor(math.Max(0, math.Min(100, pct)) + 0.5))
	return st
}

// CheckStatusNow is CheckStatus evaluated at the current wall-clock time.
func CheckStatusNow(start time.Time, slaHours int) Status {
	return CheckStatus(start, slaHours, time.Now())
}
