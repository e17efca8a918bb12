// Package sla computes elapsed working time and SLA state over a fixed
// Monday–Friday, 09:00–18:00 business calendar.
//
// All arithmetic uses the wall-clock fields of each time.Time in its own
// Location. Nothing is converted between zones.
package sla

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	StartHour   = 9
	EndHour     = 18
	HoursPerDay = EndHour - StartHour
)

// ErrInvalidArgument is returned for inputs the calendar cannot walk, such as
// a negative number of hours.
var ErrInvalidArgument = errors.New("invalid argument")

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// IsBusinessTime reports whether t falls on a weekday inside the business window.
func IsBusinessTime(t time.Time) bool {
	if isWeekend(t) {
		return false
	}
	h := t.Hour()
	return h >= StartHour && h < EndHour
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), StartHour, 0, 0, 0, t.Location())
}

func dayEnd(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), EndHour, 0, 0, 0, t.Location())
}

// nextDayStart returns 09:00 on the first weekday after t's calendar date.
func nextDayStart(t time.Time) time.Time {
	next := time.Date(t.Year(), t.Month(), t.Day()+1, StartHour, 0, 0, 0, t.Location())
	for isWeekend(next) {
		next = time.Date(next.Year(), next.Month(), next.Day()+1, StartHour, 0, 0, 0, next.Location())
	}
	return next
}

// BusinessMinutes returns the whole business minutes between start and end.
// It returns 0 when start is not before end. Each day's segment is truncated
// to the minute on its own.
func BusinessMinutes(start, end time.Time) int {
	if !start.Before(end) {
		return 0
	}
	total := 0
	cur := start
	for {
		if isWeekend(cur) {
			cur = nextDayStart(cur)
			continue
		}
		opens, closes := dayStart(cur), dayEnd(cur)
		segStart := cur
		if cur.Before(opens) {
			segStart = opens
		} else if !cur.Before(closes) {
			cur = nextDayStart(cur)
			continue
		}
		if end.Before(opens) {
			break
		}
		segEnd := closes
		if !end.After(closes) {
			segEnd = end
		}
		if d := segEnd.Sub(segStart); d > 0 {
			total += int(d / time.Minute)
		}
		if !segEnd.Before(end) {
			break
		}
		cur = nextDayStart(segEnd)
	}
	return total
}

// maxHours is the largest allotment representable as a time.Duration.
const maxHours = float64(math.MaxInt64 / int64(time.Hour))

// AddBusinessHours returns the instant reached after consuming hours of
// business time from start. Zero hours returns start unchanged.
func AddBusinessHours(start time.Time, hours float64) (time.Time, error) {
	if hours < 0 || hours > maxHours || math.IsNaN(hours) || math.IsInf(hours, 0) {
		return time.Time{}, fmt.Errorf("add %v business hours: %w", hours, ErrInvalidArgument)
	}
	remaining := time.Duration(hours * float64(time.Hour))
	cur := start
	for remaining > 0 {
		if isWeekend(cur) {
			cur = nextDayStart(cur)
			continue
		}
		if opens := dayStart(cur); cur.Before(opens) {
			cur = opens
		}
		closes := dayEnd(cur)
		if !cur.Before(closes) {
			cur = nextDayStart(cur)
			continue
		}
		available := closes.Sub(cur).Truncate(time.Minute)
		if remaining <= available {
			cur = cur.Add(remaining)
			break
		}
		remaining -= available
		cur = nextDayStart(closes)
	}
	return cur, nil
}

// FormatBusinessHours renders the business time between start and end.
func FormatBusinessHours(start, end time.Time) string {
	return FormatMinutes(BusinessMinutes(start, end))
}

// FormatMinutes renders a business-minute count as "45m", "3h 15m" or, from
// 24 hours upwards, as business days of HoursPerDay hours ("3d 2h").
// Negative counts are rendered with a leading minus sign.
func FormatMinutes(minutes int) string {
	if minutes < 0 {
		return "-" + FormatMinutes(-minutes)
	}
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	hours, rem := minutes/60, minutes%60
	if hours < 24 {
		if rem == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		return fmt.Sprintf("%dh %dm", hours, rem)
	}
	days, remHours := hours/HoursPerDay, hours%HoursPerDay
	if remHours == 0 {
		return fmt.Sprintf("%dd", days)
	}
	return fmt.Sprintf("%dd %dh", days, remHours)
}
