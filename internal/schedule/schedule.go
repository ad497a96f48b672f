// Package schedule computes when recurring reports are due and triggers them.
package schedule

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/rankgrid/internal/model"
)

// Frequencies accepted in model.Schedule.Frequency. The empty string means
// manual.
const (
	Manual  = "manual"
	Daily   = "daily"
	Weekly  = "weekly"
	Monthly = "monthly"
)

// Validate checks a schedule's fields against its frequency.
func Validate(s model.Schedule) error {
	switch s.Frequency {
	case "", Manual:
		return nil
	case Daily:
	case Weekly:
		if s.Day < 0 || s.Day > 6 {
			return eris.Errorf("weekly schedule day must be 0-6, got %d", s.Day)
		}
	case Monthly:
		if s.Day < 1 || s.Day > 28 {
			return eris.Errorf("monthly schedule day must be 1-28, got %d", s.Day)
		}
	default:
		return eris.Errorf("unknown schedule frequency %q", s.Frequency)
	}
	if s.Hour < 0 || s.Hour > 23 {
		return eris.Errorf("schedule hour must be 0-23, got %d", s.Hour)
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return eris.Errorf("unknown schedule timezone %q", s.Timezone)
	}
	return nil
}

// Recurring reports whether the schedule ever fires.
func Recurring(s model.Schedule) bool {
	return s.Frequency == Daily || s.Frequency == Weekly || s.Frequency == Monthly
}

// Next returns the first firing strictly after after, in UTC. ok is false for
// manual schedules. An unknown timezone falls back to UTC.
func Next(s model.Schedule, after time.Time) (next time.Time, ok bool) {
	if !Recurring(s) {
		return time.Time{}, false
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := after.In(loc)
	y, m, d := local.Date()

	switch s.Frequency {
	case Daily:
		next = time.Date(y, m, d, s.Hour, 0, 0, 0, loc)
		if !next.After(after) {
			next = time.Date(y, m, d+1, s.Hour, 0, 0, 0, loc)
		}
	case Weekly:
		ahead := (s.Day - int(local.Weekday()) + 7) % 7
		next = time.Date(y, m, d+ahead, s.Hour, 0, 0, 0, loc)
		if !next.After(after) {
			next = time.Date(y, m, d+ahead+7, s.Hour, 0, 0, 0, loc)
		}
	case Monthly:
		next = time.Date(y, m, s.Day, s.Hour, 0, 0, 0, loc)
		if !next.After(after) {
			next = time.Date(y, m+1, s.Day, s.Hour, 0, 0, 0, loc)
		}
	}
	return next.UTC(), true
}

// Due reports whether a firing falls in (since, now].
func Due(s model.Schedule, since, now time.Time) bool {
	next, ok := Next(s, since)
	return ok && !next.After(now)
}
