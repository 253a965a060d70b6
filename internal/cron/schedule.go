// Package cron provides the persistent job scheduler: a one-second tick
// loop over a job store, dispatching due jobs to a bounded worker pool.
package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Schedule kinds.
const (
	ScheduleAt    = "at"
	ScheduleEvery = "every"
	ScheduleCron  = "cron"
)

// Schedule is a parsed job schedule. Three forms are accepted:
//
//	"every:30s"                a fixed interval
//	"at:2026-03-01T09:00:00Z"  a one-shot timestamp
//	"0 9 * * *" / "@hourly"    a cron expression (robfig syntax)
type Schedule struct {
	Kind  string
	Every time.Duration
	At    time.Time
	Expr  string

	spec cron.Schedule
}

// ParseSchedule parses a schedule expression string.
func ParseSchedule(raw string) (Schedule, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Schedule{}, fmt.Errorf("schedule is required")
	}

	if value, ok := strings.CutPrefix(raw, "every:"); ok {
		every, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil || every <= 0 {
			return Schedule{}, fmt.Errorf("invalid interval schedule %q", raw)
		}
		return Schedule{Kind: ScheduleEvery, Every: every}, nil
	}

	if value, ok := strings.CutPrefix(raw, "at:"); ok {
		at, err := time.Parse(time.RFC3339, strings.TrimSpace(value))
		if err != nil {
			return Schedule{}, fmt.Errorf("invalid one-shot schedule %q: %w", raw, err)
		}
		return Schedule{Kind: ScheduleAt, At: at}, nil
	}

	spec, err := cronParser.Parse(raw)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid cron expression %q: %w", raw, err)
	}
	return Schedule{Kind: ScheduleCron, Expr: raw, spec: spec}, nil
}

// Next returns the next run time after now. ok is false when the schedule
// has no further runs (a one-shot in the past).
func (s Schedule) Next(now time.Time) (time.Time, bool) {
	switch s.Kind {
	case ScheduleAt:
		if now.Before(s.At) {
			return s.At, true
		}
		return time.Time{}, false
	case ScheduleEvery:
		return now.Add(s.Every), true
	case ScheduleCron:
		next := s.spec.Next(now)
		return next, !next.IsZero()
	default:
		return time.Time{}, false
	}
}

// Interval approximates the spacing between consecutive runs at now. Used
// to decide whether a late job is merely delayed or missed outright.
func (s Schedule) Interval(now time.Time) time.Duration {
	switch s.Kind {
	case ScheduleEvery:
		return s.Every
	case ScheduleCron:
		first := s.spec.Next(now)
		if first.IsZero() {
			return 0
		}
		second := s.spec.Next(first)
		if second.IsZero() {
			return 0
		}
		return second.Sub(first)
	default:
		return 0
	}
}
