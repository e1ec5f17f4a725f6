package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const cronPrefix = "cron:"

// Recurrence is a parsed recurrence rule. The zero value is a one-off task.
type Recurrence struct {
	raw      string
	interval time.Duration
	schedule cron.Schedule
}

// ParseRecurrence accepts "" (one-off), a Go duration ("36h"), a day count ("2d"),
// or a standard five-field cron expression prefixed with "cron:".
func ParseRecurrence(rule string) (Recurrence, error) {
	rule = strings.TrimSpace(rule)
	if rule == "" {
		return Recurrence{}, nil
	}

	if expr, ok := strings.CutPrefix(rule, cronPrefix); ok {
		schedule, err := cron.ParseStandard(strings.TrimSpace(expr))
		if err != nil {
			return Recurrence{}, fmt.Errorf("%w: %q: %v", ErrInvalidRecurrence, rule, err)
		}
		return Recurrence{raw: rule, schedule: schedule}, nil
	}

	if days, ok := strings.CutSuffix(rule, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return Recurrence{}, fmt.Errorf("%w: %q", ErrInvalidRecurrence, rule)
		}
		return Recurrence{raw: rule, interval: time.Duration(n) * 24 * time.Hour}, nil
	}

	d, err := time.ParseDuration(rule)
	if err != nil || d <= 0 {
		return Recurrence{}, fmt.Errorf("%w: %q", ErrInvalidRecurrence, rule)
	}
	return Recurrence{raw: rule, interval: d}, nil
}

// IsRecurring reports whether the task repeats.
func (r Recurrence) IsRecurring() bool {
	return r.interval > 0 || r.schedule != nil
}

// String returns the rule as it was written.
func (r Recurrence) String() string {
	return r.raw
}

// Next computes the deadline following a completion at completedAt.
// The schedule floats: it is anchored on the completion, never on the missed deadline.
// Returns nil for one-off tasks.
func (r Recurrence) Next(completedAt time.Time) *time.Time {
	switch {
	case r.interval > 0:
		next := completedAt.Add(r.interval)
		return &next
	case r.schedule != nil:
		next := r.schedule.Next(completedAt)
		return &next
	default:
		return nil
	}
}
