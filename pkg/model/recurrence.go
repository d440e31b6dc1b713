package model

import (
	"slices"
	"time"
)

type RecurrenceType string

const (
	RecurNone     RecurrenceType = ""
	RecurDaily    RecurrenceType = "daily"
	RecurWeekdays RecurrenceType = "weekdays"
	RecurWeekly   RecurrenceType = "weekly"
	RecurMonthly  RecurrenceType = "monthly"
	RecurYearly   RecurrenceType = "yearly"
)

// Recurrence describes how a task repeats. It is independent of Status.
type Recurrence struct {
	Type RecurrenceType `json:"type,omitempty"`
	// Interval is the period multiplier; 0 and 1 both mean every period.
	Interval int `json:"interval,omitempty"`
	// Weekdays applies to weekly recurrences.
	Weekdays []time.Weekday `json:"weekdays,omitempty"`
}

func (r Recurrence) IsZero() bool {
	return r.Type == RecurNone
}

func (r Recurrence) Equal(o Recurrence) bool {
	if r.Type != o.Type || r.step() != o.step() {
		return false
	}
	a, b := slices.Clone(r.Weekdays), slices.Clone(o.Weekdays)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

func (r Recurrence) step() int {
	if r.Interval <= 1 {
		return 1
	}
	return r.Interval
}
