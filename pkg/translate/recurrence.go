package translate

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/harrisonrobin/sheetsync/pkg/model"
)

// The sheet encodes recurrence as one of:
//
//	Daily | Weekdays | Weekly | Weekly:<letters> | Monthly | Yearly
//
// where letters are M T W R F S U. There is no way to say "every N periods",
// so internal recurrences with an interval above one are not written out.

var weekdayLetters = map[byte]time.Weekday{
	'M': time.Monday,
	'T': time.Tuesday,
	'W': time.Wednesday,
	'R': time.Thursday,
	'F': time.Friday,
	'S': time.Saturday,
	'U': time.Sunday,
}

var letterOrder = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

var recurrenceNames = map[model.RecurrenceType]string{
	model.RecurDaily:    "Daily",
	model.RecurWeekdays: "Weekdays",
	model.RecurWeekly:   "Weekly",
	model.RecurMonthly:  "Monthly",
	model.RecurYearly:   "Yearly",
}

func letterFor(d time.Weekday) byte {
	for l, wd := range weekdayLetters {
		if wd == d {
			return l
		}
	}
	return '?'
}

// RecurrenceToSheet encodes r. ok is false when r has no sheet representation.
func RecurrenceToSheet(r model.Recurrence) (string, bool) {
	if r.IsZero() {
		return "", true
	}
	if r.Interval > 1 {
		return "", false
	}
	name, known := recurrenceNames[r.Type]
	if !known {
		return "", false
	}
	if r.Type != model.RecurWeekly || len(r.Weekdays) == 0 {
		return name, true
	}
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte(':')
	for _, d := range letterOrder {
		if slices.Contains(r.Weekdays, d) {
			b.WriteByte(letterFor(d))
		}
	}
	return b.String(), true
}

// RecurrenceFromSheet decodes a sheet cell.
func RecurrenceFromSheet(s string) (model.Recurrence, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return model.Recurrence{}, nil
	}
	name, letters, hasLetters := strings.Cut(s, ":")
	var typ model.RecurrenceType
	for t, n := range recurrenceNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			typ = t
			break
		}
	}
	if typ == model.RecurNone {
		return model.Recurrence{}, fmt.Errorf("unknown recurrence %q", s)
	}
	r := model.Recurrence{Type: typ}
	if !hasLetters {
		return r, nil
	}
	if typ != model.RecurWeekly {
		return model.Recurrence{}, fmt.Errorf("weekday letters only apply to Weekly: %q", s)
	}
	for _, c := range []byte(strings.ToUpper(strings.TrimSpace(letters))) {
		d, ok := weekdayLetters[c]
		if !ok {
			return model.Recurrence{}, fmt.Errorf("unknown weekday letter %q in %q", c, s)
		}
		if !slices.Contains(r.Weekdays, d) {
			r.Weekdays = append(r.Weekdays, d)
		}
	}
	return r, nil
}
