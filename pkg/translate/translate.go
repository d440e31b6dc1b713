// Package translate maps task fields between the internal record and the
// sheet's cell values. Every function here is pure and total: values outside
// the closed tables fall back to a documented default and are reported rather
// than returned as errors.
package translate

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/harrisonrobin/sheetsync/pkg/model"
)

// Report collects the notes produced while translating one record.
type Report struct {
	// Warnings are values that were replaced by a default or clamped.
	Warnings []model.Issue
	// Skipped are fields deliberately left out of the write.
	Skipped []model.Issue
}

func (r *Report) warn(field, value, format string, args ...any) {
	r.Warnings = append(r.Warnings, model.Issue{Field: field, Value: value, Message: fmt.Sprintf(format, args...)})
}

func (r *Report) skip(field, value, format string, args ...any) {
	r.Skipped = append(r.Skipped, model.Issue{Field: field, Value: value, Message: fmt.Sprintf(format, args...)})
}

// ToExternal converts a task into sheet cells, including the cross-reference.
func ToExternal(task *model.Task) (model.RowFields, Report) {
	var rep Report
	fields := model.RowFields{
		model.FieldCrossRef:    task.ID,
		model.FieldTitle:       task.Title,
		model.FieldNotes:       task.Notes,
		model.FieldDomain:      DomainToSheet(task.Domain),
		model.FieldStatus:      StatusToSheet(task.Status),
		model.FieldPriority:    PriorityToSheet(task.Priority),
		model.FieldPlanned:     FormatDate(task.PlannedDate),
		model.FieldTarget:      FormatDate(task.TargetDate),
		model.FieldDeadline:    FormatDate(task.HardDeadline),
		model.FieldRescheduled: strconv.Itoa(task.TimesRescheduled),
	}

	if _, ok := statusToSheet[task.Status]; !ok {
		rep.warn(model.FieldStatus, string(task.Status), "unknown status, wrote %q", fields[model.FieldStatus])
	}
	if _, ok := priorityToSheet[task.Priority]; !ok {
		rep.warn(model.FieldPriority, string(task.Priority), "unknown priority, wrote %q", fields[model.FieldPriority])
	}
	if _, ok := domainToSheet[task.Domain]; !ok {
		rep.warn(model.FieldDomain, string(task.Domain), "unknown domain, wrote %q", fields[model.FieldDomain])
	}

	est, exact := ClampEstimate(task.EstimatedHours)
	if !exact {
		rep.warn(model.FieldEstimate, FormatEstimate(task.EstimatedHours), "estimate clamped to %s hours", FormatEstimate(est))
	}
	fields[model.FieldEstimate] = FormatEstimate(est)

	if rec, ok := RecurrenceToSheet(task.Recurrence); ok {
		fields[model.FieldRecurrence] = rec
	} else {
		rep.skip(model.FieldRecurrence, describeRecurrence(task.Recurrence), "recurrence has no sheet representation, kept internally")
	}

	return fields, rep
}

// ToInternal converts sheet cells into task fields. Date phrases are resolved
// relative to the row's modification time.
func ToInternal(row *model.Row) (model.TaskFields, Report) {
	var rep Report
	f := model.TaskFields{
		Title: strings.TrimSpace(row.Cell(model.FieldTitle)),
		Notes: row.Cell(model.FieldNotes),
	}

	var ok bool
	raw := row.Cell(model.FieldStatus)
	if f.Status, ok = StatusFromSheet(raw); !ok && strings.TrimSpace(raw) != "" {
		rep.warn(model.FieldStatus, raw, "unrecognized status, using %q", f.Status)
	}
	raw = row.Cell(model.FieldPriority)
	if f.Priority, ok = PriorityFromSheet(raw); !ok && strings.TrimSpace(raw) != "" {
		rep.warn(model.FieldPriority, raw, "unrecognized priority, using %q", f.Priority)
	}
	raw = row.Cell(model.FieldDomain)
	if f.Domain, ok = DomainFromSheet(raw); !ok && strings.TrimSpace(raw) != "" {
		rep.warn(model.FieldDomain, raw, "unrecognized domain, using %q", f.Domain)
	}

	raw = row.Cell(model.FieldEstimate)
	if h, err := ParseEstimate(raw); err != nil {
		rep.warn(model.FieldEstimate, raw, "%v, left unset", err)
	} else {
		est, exact := ClampEstimate(h)
		if !exact {
			rep.warn(model.FieldEstimate, raw, "estimate clamped to %s hours", FormatEstimate(est))
		}
		f.EstimatedHours = est
	}

	raw = row.Cell(model.FieldRecurrence)
	if rec, err := RecurrenceFromSheet(raw); err != nil {
		rep.warn(model.FieldRecurrence, raw, "%v, treated as not recurring", err)
	} else {
		f.Recurrence = rec
	}

	f.PlannedDate = readDate(row, model.FieldPlanned, &rep)
	f.TargetDate = readDate(row, model.FieldTarget, &rep)
	f.HardDeadline = readDate(row, model.FieldDeadline, &rep)

	return f, rep
}

func readDate(row *model.Row, field string, rep *Report) time.Time {
	raw := row.Cell(field)
	t, fuzzy, err := ParseDate(raw, row.ModifiedAt)
	if err != nil {
		rep.warn(field, raw, "%v, left unset", err)
		return time.Time{}
	}
	if fuzzy {
		rep.warn(field, raw, "read as %s", FormatDate(t))
	}
	return t
}

// Diff returns the subset of target that differs from what row already holds.
// Enumerated cells are compared by meaning, so a legacy value that collapses
// onto the same internal status is left alone. A nil result means no write is
// needed.
func Diff(row *model.Row, target model.RowFields) model.RowFields {
	patch := model.RowFields{}
	for field, want := range target {
		have := row.Cell(field)
		if field == model.FieldCrossRef {
			have = row.CrossRef
		}
		if cellsEquivalent(field, have, want) {
			continue
		}
		patch[field] = want
	}
	if len(patch) == 0 {
		return nil
	}
	return patch
}

func cellsEquivalent(field, have, want string) bool {
	if have == want {
		return true
	}
	switch field {
	case model.FieldStatus:
		a, okA := StatusFromSheet(have)
		b, okB := StatusFromSheet(want)
		return okA && okB && a == b
	case model.FieldPriority:
		a, okA := PriorityFromSheet(have)
		b, okB := PriorityFromSheet(want)
		return okA && okB && a == b
	case model.FieldDomain:
		a, okA := DomainFromSheet(have)
		b, okB := DomainFromSheet(want)
		return okA && okB && a == b
	case model.FieldEstimate:
		a, errA := ParseEstimate(have)
		b, errB := ParseEstimate(want)
		return errA == nil && errB == nil && a == b
	case model.FieldRecurrence:
		a, errA := RecurrenceFromSheet(have)
		b, errB := RecurrenceFromSheet(want)
		return errA == nil && errB == nil && a.Equal(b)
	case model.FieldTitle:
		return strings.TrimSpace(have) == strings.TrimSpace(want)
	}
	return false
}

func describeRecurrence(r model.Recurrence) string {
	if r.Interval > 1 {
		return fmt.Sprintf("%s every %d", r.Type, r.Interval)
	}
	return string(r.Type)
}
