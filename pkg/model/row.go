package model

import "time"

// Logical sheet fields. The header text for each is configuration.
const (
	FieldRowID       = "row_id"
	FieldCrossRef    = "cross_ref"
	FieldModified    = "modified"
	FieldSync        = "sync"
	FieldTitle       = "title"
	FieldNotes       = "notes"
	FieldDomain      = "domain"
	FieldStatus      = "status"
	FieldPriority    = "priority"
	FieldPlanned     = "planned"
	FieldTarget      = "target"
	FieldDeadline    = "deadline"
	FieldEstimate    = "estimate"
	FieldRecurrence  = "recurrence"
	FieldRescheduled = "rescheduled"
)

// ContentFields are the logical fields that carry task data, as opposed to
// identity and bookkeeping columns.
var ContentFields = []string{
	FieldTitle, FieldNotes, FieldDomain, FieldStatus, FieldPriority,
	FieldPlanned, FieldTarget, FieldDeadline, FieldEstimate, FieldRecurrence,
	FieldRescheduled,
}

// SyncMarkOrphaned is written to a row's sync cell when its internal
// counterpart no longer exists.
const SyncMarkOrphaned = "orphaned"

// RowFields maps logical field names to cell text.
type RowFields map[string]string

// Row is one task row in the external sheet.
type Row struct {
	// ID is the stable row identifier held in the row_id column.
	ID string
	// CrossRef is the internal task ID written into the row, empty until linked.
	CrossRef string
	Cells    RowFields
	// ModifiedAt is the last modification time the sheet side reports.
	ModifiedAt time.Time
}

// Cell returns the text of a logical field, or "" when absent.
func (r *Row) Cell(field string) string {
	if r == nil || r.Cells == nil {
		return ""
	}
	return r.Cells[field]
}
