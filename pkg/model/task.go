package model

import "time"

// Status is the internal lifecycle state of a task.
type Status string

const (
	StatusOpen              Status = "open"
	StatusInProgress        Status = "in_progress"
	StatusOnHold            Status = "on_hold"
	StatusWaitingOnClient   Status = "waiting_on_client"
	StatusWaitingOnVendor   Status = "waiting_on_vendor"
	StatusWaitingOnApproval Status = "waiting_on_approval"
	StatusBlocked           Status = "blocked"
	StatusScheduled         Status = "scheduled"
	StatusReview            Status = "review"
	StatusCompleted         Status = "completed"
	StatusCancelled         Status = "cancelled"
	StatusArchived          Status = "archived"
)

// Statuses lists every internal status in display order.
var Statuses = []Status{
	StatusOpen, StatusInProgress, StatusOnHold,
	StatusWaitingOnClient, StatusWaitingOnVendor, StatusWaitingOnApproval,
	StatusBlocked, StatusScheduled, StatusReview,
	StatusCompleted, StatusCancelled, StatusArchived,
}

// IsTerminal reports whether no further work is expected on a task in this state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusArchived:
		return true
	}
	return false
}

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Domain is the category a task was filed under when it was created.
type Domain string

const (
	DomainWork      Domain = "work"
	DomainPersonal  Domain = "personal"
	DomainAdmin     Domain = "admin"
	DomainFinance   Domain = "finance"
	DomainHealth    Domain = "health"
	DomainHousehold Domain = "household"
)

type SyncStatus string

const (
	SyncLocalOnly SyncStatus = "local_only"
	SyncSynced    SyncStatus = "synced"
	SyncPending   SyncStatus = "pending"
	SyncConflict  SyncStatus = "conflict"
	SyncOrphaned  SyncStatus = "orphaned"
)

// Source records how a task came into existence.
type Source string

const (
	SourceManual         Source = "manual"
	SourceExternalImport Source = "external_import"
	SourceChat           Source = "chat"
)

// Task is the internal record being synchronized.
//
// Dates carry no time of day; the zero time means unset.
type Task struct {
	ID          string
	ExternalRef string

	Title          string
	Notes          string
	Domain         Domain
	Status         Status
	Priority       Priority
	EstimatedHours float64
	Recurrence     Recurrence

	PlannedDate      time.Time
	TargetDate       time.Time
	HardDeadline     time.Time
	TimesRescheduled int

	SyncStatus       SyncStatus
	LastSyncedAt     time.Time
	SourceModifiedAt time.Time

	Source          Source
	SourceMessageID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TaskFields is the set of attributes that travel between the two stores.
type TaskFields struct {
	Title          string
	Notes          string
	Domain         Domain
	Status         Status
	Priority       Priority
	EstimatedHours float64
	Recurrence     Recurrence
	PlannedDate    time.Time
	TargetDate     time.Time
	HardDeadline   time.Time
}

// Fields returns the syncable attributes of t.
func (t *Task) Fields() TaskFields {
	return TaskFields{
		Title:          t.Title,
		Notes:          t.Notes,
		Domain:         t.Domain,
		Status:         t.Status,
		Priority:       t.Priority,
		EstimatedHours: t.EstimatedHours,
		Recurrence:     t.Recurrence,
		PlannedDate:    t.PlannedDate,
		TargetDate:     t.TargetDate,
		HardDeadline:   t.HardDeadline,
	}
}

// Apply copies f onto t and reports whether anything changed.
//
// TargetDate is only taken when t has none. A PlannedDate that moves from one
// set date to a different one counts as a single reschedule.
func (t *Task) Apply(f TaskFields) bool {
	changed := false
	setString := func(dst *string, v string) {
		if *dst != v {
			*dst = v
			changed = true
		}
	}
	setString(&t.Title, f.Title)
	setString(&t.Notes, f.Notes)
	if t.Domain != f.Domain {
		t.Domain = f.Domain
		changed = true
	}
	if t.Status != f.Status {
		t.Status = f.Status
		changed = true
	}
	if t.Priority != f.Priority {
		t.Priority = f.Priority
		changed = true
	}
	if t.EstimatedHours != f.EstimatedHours {
		t.EstimatedHours = f.EstimatedHours
		changed = true
	}
	if !t.Recurrence.Equal(f.Recurrence) {
		t.Recurrence = f.Recurrence
		changed = true
	}
	if !SameDay(t.HardDeadline, f.HardDeadline) {
		t.HardDeadline = f.HardDeadline
		changed = true
	}
	if t.TargetDate.IsZero() && !f.TargetDate.IsZero() {
		t.TargetDate = f.TargetDate
		changed = true
	}
	if t.Reschedule(f.PlannedDate) {
		changed = true
	}
	return changed
}

// Reschedule moves PlannedDate to d and reports whether it moved.
func (t *Task) Reschedule(d time.Time) bool {
	if SameDay(t.PlannedDate, d) {
		return false
	}
	if !t.PlannedDate.IsZero() && !d.IsZero() {
		t.TimesRescheduled++
	}
	t.PlannedDate = d
	return true
}

// Date truncates t to midnight UTC of its calendar day.
func Date(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether a and b fall on the same calendar day, treating two
// unset dates as equal.
func SameDay(a, b time.Time) bool {
	if a.IsZero() || b.IsZero() {
		return a.IsZero() == b.IsZero()
	}
	return Date(a).Equal(Date(b))
}

// TaskFilter narrows ListTasks.
type TaskFilter struct {
	// IDs restricts the result to these task IDs when non-empty.
	IDs []string
	// TerminalSince drops terminal tasks last updated before it. Zero keeps all.
	TerminalSince time.Time
}

// TaskUpdate is a write made by a sync pass. Nil and zero members are left
// alone.
type TaskUpdate struct {
	Fields      *TaskFields
	ExternalRef *string
	SyncStatus  SyncStatus
	// SyncedAt becomes both LastSyncedAt and UpdatedAt, so the write itself
	// never reads as a later internal edit.
	SyncedAt         time.Time
	SourceModifiedAt time.Time
	// ExpectUpdatedAt rejects the write when the stored task has moved on
	// since the snapshot it was computed from.
	ExpectUpdatedAt time.Time
}

// ApplyTo applies u to t.
func (u TaskUpdate) ApplyTo(t *Task) {
	if u.Fields != nil {
		t.Apply(*u.Fields)
	}
	if u.ExternalRef != nil {
		t.ExternalRef = *u.ExternalRef
	}
	if u.SyncStatus != "" {
		t.SyncStatus = u.SyncStatus
	}
	if !u.SyncedAt.IsZero() {
		t.LastSyncedAt = u.SyncedAt
		t.UpdatedAt = u.SyncedAt
	}
	if !u.SourceModifiedAt.IsZero() {
		t.SourceModifiedAt = u.SourceModifiedAt
	}
}
