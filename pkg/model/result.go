package model

import (
	"fmt"
	"time"
)

// Direction selects which way a pass may write.
type Direction string

const (
	Bidirectional Direction = "bidirectional"
	PullOnly      Direction = "pull-only"
	PushOnly      Direction = "push-only"
)

// ParseDirection accepts the three direction names; empty means bidirectional.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case "", Bidirectional:
		return Bidirectional, nil
	case PullOnly, PushOnly:
		return Direction(s), nil
	}
	return "", fmt.Errorf("unknown sync direction %q", s)
}

func (d Direction) Pulls() bool { return d != PushOnly }
func (d Direction) Pushes() bool { return d != PullOnly }

// SyncResult summarizes one pass.
type SyncResult struct {
	Direction      Direction     `json:"direction"`
	Created        int           `json:"created"`
	Updated        int           `json:"updated"`
	Unchanged      int           `json:"unchanged"`
	Conflicts      int           `json:"conflicts"`
	Errors         int           `json:"errors"`
	TotalProcessed int           `json:"totalProcessed"`
	SyncedAt       time.Time     `json:"syncedAt"`
	Duration       time.Duration `json:"duration"`
	Cancelled      bool          `json:"cancelled,omitempty"`
	// SnapshotFailed is set when either side could not be read.
	SnapshotFailed bool `json:"snapshotFailed,omitempty"`

	ConflictDetails []ConflictDetail `json:"conflictDetails,omitempty"`
	ErrorDetails    []RecordError    `json:"errorDetails,omitempty"`
	Warnings        []Issue          `json:"warnings,omitempty"`
	Skipped         []Issue          `json:"skipped,omitempty"`
}

// Complete reports whether the pass looked at every record. Only complete
// passes move the last sync time.
func (r SyncResult) Complete() bool {
	return !r.Cancelled && !r.SnapshotFailed
}

// ConflictKind distinguishes resolved edits from identity ambiguity.
type ConflictKind string

const (
	ConflictLastWriterWins ConflictKind = "last_writer_wins"
	ConflictAmbiguousID    ConflictKind = "ambiguous_identity"
)

type Side string

const (
	SideInternal Side = "internal"
	SideExternal Side = "external"
)

type ConflictDetail struct {
	Kind   ConflictKind `json:"kind"`
	TaskID string       `json:"taskId,omitempty"`
	RowID  string       `json:"rowId,omitempty"`
	// Winner is empty when the conflict was left unresolved.
	Winner Side   `json:"winner,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// RecordError is a failed write for one record. Stage names the step.
type RecordError struct {
	TaskID string `json:"taskId,omitempty"`
	RowID  string `json:"rowId,omitempty"`
	Stage  string `json:"stage"`
	Err    string `json:"error"`
}

// Issue is a non-fatal note about a record: a translation fallback or a field
// that was left out of a write.
type Issue struct {
	TaskID  string `json:"taskId,omitempty"`
	RowID   string `json:"rowId,omitempty"`
	Field   string `json:"field"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

// SyncSettings is the persisted scheduling state.
type SyncSettings struct {
	Enabled         bool        `json:"enabled"`
	IntervalMinutes int         `json:"intervalMinutes"`
	LastSyncAt      time.Time   `json:"lastSyncAt"`
	LastResult      *SyncResult `json:"lastResult,omitempty"`
}

// StatusCounts is the sync/status view of the internal store.
type StatusCounts struct {
	TotalTasks int `json:"totalTasks"`
	Synced     int `json:"synced"`
	Pending    int `json:"pending"`
	Orphaned   int `json:"orphaned"`
	Conflicts  int `json:"conflicts"`
	LocalOnly  int `json:"localOnly"`
}

// Add counts one task with the given sync status.
func (c *StatusCounts) Add(s SyncStatus) {
	c.TotalTasks++
	switch s {
	case SyncSynced:
		c.Synced++
	case SyncPending:
		c.Pending++
	case SyncOrphaned:
		c.Orphaned++
	case SyncConflict:
		c.Conflicts++
	case SyncLocalOnly:
		c.LocalOnly++
	}
}

// ScheduledOutcome answers a timer trigger.
type ScheduledOutcome struct {
	Ran    bool        `json:"ran"`
	Reason string      `json:"reason,omitempty"`
	Result *SyncResult `json:"result,omitempty"`
}
