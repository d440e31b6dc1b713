// Package detect classifies each record of a pass into the action the
// orchestrator should take.
//
// Change is judged by timestamps only. The task side changed when its
// UpdatedAt is after LastSyncedAt; the sheet side changed when the row's
// ModifiedAt is after the SourceModifiedAt recorded at the last sync. When
// both changed the strictly newer side wins, and an exact tie goes to the
// sheet, which stays the system of record until the migration completes.
package detect

import (
	"github.com/harrisonrobin/sheetsync/pkg/model"
)

type Action string

const (
	Unchanged       Action = "unchanged"
	Pull            Action = "pull"
	Push            Action = "push"
	Conflict        Action = "conflict"
	CreateExternal  Action = "create_external"
	CreateInternal  Action = "create_internal"
	DeletePropagate Action = "delete_propagate"
	// Skip means the record is deliberately left alone this pass.
	Skip Action = "skip"
)

// Decision is the classification of one record.
type Decision struct {
	Action Action
	// Winner is set for Conflict.
	Winner model.Side
	// Apply is the write that carries the decision out: Pull or Push for a
	// conflict, the action itself otherwise. It is Skip when the pass
	// direction forbids the write.
	Apply  Action
	Reason string
}

// Paired classifies a task and row that share a cross-reference.
func Paired(task *model.Task, row *model.Row, dir model.Direction) Decision {
	internalChanged := task.UpdatedAt.After(task.LastSyncedAt)
	externalChanged := row.ModifiedAt.After(task.SourceModifiedAt)

	var d Decision
	switch {
	case internalChanged && externalChanged:
		d = Decision{Action: Conflict, Winner: Winner(task, row)}
		if d.Winner == model.SideInternal {
			d.Apply = Push
		} else {
			d.Apply = Pull
		}
	case internalChanged:
		d = Decision{Action: Push, Apply: Push}
	case externalChanged:
		d = Decision{Action: Pull, Apply: Pull}
	default:
		return Decision{Action: Unchanged, Apply: Unchanged}
	}
	return gate(d, dir)
}

// Winner resolves a conflict by last writer, ties to the sheet.
func Winner(task *model.Task, row *model.Row) model.Side {
	if task.UpdatedAt.After(row.ModifiedAt) {
		return model.SideInternal
	}
	return model.SideExternal
}

// ResumeCreate classifies a row that carries the ID of a task that never
// recorded the link: the row was created from the task, which stays the
// source until the link is written.
func ResumeCreate(dir model.Direction) Decision {
	return gate(Decision{Action: Push, Apply: Push, Reason: "resuming interrupted create"}, dir)
}

// TaskOnly classifies a task no row in the snapshot is linked to.
func TaskOnly(task *model.Task, dir model.Direction) Decision {
	switch {
	case task.SyncStatus == model.SyncOrphaned:
		return Decision{Action: Skip, Apply: Skip, Reason: "orphaned: sheet row was deleted"}
	case task.ExternalRef == "":
		return gate(Decision{Action: CreateExternal, Apply: CreateExternal}, dir)
	default:
		return gate(Decision{Action: DeletePropagate, Apply: DeletePropagate}, dir)
	}
}

// RowOnly classifies a row that carries no cross-reference and matches no
// task. Rows that do carry one never reach here.
func RowOnly(row *model.Row, dir model.Direction) Decision {
	return gate(Decision{Action: CreateInternal, Apply: CreateInternal}, dir)
}

func gate(d Decision, dir model.Direction) Decision {
	switch d.Apply {
	case Push, CreateExternal:
		if !dir.Pushes() {
			d.Apply = Skip
			d.Reason = "deferred: pass does not push"
		}
	case Pull, CreateInternal, DeletePropagate:
		if !dir.Pulls() {
			d.Apply = Skip
			d.Reason = "deferred: pass does not pull"
		}
	}
	return d
}
