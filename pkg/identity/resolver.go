// Package identity pairs internal tasks with sheet rows through the
// cross-reference: the internal ID written into the row and the row ID stored
// on the task. It is the only place that decides whether a row is new, and it
// never treats a row that already carries a cross-reference as new.
package identity

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/harrisonrobin/sheetsync/pkg/model"
)

// ErrAmbiguous means more than one record claims the same link.
var ErrAmbiguous = errors.New("ambiguous cross-reference")

// Pair is a task and row that share a cross-reference.
type Pair struct {
	Task *model.Task
	Row  *model.Row
	// Repair is set when the row does not yet carry the task's ID.
	Repair bool
}

// Ambiguity lists the records involved in a disputed link. None of them may
// be written during the pass.
type Ambiguity struct {
	TaskIDs []string
	RowIDs  []string
	Reason  string
}

func (a Ambiguity) Error() string {
	return fmt.Sprintf("%v: %s (tasks %s, rows %s)", ErrAmbiguous, a.Reason,
		strings.Join(a.TaskIDs, ","), strings.Join(a.RowIDs, ","))
}

func (a Ambiguity) Unwrap() error { return ErrAmbiguous }

// Plan is the outcome of pairing two snapshots.
type Plan struct {
	Pairs []Pair
	// NewRows carry no cross-reference and match no task.
	NewRows []*model.Row
	// UnlinkedTasks match no row in the snapshot.
	UnlinkedTasks []*model.Task
	// DanglingRows carry a cross-reference to a task not in the snapshot.
	DanglingRows []*model.Row
	Ambiguous    []Ambiguity
}

// Resolver holds the link state for one pass.
type Resolver struct {
	mu       sync.Mutex
	taskRow  map[string]string // task ID -> row ID
	rowTask  map[string]string // row ID -> task ID
	rowLocks map[string]*sync.Mutex
}

func New() *Resolver {
	return &Resolver{
		taskRow:  make(map[string]string),
		rowTask:  make(map[string]string),
		rowLocks: make(map[string]*sync.Mutex),
	}
}

// Resolve pairs tasks with rows and records every undisputed link.
func (r *Resolver) Resolve(tasks []model.Task, rows []model.Row) *Plan {
	byID := make(map[string]*model.Task, len(tasks))
	claimsByRow := make(map[string][]*model.Task)
	for i := range tasks {
		t := &tasks[i]
		byID[t.ID] = t
		if t.ExternalRef != "" {
			claimsByRow[t.ExternalRef] = append(claimsByRow[t.ExternalRef], t)
		}
	}
	rowsByRef := make(map[string][]*model.Row)
	for i := range rows {
		if ref := rows[i].CrossRef; ref != "" {
			rowsByRef[ref] = append(rowsByRef[ref], &rows[i])
		}
	}

	plan := &Plan{}
	disputed := make(map[string]bool)
	paired := make(map[string]bool)

	dispute := func(reason string, ts []*model.Task, rs []*model.Row) {
		a := Ambiguity{Reason: reason}
		for _, t := range ts {
			if t != nil && !contains(a.TaskIDs, t.ID) {
				a.TaskIDs = append(a.TaskIDs, t.ID)
				disputed[t.ID] = true
			}
		}
		for _, row := range rs {
			if !contains(a.RowIDs, row.ID) {
				a.RowIDs = append(a.RowIDs, row.ID)
			}
		}
		sort.Strings(a.TaskIDs)
		sort.Strings(a.RowIDs)
		plan.Ambiguous = append(plan.Ambiguous, a)
	}

	for i := range rows {
		row := &rows[i]
		claims := claimsByRow[row.ID]
		if len(claims) > 1 {
			dispute("several tasks claim one row", claims, []*model.Row{row})
			continue
		}

		if row.CrossRef == "" {
			if len(claims) == 1 {
				plan.Pairs = append(plan.Pairs, Pair{Task: claims[0], Row: row, Repair: true})
				paired[claims[0].ID] = true
				continue
			}
			plan.NewRows = append(plan.NewRows, row)
			continue
		}

		if siblings := rowsByRef[row.CrossRef]; len(siblings) > 1 {
			// Reported once, from the first sibling.
			if siblings[0] == row {
				dispute("several rows carry one task ID", []*model.Task{byID[row.CrossRef]}, siblings)
			}
			continue
		}

		t := byID[row.CrossRef]
		switch {
		case t == nil && len(claims) == 1:
			dispute("row names an unknown task but is claimed by another", claims, []*model.Row{row})
		case t == nil:
			plan.DanglingRows = append(plan.DanglingRows, row)
		case len(claims) == 1 && claims[0] != t:
			dispute("row names one task but is claimed by another", []*model.Task{t, claims[0]}, []*model.Row{row})
		case t.ExternalRef != "" && t.ExternalRef != row.ID:
			dispute("task is linked to a different row", []*model.Task{t}, []*model.Row{row})
		default:
			plan.Pairs = append(plan.Pairs, Pair{Task: t, Row: row})
			paired[t.ID] = true
		}
	}

	// A disputed task may also have been paired through an undisputed row.
	pairs := plan.Pairs[:0]
	for _, p := range plan.Pairs {
		if disputed[p.Task.ID] {
			continue
		}
		pairs = append(pairs, p)
		r.taskRow[p.Task.ID] = p.Row.ID
		r.rowTask[p.Row.ID] = p.Task.ID
	}
	plan.Pairs = pairs

	for i := range tasks {
		t := &tasks[i]
		if paired[t.ID] || disputed[t.ID] {
			continue
		}
		plan.UnlinkedTasks = append(plan.UnlinkedTasks, t)
	}
	return plan
}

// NewID allocates an internal task ID.
func (r *Resolver) NewID() string {
	return uuid.NewString()
}

// Lock serializes work on one row and returns the matching unlock.
func (r *Resolver) Lock(rowID string) func() {
	r.mu.Lock()
	l, ok := r.rowLocks[rowID]
	if !ok {
		l = &sync.Mutex{}
		r.rowLocks[rowID] = l
	}
	r.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Claim records a new link. It fails with ErrAmbiguous when either side is
// already linked elsewhere; relinking the same pair is allowed.
func (r *Resolver) Claim(taskID, rowID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if other, ok := r.rowTask[rowID]; ok && other != taskID {
		return Ambiguity{TaskIDs: []string{other, taskID}, RowIDs: []string{rowID}, Reason: "row already linked"}
	}
	if other, ok := r.taskRow[taskID]; ok && other != rowID {
		return Ambiguity{TaskIDs: []string{taskID}, RowIDs: []string{other, rowID}, Reason: "task already linked"}
	}
	r.rowTask[rowID] = taskID
	r.taskRow[taskID] = rowID
	return nil
}

// TaskFor returns the task ID linked to rowID, if any.
func (r *Resolver) TaskFor(rowID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.rowTask[rowID]
	return id, ok
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
