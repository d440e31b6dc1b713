package syncer

import (
	"context"
	"strings"
	"time"

	"github.com/harrisonrobin/sheetsync/pkg/detect"
	"github.com/harrisonrobin/sheetsync/pkg/model"
	"github.com/harrisonrobin/sheetsync/pkg/translate"
)

func (s *Syncer) fail(p *pass, taskID, rowID, stage string, err error) {
	s.logger.Printf("WARNING: %s failed (task %s, row %s): %v", stage, taskID, rowID, err)
	p.failed(model.RecordError{TaskID: taskID, RowID: rowID, Stage: stage, Err: err.Error()})
}

// syncPair settles a task and row that share a cross-reference. repair is set
// when the row has lost the task's ID.
func (s *Syncer) syncPair(ctx context.Context, p *pass, task *model.Task, row *model.Row, repair bool) {
	unlock := p.ids.Lock(row.ID)
	defer unlock()

	var d detect.Decision
	if task.ExternalRef == "" && task.LastSyncedAt.IsZero() {
		// The row was created from this task by a pass that did not get to
		// record the link. The task is the source; finish the create.
		d = detect.ResumeCreate(p.dir)
	} else {
		d = detect.Paired(task, row, p.dir)
	}
	if d.Action == detect.Conflict {
		s.logger.Printf("Conflict on task %s / row %s, %s side wins", task.ID, row.ID, d.Winner)
		p.conflict(model.ConflictDetail{
			Kind: model.ConflictLastWriterWins, TaskID: task.ID, RowID: row.ID, Winner: d.Winner,
			Detail: "both sides changed since last sync",
		})
	}

	switch d.Apply {
	case detect.Push:
		s.push(ctx, p, task, row)
	case detect.Pull:
		s.pull(ctx, p, task, row, repair)
	case detect.Skip:
		p.deferred(task.ID, row.ID, d.Reason)
	default:
		s.settle(ctx, p, task, row, repair)
	}
}

// push writes the task's fields to its row, then records the link and the
// row's new modification time in one task update.
func (s *Syncer) push(ctx context.Context, p *pass, task *model.Task, row *model.Row) {
	target, rep := translate.ToExternal(task)
	p.report(task.ID, row.ID, rep)

	modified := row.ModifiedAt
	patch := translate.Diff(row, target)
	if patch != nil {
		written, err := s.external.UpdateRow(ctx, s.cfg.SheetID, row.ID, patch)
		if err != nil {
			s.fail(p, task.ID, row.ID, "update_row", err)
			return
		}
		modified = written.ModifiedAt
	}

	ref := row.ID
	_, err := s.internal.UpdateTask(ctx, task.ID, model.TaskUpdate{
		ExternalRef:      &ref,
		SyncStatus:       model.SyncSynced,
		SyncedAt:         p.syncedAt,
		SourceModifiedAt: modified,
		ExpectUpdatedAt:  task.UpdatedAt,
	})
	if err != nil {
		s.fail(p, task.ID, row.ID, "mark_synced", err)
		return
	}
	if patch != nil {
		p.updated()
	} else {
		p.unchanged()
	}
}

// pull applies the row's fields to the task, together with the sync
// metadata.
func (s *Syncer) pull(ctx context.Context, p *pass, task *model.Task, row *model.Row, repair bool) {
	modified := row.ModifiedAt
	if repair {
		m, ok := s.repairCrossRef(ctx, p, task, row)
		if !ok {
			return
		}
		modified = m
	}

	fields, rep := translate.ToInternal(row)
	p.report(task.ID, row.ID, rep)
	if _, shown := translate.RecurrenceToSheet(task.Recurrence); !shown && strings.TrimSpace(row.Cell(model.FieldRecurrence)) == "" {
		// Pushes leave this recurrence out, so a blank cell does not clear it.
		fields.Recurrence = task.Recurrence
	}

	before := *task
	changed := before.Apply(fields)

	ref := row.ID
	_, err := s.internal.UpdateTask(ctx, task.ID, model.TaskUpdate{
		Fields:           &fields,
		ExternalRef:      &ref,
		SyncStatus:       model.SyncSynced,
		SyncedAt:         p.syncedAt,
		SourceModifiedAt: modified,
		ExpectUpdatedAt:  task.UpdatedAt,
	})
	if err != nil {
		s.fail(p, task.ID, row.ID, "update_task", err)
		return
	}
	if changed || repair {
		p.updated()
	} else {
		p.unchanged()
	}
}

// settle handles a pair with no content change: it rewrites a lost
// cross-reference and brings the link and status up to date where needed.
func (s *Syncer) settle(ctx context.Context, p *pass, task *model.Task, row *model.Row, repair bool) {
	wrote := false
	modified := row.ModifiedAt
	if repair {
		m, ok := s.repairCrossRef(ctx, p, task, row)
		if !ok {
			return
		}
		modified, wrote = m, true
	}

	if !wrote && task.ExternalRef == row.ID && task.SyncStatus == model.SyncSynced {
		p.unchanged()
		return
	}
	ref := row.ID
	_, err := s.internal.UpdateTask(ctx, task.ID, model.TaskUpdate{
		ExternalRef:      &ref,
		SyncStatus:       model.SyncSynced,
		SyncedAt:         p.syncedAt,
		SourceModifiedAt: modified,
		ExpectUpdatedAt:  task.UpdatedAt,
	})
	if err != nil {
		s.fail(p, task.ID, row.ID, "mark_synced", err)
		return
	}
	if wrote {
		p.updated()
	} else {
		p.unchanged()
	}
}

// repairCrossRef writes the task's ID back into its row and returns the row's
// new modification time. Cross-reference cells are identity bookkeeping and
// are written whatever the pass direction.
func (s *Syncer) repairCrossRef(ctx context.Context, p *pass, task *model.Task, row *model.Row) (time.Time, bool) {
	written, err := s.external.UpdateRow(ctx, s.cfg.SheetID, row.ID, model.RowFields{model.FieldCrossRef: task.ID})
	if err != nil {
		s.fail(p, task.ID, row.ID, "repair_cross_ref", err)
		return time.Time{}, false
	}
	s.logger.Printf("Restored cross-reference on row %s for task %s", row.ID, task.ID)
	return written.ModifiedAt, true
}

// createInternal imports a row that carries no cross-reference. The task is
// created with the row's ID attached before the task ID is written back, so
// a failure between the two leaves a link the next pass repairs instead of a
// second import.
func (s *Syncer) createInternal(ctx context.Context, p *pass, row *model.Row) {
	if d := detect.RowOnly(row, p.dir); d.Apply == detect.Skip {
		p.deferred("", row.ID, d.Reason)
		return
	}
	unlock := p.ids.Lock(row.ID)
	defer unlock()

	id := p.ids.NewID()
	if err := p.ids.Claim(id, row.ID); err != nil {
		if a, ok := isAmbiguous(err); ok {
			p.ambiguous(a)
			return
		}
		s.fail(p, "", row.ID, "claim", err)
		return
	}

	fields, rep := translate.ToInternal(row)
	p.report(id, row.ID, rep)

	task := model.Task{
		ID:               id,
		ExternalRef:      row.ID,
		SyncStatus:       model.SyncSynced,
		Source:           model.SourceExternalImport,
		CreatedAt:        p.syncedAt,
		UpdatedAt:        p.syncedAt,
		LastSyncedAt:     p.syncedAt,
		SourceModifiedAt: row.ModifiedAt,
	}
	task.Apply(fields)
	created, err := s.internal.CreateTask(ctx, task)
	if err != nil {
		s.fail(p, "", row.ID, "create_task", err)
		return
	}

	written, err := s.external.UpdateRow(ctx, s.cfg.SheetID, row.ID, model.RowFields{model.FieldCrossRef: id})
	if err != nil {
		s.fail(p, id, row.ID, "write_cross_ref", err)
		return
	}
	_, err = s.internal.UpdateTask(ctx, id, model.TaskUpdate{
		SyncedAt:         p.syncedAt,
		SourceModifiedAt: written.ModifiedAt,
		ExpectUpdatedAt:  created.UpdatedAt,
	})
	if err != nil {
		s.fail(p, id, row.ID, "mark_synced", err)
		return
	}
	p.created()
}

// syncUnlinked handles a task no row in the snapshot points at.
func (s *Syncer) syncUnlinked(ctx context.Context, p *pass, task *model.Task) {
	d := detect.TaskOnly(task, p.dir)
	switch d.Apply {
	case detect.CreateExternal:
		s.createExternal(ctx, p, task)
	case detect.DeletePropagate:
		s.propagateDelete(ctx, p, task)
	case detect.Skip:
		if task.SyncStatus == model.SyncOrphaned {
			p.unchanged()
			return
		}
		p.deferred(task.ID, task.ExternalRef, d.Reason)
	default:
		p.unchanged()
	}
}

// createExternal appends a row for a local task. A row already carrying the
// task's ID is linked instead.
func (s *Syncer) createExternal(ctx context.Context, p *pass, task *model.Task) {
	existing, err := s.external.FindByCrossRef(ctx, s.cfg.SheetID, task.ID)
	if err != nil {
		s.fail(p, task.ID, "", "find_by_cross_ref", err)
		return
	}
	if existing != nil {
		if err := p.ids.Claim(task.ID, existing.ID); err != nil {
			if a, ok := isAmbiguous(err); ok {
				p.ambiguous(a)
				return
			}
		}
		s.logger.Printf("Task %s already has row %s, linking", task.ID, existing.ID)
		s.syncPair(ctx, p, task, existing, false)
		return
	}

	fields, rep := translate.ToExternal(task)
	row, err := s.external.CreateRow(ctx, s.cfg.SheetID, fields)
	if err != nil {
		s.fail(p, task.ID, "", "create_row", err)
		return
	}
	p.report(task.ID, row.ID, rep)
	if err := p.ids.Claim(task.ID, row.ID); err != nil {
		s.fail(p, task.ID, row.ID, "claim", err)
		return
	}

	ref := row.ID
	_, err = s.internal.UpdateTask(ctx, task.ID, model.TaskUpdate{
		ExternalRef:      &ref,
		SyncStatus:       model.SyncSynced,
		SyncedAt:         p.syncedAt,
		SourceModifiedAt: row.ModifiedAt,
		ExpectUpdatedAt:  task.UpdatedAt,
	})
	if err != nil {
		// The row names the task, so the next pass links them.
		s.fail(p, task.ID, row.ID, "link_task", err)
		return
	}
	p.created()
}

// propagateDelete orphans a task whose row was deleted, or removes it when
// policy allows and the task is finished.
func (s *Syncer) propagateDelete(ctx context.Context, p *pass, task *model.Task) {
	if s.cfg.HardDeleteTerminal && task.Status.IsTerminal() {
		if err := s.internal.DeleteTask(ctx, task.ID); err != nil {
			s.fail(p, task.ID, task.ExternalRef, "delete_task", err)
			return
		}
		s.logger.Printf("Row %s deleted, removed finished task %s", task.ExternalRef, task.ID)
		p.updated()
		return
	}
	_, err := s.internal.UpdateTask(ctx, task.ID, model.TaskUpdate{
		SyncStatus:      model.SyncOrphaned,
		SyncedAt:        p.syncedAt,
		ExpectUpdatedAt: task.UpdatedAt,
	})
	if err != nil {
		s.fail(p, task.ID, task.ExternalRef, "mark_orphaned", err)
		return
	}
	s.logger.Printf("Row %s deleted, task %s orphaned", task.ExternalRef, task.ID)
	p.updated()
}

// markOrphanRow flags a row whose task no longer exists. It is never
// imported. Sheets without a sync column only get a warning.
func (s *Syncer) markOrphanRow(ctx context.Context, p *pass, row *model.Row) {
	unlock := p.ids.Lock(row.ID)
	defer unlock()

	p.warn(model.Issue{RowID: row.ID, Field: model.FieldCrossRef, Value: row.CrossRef, Message: "row names a task that no longer exists"})
	current, tracked := row.Cells[model.FieldSync]
	if !tracked || current == model.SyncMarkOrphaned || !p.dir.Pushes() {
		p.unchanged()
		return
	}
	if _, err := s.external.UpdateRow(ctx, s.cfg.SheetID, row.ID, model.RowFields{model.FieldSync: model.SyncMarkOrphaned}); err != nil {
		s.fail(p, row.CrossRef, row.ID, "mark_row_orphaned", err)
		return
	}
	p.updated()
}
