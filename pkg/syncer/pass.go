package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harrisonrobin/sheetsync/pkg/identity"
	"github.com/harrisonrobin/sheetsync/pkg/model"
	"github.com/harrisonrobin/sheetsync/pkg/translate"
	"golang.org/x/sync/errgroup"
)

// pass accumulates the outcome of one run. Records report into it from
// several goroutines.
type pass struct {
	dir      model.Direction
	syncedAt time.Time
	ids      *identity.Resolver

	mu  sync.Mutex
	res model.SyncResult
}

func newPass(dir model.Direction, syncedAt time.Time) *pass {
	return &pass{
		dir:      dir,
		syncedAt: syncedAt,
		ids:      identity.New(),
		res:      model.SyncResult{Direction: dir, SyncedAt: syncedAt},
	}
}

func (p *pass) finish(d time.Duration) model.SyncResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.res.Duration = d
	return p.res
}

func (p *pass) count(fn func(r *model.SyncResult)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.res.TotalProcessed++
	fn(&p.res)
}

func (p *pass) created()   { p.count(func(r *model.SyncResult) { r.Created++ }) }
func (p *pass) updated()   { p.count(func(r *model.SyncResult) { r.Updated++ }) }
func (p *pass) unchanged() { p.count(func(r *model.SyncResult) { r.Unchanged++ }) }

func (p *pass) deferred(taskID, rowID, reason string) {
	p.count(func(r *model.SyncResult) {
		r.Unchanged++
		r.Skipped = append(r.Skipped, model.Issue{TaskID: taskID, RowID: rowID, Field: "record", Message: reason})
	})
}

// failed counts a record whose write did not complete.
func (p *pass) failed(e model.RecordError) {
	p.count(func(r *model.SyncResult) {
		r.Errors++
		r.ErrorDetails = append(r.ErrorDetails, e)
	})
}

// conflict notes a conflict without counting the record; the write that
// resolves it counts it.
func (p *pass) conflict(c model.ConflictDetail) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.res.Conflicts++
	p.res.ConflictDetails = append(p.res.ConflictDetails, c)
}

// ambiguous counts a record left unwritten because its identity is disputed.
func (p *pass) ambiguous(a identity.Ambiguity) {
	c := model.ConflictDetail{Kind: model.ConflictAmbiguousID, Detail: a.Error()}
	if len(a.TaskIDs) > 0 {
		c.TaskID = a.TaskIDs[0]
	}
	if len(a.RowIDs) > 0 {
		c.RowID = a.RowIDs[0]
	}
	p.count(func(r *model.SyncResult) {
		r.Conflicts++
		r.ConflictDetails = append(r.ConflictDetails, c)
	})
}

// report attaches translation notes for one record.
func (p *pass) report(taskID, rowID string, rep translate.Report) {
	if len(rep.Warnings) == 0 && len(rep.Skipped) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range rep.Warnings {
		w.TaskID, w.RowID = taskID, rowID
		p.res.Warnings = append(p.res.Warnings, w)
	}
	for _, sk := range rep.Skipped {
		sk.TaskID, sk.RowID = taskID, rowID
		p.res.Skipped = append(p.res.Skipped, sk)
	}
}

func (p *pass) warn(i model.Issue) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.res.Warnings = append(p.res.Warnings, i)
}

// stageFailed records an error that belongs to no single record.
func (p *pass) stageFailed(stage string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.res.Errors++
	p.res.ErrorDetails = append(p.res.ErrorDetails, model.RecordError{Stage: stage, Err: err.Error()})
}

// snapshotFailed records a side that could not be read; the pass syncs
// nothing.
func (p *pass) snapshotFailed(stage string, err error) {
	p.stageFailed(stage, err)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.res.SnapshotFailed = true
}

// execute takes the snapshots and settles every record.
func (s *Syncer) execute(ctx context.Context, p *pass) {
	var cutoff time.Time
	if s.cfg.Retention > 0 {
		cutoff = p.syncedAt.Add(-s.cfg.Retention)
	}

	var (
		rows  []model.Row
		tasks []model.Task
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, err = snapshot(gctx, s.cfg.SnapshotTimeout, func(ctx context.Context) ([]model.Row, error) {
			return s.external.ListRows(ctx, s.cfg.SheetID)
		})
		if err != nil {
			p.snapshotFailed("list_rows", err)
		}
		return err
	})
	g.Go(func() error {
		var err error
		tasks, err = snapshot(gctx, s.cfg.SnapshotTimeout, func(ctx context.Context) ([]model.Task, error) {
			return s.internal.ListTasks(ctx, model.TaskFilter{TerminalSince: cutoff})
		})
		if err != nil {
			p.snapshotFailed("list_tasks", err)
		}
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Printf("WARNING: snapshot failed, nothing synced: %v", err)
		return
	}

	plan := p.ids.Resolve(tasks, rows)
	for _, a := range plan.Ambiguous {
		s.logger.Printf("WARNING: %v", a)
		p.ambiguous(a)
	}

	var work []func(context.Context)
	for _, pair := range plan.Pairs {
		work = append(work, func(ctx context.Context) { s.syncPair(ctx, p, pair.Task, pair.Row, pair.Repair) })
	}
	for _, row := range plan.NewRows {
		if retired(row, cutoff) {
			continue
		}
		work = append(work, func(ctx context.Context) { s.createInternal(ctx, p, row) })
	}
	for _, task := range plan.UnlinkedTasks {
		work = append(work, func(ctx context.Context) { s.syncUnlinked(ctx, p, task) })
	}
	if len(plan.DanglingRows) > 0 {
		dangling, err := snapshot(ctx, s.cfg.SnapshotTimeout, func(ctx context.Context) ([]*model.Row, error) {
			return s.liveDangling(ctx, plan.DanglingRows)
		})
		if err != nil {
			p.stageFailed("list_dangling", err)
		}
		for _, row := range dangling {
			work = append(work, func(ctx context.Context) { s.markOrphanRow(ctx, p, row) })
		}
	}

	// Records are independent; a failure is recorded on the pass, never
	// returned to the group.
	var records errgroup.Group
	records.SetLimit(s.cfg.Concurrency)
	for _, fn := range work {
		if ctx.Err() != nil {
			break
		}
		records.Go(func() error {
			// Go may have waited for a slot past a cancellation.
			if ctx.Err() != nil {
				return nil
			}
			// A record that started is allowed to finish its writes.
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RecordTimeout)
			defer cancel()
			fn(rctx)
			return nil
		})
	}
	_ = records.Wait()
}

// snapshot bounds one read of a whole side by timeout.
func snapshot[T any](ctx context.Context, timeout time.Duration, read func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	v, err := read(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		err = fmt.Errorf("timed out after %s: %w", timeout, err)
	}
	return v, err
}

// retired reports whether a row is a finished task older than the retention
// window, which is never imported.
func retired(row *model.Row, cutoff time.Time) bool {
	if cutoff.IsZero() || !row.ModifiedAt.Before(cutoff) {
		return false
	}
	st, ok := translate.StatusFromSheet(row.Cell(model.FieldStatus))
	return ok && st.IsTerminal()
}

// liveDangling drops rows whose task exists but fell outside the snapshot's
// retention window.
func (s *Syncer) liveDangling(ctx context.Context, rows []*model.Row) ([]*model.Row, error) {
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.CrossRef)
	}
	known, err := s.internal.ListTasks(ctx, model.TaskFilter{IDs: ids})
	if err != nil {
		return nil, err
	}
	exists := make(map[string]bool, len(known))
	for _, t := range known {
		exists[t.ID] = true
	}
	var out []*model.Row
	for _, r := range rows {
		if !exists[r.CrossRef] {
			out = append(out, r)
		}
	}
	return out, nil
}

func isAmbiguous(err error) (identity.Ambiguity, bool) {
	var a identity.Ambiguity
	return a, errors.As(err, &a)
}
