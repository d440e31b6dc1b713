package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harrisonrobin/sheetsync/pkg/model"
)

const taskColumns = `id, external_ref, title, notes, domain, status, priority,
	estimated_hours, recurrence, planned_date, target_date, hard_deadline,
	times_rescheduled, sync_status, last_synced_at, source_modified_at,
	source, source_message_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(sc rowScanner) (model.Task, error) {
	var (
		t                                    model.Task
		externalRef, recurrence, sourceMsgID sql.NullString
		planned, target, deadline            sql.NullString
		lastSynced, sourceModified           sql.NullString
		createdAt, updatedAt                 sql.NullString
	)
	err := sc.Scan(&t.ID, &externalRef, &t.Title, &t.Notes, &t.Domain, &t.Status, &t.Priority,
		&t.EstimatedHours, &recurrence, &planned, &target, &deadline,
		&t.TimesRescheduled, &t.SyncStatus, &lastSynced, &sourceModified,
		&t.Source, &sourceMsgID, &createdAt, &updatedAt)
	if err != nil {
		return model.Task{}, err
	}
	t.ExternalRef = externalRef.String
	t.SourceMessageID = sourceMsgID.String
	if recurrence.Valid && recurrence.String != "" {
		if err := json.Unmarshal([]byte(recurrence.String), &t.Recurrence); err != nil {
			return model.Task{}, fmt.Errorf("task %s: bad recurrence: %w", t.ID, err)
		}
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	t.PlannedDate, err = parseDate(planned)
	collect(err)
	t.TargetDate, err = parseDate(target)
	collect(err)
	t.HardDeadline, err = parseDate(deadline)
	collect(err)
	t.LastSyncedAt, err = parseTime(lastSynced)
	collect(err)
	t.SourceModifiedAt, err = parseTime(sourceModified)
	collect(err)
	t.CreatedAt, err = parseTime(createdAt)
	collect(err)
	t.UpdatedAt, err = parseTime(updatedAt)
	collect(err)
	if len(errs) > 0 {
		return model.Task{}, fmt.Errorf("task %s: %w", t.ID, errors.Join(errs...))
	}
	return t, nil
}

// ListTasks returns the tasks matching filter, oldest first.
func (s *Store) ListTasks(ctx context.Context, filter model.TaskFilter) ([]model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var (
		where []string
		args  []any
	)
	if len(filter.IDs) > 0 {
		where = append(where, `id IN (`+strings.TrimSuffix(strings.Repeat("?,", len(filter.IDs)), ",")+`)`)
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}
	if !filter.TerminalSince.IsZero() {
		var terminal []string
		for _, st := range model.Statuses {
			if st.IsTerminal() {
				terminal = append(terminal, "'"+string(st)+"'")
			}
		}
		where = append(where, `(status NOT IN (`+strings.Join(terminal, ",")+`) OR updated_at >= ?)`)
		args = append(args, formatTime(filter.TerminalSince))
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (model.Task, error) {
	return getTask(ctx, s.conn, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getTask(ctx context.Context, q queryer, id string) (model.Task, error) {
	t, err := scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return model.Task{}, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return t, nil
}

// CreateTask inserts t. An empty ID is allocated; zero timestamps, status,
// sync status and source get their defaults.
func (s *Store) CreateTask(ctx context.Context, t model.Task) (model.Task, error) {
	now := s.Now().UTC()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	if t.Status == "" {
		t.Status = model.StatusOpen
	}
	if t.Priority == "" {
		t.Priority = model.PriorityMedium
	}
	if t.Domain == "" {
		t.Domain = model.DomainPersonal
	}
	if t.SyncStatus == "" {
		t.SyncStatus = model.SyncLocalOnly
	}
	if t.Source == "" {
		t.Source = model.SourceManual
	}
	if t.TargetDate.IsZero() {
		t.TargetDate = t.PlannedDate
	}

	recurrence, err := json.Marshal(t.Recurrence)
	if err != nil {
		return model.Task{}, fmt.Errorf("failed to marshal recurrence: %w", err)
	}
	_, err = s.conn.ExecContext(ctx, `INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, nullString(t.ExternalRef), t.Title, t.Notes, t.Domain, t.Status, t.Priority,
		t.EstimatedHours, string(recurrence), formatDate(t.PlannedDate), formatDate(t.TargetDate), formatDate(t.HardDeadline),
		t.TimesRescheduled, t.SyncStatus, formatTime(t.LastSyncedAt), formatTime(t.SourceModifiedAt),
		t.Source, nullString(t.SourceMessageID), formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	if err != nil {
		return model.Task{}, fmt.Errorf("failed to create task %s: %w", t.ID, err)
	}
	return t, nil
}

func writeTask(ctx context.Context, tx *sql.Tx, t *model.Task) error {
	recurrence, err := json.Marshal(t.Recurrence)
	if err != nil {
		return fmt.Errorf("failed to marshal recurrence: %w", err)
	}
	_, err = tx.ExecContext(ctx, `UPDATE tasks SET
		external_ref = ?, title = ?, notes = ?, domain = ?, status = ?, priority = ?,
		estimated_hours = ?, recurrence = ?, planned_date = ?, target_date = ?, hard_deadline = ?,
		times_rescheduled = ?, sync_status = ?, last_synced_at = ?, source_modified_at = ?,
		updated_at = ?
		WHERE id = ?`,
		nullString(t.ExternalRef), t.Title, t.Notes, t.Domain, t.Status, t.Priority,
		t.EstimatedHours, string(recurrence), formatDate(t.PlannedDate), formatDate(t.TargetDate), formatDate(t.HardDeadline),
		t.TimesRescheduled, t.SyncStatus, formatTime(t.LastSyncedAt), formatTime(t.SourceModifiedAt),
		formatTime(t.UpdatedAt), t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", t.ID, err)
	}
	return nil
}

// mutate runs fn on the current task inside a write transaction and stores
// the result unless fn returns false.
func (s *Store) mutate(ctx context.Context, id string, fn func(t *model.Task) (bool, error)) (model.Task, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return model.Task{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	t, err := getTask(ctx, tx, id)
	if err != nil {
		return model.Task{}, err
	}
	write, err := fn(&t)
	if err != nil {
		return model.Task{}, err
	}
	if !write {
		return t, nil
	}
	if err := writeTask(ctx, tx, &t); err != nil {
		return model.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Task{}, fmt.Errorf("failed to commit task %s: %w", id, err)
	}
	return t, nil
}

// UpdateTask applies a sync write: the field values and the sync metadata
// land in one transaction, so a task is never marked synced without its
// fields.
func (s *Store) UpdateTask(ctx context.Context, id string, u model.TaskUpdate) (model.Task, error) {
	return s.mutate(ctx, id, func(t *model.Task) (bool, error) {
		if !u.ExpectUpdatedAt.IsZero() && !t.UpdatedAt.Equal(u.ExpectUpdatedAt) {
			return false, fmt.Errorf("%w: %s", ErrStale, id)
		}
		u.ApplyTo(t)
		return true, nil
	})
}

// EditTask applies a user edit. A synced task becomes pending.
func (s *Store) EditTask(ctx context.Context, id string, f model.TaskFields) (model.Task, error) {
	return s.mutate(ctx, id, func(t *model.Task) (bool, error) {
		if !t.Apply(f) {
			return false, nil
		}
		s.touch(t)
		return true, nil
	})
}

// Reschedule moves a task's planned date; its target date stays put.
func (s *Store) Reschedule(ctx context.Context, id string, planned time.Time) (model.Task, error) {
	return s.mutate(ctx, id, func(t *model.Task) (bool, error) {
		if !t.Reschedule(model.Date(planned)) {
			return false, nil
		}
		s.touch(t)
		return true, nil
	})
}

func (s *Store) touch(t *model.Task) {
	t.UpdatedAt = s.Now().UTC()
	switch t.SyncStatus {
	case model.SyncSynced, model.SyncConflict:
		t.SyncStatus = model.SyncPending
	}
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	return nil
}

// Counts tallies tasks by sync status.
func (s *Store) Counts(ctx context.Context) (model.StatusCounts, error) {
	var c model.StatusCounts
	rows, err := s.conn.QueryContext(ctx, `SELECT sync_status, COUNT(*) FROM tasks GROUP BY sync_status`)
	if err != nil {
		return c, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			st model.SyncStatus
			n  int
		)
		if err := rows.Scan(&st, &n); err != nil {
			return c, fmt.Errorf("failed to count tasks: %w", err)
		}
		for i := 0; i < n; i++ {
			c.Add(st)
		}
	}
	return c, rows.Err()
}
