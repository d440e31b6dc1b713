package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/harrisonrobin/sheetsync/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tasks.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCreateAndGetTask(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	created, err := s.CreateTask(ctx, model.Task{
		Title:          "File quarterly taxes",
		Domain:         model.DomainFinance,
		Priority:       model.PriorityHigh,
		EstimatedHours: 2,
		PlannedDate:    day(2026, 4, 10),
		Recurrence:     model.Recurrence{Type: model.RecurWeekly, Weekdays: []time.Weekday{time.Monday}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, model.StatusOpen, created.Status)
	assert.Equal(t, model.SyncLocalOnly, created.SyncStatus)
	assert.Equal(t, model.SourceManual, created.Source)
	assert.True(t, created.TargetDate.Equal(day(2026, 4, 10)), "target defaults to first planned date")

	got, err := s.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "File quarterly taxes", got.Title)
	assert.Equal(t, model.DomainFinance, got.Domain)
	assert.True(t, got.PlannedDate.Equal(day(2026, 4, 10)))
	assert.True(t, got.Recurrence.Equal(created.Recurrence))
	assert.True(t, got.CreatedAt.Equal(created.CreatedAt))

	_, err = s.GetTask(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExternalRefIsUnique(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	_, err := s.CreateTask(ctx, model.Task{Title: "a", ExternalRef: "row-1"})
	require.NoError(t, err)
	_, err = s.CreateTask(ctx, model.Task{Title: "b", ExternalRef: "row-1"})
	assert.Error(t, err)

	// Unlinked tasks do not collide.
	_, err = s.CreateTask(ctx, model.Task{Title: "c"})
	require.NoError(t, err)
	_, err = s.CreateTask(ctx, model.Task{Title: "d"})
	require.NoError(t, err)
}

func TestListTasksRetention(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	old, err := s.CreateTask(ctx, model.Task{Title: "old done", Status: model.StatusCompleted, UpdatedAt: now.AddDate(0, 0, -60)})
	require.NoError(t, err)
	_, err = s.CreateTask(ctx, model.Task{Title: "recent done", Status: model.StatusCompleted, UpdatedAt: now.AddDate(0, 0, -2)})
	require.NoError(t, err)
	_, err = s.CreateTask(ctx, model.Task{Title: "old open", UpdatedAt: now.AddDate(0, 0, -90)})
	require.NoError(t, err)

	all, err := s.ListTasks(ctx, model.TaskFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	window, err := s.ListTasks(ctx, model.TaskFilter{TerminalSince: now.AddDate(0, 0, -30)})
	require.NoError(t, err)
	assert.Len(t, window, 2)
	for _, task := range window {
		assert.NotEqual(t, old.ID, task.ID)
	}

	byID, err := s.ListTasks(ctx, model.TaskFilter{IDs: []string{old.ID, "nope"}})
	require.NoError(t, err)
	require.Len(t, byID, 1)
	assert.Equal(t, old.ID, byID[0].ID)
}

func TestUpdateTaskSyncWrite(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	task, err := s.CreateTask(ctx, model.Task{Title: "draft"})
	require.NoError(t, err)

	syncedAt := task.UpdatedAt.Add(time.Minute)
	rowModified := syncedAt.Add(-time.Second)
	ref := "row-9"
	fields := task.Fields()
	fields.Title = "final"
	got, err := s.UpdateTask(ctx, task.ID, model.TaskUpdate{
		Fields:           &fields,
		ExternalRef:      &ref,
		SyncStatus:       model.SyncSynced,
		SyncedAt:         syncedAt,
		SourceModifiedAt: rowModified,
		ExpectUpdatedAt:  task.UpdatedAt,
	})
	require.NoError(t, err)
	assert.Equal(t, "final", got.Title)
	assert.Equal(t, "row-9", got.ExternalRef)
	assert.Equal(t, model.SyncSynced, got.SyncStatus)
	assert.True(t, got.UpdatedAt.Equal(got.LastSyncedAt), "a sync write is not an internal edit")

	_, err = s.UpdateTask(ctx, task.ID, model.TaskUpdate{SyncStatus: model.SyncSynced, ExpectUpdatedAt: task.UpdatedAt})
	assert.ErrorIs(t, err, ErrStale)

	stored, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, stored.SourceModifiedAt.Equal(rowModified))
}

func TestEditMarksSyncedTaskPending(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	clock := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	s.Now = func() time.Time { return clock }

	task, err := s.CreateTask(ctx, model.Task{Title: "call plumber", ExternalRef: "r1", SyncStatus: model.SyncSynced})
	require.NoError(t, err)

	clock = clock.Add(time.Hour)
	f := task.Fields()
	got, err := s.EditTask(ctx, task.ID, f)
	require.NoError(t, err)
	assert.Equal(t, model.SyncSynced, got.SyncStatus, "no-op edit leaves status alone")

	f.Priority = model.PriorityCritical
	got, err = s.EditTask(ctx, task.ID, f)
	require.NoError(t, err)
	assert.Equal(t, model.SyncPending, got.SyncStatus)
	assert.True(t, got.UpdatedAt.Equal(clock))
}

func TestRescheduleKeepsTargetDate(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	task, err := s.CreateTask(ctx, model.Task{Title: "renew passport", PlannedDate: day(2026, 5, 1)})
	require.NoError(t, err)

	for i, d := range []time.Time{day(2026, 5, 2), day(2026, 5, 3), day(2026, 5, 4)} {
		task, err = s.Reschedule(ctx, task.ID, d)
		require.NoError(t, err, "reschedule %d", i)
	}
	assert.Equal(t, 3, task.TimesRescheduled)
	assert.True(t, task.TargetDate.Equal(day(2026, 5, 1)))
	assert.True(t, task.PlannedDate.Equal(day(2026, 5, 4)))

	task, err = s.Reschedule(ctx, task.ID, day(2026, 5, 4))
	require.NoError(t, err)
	assert.Equal(t, 3, task.TimesRescheduled)
}

func TestCountsAndDelete(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	for _, st := range []model.SyncStatus{model.SyncSynced, model.SyncSynced, model.SyncPending, model.SyncOrphaned, model.SyncLocalOnly} {
		_, err := s.CreateTask(ctx, model.Task{Title: string(st), SyncStatus: st})
		require.NoError(t, err)
	}
	c, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCounts{TotalTasks: 5, Synced: 2, Pending: 1, Orphaned: 1, LocalOnly: 1}, c)

	tasks, err := s.ListTasks(ctx, model.TaskFilter{})
	require.NoError(t, err)
	require.NoError(t, s.DeleteTask(ctx, tasks[0].ID))
	c, err = s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, c.TotalTasks)
}

func TestSyncSettings(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	st, err := s.GetSyncSettings(ctx)
	require.NoError(t, err)
	assert.False(t, st.Enabled)
	assert.Equal(t, 30, st.IntervalMinutes)
	assert.True(t, st.LastSyncAt.IsZero())
	assert.Nil(t, st.LastResult)

	require.NoError(t, s.SaveSchedule(ctx, true, 15))
	at := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveSyncResult(ctx, model.SyncResult{Direction: model.Bidirectional, Created: 2, SyncedAt: at}))

	st, err = s.GetSyncSettings(ctx)
	require.NoError(t, err)
	assert.True(t, st.Enabled)
	assert.Equal(t, 15, st.IntervalMinutes)
	assert.True(t, st.LastSyncAt.Equal(at))
	require.NotNil(t, st.LastResult)
	assert.Equal(t, 2, st.LastResult.Created)

	assert.Error(t, s.SaveSchedule(ctx, true, -1))
}

func TestLease(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Now = func() time.Time { return clock }

	token, err := s.ClaimLease(ctx, "host-a", time.Minute)
	require.NoError(t, err)

	_, err = s.ClaimLease(ctx, "host-b", time.Minute)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	require.NoError(t, s.RenewLease(ctx, token, time.Minute))

	// An expired lease can be taken over, and the old holder learns it lost.
	clock = clock.Add(2 * time.Minute)
	other, err := s.ClaimLease(ctx, "host-b", time.Minute)
	require.NoError(t, err)
	assert.ErrorIs(t, s.RenewLease(ctx, token, time.Minute), ErrLeaseLost)

	// Releasing with a stale token does not free the lease.
	require.NoError(t, s.ReleaseLease(ctx, token))
	_, err = s.ClaimLease(ctx, "host-c", time.Minute)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	require.NoError(t, s.ReleaseLease(ctx, other))
	_, err = s.ClaimLease(ctx, "host-c", time.Minute)
	assert.NoError(t, err)
}

func TestLeaseClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ClaimLease(ctx, "racer", time.Minute); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestListTasksRetentionSubSecond(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	cutoff := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	inside, err := s.CreateTask(ctx, model.Task{Title: "done just after", Status: model.StatusCompleted, UpdatedAt: cutoff.Add(500 * time.Millisecond)})
	require.NoError(t, err)
	_, err = s.CreateTask(ctx, model.Task{Title: "done just before", Status: model.StatusCompleted, UpdatedAt: cutoff.Add(-100 * time.Millisecond)})
	require.NoError(t, err)
	exact, err := s.CreateTask(ctx, model.Task{Title: "done on the cutoff", Status: model.StatusCompleted, UpdatedAt: cutoff})
	require.NoError(t, err)

	window, err := s.ListTasks(ctx, model.TaskFilter{TerminalSince: cutoff})
	require.NoError(t, err)
	var ids []string
	for _, task := range window {
		ids = append(ids, task.ID)
	}
	assert.ElementsMatch(t, []string{inside.ID, exact.ID}, ids)

	got, err := s.GetTask(ctx, inside.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(cutoff.Add(500*time.Millisecond)))
}

func TestIncompleteResultKeepsLastSyncTime(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	at := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveSyncResult(ctx, model.SyncResult{Direction: model.Bidirectional, Created: 1, SyncedAt: at}))

	later := at.Add(time.Hour)
	require.NoError(t, s.SaveSyncResult(ctx, model.SyncResult{Direction: model.Bidirectional, SyncedAt: later, Cancelled: true}))
	st, err := s.GetSyncSettings(ctx)
	require.NoError(t, err)
	assert.True(t, st.LastSyncAt.Equal(at), "cancelled pass moved last sync to %s", st.LastSyncAt)
	require.NotNil(t, st.LastResult)
	assert.True(t, st.LastResult.Cancelled)

	require.NoError(t, s.SaveSyncResult(ctx, model.SyncResult{Direction: model.Bidirectional, SyncedAt: later, Errors: 1, SnapshotFailed: true}))
	st, err = s.GetSyncSettings(ctx)
	require.NoError(t, err)
	assert.True(t, st.LastSyncAt.Equal(at))
	assert.True(t, st.LastResult.SnapshotFailed)
}
