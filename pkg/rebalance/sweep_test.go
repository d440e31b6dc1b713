package rebalance

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/harrisonrobin/sheetsync/pkg/model"
	"github.com/harrisonrobin/sheetsync/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepMovesOverdueOnly(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(filepath.Join(t.TempDir(), "tasks.db"), log.New(io.Discard, "", 0))
	require.NoError(t, err)
	defer s.Close()

	jan := func(d int) time.Time { return time.Date(2026, 1, d, 0, 0, 0, 0, time.UTC) }
	now := time.Date(2026, 1, 10, 15, 30, 0, 0, time.UTC)

	overdue, err := s.CreateTask(ctx, model.Task{Title: "overdue", PlannedDate: jan(3), TargetDate: jan(3)})
	require.NoError(t, err)
	done, err := s.CreateTask(ctx, model.Task{Title: "done", PlannedDate: jan(2), Status: model.StatusCompleted})
	require.NoError(t, err)
	_, err = s.CreateTask(ctx, model.Task{Title: "today", PlannedDate: jan(10)})
	require.NoError(t, err)
	_, err = s.CreateTask(ctx, model.Task{Title: "undated"})
	require.NoError(t, err)

	moved, err := Sweep(ctx, s, now, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.Equal(t, overdue.ID, moved[0].TaskID)
	assert.True(t, moved[0].To.Equal(jan(10)))
	assert.Equal(t, 1, moved[0].TimesRescheduled)

	got, err := s.GetTask(ctx, overdue.ID)
	require.NoError(t, err)
	assert.True(t, got.TargetDate.Equal(jan(3)), "target date must not move")

	untouched, err := s.GetTask(ctx, done.ID)
	require.NoError(t, err)
	assert.True(t, untouched.PlannedDate.Equal(jan(2)))

	// A second sweep the same day has nothing to do.
	moved, err = Sweep(ctx, s, now, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	assert.Empty(t, moved)
}
