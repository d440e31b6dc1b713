package main

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/harrisonrobin/sheetsync/pkg/model"
	"github.com/harrisonrobin/sheetsync/pkg/rebalance"
)

func TestRenderResult(t *testing.T) {
	res := model.SyncResult{
		Direction: model.Bidirectional,
		Created:   2, Updated: 1, Unchanged: 5, Errors: 12, TotalProcessed: 20,
		ConflictDetails: []model.ConflictDetail{
			{Kind: model.ConflictLastWriterWins, TaskID: "t1", RowID: "r1", Winner: model.SideExternal, Detail: "both sides changed"},
		},
		Skipped: []model.Issue{{TaskID: "t2", Field: "recurrence", Message: "not representable"}},
	}
	for i := 0; i < 12; i++ {
		res.ErrorDetails = append(res.ErrorDetails, model.RecordError{TaskID: fmt.Sprintf("t%d", i), Stage: "update_row", Err: "boom"})
	}

	out := renderResult(res)
	for _, want := range []string{"Created", "task t1 / row r1", "external", "... 2 more", "Skipped", "recurrence"} {
		if !strings.Contains(out, want) {
			t.Errorf("result output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderStatus(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	out := renderStatus("", model.StatusCounts{TotalTasks: 4, Synced: 3, LocalOnly: 1}, model.SyncSettings{}, now)
	if !strings.Contains(out, "none configured") || !strings.Contains(out, "never") || !strings.Contains(out, "off") {
		t.Errorf("status output:\n%s", out)
	}

	settings := model.SyncSettings{
		Enabled: true, IntervalMinutes: 30, LastSyncAt: now.Add(-10 * time.Minute),
		LastResult: &model.SyncResult{Direction: model.PullOnly, Created: 1},
	}
	out = renderStatus("sheet-1", model.StatusCounts{}, settings, now)
	if !strings.Contains(out, "every 30 min") || !strings.Contains(out, "10m0s ago") || !strings.Contains(out, "pull-only") {
		t.Errorf("status output:\n%s", out)
	}
}

func TestRenderMoved(t *testing.T) {
	if out := renderMoved(nil); !strings.Contains(out, "Nothing overdue") {
		t.Errorf("empty sweep output = %q", out)
	}
	out := renderMoved([]rebalance.Moved{{TaskID: "t1", Title: "File taxes", From: time.Date(2026, 2, 27, 0, 0, 0, 0, time.UTC), TimesRescheduled: 2}})
	if !strings.Contains(out, "File taxes") || !strings.Contains(out, "2026-02-27") || !strings.Contains(out, "2x") {
		t.Errorf("sweep output:\n%s", out)
	}
}
