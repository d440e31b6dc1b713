// Package rebalance rolls overdue planned dates forward.
package rebalance

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/harrisonrobin/sheetsync/pkg/model"
)

type Store interface {
	ListTasks(ctx context.Context, filter model.TaskFilter) ([]model.Task, error)
	Reschedule(ctx context.Context, id string, planned time.Time) (model.Task, error)
}

// Moved describes one rescheduled task.
type Moved struct {
	TaskID           string
	Title            string
	From             time.Time
	To               time.Time
	TimesRescheduled int
}

// Sweep moves every unfinished task planned before today onto today. Target
// dates are left alone. A task that fails to move is logged and skipped.
func Sweep(ctx context.Context, st Store, now time.Time, logger *log.Logger) ([]Moved, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[rebalance] ", log.LstdFlags)
	}
	today := model.Date(now)
	tasks, err := st.ListTasks(ctx, model.TaskFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	var moved []Moved
	for _, t := range tasks {
		if t.Status.IsTerminal() || t.PlannedDate.IsZero() || !t.PlannedDate.Before(today) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return moved, err
		}
		updated, err := st.Reschedule(ctx, t.ID, today)
		if err != nil {
			logger.Printf("Sweep: error rescheduling task %s: %v", t.ID, err)
			continue
		}
		moved = append(moved, Moved{
			TaskID:           t.ID,
			Title:            t.Title,
			From:             t.PlannedDate,
			To:               updated.PlannedDate,
			TimesRescheduled: updated.TimesRescheduled,
		})
	}
	return moved, nil
}
