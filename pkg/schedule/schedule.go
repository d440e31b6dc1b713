// Package schedule decides when a periodic sync is due and drives the
// in-process timer that asks.
package schedule

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/harrisonrobin/sheetsync/pkg/model"
)

// ShouldRun reports whether a scheduled pass is due at now.
func ShouldRun(s model.SyncSettings, now time.Time) bool {
	run, _ := Decide(s, now)
	return run
}

// Decide is ShouldRun with the reason a pass is not due.
func Decide(s model.SyncSettings, now time.Time) (bool, string) {
	if !s.Enabled {
		return false, "scheduled sync disabled"
	}
	if s.IntervalMinutes <= 0 {
		return false, "no sync interval configured"
	}
	if s.LastSyncAt.IsZero() {
		return true, ""
	}
	interval := time.Duration(s.IntervalMinutes) * time.Minute
	if elapsed := now.Sub(s.LastSyncAt); elapsed < interval {
		return false, fmt.Sprintf("last sync %s ago, interval %s", elapsed.Round(time.Second), interval)
	}
	return true, ""
}

// Trigger runs a pass if one is due.
type Trigger interface {
	RunScheduled(ctx context.Context) (model.ScheduledOutcome, error)
}

// Runner asks its trigger on a fixed tick until the context ends.
type Runner struct {
	trigger Trigger
	every   time.Duration
	logger  *log.Logger
}

func NewRunner(trigger Trigger, every time.Duration, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.New(os.Stderr, "[schedule] ", log.LstdFlags)
	}
	if every <= 0 {
		every = time.Minute
	}
	return &Runner{trigger: trigger, every: every, logger: logger}
}

// Run blocks until ctx is done.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.every)
	defer ticker.Stop()

	r.logger.Printf("Checking sync schedule every %s", r.every)
	r.check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.check(ctx)
		}
	}
}

func (r *Runner) check(ctx context.Context) {
	out, err := r.trigger.RunScheduled(ctx)
	if err != nil {
		r.logger.Printf("WARNING: scheduled sync failed: %v", err)
		return
	}
	if out.Ran && out.Result != nil {
		r.logger.Printf("Scheduled sync: created=%d updated=%d errors=%d", out.Result.Created, out.Result.Updated, out.Result.Errors)
	}
}
