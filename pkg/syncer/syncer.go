// Package syncer runs sync passes between the sheet and the internal store.
//
// A pass holds the store's lease for its whole duration, takes one snapshot
// of each side, pairs them through the identity resolver, and then settles
// every record independently: a failed write is recorded and the pass moves
// on. Only losing the lease stops a pass early.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harrisonrobin/sheetsync/pkg/model"
	"github.com/harrisonrobin/sheetsync/pkg/schedule"
	"github.com/harrisonrobin/sheetsync/pkg/store"
)

var (
	// ErrAlreadyRunning is returned when another pass holds the lease.
	ErrAlreadyRunning = errors.New("sync already running")
	ErrClosed         = errors.New("syncer closed")
)

// ExternalStore is the sheet side.
type ExternalStore interface {
	ListRows(ctx context.Context, sheetID string) ([]model.Row, error)
	// CreateRow appends a row and returns it with its assigned ID.
	CreateRow(ctx context.Context, sheetID string, fields model.RowFields) (model.Row, error)
	// UpdateRow writes the given cells and returns the row as it now stands.
	UpdateRow(ctx context.Context, sheetID, rowID string, fields model.RowFields) (model.Row, error)
	// FindByCrossRef returns nil when no row carries crossRef.
	FindByCrossRef(ctx context.Context, sheetID, crossRef string) (*model.Row, error)
}

// InternalStore is the task store side.
type InternalStore interface {
	ListTasks(ctx context.Context, filter model.TaskFilter) ([]model.Task, error)
	CreateTask(ctx context.Context, t model.Task) (model.Task, error)
	UpdateTask(ctx context.Context, id string, u model.TaskUpdate) (model.Task, error)
	DeleteTask(ctx context.Context, id string) error
	Counts(ctx context.Context) (model.StatusCounts, error)
}

// SettingsStore persists the schedule, the last result and the pass lease.
type SettingsStore interface {
	GetSyncSettings(ctx context.Context) (model.SyncSettings, error)
	SaveSyncResult(ctx context.Context, r model.SyncResult) error
	ClaimLease(ctx context.Context, owner string, ttl time.Duration) (string, error)
	RenewLease(ctx context.Context, token string, ttl time.Duration) error
	ReleaseLease(ctx context.Context, token string) error
}

// flusher is implemented by external stores that cache state between passes.
type flusher interface {
	Flush() error
}

type Config struct {
	SheetID string
	// Concurrency bounds the records settled at once.
	Concurrency   int
	RecordTimeout time.Duration
	// SnapshotTimeout bounds each full read of a side.
	SnapshotTimeout time.Duration
	// Retention drops terminal records older than this from the snapshot.
	// Zero keeps everything.
	Retention time.Duration
	LeaseTTL  time.Duration
	// HardDeleteTerminal deletes, rather than orphans, a finished task whose
	// row disappeared.
	HardDeleteTerminal bool
	Owner              string
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.RecordTimeout <= 0 {
		c.RecordTimeout = 20 * time.Second
	}
	if c.SnapshotTimeout <= 0 {
		c.SnapshotTimeout = time.Minute
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 10 * time.Minute
	}
	if c.Owner == "" {
		host, _ := os.Hostname()
		c.Owner = fmt.Sprintf("%s:%d", host, os.Getpid())
	}
	return c
}

type Syncer struct {
	external ExternalStore
	internal InternalStore
	settings SettingsStore
	cfg      Config
	logger   *log.Logger

	// Now is the pass clock.
	Now func() time.Time
	// OnResult, when set, receives every finished pass.
	OnResult func(model.SyncResult)

	running atomic.Bool

	mu     sync.Mutex
	closed bool
	passes sync.WaitGroup
}

func New(external ExternalStore, internal InternalStore, settings SettingsStore, cfg Config, logger *log.Logger) *Syncer {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Syncer{
		external: external,
		internal: internal,
		settings: settings,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		Now:      time.Now,
	}
}

// Run performs one pass in the given direction. The returned result is
// always populated unless the error is ErrAlreadyRunning or the lease could
// not be claimed at all.
func (s *Syncer) Run(ctx context.Context, dir model.Direction) (model.SyncResult, error) {
	if err := s.begin(); err != nil {
		return model.SyncResult{}, err
	}
	defer s.passes.Done()
	if !s.running.CompareAndSwap(false, true) {
		return model.SyncResult{}, ErrAlreadyRunning
	}
	defer s.running.Store(false)

	token, err := s.settings.ClaimLease(ctx, s.cfg.Owner, s.cfg.LeaseTTL)
	if errors.Is(err, store.ErrLeaseHeld) {
		return model.SyncResult{}, fmt.Errorf("%w: %v", ErrAlreadyRunning, err)
	}
	if err != nil {
		return model.SyncResult{}, err
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.settings.ReleaseLease(rctx, token); err != nil {
			s.logger.Printf("WARNING: failed to release sync lease: %v", err)
		}
	}()

	passCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stopRenew := s.renewLease(passCtx, cancel, token)

	start := s.Now()
	p := newPass(dir, start.UTC())
	s.logger.Printf("Starting %s sync", dir)
	s.execute(passCtx, p)
	stopRenew()

	res := p.finish(s.Now().Sub(start))
	if errors.Is(context.Cause(passCtx), ErrAlreadyRunning) {
		s.logger.Printf("Lost sync lease mid-pass, stopped after %d records", res.TotalProcessed)
		return res, ErrAlreadyRunning
	}
	if passCtx.Err() != nil {
		res.Cancelled = true
	}

	sctx, scancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer scancel()
	if err := s.settings.SaveSyncResult(sctx, res); err != nil {
		s.logger.Printf("WARNING: failed to save sync result: %v", err)
	}
	if f, ok := s.external.(flusher); ok {
		if err := f.Flush(); err != nil {
			s.logger.Printf("WARNING: failed to flush sheet cache: %v", err)
		}
	}
	s.logger.Printf("Sync finished: created=%d updated=%d unchanged=%d conflicts=%d errors=%d (%s)",
		res.Created, res.Updated, res.Unchanged, res.Conflicts, res.Errors, res.Duration.Round(time.Millisecond))
	if s.OnResult != nil {
		s.OnResult(res)
	}
	return res, nil
}

func (s *Syncer) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.passes.Add(1)
	return nil
}

// Close refuses new passes and waits for a running one to save its result
// and release the lease. Callers close the stores after it returns.
func (s *Syncer) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.passes.Wait()
}

func (s *Syncer) renewLease(ctx context.Context, cancel context.CancelCauseFunc, token string) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		interval := s.cfg.LeaseTTL / 3
		if interval <= 0 {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := s.settings.RenewLease(ctx, token, s.cfg.LeaseTTL)
				if errors.Is(err, store.ErrLeaseLost) {
					cancel(ErrAlreadyRunning)
					return
				}
				if err != nil {
					s.logger.Printf("WARNING: failed to renew sync lease: %v", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// RunScheduled runs a bidirectional pass if the persisted schedule says one
// is due.
func (s *Syncer) RunScheduled(ctx context.Context) (model.ScheduledOutcome, error) {
	settings, err := s.settings.GetSyncSettings(ctx)
	if err != nil {
		return model.ScheduledOutcome{}, err
	}
	if run, reason := schedule.Decide(settings, s.Now()); !run {
		return model.ScheduledOutcome{Ran: false, Reason: reason}, nil
	}
	res, err := s.Run(ctx, model.Bidirectional)
	if errors.Is(err, ErrAlreadyRunning) {
		return model.ScheduledOutcome{Ran: false, Reason: "already running"}, nil
	}
	if errors.Is(err, ErrClosed) {
		return model.ScheduledOutcome{Ran: false, Reason: "shutting down"}, nil
	}
	if err != nil {
		return model.ScheduledOutcome{}, err
	}
	return model.ScheduledOutcome{Ran: true, Result: &res}, nil
}

// Status tallies the internal store by sync status.
func (s *Syncer) Status(ctx context.Context) (model.StatusCounts, error) {
	return s.internal.Counts(ctx)
}
