package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harrisonrobin/sheetsync/pkg/model"
	"github.com/harrisonrobin/sheetsync/pkg/store"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeSheet keeps rows in insertion order. Every write stamps the row with
// the clock's time.
type fakeSheet struct {
	mu     sync.Mutex
	clock  *clock
	order  []string
	rows   map[string]*model.Row
	nextID int

	// trackSync makes rows carry a sync cell.
	trackSync   bool
	listDelay   time.Duration
	updateDelay time.Duration
	failCreate  func(fields model.RowFields) error
	failUpdate  func(rowID string, fields model.RowFields) error
	creates     int
	updates     int
}

func newFakeSheet(c *clock) *fakeSheet {
	return &fakeSheet{clock: c, rows: make(map[string]*model.Row)}
}

func copyRow(r *model.Row) model.Row {
	out := *r
	out.Cells = make(model.RowFields, len(r.Cells))
	for k, v := range r.Cells {
		out.Cells[k] = v
	}
	return out
}

func (f *fakeSheet) ListRows(ctx context.Context, sheetID string) ([]model.Row, error) {
	if f.listDelay > 0 {
		select {
		case <-time.After(f.listDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Row, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, copyRow(f.rows[id]))
	}
	return out, nil
}

func (f *fakeSheet) apply(r *model.Row, fields model.RowFields) {
	for k, v := range fields {
		if k == model.FieldCrossRef {
			r.CrossRef = v
			continue
		}
		if k == model.FieldSync && !f.trackSync {
			continue
		}
		r.Cells[k] = v
	}
	r.ModifiedAt = f.clock.Now()
}

func (f *fakeSheet) CreateRow(ctx context.Context, sheetID string, fields model.RowFields) (model.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate != nil {
		if err := f.failCreate(fields); err != nil {
			return model.Row{}, err
		}
	}
	f.nextID++
	r := &model.Row{ID: fmt.Sprintf("row-%d", f.nextID), Cells: model.RowFields{}}
	if f.trackSync {
		r.Cells[model.FieldSync] = ""
	}
	f.apply(r, fields)
	f.rows[r.ID] = r
	f.order = append(f.order, r.ID)
	f.creates++
	return copyRow(r), nil
}

func (f *fakeSheet) UpdateRow(ctx context.Context, sheetID, rowID string, fields model.RowFields) (model.Row, error) {
	if f.updateDelay > 0 {
		select {
		case <-time.After(f.updateDelay):
		case <-ctx.Done():
			return model.Row{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdate != nil {
		if err := f.failUpdate(rowID, fields); err != nil {
			return model.Row{}, err
		}
	}
	r, ok := f.rows[rowID]
	if !ok {
		return model.Row{}, fmt.Errorf("row %s not found", rowID)
	}
	f.apply(r, fields)
	f.updates++
	return copyRow(r), nil
}

func (f *fakeSheet) FindByCrossRef(ctx context.Context, sheetID, crossRef string) (*model.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.order {
		if f.rows[id].CrossRef == crossRef {
			r := copyRow(f.rows[id])
			return &r, nil
		}
	}
	return nil, nil
}

// add inserts a row typed by a user.
func (f *fakeSheet) add(cells model.RowFields) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	r := &model.Row{ID: fmt.Sprintf("row-%d", f.nextID), Cells: model.RowFields{}}
	if f.trackSync {
		r.Cells[model.FieldSync] = ""
	}
	f.apply(r, cells)
	f.rows[r.ID] = r
	f.order = append(f.order, r.ID)
	return r.ID
}

func (f *fakeSheet) edit(rowID, field, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apply(f.rows[rowID], model.RowFields{field: value})
}

func (f *fakeSheet) remove(rowID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, rowID)
	for i, id := range f.order {
		if id == rowID {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

func (f *fakeSheet) row(rowID string) model.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyRow(f.rows[rowID])
}

func (f *fakeSheet) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.order)
}

type fakeTasks struct {
	mu    sync.Mutex
	clock *clock
	order []string
	tasks map[string]model.Task

	failUpdate   func(id string, u model.TaskUpdate) error
	beforeUpdate func(id string)
}

func newFakeTasks(c *clock) *fakeTasks {
	return &fakeTasks{clock: c, tasks: make(map[string]model.Task)}
}

func (f *fakeTasks) ListTasks(ctx context.Context, filter model.TaskFilter) ([]model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[string]bool)
	for _, id := range filter.IDs {
		want[id] = true
	}
	var out []model.Task
	for _, id := range f.order {
		t, ok := f.tasks[id]
		if !ok {
			continue
		}
		if len(want) > 0 && !want[id] {
			continue
		}
		if !filter.TerminalSince.IsZero() && t.Status.IsTerminal() && t.UpdatedAt.Before(filter.TerminalSince) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeTasks) CreateTask(ctx context.Context, t model.Task) (model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = f.clock.Now()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	if t.SyncStatus == "" {
		t.SyncStatus = model.SyncLocalOnly
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
	if t.TargetDate.IsZero() {
		t.TargetDate = t.PlannedDate
	}
	if _, dup := f.tasks[t.ID]; dup {
		return model.Task{}, fmt.Errorf("duplicate task %s", t.ID)
	}
	f.tasks[t.ID] = t
	f.order = append(f.order, t.ID)
	return t, nil
}

func (f *fakeTasks) UpdateTask(ctx context.Context, id string, u model.TaskUpdate) (model.Task, error) {
	if f.beforeUpdate != nil {
		f.beforeUpdate(id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdate != nil {
		if err := f.failUpdate(id, u); err != nil {
			return model.Task{}, err
		}
	}
	t, ok := f.tasks[id]
	if !ok {
		return model.Task{}, store.ErrNotFound
	}
	if !u.ExpectUpdatedAt.IsZero() && !t.UpdatedAt.Equal(u.ExpectUpdatedAt) {
		return model.Task{}, store.ErrStale
	}
	u.ApplyTo(&t)
	f.tasks[id] = t
	return t, nil
}

func (f *fakeTasks) DeleteTask(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, id)
	return nil
}

func (f *fakeTasks) Counts(ctx context.Context) (model.StatusCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var c model.StatusCounts
	for _, t := range f.tasks {
		c.Add(t.SyncStatus)
	}
	return c, nil
}

// edit applies a user edit the way the store does.
func (f *fakeTasks) edit(id string, fn func(t *model.Task)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tasks[id]
	fn(&t)
	t.UpdatedAt = f.clock.Now()
	if t.SyncStatus == model.SyncSynced {
		t.SyncStatus = model.SyncPending
	}
	f.tasks[id] = t
}

func (f *fakeTasks) get(id string) model.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks[id]
}

func (f *fakeTasks) all() []model.Task {
	ts, _ := f.ListTasks(context.Background(), model.TaskFilter{})
	return ts
}

type fakeSettings struct {
	mu       sync.Mutex
	clock    *clock
	settings model.SyncSettings
	token    string
	expires  time.Time
	saved    []model.SyncResult
	lost     bool
}

func (f *fakeSettings) GetSyncSettings(ctx context.Context) (model.SyncSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings, nil
}

func (f *fakeSettings) SaveSyncResult(ctx context.Context, r model.SyncResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.Complete() {
		f.settings.LastSyncAt = r.SyncedAt
	}
	f.settings.LastResult = &r
	f.saved = append(f.saved, r)
	return nil
}

func (f *fakeSettings) ClaimLease(ctx context.Context, owner string, ttl time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.token != "" && f.clock.Now().Before(f.expires) {
		return "", store.ErrLeaseHeld
	}
	f.token = uuid.NewString()
	f.expires = f.clock.Now().Add(ttl)
	return f.token, nil
}

func (f *fakeSettings) RenewLease(ctx context.Context, token string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lost || token != f.token {
		return store.ErrLeaseLost
	}
	f.expires = f.clock.Now().Add(ttl)
	return nil
}

func (f *fakeSettings) leased() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token != ""
}

func (f *fakeSettings) results() []model.SyncResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.SyncResult(nil), f.saved...)
}

func (f *fakeSettings) ReleaseLease(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if token == f.token {
		f.token = ""
	}
	return nil
}

type harness struct {
	clock    *clock
	sheet    *fakeSheet
	tasks    *fakeTasks
	settings *fakeSettings
	syncer   *Syncer
}

func newHarness(cfg Config) *harness {
	c := newClock()
	h := &harness{
		clock:    c,
		sheet:    newFakeSheet(c),
		tasks:    newFakeTasks(c),
		settings: &fakeSettings{clock: c, settings: model.SyncSettings{IntervalMinutes: 30}},
	}
	if cfg.Owner == "" {
		cfg.Owner = "test"
	}
	h.syncer = New(h.sheet, h.tasks, h.settings, cfg, log.New(io.Discard, "", 0))
	h.syncer.Now = c.Now
	return h
}

// localTask creates a task the way a user would, before any sync.
func (h *harness) localTask(title string) model.Task {
	t, err := h.tasks.CreateTask(context.Background(), model.Task{Title: title, Status: model.StatusOpen})
	if err != nil {
		panic(err)
	}
	return t
}

var errTransport = errors.New("sheet unreachable")
