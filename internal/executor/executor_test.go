package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/erickfmfg/Supercarros-Republisher/internal/domain"
	"github.com/erickfmfg/Supercarros-Republisher/internal/history"
)

// mockDirectory serves a fixed brand catalog.
type mockDirectory struct {
	mu     sync.Mutex
	brands map[uuid.UUID]domain.Brand
	order  []uuid.UUID
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{brands: make(map[uuid.UUID]domain.Brand)}
}

func (d *mockDirectory) addBrand(name string, active bool) domain.Brand {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := domain.Brand{ID: uuid.New(), Name: name, Active: active}
	d.brands[b.ID] = b
	d.order = append(d.order, b.ID)
	return b
}

func (d *mockDirectory) ListActiveBrands(ctx context.Context) ([]domain.Brand, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []domain.Brand
	for _, id := range d.order {
		if b := d.brands[id]; b.Active {
			out = append(out, b)
		}
	}
	return out, nil
}

func (d *mockDirectory) GetBrands(ctx context.Context, ids []uuid.UUID) ([]domain.Brand, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []domain.Brand
	for _, id := range ids {
		if b, ok := d.brands[id]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}

// mockRepublisher returns configured results per brand name and records call
// order. A brand listed in block waits until release is closed.
type mockRepublisher struct {
	mu      sync.Mutex
	counts  map[string]int
	errs    map[string]error
	calls   []string
	block   map[string]bool
	release chan struct{}
}

func newMockRepublisher() *mockRepublisher {
	return &mockRepublisher{
		counts:  make(map[string]int),
		errs:    make(map[string]error),
		block:   make(map[string]bool),
		release: make(chan struct{}),
	}
}

func (r *mockRepublisher) Republish(ctx context.Context, brand domain.Brand) (int, error) {
	r.mu.Lock()
	r.calls = append(r.calls, brand.Name)
	blocked := r.block[brand.Name]
	count := r.counts[brand.Name]
	err := r.errs[brand.Name]
	r.mu.Unlock()

	if blocked {
		select {
		case <-r.release:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return count, err
}

func (r *mockRepublisher) callOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// mockMarker records MarkRun calls.
type mockMarker struct {
	mu    sync.Mutex
	calls []uuid.UUID
}

func (m *mockMarker) MarkRun(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, id)
	return nil
}

func (m *mockMarker) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// ledgerStore is an in-memory history.Store with the terminal guard.
type ledgerStore struct {
	mu   sync.Mutex
	runs map[uuid.UUID]domain.Run
}

func newLedgerStore() *ledgerStore {
	return &ledgerStore{runs: make(map[uuid.UUID]domain.Run)}
}

func (s *ledgerStore) InsertRun(ctx context.Context, run domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

func (s *ledgerStore) CompleteRun(ctx context.Context, run domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.runs[run.ID]
	if !ok {
		return history.ErrNotFound
	}
	if existing.Status.Terminal() {
		return history.ErrAlreadyTerminal
	}
	s.runs[run.ID] = run
	return nil
}

func (s *ledgerStore) GetRun(ctx context.Context, id uuid.UUID) (domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return domain.Run{}, history.ErrNotFound
	}
	return run, nil
}

func (s *ledgerStore) ListRuns(ctx context.Context, f history.Filter) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Run
	for _, run := range s.runs {
		out = append(out, run)
	}
	return out, nil
}

func (s *ledgerStore) get(id uuid.UUID) domain.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[id]
}

func (s *ledgerStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

type fixture struct {
	dir    *mockDirectory
	rep    *mockRepublisher
	store  *ledgerStore
	marker *mockMarker
	exec   *Executor
}

func newFixture(cfg Config) *fixture {
	f := &fixture{
		dir:    newMockDirectory(),
		rep:    newMockRepublisher(),
		store:  newLedgerStore(),
		marker: &mockMarker{},
	}
	f.exec = New(cfg, f.dir, f.rep, history.New(f.store), f.marker)
	return f
}

func waitDone(t *testing.T, h Handle) {
	t.Helper()
	select {
	case <-h.Done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish in time")
	}
}

func TestExecute_Success(t *testing.T) {
	f := newFixture(Config{})
	a := f.dir.addBrand("Toyota", true)
	b := f.dir.addBrand("Honda", true)
	f.rep.counts["Toyota"] = 7
	f.rep.counts["Honda"] = 3

	schedID := uuid.New()
	h, err := f.exec.Execute(context.Background(), Target{
		BrandIDs:   []uuid.UUID{a.ID, b.ID},
		Trigger:    domain.TriggerScheduled,
		ScheduleID: &schedID,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	waitDone(t, h)

	run := f.store.get(h.RunID)
	if run.Status != domain.RunStatusSuccess {
		t.Fatalf("status = %s, want success", run.Status)
	}
	if run.VehiclesCount != 10 {
		t.Fatalf("vehicles = %d, want 10", run.VehiclesCount)
	}
	if run.FinishedAt == nil {
		t.Fatal("finished_at not set")
	}
	if f.marker.count() != 1 {
		t.Fatalf("MarkRun called %d times, want 1", f.marker.count())
	}

	// Brand processing order is the order given.
	order := f.rep.callOrder()
	if len(order) != 2 || order[0] != "Toyota" || order[1] != "Honda" {
		t.Fatalf("call order = %v", order)
	}
}

func TestExecute_PartialFailure(t *testing.T) {
	f := newFixture(Config{})
	b1 := f.dir.addBrand("Toyota", true)
	b2 := f.dir.addBrand("Honda", true)
	b3 := f.dir.addBrand("Kia", true)
	f.rep.counts["Toyota"] = 4
	f.rep.errs["Honda"] = errors.New("listing page unavailable")
	f.rep.counts["Kia"] = 2

	h, err := f.exec.Execute(context.Background(), Target{
		BrandIDs: []uuid.UUID{b1.ID, b2.ID, b3.ID},
		Trigger:  domain.TriggerManual,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	waitDone(t, h)

	run := f.store.get(h.RunID)
	if run.Status != domain.RunStatusPartialFailure {
		t.Fatalf("status = %s, want partial_failure", run.Status)
	}
	// Only brands 1 and 3 count.
	if run.VehiclesCount != 6 {
		t.Fatalf("vehicles = %d, want 6", run.VehiclesCount)
	}
	if len(run.Brands) != 3 {
		t.Fatalf("brand results = %d, want 3", len(run.Brands))
	}
	if run.Brands[1].Error == "" {
		t.Fatal("expected recorded error for failed brand")
	}
	if run.Brands[0].Error != "" || run.Brands[2].Error != "" {
		t.Fatal("unexpected errors on succeeding brands")
	}
	// Manual run without schedule does not touch any schedule.
	if f.marker.count() != 0 {
		t.Fatal("MarkRun must not be called for ad-hoc manual runs")
	}
}

func TestExecute_ScheduleConflict(t *testing.T) {
	f := newFixture(Config{})
	b := f.dir.addBrand("Toyota", true)
	f.rep.block["Toyota"] = true

	schedID := uuid.New()
	target := Target{BrandIDs: []uuid.UUID{b.ID}, Trigger: domain.TriggerScheduled, ScheduleID: &schedID}

	h, err := f.exec.Execute(context.Background(), target)
	if err != nil {
		t.Fatalf("first execute: %v", err)
	}

	// Same schedule while in flight: conflict, no run record created. The
	// error identifies the blocker as the schedule's own run so the
	// dispatcher can exempt it from the skip threshold.
	_, err = f.exec.Execute(context.Background(), target)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if !errors.Is(err, ErrOwnRunActive) {
		t.Fatalf("expected ErrOwnRunActive for same-schedule conflict, got %v", err)
	}
	if f.store.count() != 1 {
		t.Fatalf("conflicting request must not create a run, have %d", f.store.count())
	}

	close(f.rep.release)
	waitDone(t, h)

	// Slot released after completion.
	if _, err := f.exec.Execute(context.Background(), target); err != nil {
		t.Fatalf("execute after release: %v", err)
	}
}

func TestExecute_BrandOverlapConflict(t *testing.T) {
	f := newFixture(Config{})
	shared := f.dir.addBrand("Toyota", true)
	other := f.dir.addBrand("Honda", true)
	third := f.dir.addBrand("Kia", true)
	f.rep.block["Toyota"] = true

	h, err := f.exec.Execute(context.Background(), Target{
		BrandIDs: []uuid.UUID{shared.ID, other.ID},
		Trigger:  domain.TriggerManual,
	})
	if err != nil {
		t.Fatalf("first execute: %v", err)
	}

	// Overlapping brand set: conflict, and a foreign one since no schedule
	// slot is involved.
	_, err = f.exec.Execute(context.Background(), Target{
		BrandIDs: []uuid.UUID{shared.ID},
		Trigger:  domain.TriggerManual,
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for overlapping brand, got %v", err)
	}
	if errors.Is(err, ErrOwnRunActive) {
		t.Fatalf("brand overlap must not be reported as an own-run conflict, got %v", err)
	}

	// Disjoint brand set: proceeds concurrently.
	h2, err := f.exec.Execute(context.Background(), Target{
		BrandIDs: []uuid.UUID{third.ID},
		Trigger:  domain.TriggerManual,
	})
	if err != nil {
		t.Fatalf("disjoint execute: %v", err)
	}
	waitDone(t, h2)

	close(f.rep.release)
	waitDone(t, h)
}

func TestExecute_AllBrandsSlotIsExclusive(t *testing.T) {
	f := newFixture(Config{})
	f.dir.addBrand("Toyota", true)
	f.rep.block["Toyota"] = true

	h, err := f.exec.Execute(context.Background(), Target{AllBrands: true, Trigger: domain.TriggerManual})
	if err != nil {
		t.Fatalf("first all-brands execute: %v", err)
	}
	if _, err := f.exec.Execute(context.Background(), Target{AllBrands: true, Trigger: domain.TriggerManual}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for second all-brands run, got %v", err)
	}

	close(f.rep.release)
	waitDone(t, h)
}

func TestExecute_ManualRunCap(t *testing.T) {
	f := newFixture(Config{ManualRunLimit: 1})
	a := f.dir.addBrand("Toyota", true)
	b := f.dir.addBrand("Honda", true)
	f.rep.block["Toyota"] = true

	h, err := f.exec.Execute(context.Background(), Target{BrandIDs: []uuid.UUID{a.ID}, Trigger: domain.TriggerManual})
	if err != nil {
		t.Fatalf("first manual execute: %v", err)
	}

	// Disjoint brands, but the manual cap is reached.
	if _, err := f.exec.Execute(context.Background(), Target{BrandIDs: []uuid.UUID{b.ID}, Trigger: domain.TriggerManual}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict at manual cap, got %v", err)
	}

	// Scheduled runs are not counted against the manual cap.
	schedID := uuid.New()
	h2, err := f.exec.Execute(context.Background(), Target{BrandIDs: []uuid.UUID{b.ID}, Trigger: domain.TriggerScheduled, ScheduleID: &schedID})
	if err != nil {
		t.Fatalf("scheduled execute at manual cap: %v", err)
	}
	waitDone(t, h2)

	close(f.rep.release)
	waitDone(t, h)
}

func TestExecute_UnknownBrand(t *testing.T) {
	f := newFixture(Config{})
	if _, err := f.exec.Execute(context.Background(), Target{
		BrandIDs: []uuid.UUID{uuid.New()},
		Trigger:  domain.TriggerManual,
	}); !errors.Is(err, ErrUnknownBrand) {
		t.Fatalf("expected ErrUnknownBrand, got %v", err)
	}
	if f.store.count() != 0 {
		t.Fatal("no run record must exist for a rejected request")
	}
}

func TestExecute_EmptyResolvedSetIsRunFailure(t *testing.T) {
	f := newFixture(Config{})
	f.dir.addBrand("Toyota", false) // inactive only

	h, err := f.exec.Execute(context.Background(), Target{AllBrands: true, Trigger: domain.TriggerManual})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	waitDone(t, h)

	run := f.store.get(h.RunID)
	if run.Status != domain.RunStatusFailure {
		t.Fatalf("status = %s, want failure", run.Status)
	}
	if run.Error == "" {
		t.Fatal("expected batch failure reason")
	}
}

func TestExecute_ShutdownAbandonsRun(t *testing.T) {
	f := newFixture(Config{})
	a := f.dir.addBrand("Toyota", true)
	b := f.dir.addBrand("Honda", true)
	f.rep.block["Toyota"] = true

	h, err := f.exec.Execute(context.Background(), Target{
		BrandIDs: []uuid.UUID{a.ID, b.ID},
		Trigger:  domain.TriggerManual,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	f.exec.Shutdown(2 * time.Second)
	waitDone(t, h)

	run := f.store.get(h.RunID)
	if run.Status != domain.RunStatusFailure {
		t.Fatalf("abandoned run status = %s, want failure", run.Status)
	}
	if run.Error == "" {
		t.Fatal("abandonment reason must be recorded")
	}
	if run.FinishedAt == nil {
		t.Fatal("abandoned run must not stay running")
	}

	// New work is refused after shutdown.
	if _, err := f.exec.Execute(context.Background(), Target{BrandIDs: []uuid.UUID{b.ID}, Trigger: domain.TriggerManual}); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}
}

func TestExecute_ProgressIsMonotonic(t *testing.T) {
	f := newFixture(Config{})
	var ids []uuid.UUID
	for _, name := range []string{"A", "B", "C", "D"} {
		b := f.dir.addBrand(name, true)
		f.rep.counts[name] = 1
		ids = append(ids, b.ID)
	}

	h, err := f.exec.Execute(context.Background(), Target{BrandIDs: ids, Trigger: domain.TriggerManual})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	last := -1
	deadline := time.Now().Add(5 * time.Second)
polling:
	for time.Now().Before(deadline) {
		if p, ok := f.exec.Progress(h.RunID); ok {
			if p.Percent < last {
				t.Fatalf("progress regressed: %d -> %d", last, p.Percent)
			}
			last = p.Percent
		}
		select {
		case <-h.Done:
			break polling
		case <-time.After(time.Millisecond):
		}
	}

	waitDone(t, h)
	p, ok := f.exec.Progress(h.RunID)
	if !ok {
		t.Fatal("finished run progress should be retained briefly")
	}
	if p.Percent != 100 || p.Status != domain.RunStatusSuccess {
		t.Fatalf("final progress = %d%% %s", p.Percent, p.Status)
	}
	if p.VehiclesCount != 4 {
		t.Fatalf("final vehicles = %d, want 4", p.VehiclesCount)
	}
}
