package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/erickfmfg/Supercarros-Republisher/internal/domain"
	"github.com/erickfmfg/Supercarros-Republisher/internal/executor"
)

// mockSchedules serves a fixed due set and records skips.
type mockSchedules struct {
	mu    sync.Mutex
	due   []domain.Schedule
	skips []uuid.UUID
}

func (s *mockSchedules) DueAsOf(ctx context.Context, now time.Time) ([]domain.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Schedule, len(s.due))
	copy(out, s.due)
	return out, nil
}

func (s *mockSchedules) Skip(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skips = append(s.skips, id)
	// A skipped schedule is no longer due.
	var remaining []domain.Schedule
	for _, sched := range s.due {
		if sched.ID != id {
			remaining = append(remaining, sched)
		}
	}
	s.due = remaining
	return nil
}

func (s *mockSchedules) skipCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.skips)
}

// mockRunner returns scripted errors per schedule and records targets.
type mockRunner struct {
	mu      sync.Mutex
	errs    map[uuid.UUID]error
	targets []executor.Target
}

func newMockRunner() *mockRunner {
	return &mockRunner{errs: make(map[uuid.UUID]error)}
}

func (r *mockRunner) Execute(ctx context.Context, target executor.Target) (executor.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = append(r.targets, target)
	if target.ScheduleID != nil {
		if err := r.errs[*target.ScheduleID]; err != nil {
			return executor.Handle{}, err
		}
	}
	done := make(chan struct{})
	close(done)
	return executor.Handle{RunID: uuid.New(), Done: done}, nil
}

func (r *mockRunner) executions() []executor.Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]executor.Target, len(r.targets))
	copy(out, r.targets)
	return out
}

func dueSchedule() domain.Schedule {
	next := time.Now().UTC().Add(-time.Minute)
	return domain.Schedule{
		ID:        uuid.New(),
		Name:      "morning",
		Active:    true,
		BrandIDs:  []uuid.UUID{uuid.New(), uuid.New()},
		NextRunAt: &next,
	}
}

func TestProcessTick_StartsDueSchedules(t *testing.T) {
	sched := dueSchedule()
	store := &mockSchedules{due: []domain.Schedule{sched}}
	runner := newMockRunner()

	d := New(Config{TickInterval: 30 * time.Second}, store, runner)
	if err := d.processTick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	execs := runner.executions()
	if len(execs) != 1 {
		t.Fatalf("executions = %d, want 1", len(execs))
	}
	got := execs[0]
	if got.ScheduleID == nil || *got.ScheduleID != sched.ID {
		t.Fatal("schedule id not propagated")
	}
	if got.Trigger != domain.TriggerScheduled {
		t.Fatalf("trigger = %s, want scheduled", got.Trigger)
	}
	if len(got.BrandIDs) != 2 {
		t.Fatalf("brand ids = %d, want 2", len(got.BrandIDs))
	}
}

func TestProcessTick_ConflictRetriesNextTick(t *testing.T) {
	sched := dueSchedule()
	store := &mockSchedules{due: []domain.Schedule{sched}}
	runner := newMockRunner()
	runner.errs[sched.ID] = executor.ErrConflict

	d := New(Config{TickInterval: 30 * time.Second, MaxConflictTicks: 0}, store, runner)

	for i := 0; i < 5; i++ {
		if err := d.processTick(context.Background()); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}

	// Conflicting schedule is retried each tick, never skipped.
	if got := len(runner.executions()); got != 5 {
		t.Fatalf("attempts = %d, want 5", got)
	}
	if store.skipCount() != 0 {
		t.Fatal("no skip expected with MaxConflictTicks=0")
	}
}

func TestProcessTick_ConflictSkipsAfterLimit(t *testing.T) {
	sched := dueSchedule()
	store := &mockSchedules{due: []domain.Schedule{sched}}
	runner := newMockRunner()
	runner.errs[sched.ID] = executor.ErrConflict

	d := New(Config{TickInterval: 30 * time.Second, MaxConflictTicks: 3}, store, runner)

	for i := 0; i < 4; i++ {
		if err := d.processTick(context.Background()); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}

	if store.skipCount() != 1 {
		t.Fatalf("skips = %d, want 1", store.skipCount())
	}
	// Ticks 1-3 attempted; skip happened on tick 3; tick 4 saw nothing due.
	if got := len(runner.executions()); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
}

func TestProcessTick_OwnRunConflictNeverSkips(t *testing.T) {
	sched := dueSchedule()
	store := &mockSchedules{due: []domain.Schedule{sched}}
	runner := newMockRunner()
	runner.errs[sched.ID] = executor.ErrOwnRunActive

	d := New(Config{TickInterval: 30 * time.Second, MaxConflictTicks: 2}, store, runner)

	// Far more ticks than the skip threshold: a schedule blocked by its own
	// still-running occurrence is retried, never skipped. Skipping here would
	// advance next_run_at only for the run's own MarkRun to overwrite it.
	for i := 0; i < 10; i++ {
		if err := d.processTick(context.Background()); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}

	if store.skipCount() != 0 {
		t.Fatalf("skips = %d, want 0", store.skipCount())
	}
	if got := len(runner.executions()); got != 10 {
		t.Fatalf("attempts = %d, want 10", got)
	}
}

func TestProcessTick_ConflictStateDroppedWhenNoLongerDue(t *testing.T) {
	sched := dueSchedule()
	store := &mockSchedules{due: []domain.Schedule{sched}}
	runner := newMockRunner()
	runner.errs[sched.ID] = executor.ErrConflict

	d := New(Config{TickInterval: 30 * time.Second, MaxConflictTicks: 2}, store, runner)

	// One conflicted tick, then the schedule leaves the due set (paused or
	// deleted), then comes back due: the counter starts over.
	d.processTick(context.Background())

	store.mu.Lock()
	saved := store.due
	store.due = nil
	store.mu.Unlock()
	d.processTick(context.Background())

	if len(d.conflicts) != 0 {
		t.Fatalf("conflict entries = %d, want 0 after schedule left the due set", len(d.conflicts))
	}

	store.mu.Lock()
	store.due = saved
	store.mu.Unlock()
	d.processTick(context.Background())

	if store.skipCount() != 0 {
		t.Fatal("skip must not fire; conflict history must not survive a gap in dueness")
	}
}

func TestProcessTick_ConflictCounterResetsOnStart(t *testing.T) {
	sched := dueSchedule()
	store := &mockSchedules{due: []domain.Schedule{sched}}
	runner := newMockRunner()
	runner.errs[sched.ID] = executor.ErrConflict

	d := New(Config{TickInterval: 30 * time.Second, MaxConflictTicks: 3}, store, runner)

	// Two conflicted ticks, then the run starts, then conflicts again.
	d.processTick(context.Background())
	d.processTick(context.Background())

	runner.mu.Lock()
	delete(runner.errs, sched.ID)
	runner.mu.Unlock()
	d.processTick(context.Background())

	runner.mu.Lock()
	runner.errs[sched.ID] = executor.ErrConflict
	runner.mu.Unlock()
	d.processTick(context.Background())
	d.processTick(context.Background())

	// Counter restarted after the successful start: still no skip.
	if store.skipCount() != 0 {
		t.Fatal("skip must not fire; counter should reset on a started run")
	}
}

func TestProcessTick_ErrorOnOneScheduleDoesNotBlockOthers(t *testing.T) {
	bad := dueSchedule()
	good := dueSchedule()
	store := &mockSchedules{due: []domain.Schedule{bad, good}}
	runner := newMockRunner()
	runner.errs[bad.ID] = context.DeadlineExceeded

	d := New(Config{TickInterval: 30 * time.Second}, store, runner)
	if err := d.processTick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := len(runner.executions()); got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	store := &mockSchedules{}
	runner := newMockRunner()
	d := New(Config{TickInterval: 10 * time.Millisecond}, store, runner)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Fatalf("run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
