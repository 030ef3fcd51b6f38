package reconciler

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

// mockStore returns configurable stale runs.
type mockStore struct {
	mu    sync.Mutex
	stale []domain.Run
	err   error
}

func (s *mockStore) ListStaleRunning(ctx context.Context, olderThan time.Time, limit int) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}

	var result []domain.Run
	for _, run := range s.stale {
		if run.RunAt.Before(olderThan) {
			result = append(result, run)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (s *mockStore) setStale(runs []domain.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stale = runs
}

func (s *mockStore) setError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// mockLedger tracks appended runs.
type mockLedger struct {
	mu       sync.Mutex
	appended []domain.Run
	// errFor returns ErrAlreadyTerminal for specific run ids.
	errFor map[uuid.UUID]error
}

func (l *mockLedger) Append(ctx context.Context, run domain.Run) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, ok := l.errFor[run.ID]; ok {
		return err
	}
	l.appended = append(l.appended, run)
	return nil
}

func (l *mockLedger) getAppended() []domain.Run {
	l.mu.Lock()
	defer l.mu.Unlock()
	result := make([]domain.Run, len(l.appended))
	copy(result, l.appended)
	return result
}

type mockMetrics struct {
	mu        sync.Mutex
	abandoned int
}

func (m *mockMetrics) StaleRunsAbandoned(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abandoned += count
}

func staleRun(now time.Time, age time.Duration) domain.Run {
	return domain.Run{
		ID:      uuid.New(),
		Trigger: domain.TriggerScheduled,
		Status:  domain.RunStatusRunning,
		RunAt:   now.Add(-age),
	}
}

func newTestReconciler(store Store, ledger Ledger, now time.Time) *Reconciler {
	recon := New(
		Config{
			Interval:  time.Hour, // not used in direct runCycle calls
			Threshold: 2 * time.Hour,
			BatchSize: 100,
		},
		store,
		ledger,
	)
	recon.clock = func() time.Time { return now }
	return recon
}

func TestReconciler_AbandonsStaleRuns(t *testing.T) {
	store := &mockStore{}
	ledger := &mockLedger{}

	now := time.Now().UTC()
	stale := staleRun(now, 3*time.Hour)
	store.setStale([]domain.Run{stale})

	recon := newTestReconciler(store, ledger, now)
	recon.runCycle(context.Background())

	appended := ledger.getAppended()
	if len(appended) != 1 {
		t.Fatalf("expected 1 abandoned run, got %d", len(appended))
	}

	got := appended[0]
	if got.ID != stale.ID {
		t.Error("abandoned run should keep the original id")
	}
	if got.Status != domain.RunStatusFailure {
		t.Errorf("status = %s, want failure", got.Status)
	}
	if got.Error != AbandonReason {
		t.Errorf("error = %q, want abandon reason", got.Error)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(now) {
		t.Error("abandoned run should carry the reconciler's finish time")
	}
}

func TestReconciler_SkipsLocallyActiveRuns(t *testing.T) {
	store := &mockStore{}
	ledger := &mockLedger{}

	now := time.Now().UTC()
	activeRun := staleRun(now, 3*time.Hour)
	deadRun := staleRun(now, 3*time.Hour)
	store.setStale([]domain.Run{activeRun, deadRun})

	recon := newTestReconciler(store, ledger, now)
	recon.WithActiveCheck(func(id uuid.UUID) bool { return id == activeRun.ID })
	recon.runCycle(context.Background())

	appended := ledger.getAppended()
	if len(appended) != 1 {
		t.Fatalf("expected 1 abandoned run, got %d", len(appended))
	}
	if appended[0].ID != deadRun.ID {
		t.Error("only the inactive run should be abandoned")
	}
}

func TestReconciler_AlreadyTerminalIsSkipped(t *testing.T) {
	store := &mockStore{}

	now := time.Now().UTC()
	raced := staleRun(now, 3*time.Hour)
	other := staleRun(now, 3*time.Hour)
	store.setStale([]domain.Run{raced, other})

	ledger := &mockLedger{errFor: map[uuid.UUID]error{raced.ID: history.ErrAlreadyTerminal}}

	metrics := &mockMetrics{}
	recon := newTestReconciler(store, ledger, now)
	recon.WithMetrics(metrics)
	recon.runCycle(context.Background())

	appended := ledger.getAppended()
	if len(appended) != 1 {
		t.Fatalf("expected 1 abandoned run, got %d", len(appended))
	}
	if appended[0].ID != other.ID {
		t.Error("the run that lost the terminal race must not count as abandoned")
	}
	if metrics.abandoned != 1 {
		t.Errorf("metrics abandoned = %d, want 1", metrics.abandoned)
	}
}

func TestReconciler_BatchSizeRespected(t *testing.T) {
	store := &mockStore{}
	ledger := &mockLedger{}

	now := time.Now().UTC()
	batchSize := 5

	var runs []domain.Run
	for i := 0; i < 10; i++ {
		runs = append(runs, staleRun(now, 3*time.Hour))
	}
	store.setStale(runs)

	recon := New(
		Config{
			Interval:  time.Hour,
			Threshold: 2 * time.Hour,
			BatchSize: batchSize,
		},
		store,
		ledger,
	)
	recon.clock = func() time.Time { return now }
	recon.runCycle(context.Background())

	if got := len(ledger.getAppended()); got != batchSize {
		t.Errorf("expected exactly %d abandoned runs (batch size), got %d", batchSize, got)
	}
}

func TestReconciler_RecentRunsUntouched(t *testing.T) {
	store := &mockStore{}
	ledger := &mockLedger{}

	now := time.Now().UTC()
	// Started 30 minutes ago, well within the 2h threshold.
	store.setStale([]domain.Run{staleRun(now, 30*time.Minute)})

	recon := newTestReconciler(store, ledger, now)
	recon.runCycle(context.Background())

	if got := len(ledger.getAppended()); got != 0 {
		t.Errorf("should not abandon recent runs, abandoned %d", got)
	}
}

func TestReconciler_DBErrorAbortsGracefully(t *testing.T) {
	store := &mockStore{}
	ledger := &mockLedger{}

	store.setError(errors.New("database connection failed"))

	recon := newTestReconciler(store, ledger, time.Now().UTC())

	// Should not panic
	recon.runCycle(context.Background())

	if got := len(ledger.getAppended()); got != 0 {
		t.Error("should not abandon runs when DB fails")
	}
}

func TestReconciler_ContextCancellation(t *testing.T) {
	store := &mockStore{}
	ledger := &mockLedger{}

	now := time.Now().UTC()
	var runs []domain.Run
	for i := 0; i < 100; i++ {
		runs = append(runs, staleRun(now, 3*time.Hour))
	}
	store.setStale(runs)

	recon := newTestReconciler(store, ledger, now)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	recon.runCycle(ctx)

	if got := len(ledger.getAppended()); got != 0 {
		t.Errorf("should stop on context cancellation, abandoned %d", got)
	}
}

func TestReconciler_DefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Interval != 5*time.Minute {
		t.Errorf("default interval should be 5m, got %s", cfg.Interval)
	}
	if cfg.Threshold != 2*time.Hour {
		t.Errorf("default threshold should be 2h, got %s", cfg.Threshold)
	}
	if cfg.BatchSize != 100 {
		t.Errorf("default batch size should be 100, got %d", cfg.BatchSize)
	}
}
