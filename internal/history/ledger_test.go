package history

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/erickfmfg/Supercarros-Republisher/internal/domain"
)

type mockStore struct {
	mu   sync.Mutex
	runs map[uuid.UUID]domain.Run
}

func newMockStore() *mockStore {
	return &mockStore{runs: make(map[uuid.UUID]domain.Run)}
}

func (s *mockStore) InsertRun(ctx context.Context, run domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

func (s *mockStore) CompleteRun(ctx context.Context, run domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.runs[run.ID]
	if !ok {
		return ErrNotFound
	}
	if existing.Status.Terminal() {
		return ErrAlreadyTerminal
	}
	s.runs[run.ID] = run
	return nil
}

func (s *mockStore) GetRun(ctx context.Context, id uuid.UUID) (domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return domain.Run{}, ErrNotFound
	}
	return run, nil
}

func (s *mockStore) ListRuns(ctx context.Context, f Filter) ([]domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Run
	for _, run := range s.runs {
		if f.ScheduleID != nil && (run.ScheduleID == nil || *run.ScheduleID != *f.ScheduleID) {
			continue
		}
		if f.Since != nil && run.RunAt.Before(*f.Since) {
			continue
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunAt.After(out[j].RunAt) })
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func runningRun() domain.Run {
	return domain.Run{
		ID:      uuid.New(),
		Trigger: domain.TriggerManual,
		RunAt:   time.Now().UTC(),
		Status:  domain.RunStatusRunning,
	}
}

func TestLedger_AppendOnce(t *testing.T) {
	store := newMockStore()
	ledger := New(store)
	ctx := context.Background()

	run := runningRun()
	if err := ledger.Begin(ctx, run); err != nil {
		t.Fatalf("begin: %v", err)
	}

	run.Status = domain.RunStatusSuccess
	now := time.Now().UTC()
	run.FinishedAt = &now
	if err := ledger.Append(ctx, run); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Second terminal write for the same run id must be rejected.
	run.Status = domain.RunStatusFailure
	if err := ledger.Append(ctx, run); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}

	got, err := ledger.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.RunStatusSuccess {
		t.Fatalf("terminal run mutated: %s", got.Status)
	}
}

func TestLedger_BeginRejectsTerminal(t *testing.T) {
	ledger := New(newMockStore())
	run := runningRun()
	run.Status = domain.RunStatusSuccess
	if err := ledger.Begin(context.Background(), run); err == nil {
		t.Fatal("begin must reject non-running status")
	}
}

func TestLedger_AppendRejectsRunning(t *testing.T) {
	ledger := New(newMockStore())
	if err := ledger.Append(context.Background(), runningRun()); err == nil {
		t.Fatal("append must reject non-terminal status")
	}
}

func TestLedger_QueryDefaultsLimit(t *testing.T) {
	store := newMockStore()
	ledger := New(store)
	ctx := context.Background()

	for i := 0; i < DefaultQueryLimit+10; i++ {
		run := runningRun()
		run.RunAt = run.RunAt.Add(time.Duration(i) * time.Minute)
		if err := ledger.Begin(ctx, run); err != nil {
			t.Fatalf("begin: %v", err)
		}
	}

	runs, err := ledger.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(runs) != DefaultQueryLimit {
		t.Fatalf("got %d runs, want %d", len(runs), DefaultQueryLimit)
	}
	for i := 1; i < len(runs); i++ {
		if runs[i].RunAt.After(runs[i-1].RunAt) {
			t.Fatal("runs not ordered newest first")
		}
	}
}

func TestLedger_QueryByScheduleAndSince(t *testing.T) {
	store := newMockStore()
	ledger := New(store)
	ctx := context.Background()

	schedID := uuid.New()
	old := runningRun()
	old.ScheduleID = &schedID
	old.RunAt = time.Now().UTC().Add(-48 * time.Hour)
	recent := runningRun()
	recent.ScheduleID = &schedID
	other := runningRun()

	for _, r := range []domain.Run{old, recent, other} {
		if err := ledger.Begin(ctx, r); err != nil {
			t.Fatalf("begin: %v", err)
		}
	}

	since := time.Now().UTC().Add(-time.Hour)
	runs, err := ledger.Query(ctx, Filter{ScheduleID: &schedID, Since: &since})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != recent.ID {
		t.Fatalf("filter mismatch: %+v", runs)
	}
}
