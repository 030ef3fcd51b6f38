// Package history is the append-only record of republication runs.
//
// A run row is inserted in running state when execution starts; Append is the
// single terminal write. Implementations must reject a second terminal write
// for the same run id with ErrAlreadyTerminal, which makes replays after a
// crash safe. Terminal runs are never mutated or deleted.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/erickfmfg/Supercarros-Republisher/internal/domain"
)

var (
	ErrNotFound = errors.New("run not found")
	// ErrAlreadyTerminal is returned when a terminal write would touch a run
	// that already reached a terminal status.
	ErrAlreadyTerminal = errors.New("run already in terminal state")
)

// DefaultQueryLimit bounds history queries when the caller gives no limit.
const DefaultQueryLimit = 100

// Filter narrows a history query. Nil fields match everything.
type Filter struct {
	BrandID    *uuid.UUID
	ScheduleID *uuid.UUID
	Since      *time.Time
	Limit      int
}

// Store is the persistence layer for run records.
type Store interface {
	InsertRun(ctx context.Context, run domain.Run) error
	// CompleteRun writes the terminal fields of run. Implementations MUST
	// reject runs already in a terminal state with ErrAlreadyTerminal.
	CompleteRun(ctx context.Context, run domain.Run) error
	GetRun(ctx context.Context, id uuid.UUID) (domain.Run, error)
	// ListRuns returns runs matching f, newest first.
	ListRuns(ctx context.Context, f Filter) ([]domain.Run, error)
}

type Ledger struct {
	store Store
}

func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Begin records a freshly started run in running state.
func (l *Ledger) Begin(ctx context.Context, run domain.Run) error {
	if run.Status != domain.RunStatusRunning {
		return fmt.Errorf("begin: run %s has status %s, want running", run.ID, run.Status)
	}
	return l.store.InsertRun(ctx, run)
}

// Append performs the single terminal write for run. Appending the same run
// id twice surfaces ErrAlreadyTerminal.
func (l *Ledger) Append(ctx context.Context, run domain.Run) error {
	if !run.Status.Terminal() {
		return fmt.Errorf("append: run %s has non-terminal status %s", run.ID, run.Status)
	}
	return l.store.CompleteRun(ctx, run)
}

func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (domain.Run, error) {
	return l.store.GetRun(ctx, id)
}

// Query returns run history, newest first.
func (l *Ledger) Query(ctx context.Context, f Filter) ([]domain.Run, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultQueryLimit
	}
	return l.store.ListRuns(ctx, f)
}
