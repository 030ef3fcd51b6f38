package executor

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/erickfmfg/Supercarros-Republisher/internal/domain"
)

// Progress is a point-in-time view of a run.
type Progress struct {
	RunID         uuid.UUID
	Status        domain.RunStatus
	BrandsTotal   int
	BrandsDone    int
	Percent       int
	VehiclesCount int
	StartedAt     time.Time
}

// finishedRetention keeps terminal progress entries around briefly so pollers
// observe the 100% state before falling back to the ledger.
const finishedRetention = 5 * time.Minute

type progressEntry struct {
	Progress
	finishedAt time.Time
}

// tracker holds live progress for in-flight runs.
type tracker struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*progressEntry
}

func newTracker() *tracker {
	return &tracker{runs: make(map[uuid.UUID]*progressEntry)}
}

func (t *tracker) start(runID uuid.UUID, total int, startedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs[runID] = &progressEntry{Progress: Progress{
		RunID:       runID,
		Status:      domain.RunStatusRunning,
		BrandsTotal: total,
		StartedAt:   startedAt,
	}}
}

func (t *tracker) update(runID uuid.UUID, done, vehicles int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.runs[runID]
	if !ok {
		return
	}
	e.BrandsDone = done
	e.VehiclesCount = vehicles
	if e.BrandsTotal > 0 {
		e.Percent = done * 100 / e.BrandsTotal
	}
}

func (t *tracker) finish(runID uuid.UUID, status domain.RunStatus, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.runs[runID]
	if !ok {
		return
	}
	e.Status = status
	e.Percent = 100
	e.BrandsDone = e.BrandsTotal
	e.finishedAt = now

	for id, entry := range t.runs {
		if !entry.finishedAt.IsZero() && now.Sub(entry.finishedAt) > finishedRetention {
			delete(t.runs, id)
		}
	}
}

func (t *tracker) snapshot(runID uuid.UUID) (Progress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.runs[runID]
	if !ok {
		return Progress{}, false
	}
	return e.Progress, true
}

// running reports how many tracked runs are still in flight.
func (t *tracker) running() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.runs {
		if e.Status == domain.RunStatusRunning {
			n++
		}
	}
	return n
}
