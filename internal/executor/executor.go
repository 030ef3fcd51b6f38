// Package executor runs republish jobs to completion.
//
// It owns the mutual-exclusion rule: at most one concurrent run per schedule,
// at most one full-catalog run globally, and no two concurrent runs touching
// the same brand. Overlapping requests fail fast with ErrConflict instead of
// queuing; no run record is created for a rejected request.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/erickfmfg/Supercarros-Republisher/internal/domain"
	"github.com/erickfmfg/Supercarros-Republisher/internal/history"
)

var (
	// ErrConflict is returned when an overlapping run is already in flight.
	// The caller (dispatcher or manual trigger) retries later.
	ErrConflict = errors.New("overlapping run in progress")
	// ErrOwnRunActive identifies the blocking run as the target schedule's own
	// previous occurrence. It matches ErrConflict; the dispatcher treats it as
	// a plain retry that never counts toward the skip threshold.
	ErrOwnRunActive = fmt.Errorf("%w for the same schedule", ErrConflict)
	// ErrUnknownBrand is returned when an explicit target references a brand
	// id the directory does not know.
	ErrUnknownBrand = errors.New("unknown brand id")
	// ErrShuttingDown is returned for runs requested after shutdown began.
	ErrShuttingDown = errors.New("executor shutting down")
)

// BrandDirectory resolves brand targets at execution time, so newly added
// active brands are automatically included in future all-brands runs.
type BrandDirectory interface {
	ListActiveBrands(ctx context.Context) ([]domain.Brand, error)
	// GetBrands returns the brands for ids, preserving the given order.
	GetBrands(ctx context.Context, ids []uuid.UUID) ([]domain.Brand, error)
}

// Republisher is the opaque, potentially slow, potentially failing external
// action this core orchestrates.
type Republisher interface {
	Republish(ctx context.Context, brand domain.Brand) (vehiclesCount int, err error)
}

// ScheduleMarker advances a schedule after a completed run attempt.
type ScheduleMarker interface {
	MarkRun(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Breaker skips brands whose republish action keeps failing.
type Breaker interface {
	Allow(brandID uuid.UUID) error
	RecordSuccess(brandID uuid.UUID)
	RecordFailure(brandID uuid.UUID)
}

// EventEmitter publishes run lifecycle events. Emit must not block for long;
// a full buffer is the emitter's problem, not the run's.
type EventEmitter interface {
	Emit(ctx context.Context, event domain.RunEvent) error
}

// MetricsSink records executor metrics. All methods must be non-blocking and
// fire-and-forget.
type MetricsSink interface {
	RunStarted(trigger string)
	RunCompleted(outcome string, duration time.Duration)
	BrandRepublishCompleted(statusClass string, duration time.Duration)
	RunsInFlightIncr()
	RunsInFlightDecr()
	ConflictRejected(trigger string)
}

// Status classes for BrandRepublishCompleted. Bounded cardinality.
const (
	StatusClassOK          = "ok"
	StatusClassTimeout     = "timeout"
	StatusClassCircuitOpen = "circuit_open"
	StatusClassCancelled   = "cancelled"
	StatusClassError       = "error"
)

// Target describes what a run should republish.
type Target struct {
	// AllBrands targets the full active catalog, resolved at execution time.
	AllBrands bool
	// BrandIDs is the explicit target set; ignored when AllBrands is set.
	BrandIDs []uuid.UUID

	Trigger    domain.Trigger
	ScheduleID *uuid.UUID
}

// Handle refers to a started run.
type Handle struct {
	RunID uuid.UUID
	// Done is closed when the run reaches a terminal state.
	Done <-chan struct{}
}

type Config struct {
	// BrandTimeout aborts a single brand's republish attempt; the batch
	// continues. Default 5 minutes.
	BrandTimeout time.Duration
	// ManualRunLimit caps concurrent manual runs. 0 disables the cap.
	ManualRunLimit int
}

type Executor struct {
	config      Config
	directory   BrandDirectory
	republisher Republisher
	ledger      *history.Ledger
	marker      ScheduleMarker

	breaker Breaker      // optional, nil = disabled
	emitter EventEmitter // optional, nil = disabled
	metrics MetricsSink  // optional, nil = disabled

	slots   *slotSet
	tracker *tracker
	clock   func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(config Config, directory BrandDirectory, republisher Republisher, ledger *history.Ledger, marker ScheduleMarker) *Executor {
	if config.BrandTimeout <= 0 {
		config.BrandTimeout = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		config:      config,
		directory:   directory,
		republisher: republisher,
		ledger:      ledger,
		marker:      marker,
		slots:       newSlotSet(config.ManualRunLimit),
		tracker:     newTracker(),
		clock:       time.Now,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// WithBreaker attaches a per-brand circuit breaker.
func (e *Executor) WithBreaker(b Breaker) *Executor {
	e.breaker = b
	return e
}

// WithEmitter attaches a run-event emitter.
func (e *Executor) WithEmitter(em EventEmitter) *Executor {
	e.emitter = em
	return e
}

// WithMetrics attaches a metrics sink.
func (e *Executor) WithMetrics(sink MetricsSink) *Executor {
	e.metrics = sink
	return e
}

// Execute starts a republish run for target. It resolves brands, claims the
// exclusion slots and returns once the run record exists; the per-brand work
// proceeds in the background. Conflict, unknown-brand and shutdown errors
// surface synchronously and leave no run record.
func (e *Executor) Execute(ctx context.Context, target Target) (Handle, error) {
	if e.ctx.Err() != nil {
		return Handle{}, ErrShuttingDown
	}

	brands, err := e.resolve(ctx, target)
	if err != nil {
		return Handle{}, err
	}

	runID := uuid.New()
	keys := slotKeys(target, brands)
	manual := target.Trigger == domain.TriggerManual

	if err := e.slots.acquire(runID, keys, manual); err != nil {
		if e.metrics != nil {
			e.metrics.ConflictRejected(string(target.Trigger))
		}
		return Handle{}, err
	}

	now := e.clock().UTC()
	run := domain.Run{
		ID:         runID,
		ScheduleID: target.ScheduleID,
		Trigger:    target.Trigger,
		AllBrands:  target.AllBrands,
		BrandIDs:   brandIDs(brands),
		RunAt:      now,
		Status:     domain.RunStatusRunning,
	}

	if err := e.ledger.Begin(ctx, run); err != nil {
		e.slots.release(runID, keys, manual)
		return Handle{}, fmt.Errorf("record run start: %w", err)
	}

	e.tracker.start(runID, len(brands), now)
	if e.metrics != nil {
		e.metrics.RunStarted(string(target.Trigger))
		e.metrics.RunsInFlightIncr()
	}

	done := make(chan struct{})
	e.wg.Add(1)
	go func() {
		defer func() {
			e.slots.release(runID, keys, manual)
			if e.metrics != nil {
				e.metrics.RunsInFlightDecr()
			}
			close(done)
			e.wg.Done()
		}()
		e.run(run, brands)
	}()

	return Handle{RunID: runID, Done: done}, nil
}

// Progress returns the live progress of an in-flight (or recently finished)
// run.
func (e *Executor) Progress(runID uuid.UUID) (Progress, bool) {
	return e.tracker.snapshot(runID)
}

// Shutdown cancels in-flight brand work and waits up to timeout for run
// goroutines to finish their terminal writes. Affected runs end as failure
// with the abandonment reason recorded; none is left permanently running.
func (e *Executor) Shutdown(timeout time.Duration) {
	e.cancel()

	finished := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(timeout):
		log.Printf("executor: shutdown timeout with %d runs still finalizing", e.tracker.running())
	}
}

func (e *Executor) resolve(ctx context.Context, target Target) ([]domain.Brand, error) {
	if target.AllBrands {
		brands, err := e.directory.ListActiveBrands(ctx)
		if err != nil {
			return nil, fmt.Errorf("list active brands: %w", err)
		}
		return brands, nil
	}

	ids := dedupe(target.BrandIDs)
	brands, err := e.directory.GetBrands(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get brands: %w", err)
	}
	if len(brands) != len(ids) {
		return nil, ErrUnknownBrand
	}
	return brands, nil
}

// run processes the brand set sequentially. Sequential processing bounds load
// on the rate-sensitive downstream republish action.
func (e *Executor) run(run domain.Run, brands []domain.Brand) {
	start := e.clock()

	results := make([]domain.BrandResult, 0, len(brands))
	vehicles := 0
	failed := 0
	aborted := false

	for i, brand := range brands {
		result := domain.BrandResult{BrandID: brand.ID, BrandName: brand.Name}

		switch {
		case e.ctx.Err() != nil:
			aborted = true
			result.Error = "aborted: process shutting down"
			failed++
		case e.breakerDenied(brand.ID):
			result.Error = "skipped: republish action circuit open"
			failed++
			e.observeBrand(StatusClassCircuitOpen, 0)
		default:
			count, dur, err := e.republishOne(brand)
			if err != nil {
				result.Error = err.Error()
				failed++
				if e.breaker != nil {
					e.breaker.RecordFailure(brand.ID)
				}
				e.observeBrand(classifyBrandError(err), dur)
				log.Printf("executor: run=%s brand=%s failed: %v", run.ID, brand.Name, err)
			} else {
				result.VehiclesCount = count
				vehicles += count
				if e.breaker != nil {
					e.breaker.RecordSuccess(brand.ID)
				}
				e.observeBrand(StatusClassOK, dur)
			}
		}

		results = append(results, result)
		e.tracker.update(run.ID, i+1, vehicles)
		e.emitProgress(run, i+1, len(brands), vehicles)
	}

	finished := e.clock().UTC()
	run.FinishedAt = &finished
	run.VehiclesCount = vehicles
	run.Brands = results

	switch {
	case aborted:
		run.Status = domain.RunStatusFailure
		run.Error = "aborted: process shutting down"
	case len(brands) == 0:
		run.Status = domain.RunStatusFailure
		run.Error = "resolved brand set is empty"
	case failed == 0:
		run.Status = domain.RunStatusSuccess
	default:
		run.Status = domain.RunStatusPartialFailure
	}

	// Terminal writes use a fresh context: the executor context may already
	// be cancelled during shutdown, and a run must never stay running.
	finalCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := e.ledger.Append(finalCtx, run); err != nil {
		if errors.Is(err, history.ErrAlreadyTerminal) {
			log.Printf("executor: run=%s already terminal, skipping append", run.ID)
		} else {
			log.Printf("executor: run=%s failed to append: %v", run.ID, err)
		}
	}

	if run.ScheduleID != nil {
		if err := e.marker.MarkRun(finalCtx, *run.ScheduleID, run.RunAt); err != nil {
			log.Printf("executor: run=%s failed to mark schedule %s: %v", run.ID, run.ScheduleID, err)
		}
	}

	e.tracker.finish(run.ID, run.Status, finished)
	e.emitCompleted(run, len(brands))
	if e.metrics != nil {
		e.metrics.RunCompleted(string(run.Status), finished.Sub(start.UTC()))
	}

	log.Printf("executor: run=%s finished status=%s brands=%d vehicles=%d duration=%s",
		run.ID, run.Status, len(brands), vehicles, finished.Sub(start.UTC()).Round(time.Millisecond))
}

func (e *Executor) republishOne(brand domain.Brand) (int, time.Duration, error) {
	ctx, cancel := context.WithTimeout(e.ctx, e.config.BrandTimeout)
	defer cancel()

	t0 := e.clock()
	count, err := e.republisher.Republish(ctx, brand)
	return count, e.clock().Sub(t0), err
}

func (e *Executor) breakerDenied(brandID uuid.UUID) bool {
	if e.breaker == nil {
		return false
	}
	return e.breaker.Allow(brandID) != nil
}

func (e *Executor) observeBrand(statusClass string, d time.Duration) {
	if e.metrics != nil {
		e.metrics.BrandRepublishCompleted(statusClass, d)
	}
}

func (e *Executor) emitProgress(run domain.Run, done, total, vehicles int) {
	if e.emitter == nil {
		return
	}
	percent := 0
	if total > 0 {
		percent = done * 100 / total
	}
	event := domain.RunEvent{
		Type:          domain.RunEventProgress,
		RunID:         run.ID,
		ScheduleID:    run.ScheduleID,
		Trigger:       run.Trigger,
		BrandsDone:    done,
		BrandsTotal:   total,
		Percent:       percent,
		VehiclesCount: vehicles,
		At:            e.clock().UTC(),
	}
	if err := e.emitter.Emit(context.Background(), event); err != nil {
		log.Printf("executor: run=%s progress emit failed: %v", run.ID, err)
	}
}

func (e *Executor) emitCompleted(run domain.Run, total int) {
	if e.emitter == nil {
		return
	}
	event := domain.RunEvent{
		Type:          domain.RunEventCompleted,
		RunID:         run.ID,
		ScheduleID:    run.ScheduleID,
		Trigger:       run.Trigger,
		BrandsDone:    total,
		BrandsTotal:   total,
		Percent:       100,
		VehiclesCount: run.VehiclesCount,
		Status:        run.Status,
		Brands:        run.Brands,
		At:            e.clock().UTC(),
	}
	if err := e.emitter.Emit(context.Background(), event); err != nil {
		log.Printf("executor: run=%s completed emit failed: %v", run.ID, err)
	}
}

// slotKeys returns every exclusion key a run must hold: the schedule slot,
// one slot per brand, and the global all-brands slot for full-catalog runs.
func slotKeys(target Target, brands []domain.Brand) []string {
	var keys []string
	if target.ScheduleID != nil {
		keys = append(keys, scheduleSlot(*target.ScheduleID))
	}
	if target.AllBrands {
		keys = append(keys, allBrandsSlot)
	}
	for _, b := range brands {
		keys = append(keys, brandSlot(b.ID))
	}
	return keys
}

func classifyBrandError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return StatusClassTimeout
	case errors.Is(err, context.Canceled):
		return StatusClassCancelled
	default:
		return StatusClassError
	}
}

func brandIDs(brands []domain.Brand) []uuid.UUID {
	ids := make([]uuid.UUID, len(brands))
	for i, b := range brands {
		ids[i] = b.ID
	}
	return ids
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
