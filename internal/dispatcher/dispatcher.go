// Package dispatcher drives scheduled republication.
//
// Each tick it asks the schedule store for due schedules and hands them to
// the run executor. A schedule whose previous run is still in flight is left
// due and retried on the next tick; next_run_at only advances through an
// actually started run (MarkRun) or, after a bounded number of conflicted
// ticks, through an explicit skip. Correctness rests entirely on next_run_at
// comparisons against wall-clock now; the dispatcher itself keeps no
// load-bearing state.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/erickfmfg/Supercarros-Republisher/internal/domain"
	"github.com/erickfmfg/Supercarros-Republisher/internal/executor"
)

// Schedules is the read/advance surface the dispatcher needs.
type Schedules interface {
	// DueAsOf returns all active schedules with next_run_at <= now.
	DueAsOf(ctx context.Context, now time.Time) ([]domain.Schedule, error)
	// Skip advances next_run_at past a persistently conflicted occurrence.
	Skip(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Runner starts scheduled runs.
type Runner interface {
	Execute(ctx context.Context, target executor.Target) (executor.Handle, error)
}

// MetricsSink records dispatcher metrics. All methods must be non-blocking
// and fire-and-forget.
type MetricsSink interface {
	TickStarted()
	TickCompleted(duration time.Duration, due int, started int, err error)
	TickDrift(drift time.Duration)
	ConflictRetried()
	ConflictSkipped()
}

type Config struct {
	// TickInterval is how often due schedules are evaluated.
	TickInterval time.Duration

	// MaxConflictTicks bounds catch-up for a schedule blocked on every tick
	// by foreign runs (another schedule or a manual run holding one of its
	// brands). After this many consecutive conflicted ticks the occurrence
	// is skipped with an alert and next_run_at advances. A schedule blocked
	// by its own still-running occurrence is exempt and retries forever.
	// 0 disables skipping and retries forever.
	MaxConflictTicks int
}

type Dispatcher struct {
	config    Config
	schedules Schedules
	runner    Runner
	metrics   MetricsSink // optional, nil = disabled
	clock     func() time.Time

	// lastTick is advisory, for liveness observability only.
	lastTick time.Time

	// consecutive conflicted ticks per schedule; reset on any started run.
	conflicts map[uuid.UUID]int
}

func New(config Config, schedules Schedules, runner Runner) *Dispatcher {
	return &Dispatcher{
		config:    config,
		schedules: schedules,
		runner:    runner,
		clock:     time.Now,
		conflicts: make(map[uuid.UUID]int),
	}
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

// Run ticks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.config.TickInterval)
	defer ticker.Stop()

	log.Printf("dispatcher: started, tick=%s", d.config.TickInterval)
	d.lastTick = d.clock().UTC()

	for {
		select {
		case <-ctx.Done():
			log.Println("dispatcher: stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := d.processTick(ctx); err != nil {
				log.Printf("dispatcher: tick error: %v", err)
			}
		}
	}
}

func (d *Dispatcher) processTick(ctx context.Context) error {
	start := d.clock()
	now := start.UTC()

	if d.metrics != nil {
		d.metrics.TickStarted()
		d.metrics.TickDrift(now.Sub(d.lastTick) - d.config.TickInterval)
	}
	d.lastTick = now

	due, err := d.schedules.DueAsOf(ctx, now)

	started := 0
	if err == nil {
		dueIDs := make(map[uuid.UUID]bool, len(due))
		for _, sched := range due {
			dueIDs[sched.ID] = true
			if d.processDue(ctx, sched, now) {
				started++
			}
		}
		// A schedule that left the due set (deleted, paused, advanced)
		// carries no conflict history forward.
		for id := range d.conflicts {
			if !dueIDs[id] {
				delete(d.conflicts, id)
			}
		}
	}

	if d.metrics != nil {
		d.metrics.TickCompleted(d.clock().Sub(start), len(due), started, err)
	}
	if err != nil {
		return fmt.Errorf("due schedules: %w", err)
	}
	return nil
}

// processDue attempts one due schedule; reports whether a run was started.
func (d *Dispatcher) processDue(ctx context.Context, sched domain.Schedule, now time.Time) bool {
	schedID := sched.ID
	_, err := d.runner.Execute(ctx, executor.Target{
		BrandIDs:   sched.BrandIDs,
		Trigger:    domain.TriggerScheduled,
		ScheduleID: &schedID,
	})

	switch {
	case err == nil:
		delete(d.conflicts, schedID)
		log.Printf("dispatcher: started run for schedule=%s (%s)", schedID, sched.Name)
		return true

	case errors.Is(err, executor.ErrConflict):
		if errors.Is(err, executor.ErrOwnRunActive) {
			// The schedule's own previous run is still going. Normal for runs
			// longer than the tick interval; never counts toward the skip
			// threshold, or a long run would get its next occurrence skipped
			// and then overwritten by its own MarkRun.
			log.Printf("dispatcher: schedule=%s previous run still active, retrying next tick", schedID)
			if d.metrics != nil {
				d.metrics.ConflictRetried()
			}
			return false
		}

		d.conflicts[schedID]++
		n := d.conflicts[schedID]

		if d.config.MaxConflictTicks > 0 && n >= d.config.MaxConflictTicks {
			// Bounded catch-up exhausted: skip this occurrence so one stuck
			// run cannot pin the schedule forever.
			log.Printf("dispatcher: ALERT schedule=%s conflicted for %d ticks, skipping occurrence", schedID, n)
			if skipErr := d.schedules.Skip(ctx, schedID, now); skipErr != nil {
				log.Printf("dispatcher: schedule=%s skip failed: %v", schedID, skipErr)
				return false
			}
			delete(d.conflicts, schedID)
			if d.metrics != nil {
				d.metrics.ConflictSkipped()
			}
			return false
		}

		// Left due; retried on the next tick.
		log.Printf("dispatcher: schedule=%s still running, retrying next tick (%d)", schedID, n)
		if d.metrics != nil {
			d.metrics.ConflictRetried()
		}
		return false

	default:
		log.Printf("dispatcher: schedule=%s execute error: %v", schedID, err)
		return false
	}
}
