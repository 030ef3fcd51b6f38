// Package reconciler closes out runs stranded in running state.
//
// A run row stays running forever if the process died mid-run, since the
// terminal write never happened. The reconciler periodically scans for
// running rows older than a threshold and appends a failure outcome to them.
// The ledger's terminal guard makes this safe to race: if the run actually
// finished somewhere, the append is rejected and skipped.
package reconciler

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/erickfmfg/Supercarros-Republisher/internal/domain"
	"github.com/erickfmfg/Supercarros-Republisher/internal/history"
)

// AbandonReason is recorded on runs the reconciler closes.
const AbandonReason = "abandoned: no terminal status recorded, instance presumed dead"

// Store lists candidate stale runs.
type Store interface {
	ListStaleRunning(ctx context.Context, olderThan time.Time, limit int) ([]domain.Run, error)
}

// Ledger performs the terminal write. Satisfied by *history.Ledger.
type Ledger interface {
	Append(ctx context.Context, run domain.Run) error
}

// MetricsSink records reconciler activity. Must not block.
type MetricsSink interface {
	StaleRunsAbandoned(count int)
}

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often the reconciler runs.
	// Default: 5 minutes.
	Interval time.Duration

	// Threshold is the age after which a running run is considered stale.
	// Must comfortably exceed the longest legitimate run.
	// Default: 2 hours.
	Threshold time.Duration

	// BatchSize is the maximum number of stale runs to process per cycle.
	// Default: 100.
	BatchSize int
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Threshold: 2 * time.Hour,
		BatchSize: 100,
	}
}

// Reconciler detects stale running runs and closes them as failures.
type Reconciler struct {
	config  Config
	store   Store
	ledger  Ledger
	metrics MetricsSink
	// active reports whether a run is currently executing in this process.
	// Such runs are skipped regardless of age.
	active func(uuid.UUID) bool
	clock  func() time.Time
}

// New creates a new Reconciler.
func New(config Config, store Store, ledger Ledger) *Reconciler {
	return &Reconciler{
		config: config,
		store:  store,
		ledger: ledger,
		clock:  time.Now,
	}
}

// WithMetrics attaches a metrics sink.
func (r *Reconciler) WithMetrics(m MetricsSink) *Reconciler {
	r.metrics = m
	return r
}

// WithActiveCheck attaches a predicate for runs executing in this process.
func (r *Reconciler) WithActiveCheck(active func(uuid.UUID) bool) *Reconciler {
	r.active = active
	return r
}

// Run starts the reconciliation loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	log.Printf("reconciler: started (interval=%s, threshold=%s, batch=%d)",
		r.config.Interval, r.config.Threshold, r.config.BatchSize)

	// Run immediately on startup, then on ticker
	r.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("reconciler: stopped")
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

// runCycle executes one reconciliation cycle.
func (r *Reconciler) runCycle(ctx context.Context) {
	now := r.clock().UTC()
	threshold := now.Add(-r.config.Threshold)

	stale, err := r.store.ListStaleRunning(ctx, threshold, r.config.BatchSize)
	if err != nil {
		// DB error: log and abort cycle. Will retry next interval.
		log.Printf("reconciler: failed to list stale runs: %v", err)
		return
	}

	if len(stale) == 0 {
		return
	}

	log.Printf("reconciler: found %d stale running runs", len(stale))

	abandoned := 0
	skipped := 0

	for _, run := range stale {
		if ctx.Err() != nil {
			log.Printf("reconciler: cycle interrupted, processed %d/%d stale runs", abandoned+skipped, len(stale))
			break
		}

		if r.active != nil && r.active(run.ID) {
			skipped++
			continue
		}

		finishedAt := now
		run.Status = domain.RunStatusFailure
		run.Error = AbandonReason
		run.FinishedAt = &finishedAt

		if err := r.ledger.Append(ctx, run); err != nil {
			if errors.Is(err, history.ErrAlreadyTerminal) {
				// Lost the race to a real completion.
				skipped++
				continue
			}
			log.Printf("reconciler: failed to abandon run=%s: %v", run.ID, err)
			continue
		}

		log.Printf("reconciler: abandoned run=%s started_at=%s (age=%s)",
			run.ID, run.RunAt.Format(time.RFC3339), now.Sub(run.RunAt).Round(time.Second))
		abandoned++
	}

	if r.metrics != nil && abandoned > 0 {
		r.metrics.StaleRunsAbandoned(abandoned)
	}
	log.Printf("reconciler: cycle complete, abandoned=%d, skipped=%d", abandoned, skipped)
}
