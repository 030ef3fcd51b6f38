package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Dispatcher metrics
	TickStarted()
	TickCompleted(duration time.Duration, due int, started int, err error)
	TickDrift(drift time.Duration)
	ConflictRetried()
	ConflictSkipped()

	// Run executor metrics
	RunStarted(trigger string)
	RunCompleted(outcome string, duration time.Duration)
	BrandRepublishCompleted(statusClass string, duration time.Duration)
	RunsInFlightIncr()
	RunsInFlightDecr()
	ConflictRejected(trigger string)

	// Event bus metrics
	BufferSizeUpdate(size int)
	EmitError()

	// Reconciler metrics
	StaleRunsAbandoned(count int)

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Trigger label values.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// Outcome label values for RunCompleted. These mirror the terminal run
// statuses stored in the history ledger.
const (
	OutcomeSuccess        = "success"
	OutcomePartialFailure = "partial_failure"
	OutcomeFailure        = "failure"
)
