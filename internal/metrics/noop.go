package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TickStarted()                                                        {}
func (n *NoopSink) TickCompleted(duration time.Duration, due int, started int, e error) {}
func (n *NoopSink) TickDrift(drift time.Duration)                                       {}
func (n *NoopSink) ConflictRetried()                                                    {}
func (n *NoopSink) ConflictSkipped()                                                    {}
func (n *NoopSink) RunStarted(trigger string)                                           {}
func (n *NoopSink) RunCompleted(outcome string, duration time.Duration)                 {}
func (n *NoopSink) BrandRepublishCompleted(statusClass string, d time.Duration)         {}
func (n *NoopSink) RunsInFlightIncr()                                                   {}
func (n *NoopSink) RunsInFlightDecr()                                                   {}
func (n *NoopSink) ConflictRejected(trigger string)                                     {}
func (n *NoopSink) BufferSizeUpdate(size int)                                           {}
func (n *NoopSink) EmitError()                                                          {}
func (n *NoopSink) StaleRunsAbandoned(count int)                                        {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                                   {}
func (n *NoopSink) LeaderAcquired()                                                     {}
func (n *NoopSink) LeaderLost(reason string)                                            {}

// Compile-time interface check
var _ Sink = (*NoopSink)(nil)
