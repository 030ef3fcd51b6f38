package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Dispatcher metrics
	ticksTotal           prometheus.Counter
	tickErrorsTotal      prometheus.Counter
	dueSchedulesTotal    prometheus.Counter
	runsStartedByTick    prometheus.Counter
	tickDuration         prometheus.Histogram
	tickDrift            prometheus.Histogram
	conflictRetriesTotal prometheus.Counter
	conflictSkipsTotal   prometheus.Counter

	// Run executor metrics
	runsStartedTotal   *prometheus.CounterVec
	runOutcomesTotal   *prometheus.CounterVec
	runDuration        prometheus.Histogram
	brandAttemptsTotal *prometheus.CounterVec
	brandDuration      prometheus.Histogram
	runsInFlight       prometheus.Gauge
	conflictsTotal     *prometheus.CounterVec

	// Event bus metrics
	bufferSize      prometheus.Gauge
	emitErrorsTotal prometheus.Counter

	// Reconciler metrics
	abandonedRunsTotal prometheus.Counter

	// Leader election metrics
	leaderStatus        prometheus.Gauge
	leaderAcquiredTotal prometheus.Counter
	leaderLostTotal     *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initDispatcherMetrics(reg)
	s.initExecutorMetrics(reg)
	s.initBusMetrics(reg)
	s.initReconcilerMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initDispatcherMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "republisher_dispatcher_ticks_total",
		Help: "Total number of dispatcher ticks processed.",
	})
	s.tickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "republisher_dispatcher_tick_errors_total",
		Help: "Total number of dispatcher tick errors.",
	})
	s.dueSchedulesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "republisher_dispatcher_due_schedules_total",
		Help: "Total number of due schedules observed across ticks.",
	})
	s.runsStartedByTick = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "republisher_dispatcher_runs_started_total",
		Help: "Total number of runs started by the dispatcher.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "republisher_dispatcher_tick_duration_seconds",
		Help:    "Duration of each dispatcher tick in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
	s.tickDrift = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "republisher_dispatcher_tick_drift_seconds",
		Help:    "Difference between actual tick time and expected interval in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})
	s.conflictRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "republisher_dispatcher_conflict_retries_total",
		Help: "Total number of due schedules deferred to the next tick because of an exclusion conflict.",
	})
	s.conflictSkipsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "republisher_dispatcher_conflict_skips_total",
		Help: "Total number of scheduled occurrences skipped after exhausting conflict retries.",
	})

	s.register(reg, s.ticksTotal, "republisher_dispatcher_ticks_total")
	s.register(reg, s.tickErrorsTotal, "republisher_dispatcher_tick_errors_total")
	s.register(reg, s.dueSchedulesTotal, "republisher_dispatcher_due_schedules_total")
	s.register(reg, s.runsStartedByTick, "republisher_dispatcher_runs_started_total")
	s.register(reg, s.tickDuration, "republisher_dispatcher_tick_duration_seconds")
	s.register(reg, s.tickDrift, "republisher_dispatcher_tick_drift_seconds")
	s.register(reg, s.conflictRetriesTotal, "republisher_dispatcher_conflict_retries_total")
	s.register(reg, s.conflictSkipsTotal, "republisher_dispatcher_conflict_skips_total")
}

func (s *PrometheusSink) initExecutorMetrics(reg prometheus.Registerer) {
	s.runsStartedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "republisher_runs_started_total",
		Help: "Total number of republication runs started.",
	}, []string{"trigger"})

	s.runOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "republisher_run_outcomes_total",
		Help: "Total number of terminal run outcomes.",
	}, []string{"outcome"})

	s.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "republisher_run_duration_seconds",
		Help:    "Duration of whole republication runs in seconds.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})

	s.brandAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "republisher_brand_attempts_total",
		Help: "Total number of per-brand republish attempts.",
	}, []string{"status_class"})

	s.brandDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "republisher_brand_duration_seconds",
		Help:    "Per-brand republish latency in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	s.runsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "republisher_runs_in_flight",
		Help: "Number of republication runs currently executing.",
	})

	s.conflictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "republisher_run_conflicts_total",
		Help: "Total number of run requests rejected by exclusion slots.",
	}, []string{"trigger"})

	s.register(reg, s.runsStartedTotal, "republisher_runs_started_total")
	s.register(reg, s.runOutcomesTotal, "republisher_run_outcomes_total")
	s.register(reg, s.runDuration, "republisher_run_duration_seconds")
	s.register(reg, s.brandAttemptsTotal, "republisher_brand_attempts_total")
	s.register(reg, s.brandDuration, "republisher_brand_duration_seconds")
	s.register(reg, s.runsInFlight, "republisher_runs_in_flight")
	s.register(reg, s.conflictsTotal, "republisher_run_conflicts_total")
}

func (s *PrometheusSink) initBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "republisher_eventbus_buffer_size",
		Help: "Current number of run events in the event bus buffer.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "republisher_eventbus_emit_errors_total",
		Help: "Total number of emit errors (buffer full).",
	})

	s.register(reg, s.bufferSize, "republisher_eventbus_buffer_size")
	s.register(reg, s.emitErrorsTotal, "republisher_eventbus_emit_errors_total")
}

func (s *PrometheusSink) initReconcilerMetrics(reg prometheus.Registerer) {
	s.abandonedRunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "republisher_reconciler_abandoned_runs_total",
		Help: "Total number of stale running runs closed as failures by the reconciler.",
	})

	s.register(reg, s.abandonedRunsTotal, "republisher_reconciler_abandoned_runs_total")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "republisher_leader_status",
		Help: "1 if this instance currently holds leadership, 0 otherwise.",
	})
	s.leaderAcquiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "republisher_leader_acquired_total",
		Help: "Total number of times this instance acquired leadership.",
	})
	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "republisher_leader_lost_total",
		Help: "Total number of times this instance lost leadership.",
	}, []string{"reason"})

	s.register(reg, s.leaderStatus, "republisher_leader_status")
	s.register(reg, s.leaderAcquiredTotal, "republisher_leader_acquired_total")
	s.register(reg, s.leaderLostTotal, "republisher_leader_lost_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Dispatcher metrics implementation

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, due int, started int, err error) {
	s.tickDuration.Observe(duration.Seconds())
	s.dueSchedulesTotal.Add(float64(due))
	s.runsStartedByTick.Add(float64(started))
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) TickDrift(drift time.Duration) {
	d := drift.Seconds()
	if d < 0 {
		d = -d
	}
	s.tickDrift.Observe(d)
}

func (s *PrometheusSink) ConflictRetried() {
	s.conflictRetriesTotal.Inc()
}

func (s *PrometheusSink) ConflictSkipped() {
	s.conflictSkipsTotal.Inc()
}

// Run executor metrics implementation

func (s *PrometheusSink) RunStarted(trigger string) {
	s.runsStartedTotal.WithLabelValues(trigger).Inc()
}

func (s *PrometheusSink) RunCompleted(outcome string, duration time.Duration) {
	s.runOutcomesTotal.WithLabelValues(outcome).Inc()
	s.runDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) BrandRepublishCompleted(statusClass string, duration time.Duration) {
	s.brandAttemptsTotal.WithLabelValues(statusClass).Inc()
	s.brandDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) RunsInFlightIncr() {
	s.runsInFlight.Inc()
}

func (s *PrometheusSink) RunsInFlightDecr() {
	s.runsInFlight.Dec()
}

func (s *PrometheusSink) ConflictRejected(trigger string) {
	s.conflictsTotal.WithLabelValues(trigger).Inc()
}

// Event bus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

// Reconciler metrics implementation

func (s *PrometheusSink) StaleRunsAbandoned(count int) {
	s.abandonedRunsTotal.Add(float64(count))
}

// Leader election metrics implementation

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.leaderStatus.Set(1)
	} else {
		s.leaderStatus.Set(0)
	}
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquiredTotal.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}

// Compile-time interface check
var _ Sink = (*PrometheusSink)(nil)
