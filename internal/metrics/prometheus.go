package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/logging"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	logger *zap.Logger

	// Scheduler metrics
	ticksTotal        prometheus.Counter
	firesTotal        prometheus.Counter
	firesSkippedTotal *prometheus.CounterVec
	tickDuration      prometheus.Histogram
	tickDrift         prometheus.Histogram

	// Executor metrics
	executionsTotal    *prometheus.CounterVec
	executionDuration  prometheus.Histogram
	timeoutsTotal      prometheus.Counter
	circuitRejected    prometheus.Counter
	executionsInFlight prometheus.Gauge

	// Result bus metrics
	bufferSize      prometheus.Gauge
	bufferCapacity  prometheus.Gauge
	emitErrorsTotal prometheus.Counter

	// Registry metrics
	triggersRegistered prometheus.Gauge
	reconcileChanges   *prometheus.CounterVec
	reconcileErrors    prometheus.Counter
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// Metrics that fail to register are logged and still usable.
func NewPrometheusSink(reg prometheus.Registerer, logger *zap.Logger) *PrometheusSink {
	s := &PrometheusSink{logger: logging.OrNop(logger).Named("metrics")}
	s.initSchedulerMetrics(reg)
	s.initExecutorMetrics(reg)
	s.initBusMetrics(reg)
	s.initRegistryMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipecron_scheduler_ticks_total",
		Help: "Total number of scheduler ticks processed.",
	})
	s.firesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipecron_scheduler_fires_total",
		Help: "Total number of trigger fires dispatched.",
	})
	s.firesSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipecron_scheduler_fires_deferred_total",
		Help: "Due fires that could not be dispatched on their tick.",
	}, []string{"reason"})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipecron_scheduler_tick_duration_seconds",
		Help:    "Duration of each scheduler tick in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})
	s.tickDrift = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipecron_scheduler_tick_drift_seconds",
		Help:    "Difference between actual tick time and expected interval in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	s.register(reg, s.ticksTotal, "pipecron_scheduler_ticks_total")
	s.register(reg, s.firesTotal, "pipecron_scheduler_fires_total")
	s.register(reg, s.firesSkippedTotal, "pipecron_scheduler_fires_deferred_total")
	s.register(reg, s.tickDuration, "pipecron_scheduler_tick_duration_seconds")
	s.register(reg, s.tickDrift, "pipecron_scheduler_tick_drift_seconds")
}

func (s *PrometheusSink) initExecutorMetrics(reg prometheus.Registerer) {
	s.executionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipecron_executor_executions_total",
		Help: "Total number of pipeline-run executions by outcome.",
	}, []string{"status"})
	s.executionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipecron_executor_execution_duration_seconds",
		Help:    "Pipeline-run call latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	s.timeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipecron_executor_timeouts_total",
		Help: "Pipeline-run calls that exceeded the execution timeout.",
	})
	s.circuitRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipecron_executor_circuit_rejected_total",
		Help: "Fires rejected because the pipeline's circuit was open.",
	})
	s.executionsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pipecron_executor_executions_in_flight",
		Help: "Number of pipeline-run calls currently in flight.",
	})

	s.register(reg, s.executionsTotal, "pipecron_executor_executions_total")
	s.register(reg, s.executionDuration, "pipecron_executor_execution_duration_seconds")
	s.register(reg, s.timeoutsTotal, "pipecron_executor_timeouts_total")
	s.register(reg, s.circuitRejected, "pipecron_executor_circuit_rejected_total")
	s.register(reg, s.executionsInFlight, "pipecron_executor_executions_in_flight")
}

func (s *PrometheusSink) initBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pipecron_resultbus_buffer_size",
		Help: "Current number of results in the result bus buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pipecron_resultbus_buffer_capacity",
		Help: "Capacity of the result bus buffer.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipecron_resultbus_emit_errors_total",
		Help: "Total number of results dropped because the buffer was full.",
	})

	s.register(reg, s.bufferSize, "pipecron_resultbus_buffer_size")
	s.register(reg, s.bufferCapacity, "pipecron_resultbus_buffer_capacity")
	s.register(reg, s.emitErrorsTotal, "pipecron_resultbus_emit_errors_total")
}

func (s *PrometheusSink) initRegistryMetrics(reg prometheus.Registerer) {
	s.triggersRegistered = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pipecron_registry_triggers",
		Help: "Number of registered triggers.",
	})
	s.reconcileChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipecron_reconciler_changes_total",
		Help: "Registry changes applied by the reconciler.",
	}, []string{"action"})
	s.reconcileErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipecron_reconciler_errors_total",
		Help: "Reconcile passes that failed to load their source.",
	})

	s.register(reg, s.triggersRegistered, "pipecron_registry_triggers")
	s.register(reg, s.reconcileChanges, "pipecron_reconciler_changes_total")
	s.register(reg, s.reconcileErrors, "pipecron_reconciler_errors_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.logger.Warn("failed to register collector", zap.String("name", name), zap.Error(err))
	}
}

// Scheduler metrics implementation

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, fired int) {
	s.tickDuration.Observe(duration.Seconds())
	s.firesTotal.Add(float64(fired))
}

func (s *PrometheusSink) TickDrift(drift time.Duration) {
	// Record absolute drift value
	d := drift.Seconds()
	if d < 0 {
		d = -d
	}
	s.tickDrift.Observe(d)
}

func (s *PrometheusSink) FireSkipped(reason string) {
	s.firesSkippedTotal.WithLabelValues(reason).Inc()
}

// Executor metrics implementation

func (s *PrometheusSink) ExecutionCompleted(status string, duration time.Duration) {
	s.executionsTotal.WithLabelValues(status).Inc()
	s.executionDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) ExecutionTimedOut() {
	s.timeoutsTotal.Inc()
}

func (s *PrometheusSink) CircuitRejected() {
	s.circuitRejected.Inc()
}

func (s *PrometheusSink) ExecutionsInFlightIncr() {
	s.executionsInFlight.Inc()
}

func (s *PrometheusSink) ExecutionsInFlightDecr() {
	s.executionsInFlight.Dec()
}

// Result bus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

// Registry metrics implementation

func (s *PrometheusSink) TriggersRegistered(count int) {
	s.triggersRegistered.Set(float64(count))
}

func (s *PrometheusSink) ReconcileCompleted(registered, rescheduled, removed int, err error) {
	s.reconcileChanges.WithLabelValues("registered").Add(float64(registered))
	s.reconcileChanges.WithLabelValues("rescheduled").Add(float64(rescheduled))
	s.reconcileChanges.WithLabelValues("removed").Add(float64(removed))
	if err != nil {
		s.reconcileErrors.Inc()
	}
}
