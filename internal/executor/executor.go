package executor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/domain"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/logging"
)

const (
	DefaultTimeout          = 30 * time.Second
	DefaultAnalyticsTimeout = 2 * time.Second
)

// PipelineRunner starts one run of a pipeline. Retry policy, if any, lives
// behind this interface.
type PipelineRunner interface {
	RunPipeline(ctx context.Context, projectID, pipelineID string) error
}

type CircuitBreaker interface {
	Allow(key string) error
	RecordSuccess(key string)
	RecordFailure(key string)
}

// AnalyticsSink records fires as a best-effort side effect.
type AnalyticsSink interface {
	Record(ctx context.Context, event domain.FireEvent)
}

// MetricsSink must not block.
type MetricsSink interface {
	ExecutionCompleted(status string, duration time.Duration)
	ExecutionTimedOut()
	CircuitRejected()
	ExecutionsInFlightIncr()
	ExecutionsInFlightDecr()
}

type Config struct {
	Timeout time.Duration
	// AnalyticsTimeout bounds the analytics write that precedes each run.
	AnalyticsTimeout time.Duration
}

type Executor struct {
	runner    PipelineRunner
	config    Config
	breaker   CircuitBreaker // optional, nil = disabled
	analytics AnalyticsSink  // optional, nil = disabled
	metrics   MetricsSink    // optional, nil = disabled
	logger    *zap.Logger
	clock     func() time.Time
}

func New(runner PipelineRunner, config Config) *Executor {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.AnalyticsTimeout <= 0 {
		config.AnalyticsTimeout = DefaultAnalyticsTimeout
	}
	return &Executor{
		runner: runner,
		config: config,
		logger: zap.NewNop(),
		clock:  time.Now,
	}
}

func (e *Executor) WithCircuitBreaker(cb CircuitBreaker) *Executor {
	e.breaker = cb
	return e
}

func (e *Executor) WithAnalytics(sink AnalyticsSink) *Executor {
	e.analytics = sink
	return e
}

func (e *Executor) WithMetrics(sink MetricsSink) *Executor {
	e.metrics = sink
	return e
}

func (e *Executor) WithLogger(logger *zap.Logger) *Executor {
	e.logger = logging.OrNop(logger).Named("executor")
	return e
}

// WithClock replaces the time source. Intended for tests.
func (e *Executor) WithClock(clock func() time.Time) *Executor {
	e.clock = clock
	return e
}

// Execute invokes the pipeline run for one fire, exactly once. The call is
// bounded by the configured timeout; a runner that ignores its context is
// abandoned when the deadline passes so the caller's slot is released.
func (e *Executor) Execute(ctx context.Context, event domain.FireEvent) domain.ExecutionResult {
	if e.metrics != nil {
		e.metrics.ExecutionsInFlightIncr()
		defer e.metrics.ExecutionsInFlightDecr()
	}

	// Counted per fire, independent of the outcome.
	if e.analytics != nil {
		actx, cancel := context.WithTimeout(ctx, e.config.AnalyticsTimeout)
		e.analytics.Record(actx, event)
		cancel()
	}

	result := domain.ExecutionResult{
		EventID:     event.ID,
		TriggerID:   event.TriggerID,
		Payload:     event.Payload,
		ScheduledAt: event.ScheduledAt,
		StartedAt:   e.clock(),
	}

	err := e.run(ctx, event)
	result.FinishedAt = e.clock()

	log := e.logger.With(
		zap.String("trigger_id", event.TriggerID),
		zap.String("event_id", event.ID.String()),
		zap.String("project_id", event.Payload.ProjectID),
		zap.String("pipeline_id", event.Payload.PipelineID),
	)

	if err != nil {
		result.Status = domain.ExecutionStatusFailed
		result.Err = &domain.ExecutionFailed{TriggerID: event.TriggerID, Cause: err}
		log.Warn("pipeline run failed", zap.Error(err), zap.Duration("duration", result.Duration()))
	} else {
		result.Status = domain.ExecutionStatusSucceeded
		log.Info("pipeline run triggered", zap.Duration("duration", result.Duration()))
	}

	if e.metrics != nil {
		e.metrics.ExecutionCompleted(string(result.Status), result.Duration())
	}
	return result
}

func (e *Executor) run(ctx context.Context, event domain.FireEvent) error {
	key := breakerKey(event.Payload)
	if e.breaker != nil {
		if err := e.breaker.Allow(key); err != nil {
			if e.metrics != nil {
				e.metrics.CircuitRejected()
			}
			return err
		}
	}

	err := e.call(ctx, event.Payload)

	if e.breaker != nil {
		if err != nil {
			e.breaker.RecordFailure(key)
		} else {
			e.breaker.RecordSuccess(key)
		}
	}
	return err
}

func (e *Executor) call(ctx context.Context, payload domain.JobPayload) error {
	runCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- e.runner.RunPipeline(runCtx, payload.ProjectID, payload.PipelineID)
	}()

	var err error
	select {
	case err = <-done:
	case <-runCtx.Done():
		err = runCtx.Err()
	}

	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		if e.metrics != nil {
			e.metrics.ExecutionTimedOut()
		}
		return domain.ErrTimeout
	}
	return err
}

func breakerKey(p domain.JobPayload) string {
	return p.ProjectID + "/" + p.PipelineID
}
