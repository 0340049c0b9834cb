// Package scheduler drives triggers from the registry to the executor on a
// fixed tick.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/domain"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/logging"
)

// ErrNoWorker is returned by FireNow when every worker slot is busy.
var ErrNoWorker = errors.New("no worker slot available")

// Skip reasons reported to MetricsSink.FireSkipped.
const (
	SkipNoWorker = "no_worker"
)

type Registry interface {
	ClaimDue(now time.Time) []domain.FireEvent
	BeginFire(id string, now time.Time) (domain.FireEvent, error)
	CompleteFire(id string, eventID uuid.UUID, now time.Time, runErr error) bool
	AbortFire(id string, eventID uuid.UUID)
}

type Executor interface {
	Execute(ctx context.Context, event domain.FireEvent) domain.ExecutionResult
}

// Observer receives every execution outcome. Implementations must not block.
type Observer interface {
	FireCompleted(result domain.ExecutionResult)
}

type MetricsSink interface {
	TickStarted()
	TickCompleted(duration time.Duration, fired int)
	TickDrift(drift time.Duration)
	FireSkipped(reason string)
}

type Config struct {
	TickInterval time.Duration
	Workers      int
}

type Scheduler struct {
	config   Config
	registry Registry
	executor Executor
	observer Observer    // optional, nil = disabled
	metrics  MetricsSink // optional, nil = disabled
	logger   *zap.Logger
	clock    func() time.Time

	slots    *semaphore.Weighted
	inFlight sync.WaitGroup
	lastTick time.Time
}

func New(config Config, registry Registry, executor Executor) *Scheduler {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	return &Scheduler{
		config:   config,
		registry: registry,
		executor: executor,
		logger:   zap.NewNop(),
		clock:    time.Now,
		slots:    semaphore.NewWeighted(int64(config.Workers)),
	}
}

func (s *Scheduler) WithObserver(o Observer) *Scheduler {
	s.observer = o
	return s
}

func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

func (s *Scheduler) WithLogger(logger *zap.Logger) *Scheduler {
	s.logger = logging.OrNop(logger).Named("scheduler")
	return s
}

// WithClock replaces the time source. Intended for tests.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// Run evaluates triggers once immediately and then on every tick until ctx
// is cancelled. Fires already dispatched are allowed to finish before Run
// returns.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.config.TickInterval <= 0 {
		return fmt.Errorf("scheduler: tick interval must be positive, got %s", s.config.TickInterval)
	}

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.logger.Info("started",
		zap.Duration("tick", s.config.TickInterval),
		zap.Int("workers", s.config.Workers))

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopping, waiting for in-flight fires")
			s.Wait()
			s.logger.Info("stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick claims every due trigger and dispatches it to a free worker slot. A
// trigger that finds no free slot stays due and is picked up by a later
// tick. It returns the number of fires dispatched.
func (s *Scheduler) Tick(ctx context.Context) int {
	start := s.clock()
	if s.metrics != nil {
		s.metrics.TickStarted()
		if !s.lastTick.IsZero() {
			s.metrics.TickDrift(start.Sub(s.lastTick) - s.config.TickInterval)
		}
	}
	s.lastTick = start

	fired := 0
	for _, ev := range s.registry.ClaimDue(start) {
		if !s.slots.TryAcquire(1) {
			s.registry.AbortFire(ev.TriggerID, ev.ID)
			s.logger.Warn("no worker slot, deferring fire", zap.String("trigger_id", ev.TriggerID))
			if s.metrics != nil {
				s.metrics.FireSkipped(SkipNoWorker)
			}
			continue
		}
		s.dispatch(ctx, ev)
		fired++
	}

	if s.metrics != nil {
		s.metrics.TickCompleted(s.clock().Sub(start), fired)
	}
	return fired
}

// FireNow runs a trigger immediately, outside its schedule. It fails with
// the registry's firing error when the trigger is already mid-fire.
func (s *Scheduler) FireNow(ctx context.Context, triggerID string) (domain.FireEvent, error) {
	ev, err := s.registry.BeginFire(triggerID, s.clock())
	if err != nil {
		return domain.FireEvent{}, err
	}
	if !s.slots.TryAcquire(1) {
		s.registry.AbortFire(ev.TriggerID, ev.ID)
		return domain.FireEvent{}, ErrNoWorker
	}
	s.dispatch(ctx, ev)
	return ev, nil
}

// Wait blocks until every dispatched fire has completed.
func (s *Scheduler) Wait() {
	s.inFlight.Wait()
}

func (s *Scheduler) dispatch(ctx context.Context, ev domain.FireEvent) {
	// Neither shutdown nor unregistering interrupts a dispatched fire.
	runCtx := context.WithoutCancel(ctx)

	s.inFlight.Add(1)
	go func() {
		defer s.inFlight.Done()
		defer s.slots.Release(1)
		s.fire(runCtx, ev)
	}()
}

func (s *Scheduler) fire(ctx context.Context, ev domain.FireEvent) {
	log := s.logger.With(
		zap.String("trigger_id", ev.TriggerID),
		zap.String("event_id", ev.ID.String()),
		zap.Time("scheduled_at", ev.ScheduledAt),
	)
	log.Debug("firing", zap.Bool("manual", ev.Manual))

	result := s.executor.Execute(ctx, ev)

	if !s.registry.CompleteFire(ev.TriggerID, ev.ID, s.clock(), result.Err) {
		log.Info("trigger removed while firing, result not applied")
	}
	if result.Err != nil {
		log.Warn("fire failed", zap.Error(result.Err))
	}

	if s.observer != nil {
		s.observer.FireCompleted(result)
	}
}
