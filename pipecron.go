// Package pipecron schedules pipeline runs from cron expressions.
//
// Service is the surface a host application uses: it registers triggers in
// the 5-field dialect, converts expressions between dialects and controls
// the running scheduler.
package pipecron

import (
	"context"

	"go.uber.org/zap"

	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/cron"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/domain"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/logging"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/registry"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/scheduler"
)

// Errors returned by Service, re-exported for hosts.
var (
	ErrDuplicateTrigger     = registry.ErrDuplicateTrigger
	ErrTriggerNotFound      = registry.ErrTriggerNotFound
	ErrTriggerFiring        = registry.ErrTriggerFiring
	ErrTriggerDisabled      = registry.ErrTriggerDisabled
	ErrInvalidPayload       = domain.ErrInvalidPayload
	ErrMalformedExpression  = cron.ErrMalformedExpression
	ErrAmbiguousField       = cron.ErrAmbiguousField
	ErrUnsupportedPrecision = cron.ErrUnsupportedPrecision
	ErrNoWorker             = scheduler.ErrNoWorker
)

type MetricsSink interface {
	TriggersRegistered(count int)
}

type Service struct {
	registry  *registry.Registry
	scheduler *scheduler.Scheduler
	metrics   MetricsSink // optional, nil = disabled
	logger    *zap.Logger
}

func NewService(reg *registry.Registry, sched *scheduler.Scheduler) *Service {
	return &Service{registry: reg, scheduler: sched, logger: zap.NewNop()}
}

func (s *Service) WithMetrics(sink MetricsSink) *Service {
	s.metrics = sink
	return s
}

func (s *Service) WithLogger(logger *zap.Logger) *Service {
	s.logger = logging.OrNop(logger).Named("service")
	return s
}

// RegisterTrigger schedules runs of pipelineID in projectID on a 5-field
// cron expression. Nothing is registered if any argument is rejected.
func (s *Service) RegisterTrigger(id, expression, projectID, pipelineID string) (domain.Trigger, error) {
	t, err := s.registry.Register(id, expression, domain.JobPayload{ProjectID: projectID, PipelineID: pipelineID})
	if err != nil {
		return domain.Trigger{}, err
	}
	s.logger.Info("trigger registered",
		zap.String("trigger_id", t.ID),
		zap.String("cron", t.Source),
		zap.Time("next_fire_at", t.NextFireAt))
	s.updateCount()
	return t, nil
}

// UnregisterTrigger stops future fires. A fire in progress completes.
func (s *Service) UnregisterTrigger(id string) error {
	if err := s.registry.Unregister(id); err != nil {
		return err
	}
	s.logger.Info("trigger unregistered", zap.String("trigger_id", id))
	s.updateCount()
	return nil
}

// ConvertCronExpression translates expression between dialects.
func (s *Service) ConvertCronExpression(expression string, from, to cron.Dialect) (string, error) {
	return cron.Convert(expression, from, to)
}

func (s *Service) Reschedule(id, expression string) (domain.Trigger, error) {
	t, err := s.registry.Reschedule(id, expression)
	if err != nil {
		return domain.Trigger{}, err
	}
	s.logger.Info("trigger rescheduled", zap.String("trigger_id", id), zap.String("cron", t.Source))
	return t, nil
}

func (s *Service) Get(id string) (domain.Trigger, error) {
	return s.registry.Get(id)
}

// List returns every registered trigger in registration order.
func (s *Service) List() []domain.Trigger {
	return s.registry.ListActive()
}

func (s *Service) Pause(id string) (domain.Trigger, error) {
	return s.registry.Pause(id)
}

func (s *Service) Resume(id string) (domain.Trigger, error) {
	return s.registry.Resume(id)
}

// RunNow fires a trigger immediately. It fails with ErrTriggerFiring while a
// fire is in progress and with ErrNoWorker when every worker is busy.
func (s *Service) RunNow(ctx context.Context, id string) (domain.FireEvent, error) {
	ev, err := s.scheduler.FireNow(ctx, id)
	if err != nil {
		return domain.FireEvent{}, err
	}
	s.logger.Info("manual run started", zap.String("trigger_id", id), zap.String("event_id", ev.ID.String()))
	return ev, nil
}

func (s *Service) updateCount() {
	if s.metrics != nil {
		s.metrics.TriggersRegistered(s.registry.Len())
	}
}
