// Package reconciler keeps the registry in line with an external list of
// trigger definitions.
//
// Each cycle loads every definition from the Source and registers new ones,
// reschedules changed expressions, re-registers changed payloads and
// unregisters definitions that disappeared. Only triggers the reconciler
// registered itself are ever touched; triggers added through the API are
// left alone. A managed trigger removed behind the reconciler's back is
// registered again, and one replaced with a different payload is given up.
package reconciler

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/domain"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/logging"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/registry"
)

type Source interface {
	ListTriggerDefinitions(ctx context.Context) ([]domain.TriggerDefinition, error)
}

type Registry interface {
	Register(id, expression string, payload domain.JobPayload) (domain.Trigger, error)
	Unregister(id string) error
	Reschedule(id, expression string) (domain.Trigger, error)
	Pause(id string) (domain.Trigger, error)
	Resume(id string) (domain.Trigger, error)
	Get(id string) (domain.Trigger, error)
	Len() int
}

type MetricsSink interface {
	TriggersRegistered(count int)
	ReconcileCompleted(registered, rescheduled, removed int, err error)
}

type Config struct {
	// Interval is how often the source is re-read.
	// Default: 1 minute.
	Interval time.Duration
}

func DefaultConfig() Config {
	return Config{Interval: time.Minute}
}

// Summary counts the changes applied by one cycle.
type Summary struct {
	Registered  int
	Rescheduled int
	Removed     int
	Failed      int
}

type Reconciler struct {
	config   Config
	source   Source
	registry Registry
	metrics  MetricsSink // optional, nil = disabled
	logger   *zap.Logger

	// managed holds the last definition applied per trigger id.
	managed map[string]domain.TriggerDefinition
	wake    chan struct{}
}

func New(config Config, source Source, reg Registry) *Reconciler {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	return &Reconciler{
		config:   config,
		source:   source,
		registry: reg,
		logger:   zap.NewNop(),
		managed:  make(map[string]domain.TriggerDefinition),
		wake:     make(chan struct{}, 1),
	}
}

func (r *Reconciler) WithMetrics(sink MetricsSink) *Reconciler {
	r.metrics = sink
	return r
}

func (r *Reconciler) WithLogger(logger *zap.Logger) *Reconciler {
	r.logger = logging.OrNop(logger).Named("reconciler")
	return r
}

// Notify asks for a cycle as soon as possible. It never blocks; notifications
// that arrive while one is pending are merged.
func (r *Reconciler) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run reconciles once immediately and then on every interval or
// notification until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.logger.Info("started", zap.Duration("interval", r.config.Interval))

	_, _ = r.Reconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("stopped")
			return
		case <-ticker.C:
			_, _ = r.Reconcile(ctx)
		case <-r.wake:
			_, _ = r.Reconcile(ctx)
		}
	}
}

// Reconcile runs one cycle. A source error leaves every trigger as it was.
func (r *Reconciler) Reconcile(ctx context.Context) (Summary, error) {
	var sum Summary

	defs, err := r.source.ListTriggerDefinitions(ctx)
	if err != nil {
		r.logger.Warn("failed to load trigger definitions", zap.Error(err))
		if r.metrics != nil {
			r.metrics.ReconcileCompleted(0, 0, 0, err)
		}
		return sum, err
	}

	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		def = normalize(def)
		if def.ID == "" {
			r.logger.Warn("skipping definition without id", zap.String("cron", def.Expression))
			sum.Failed++
			continue
		}
		if seen[def.ID] {
			r.logger.Warn("duplicate definition ignored", zap.String("trigger_id", def.ID))
			continue
		}
		seen[def.ID] = true
		r.apply(def, &sum)
	}

	for id, prev := range r.managed {
		if seen[id] {
			continue
		}
		if !r.owns(id, prev) {
			delete(r.managed, id)
			continue
		}
		if err := r.registry.Unregister(id); err != nil && !errors.Is(err, registry.ErrTriggerNotFound) {
			r.logger.Warn("failed to unregister", zap.String("trigger_id", id), zap.Error(err))
			sum.Failed++
			continue
		}
		delete(r.managed, id)
		sum.Removed++
		r.logger.Info("trigger removed", zap.String("trigger_id", id))
	}

	if r.metrics != nil {
		r.metrics.ReconcileCompleted(sum.Registered, sum.Rescheduled, sum.Removed, nil)
		r.metrics.TriggersRegistered(r.registry.Len())
	}
	if sum != (Summary{}) {
		r.logger.Info("cycle complete",
			zap.Int("registered", sum.Registered),
			zap.Int("rescheduled", sum.Rescheduled),
			zap.Int("removed", sum.Removed),
			zap.Int("failed", sum.Failed))
	}
	return sum, nil
}

func (r *Reconciler) apply(def domain.TriggerDefinition, sum *Summary) {
	log := r.logger.With(zap.String("trigger_id", def.ID))

	prev, managed := r.managed[def.ID]
	if managed {
		live, err := r.registry.Get(def.ID)
		switch {
		case errors.Is(err, registry.ErrTriggerNotFound):
			log.Info("trigger removed elsewhere, registering again")
			delete(r.managed, def.ID)
			prev, managed = domain.TriggerDefinition{}, false
		case err == nil && live.Payload != prev.Payload:
			log.Warn("trigger replaced elsewhere, no longer managing it")
			delete(r.managed, def.ID)
			sum.Failed++
			return
		}
	}

	switch {
	case !managed:
		if _, err := r.registry.Register(def.ID, def.Expression, def.Payload); err != nil {
			if errors.Is(err, registry.ErrDuplicateTrigger) {
				log.Warn("trigger registered elsewhere, not managing it")
			} else {
				log.Warn("failed to register", zap.Error(err))
			}
			sum.Failed++
			return
		}
		sum.Registered++
		prev.Disabled = false

	case prev.Payload != def.Payload:
		// The payload is fixed at registration, so replace the trigger.
		if err := r.registry.Unregister(def.ID); err != nil && !errors.Is(err, registry.ErrTriggerNotFound) {
			log.Warn("failed to unregister for payload change", zap.Error(err))
			sum.Failed++
			return
		}
		delete(r.managed, def.ID)
		if _, err := r.registry.Register(def.ID, def.Expression, def.Payload); err != nil {
			log.Warn("failed to re-register", zap.Error(err))
			sum.Failed++
			return
		}
		sum.Registered++
		prev.Disabled = false

	case prev.Expression != def.Expression:
		if _, err := r.registry.Reschedule(def.ID, def.Expression); err != nil {
			log.Warn("failed to reschedule, keeping previous schedule", zap.Error(err))
			sum.Failed++
			return
		}
		sum.Rescheduled++
	}

	if def.Disabled != prev.Disabled {
		var err error
		if def.Disabled {
			_, err = r.registry.Pause(def.ID)
		} else {
			_, err = r.registry.Resume(def.ID)
		}
		if err != nil {
			log.Warn("failed to change enabled state", zap.Bool("disabled", def.Disabled), zap.Error(err))
			def.Disabled = prev.Disabled
		}
	}

	r.managed[def.ID] = def
}

// owns reports whether the live trigger for id is still the one applied from
// prev.
func (r *Reconciler) owns(id string, prev domain.TriggerDefinition) bool {
	live, err := r.registry.Get(id)
	return err == nil && live.Payload == prev.Payload
}

func normalize(def domain.TriggerDefinition) domain.TriggerDefinition {
	def.ID = strings.TrimSpace(def.ID)
	def.Expression = strings.Join(strings.Fields(def.Expression), " ")
	def.Payload.ProjectID = strings.TrimSpace(def.Payload.ProjectID)
	def.Payload.PipelineID = strings.TrimSpace(def.Payload.PipelineID)
	return def
}
