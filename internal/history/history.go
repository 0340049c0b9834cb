// Package history records execution results and serves them back.
package history

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/domain"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/logging"
)

// ErrDuplicateExecution is returned by stores when a record with the same
// event id already exists.
var ErrDuplicateExecution = errors.New("execution already recorded")

type Store interface {
	InsertExecution(ctx context.Context, rec domain.ExecutionRecord) error
	// ListExecutions returns the most recent records for a trigger, newest
	// first.
	ListExecutions(ctx context.Context, triggerID string, limit int) ([]domain.ExecutionRecord, error)
}

// DrainTimeout is the maximum time to wait for buffered results during shutdown.
const DrainTimeout = 10 * time.Second

const writeTimeout = 5 * time.Second

// Recorder moves results from the result bus into a Store.
type Recorder struct {
	store  Store
	logger *zap.Logger
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, logger: zap.NewNop()}
}

func (r *Recorder) WithLogger(logger *zap.Logger) *Recorder {
	r.logger = logging.OrNop(logger).Named("history")
	return r
}

// Run records results until ctx is cancelled, then drains what is still
// buffered.
func (r *Recorder) Run(ctx context.Context, ch <-chan domain.ExecutionResult) {
	for {
		select {
		case <-ctx.Done():
			r.drain(ch)
			return
		case result, ok := <-ch:
			if !ok {
				return
			}
			r.record(ctx, result)
		}
	}
}

// drain uses a fresh context since the run context is already cancelled.
func (r *Recorder) drain(ch <-chan domain.ExecutionResult) {
	drainCtx, cancel := context.WithTimeout(context.Background(), DrainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			r.logger.Warn("drain timeout", zap.Int("recorded", count))
			return
		case result, ok := <-ch:
			if !ok {
				r.logger.Info("drain complete", zap.Int("recorded", count))
				return
			}
			r.record(drainCtx, result)
			count++
		default:
			if count > 0 {
				r.logger.Info("drain complete", zap.Int("recorded", count))
			}
			return
		}
	}
}

func (r *Recorder) record(ctx context.Context, result domain.ExecutionResult) {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	err := r.store.InsertExecution(writeCtx, result.Record())
	switch {
	case err == nil:
	case errors.Is(err, ErrDuplicateExecution):
		r.logger.Debug("execution already recorded", zap.String("event_id", result.EventID.String()))
	default:
		r.logger.Warn("record execution",
			zap.String("trigger_id", result.TriggerID),
			zap.String("event_id", result.EventID.String()),
			zap.Error(err))
	}
}
