// Package channel carries execution results from the scheduler's workers to
// their consumers over a buffered in-process channel.
package channel

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/domain"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/logging"
)

// ErrBufferFull is returned when the buffer stays full for the whole emit
// timeout.
var ErrBufferFull = errors.New("result bus buffer full")

const DefaultEmitTimeout = 100 * time.Millisecond

// Metrics must not block.
type Metrics interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()
}

type Option func(*ResultBus)

func WithEmitTimeout(d time.Duration) Option {
	return func(b *ResultBus) { b.emitTimeout = d }
}

func WithMetrics(m Metrics) Option {
	return func(b *ResultBus) { b.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(b *ResultBus) { b.logger = logging.OrNop(l).Named("resultbus") }
}

type ResultBus struct {
	ch          chan domain.ExecutionResult
	emitTimeout time.Duration
	metrics     Metrics // optional, nil = disabled
	logger      *zap.Logger
}

func NewResultBus(buffer int, opts ...Option) *ResultBus {
	b := &ResultBus{
		ch:          make(chan domain.ExecutionResult, buffer),
		emitTimeout: DefaultEmitTimeout,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(buffer)
	}
	return b
}

// Emit queues a result, waiting at most the emit timeout for buffer space.
func (b *ResultBus) Emit(ctx context.Context, result domain.ExecutionResult) error {
	timer := time.NewTimer(b.emitTimeout)
	defer timer.Stop()

	select {
	case b.ch <- result:
		if b.metrics != nil {
			b.metrics.BufferSizeUpdate(len(b.ch))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ErrBufferFull
	}
}

// FireCompleted publishes a result from a scheduler worker. A result that
// cannot be queued is logged and dropped.
func (b *ResultBus) FireCompleted(result domain.ExecutionResult) {
	if err := b.Emit(context.Background(), result); err != nil {
		b.logger.Warn("dropping execution result",
			zap.String("trigger_id", result.TriggerID),
			zap.String("event_id", result.EventID.String()),
			zap.Error(err))
	}
}

func (b *ResultBus) Channel() <-chan domain.ExecutionResult {
	return b.ch
}

// Len reports the number of buffered results.
func (b *ResultBus) Len() int {
	return len(b.ch)
}
