// Package analytics keeps per-pipeline fire counters in Redis.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/domain"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/logging"
)

const (
	DefaultWindow    = time.Hour
	DefaultRetention = 7 * 24 * time.Hour
)

type Config struct {
	// Window is the bucket width: one minute, five minutes or one hour.
	Window    time.Duration
	Retention time.Duration
}

type RedisSink struct {
	client redis.Cmdable
	config Config
	logger *zap.Logger
}

func NewRedisSink(client redis.Cmdable, config Config) *RedisSink {
	if config.Window <= 0 {
		config.Window = DefaultWindow
	}
	if config.Retention <= 0 {
		config.Retention = DefaultRetention
	}
	return &RedisSink{client: client, config: config, logger: zap.NewNop()}
}

func (s *RedisSink) WithLogger(logger *zap.Logger) *RedisSink {
	s.logger = logging.OrNop(logger).Named("analytics")
	return s
}

// Record counts a fire. Failures are logged and never reach the caller.
func (s *RedisSink) Record(ctx context.Context, event domain.FireEvent) {
	if err := s.Write(ctx, event); err != nil {
		s.logger.Warn("record fire",
			zap.String("trigger_id", event.TriggerID),
			zap.Error(err))
	}
}

// Write increments the bucket the fire's scheduled time falls in.
func (s *RedisSink) Write(ctx context.Context, event domain.FireEvent) error {
	key := buildKey(event.Payload.ProjectID, event.Payload.PipelineID, event.ScheduledAt, s.config.Window)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.config.Retention)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

func buildKey(projectID, pipelineID string, t time.Time, window time.Duration) string {
	return fmt.Sprintf("pipecron:p:%s:j:%s:fires:%s", projectID, pipelineID, truncateToBucket(t, window))
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case time.Hour:
		return t.Format("2006010215")
	default:
		return t.Format("200601021504")
	}
}
