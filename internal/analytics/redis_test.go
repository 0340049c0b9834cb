package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/domain"
)

func newTestSink(t *testing.T, cfg Config) (*RedisSink, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisSink(client, cfg), mr
}

func event(at time.Time) domain.FireEvent {
	return domain.FireEvent{
		ID:          uuid.New(),
		TriggerID:   "t1",
		Payload:     domain.JobPayload{ProjectID: "p1", PipelineID: "j1"},
		ScheduledAt: at,
		FiredAt:     at,
	}
}

func TestRedisSink_WriteBuckets(t *testing.T) {
	sink, mr := newTestSink(t, Config{Window: time.Hour, Retention: time.Hour})
	ctx := context.Background()
	at := time.Date(2024, 1, 15, 18, 15, 0, 0, time.UTC)

	require.NoError(t, sink.Write(ctx, event(at)))
	require.NoError(t, sink.Write(ctx, event(at.Add(30*time.Minute))))
	require.NoError(t, sink.Write(ctx, event(at.Add(time.Hour))))

	key := "pipecron:p:p1:j:j1:fires:2024011518"
	n, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "2", n)
	assert.Equal(t, time.Hour, mr.TTL(key))

	n, err = mr.Get("pipecron:p:p1:j:j1:fires:2024011519")
	require.NoError(t, err)
	assert.Equal(t, "1", n)
}

func TestRedisSink_RecordSwallowsErrors(t *testing.T) {
	sink, mr := newTestSink(t, Config{})
	mr.Close()

	// Must not panic or block.
	sink.Record(context.Background(), event(time.Now()))
	assert.Error(t, sink.Write(context.Background(), event(time.Now())))
}

func TestNewRedisSink_Defaults(t *testing.T) {
	sink, _ := newTestSink(t, Config{})
	assert.Equal(t, DefaultWindow, sink.config.Window)
	assert.Equal(t, DefaultRetention, sink.config.Retention)
}

func TestTruncateToBucket(t *testing.T) {
	at := time.Date(2024, 1, 15, 18, 17, 42, 0, time.UTC)
	tests := []struct {
		window time.Duration
		want   string
	}{
		{time.Minute, "202401151817"},
		{5 * time.Minute, "202401151815"},
		{time.Hour, "2024011518"},
		{7 * time.Minute, "202401151817"},
	}
	for _, tt := range tests {
		t.Run(tt.window.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, truncateToBucket(at, tt.window))
		})
	}
}
