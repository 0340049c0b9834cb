package channel

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/domain"
)

func newTestResult() domain.ExecutionResult {
	now := time.Now().UTC()
	return domain.ExecutionResult{
		EventID:     uuid.New(),
		TriggerID:   "t1",
		Payload:     domain.JobPayload{ProjectID: "p1", PipelineID: "j1"},
		Status:      domain.ExecutionStatusSucceeded,
		ScheduledAt: now,
		StartedAt:   now,
		FinishedAt:  now,
	}
}

func TestResultBus_EmitAndReceive(t *testing.T) {
	bus := NewResultBus(10)
	result := newTestResult()

	ctx := context.Background()
	if err := bus.Emit(ctx, result); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if bus.Len() != 1 {
		t.Errorf("Len() = %d, want 1", bus.Len())
	}

	select {
	case got := <-bus.Channel():
		if got.EventID != result.EventID {
			t.Errorf("EventID = %v, want %v", got.EventID, result.EventID)
		}
		if got.Payload != result.Payload {
			t.Errorf("Payload = %+v, want %+v", got.Payload, result.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for result on channel")
	}
}

func TestResultBus_BufferFull(t *testing.T) {
	bus := NewResultBus(1, WithEmitTimeout(50*time.Millisecond))

	ctx := context.Background()

	// Fill the buffer
	if err := bus.Emit(ctx, newTestResult()); err != nil {
		t.Fatalf("first Emit failed: %v", err)
	}

	// Second emit should timeout and return ErrBufferFull
	err := bus.Emit(ctx, newTestResult())
	if err != ErrBufferFull {
		t.Errorf("expected ErrBufferFull, got: %v", err)
	}
}

func TestResultBus_ContextCancelled(t *testing.T) {
	bus := NewResultBus(1, WithEmitTimeout(5*time.Second))

	ctx := context.Background()

	// Fill the buffer
	if err := bus.Emit(ctx, newTestResult()); err != nil {
		t.Fatalf("first Emit failed: %v", err)
	}

	// Cancel context before second emit
	cancelledCtx, cancel := context.WithCancel(context.Background())
	cancel()

	err := bus.Emit(cancelledCtx, newTestResult())
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got: %v", err)
	}
}

func TestResultBus_ConcurrentEmit(t *testing.T) {
	bus := NewResultBus(1000)
	ctx := context.Background()

	const numGoroutines = 10
	const resultsPerGoroutine = 100

	var wg sync.WaitGroup
	var emitErrors atomic.Int64

	// Consumers
	var received atomic.Int64
	done := make(chan struct{})
	go func() {
		for range bus.Channel() {
			received.Add(1)
			if received.Load() >= numGoroutines*resultsPerGoroutine {
				close(done)
				return
			}
		}
	}()

	// Producers
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < resultsPerGoroutine; j++ {
				if err := bus.Emit(ctx, newTestResult()); err != nil {
					emitErrors.Add(1)
				}
			}
		}()
	}

	wg.Wait()

	// Wait for all results to be consumed
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Logf("received %d of %d results", received.Load(), numGoroutines*resultsPerGoroutine)
	}

	if emitErrors.Load() > 0 {
		t.Errorf("had %d emit errors", emitErrors.Load())
	}
}

func TestResultBus_WithEmitTimeout(t *testing.T) {
	timeout := 100 * time.Millisecond
	bus := NewResultBus(1, WithEmitTimeout(timeout))

	if bus.emitTimeout != timeout {
		t.Errorf("emitTimeout = %v, want %v", bus.emitTimeout, timeout)
	}
}

func TestResultBus_DefaultEmitTimeout(t *testing.T) {
	bus := NewResultBus(10)

	if bus.emitTimeout != DefaultEmitTimeout {
		t.Errorf("emitTimeout = %v, want %v", bus.emitTimeout, DefaultEmitTimeout)
	}
}

// mockBusMetrics tracks calls to Metrics methods.
type mockBusMetrics struct {
	mu                  sync.Mutex
	bufferSizeCalls     []int
	bufferCapacityCalls []int
	emitErrorCalls      int
}

func (m *mockBusMetrics) BufferSizeUpdate(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bufferSizeCalls = append(m.bufferSizeCalls, size)
}

func (m *mockBusMetrics) BufferCapacitySet(capacity int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bufferCapacityCalls = append(m.bufferCapacityCalls, capacity)
}

func (m *mockBusMetrics) EmitError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitErrorCalls++
}

func TestResultBus_WithMetrics(t *testing.T) {
	metrics := &mockBusMetrics{}
	bus := NewResultBus(10, WithMetrics(metrics))

	// BufferCapacitySet should be called on init
	metrics.mu.Lock()
	capCalls := len(metrics.bufferCapacityCalls)
	metrics.mu.Unlock()
	if capCalls != 1 {
		t.Errorf("BufferCapacitySet should be called once on init, got %d calls", capCalls)
	}

	// Emit a result
	ctx := context.Background()
	if err := bus.Emit(ctx, newTestResult()); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	metrics.mu.Lock()
	sizeCalls := len(metrics.bufferSizeCalls)
	metrics.mu.Unlock()

	if sizeCalls != 1 {
		t.Errorf("BufferSizeUpdate should be called once after emit, got %d", sizeCalls)
	}
}

func TestResultBus_MetricsOnBufferFull(t *testing.T) {
	metrics := &mockBusMetrics{}
	bus := NewResultBus(1, WithEmitTimeout(50*time.Millisecond), WithMetrics(metrics))

	ctx := context.Background()

	// Fill the buffer
	bus.Emit(ctx, newTestResult())

	// This should fail
	bus.Emit(ctx, newTestResult())

	metrics.mu.Lock()
	errCalls := metrics.emitErrorCalls
	metrics.mu.Unlock()

	if errCalls != 1 {
		t.Errorf("EmitError should be called once on buffer full, got %d", errCalls)
	}
}

func TestResultBus_FireCompletedDropsWhenFull(t *testing.T) {
	metrics := &mockBusMetrics{}
	bus := NewResultBus(1, WithEmitTimeout(10*time.Millisecond), WithMetrics(metrics))

	bus.FireCompleted(newTestResult())
	bus.FireCompleted(newTestResult())

	if bus.Len() != 1 {
		t.Errorf("Len() = %d, want 1", bus.Len())
	}
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.emitErrorCalls != 1 {
		t.Errorf("EmitError calls = %d, want 1", metrics.emitErrorCalls)
	}
}
