package metrics

import (
	"errors"
	"testing"
	"time"
)

func TestNoopSink_AllMethods(t *testing.T) {
	// Verify that calling all methods on NoopSink does not panic.
	s := NewNoopSink()

	// Scheduler metrics
	s.TickStarted()
	s.TickCompleted(100*time.Millisecond, 5)
	s.TickDrift(10 * time.Millisecond)
	s.FireSkipped("no_worker")

	// Executor metrics
	s.ExecutionCompleted(StatusSucceeded, 200*time.Millisecond)
	s.ExecutionTimedOut()
	s.CircuitRejected()
	s.ExecutionsInFlightIncr()
	s.ExecutionsInFlightDecr()

	// Result bus metrics
	s.BufferSizeUpdate(10)
	s.BufferCapacitySet(100)
	s.EmitError()

	// Registry metrics
	s.TriggersRegistered(3)
	s.ReconcileCompleted(1, 2, 3, errors.New("boom"))
}

// Verify NoopSink implements Sink interface.
var _ Sink = (*NoopSink)(nil)
