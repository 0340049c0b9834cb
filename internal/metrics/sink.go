package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	// Scheduler metrics
	TickStarted()
	TickCompleted(duration time.Duration, fired int)
	TickDrift(drift time.Duration)
	FireSkipped(reason string)

	// Executor metrics
	ExecutionCompleted(status string, duration time.Duration)
	ExecutionTimedOut()
	CircuitRejected()
	ExecutionsInFlightIncr()
	ExecutionsInFlightDecr()

	// Result bus metrics
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()

	// Registry metrics
	TriggersRegistered(count int)
	ReconcileCompleted(registered, rescheduled, removed int, err error)
}

// Status values for ExecutionCompleted.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)
