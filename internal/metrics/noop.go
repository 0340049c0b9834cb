package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TickStarted()                                            {}
func (n *NoopSink) TickCompleted(duration time.Duration, fired int)         {}
func (n *NoopSink) TickDrift(drift time.Duration)                           {}
func (n *NoopSink) FireSkipped(reason string)                               {}
func (n *NoopSink) ExecutionCompleted(status string, d time.Duration)       {}
func (n *NoopSink) ExecutionTimedOut()                                      {}
func (n *NoopSink) CircuitRejected()                                        {}
func (n *NoopSink) ExecutionsInFlightIncr()                                 {}
func (n *NoopSink) ExecutionsInFlightDecr()                                 {}
func (n *NoopSink) BufferSizeUpdate(size int)                               {}
func (n *NoopSink) BufferCapacitySet(capacity int)                          {}
func (n *NoopSink) EmitError()                                              {}
func (n *NoopSink) TriggersRegistered(count int)                            {}
func (n *NoopSink) ReconcileCompleted(reg, resched, removed int, err error) {}
