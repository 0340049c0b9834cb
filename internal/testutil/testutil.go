// Package testutil provides shared test helpers for pipecron.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// FakeClock provides deterministic time for testing.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewFakeClock creates a FakeClock set to the given time.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{current: t}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

// TestContext returns a context with a 5-second timeout.
// The context is cancelled when the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// MustParseUUID parses a UUID string and panics on error.
// Only for use in tests.
func MustParseUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		panic("testutil.MustParseUUID: " + err.Error())
	}
	return id
}

// PipelineCall is one recorded RunPipeline invocation.
type PipelineCall struct {
	ProjectID  string
	PipelineID string
}

// RecordingRunner is a pipeline runner that records calls. Block, when set,
// holds every call until it is closed or the call's context ends.
type RecordingRunner struct {
	mu    sync.Mutex
	calls []PipelineCall

	Err     error
	Block   chan struct{}
	Started chan PipelineCall
}

func (r *RecordingRunner) RunPipeline(ctx context.Context, projectID, pipelineID string) error {
	call := PipelineCall{ProjectID: projectID, PipelineID: pipelineID}

	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()

	if r.Started != nil {
		select {
		case r.Started <- call:
		default:
		}
	}
	if r.Block != nil {
		select {
		case <-r.Block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return r.Err
}

// Calls returns a copy of the recorded calls.
func (r *RecordingRunner) Calls() []PipelineCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PipelineCall, len(r.calls))
	copy(out, r.calls)
	return out
}

func (r *RecordingRunner) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}
