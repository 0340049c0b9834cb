package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ExecutionStatus string

const (
	ExecutionStatusSucceeded ExecutionStatus = "succeeded"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// ErrTimeout is the cause of an ExecutionFailed when the pipeline-run call
// exceeded its deadline.
var ErrTimeout = errors.New("pipeline run timed out")

// ExecutionFailed reports a failed fire. It never removes or disables the
// trigger.
type ExecutionFailed struct {
	TriggerID string
	Cause     error
}

func (e *ExecutionFailed) Error() string {
	return fmt.Sprintf("trigger %s: execution failed: %v", e.TriggerID, e.Cause)
}

func (e *ExecutionFailed) Unwrap() error { return e.Cause }

// ExecutionResult records the outcome of one fire.
type ExecutionResult struct {
	EventID   uuid.UUID
	TriggerID string
	Payload   JobPayload

	Status ExecutionStatus
	Err    error // *ExecutionFailed when Status is failed

	ScheduledAt time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
}

func (r ExecutionResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r ExecutionResult) Succeeded() bool {
	return r.Status == ExecutionStatusSucceeded
}

// ExecutionRecord is the persisted form of an ExecutionResult.
type ExecutionRecord struct {
	EventID    uuid.UUID       `json:"eventId"`
	TriggerID  string          `json:"triggerId"`
	ProjectID  string          `json:"projectId"`
	PipelineID string          `json:"pipelineId"`
	Status     ExecutionStatus `json:"status"`
	Error      string          `json:"error,omitempty"`

	ScheduledAt time.Time `json:"scheduledAt"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
}

func (r ExecutionResult) Record() ExecutionRecord {
	rec := ExecutionRecord{
		EventID:     r.EventID,
		TriggerID:   r.TriggerID,
		ProjectID:   r.Payload.ProjectID,
		PipelineID:  r.Payload.PipelineID,
		Status:      r.Status,
		ScheduledAt: r.ScheduledAt,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	return rec
}
