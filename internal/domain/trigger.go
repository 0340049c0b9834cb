package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/cron"
)

// TriggerState is the lifecycle position of a trigger inside the runtime.
type TriggerState string

const (
	TriggerStateScheduled TriggerState = "scheduled"
	TriggerStateDue       TriggerState = "due"
	TriggerStateFiring    TriggerState = "firing"
	TriggerStateDisabled  TriggerState = "disabled"
)

// Trigger binds a schedule to the pipeline it runs.
type Trigger struct {
	ID string

	// Expression is the internal-dialect form the runtime evaluates;
	// Source is the external expression it was registered with.
	Expression cron.CronExpression
	Source     string
	Payload    JobPayload

	Enabled    bool
	State      TriggerState
	NextFireAt time.Time

	RegisteredAt time.Time
	UpdatedAt    time.Time
	LastFiredAt  time.Time
	LastError    string
}

// FireEvent is the snapshot handed to the executor for one fire.
type FireEvent struct {
	ID        uuid.UUID
	TriggerID string
	Payload   JobPayload

	ScheduledAt time.Time // next-fire timestamp that made the trigger due
	FiredAt     time.Time // actual dispatch time
	Manual      bool
}
