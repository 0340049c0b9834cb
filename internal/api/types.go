package api

import (
	"time"

	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/domain"
)

type CreateTriggerRequest struct {
	ID         string `json:"id"`
	Cron       string `json:"cron"`
	ProjectID  string `json:"projectId"`
	PipelineID string `json:"pipelineId"`
}

type RescheduleRequest struct {
	Cron string `json:"cron"`
}

type ConvertRequest struct {
	Expression string `json:"expression"`
	From       string `json:"from"`
	To         string `json:"to"`
}

type ConvertResponse struct {
	Expression string `json:"expression"`
	Dialect    string `json:"dialect"`
}

type TriggerResponse struct {
	ID           string `json:"id"`
	Cron         string `json:"cron"`
	Expression   string `json:"expression"`
	ProjectID    string `json:"projectId"`
	PipelineID   string `json:"pipelineId"`
	Enabled      bool   `json:"enabled"`
	State        string `json:"state"`
	NextFireAt   string `json:"nextFireAt,omitempty"`
	LastFiredAt  string `json:"lastFiredAt,omitempty"`
	LastError    string `json:"lastError,omitempty"`
	RegisteredAt string `json:"registeredAt"`
}

type RunResponse struct {
	EventID   string `json:"eventId"`
	TriggerID string `json:"triggerId"`
	FiredAt   string `json:"firedAt"`
}

type ExecutionResponse struct {
	EventID     string `json:"eventId"`
	TriggerID   string `json:"triggerId"`
	ProjectID   string `json:"projectId"`
	PipelineID  string `json:"pipelineId"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	ScheduledAt string `json:"scheduledAt,omitempty"`
	StartedAt   string `json:"startedAt"`
	FinishedAt  string `json:"finishedAt"`
}

type ListTriggersResponse struct {
	Triggers []TriggerResponse `json:"triggers"`
}

type ListExecutionsResponse struct {
	Executions []ExecutionResponse `json:"executions"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func toTriggerResponse(t domain.Trigger) TriggerResponse {
	return TriggerResponse{
		ID:           t.ID,
		Cron:         t.Source,
		Expression:   t.Expression.String(),
		ProjectID:    t.Payload.ProjectID,
		PipelineID:   t.Payload.PipelineID,
		Enabled:      t.Enabled,
		State:        string(t.State),
		NextFireAt:   formatTime(t.NextFireAt),
		LastFiredAt:  formatTime(t.LastFiredAt),
		LastError:    t.LastError,
		RegisteredAt: formatTime(t.RegisteredAt),
	}
}

func toExecutionResponse(r domain.ExecutionRecord) ExecutionResponse {
	return ExecutionResponse{
		EventID:     r.EventID.String(),
		TriggerID:   r.TriggerID,
		ProjectID:   r.ProjectID,
		PipelineID:  r.PipelineID,
		Status:      string(r.Status),
		Error:       r.Error,
		ScheduledAt: formatTime(r.ScheduledAt),
		StartedAt:   formatTime(r.StartedAt),
		FinishedAt:  formatTime(r.FinishedAt),
	}
}

// formatTime renders t in RFC 3339 UTC; the zero time renders empty.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
