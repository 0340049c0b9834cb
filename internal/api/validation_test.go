package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/cron"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/domain"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/registry"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/scheduler"
)

func TestValidateCreateTrigger(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateTriggerRequest
		wantErr string
	}{
		{"valid", CreateTriggerRequest{ID: "nightly", Cron: "0 2 * * *"}, ""},
		{"missing id", CreateTriggerRequest{Cron: "0 2 * * *"}, "id is required"},
		{"blank id", CreateTriggerRequest{ID: "   ", Cron: "0 2 * * *"}, "id is required"},
		{"missing cron", CreateTriggerRequest{ID: "nightly"}, "cron is required"},
		{"long id", CreateTriggerRequest{ID: strings.Repeat("x", maxTriggerIDLength+1), Cron: "0 2 * * *"}, "at most"},
		{"slash", CreateTriggerRequest{ID: "a/b", Cron: "0 2 * * *"}, "must not contain"},
		{"query", CreateTriggerRequest{ID: "a?b", Cron: "0 2 * * *"}, "must not contain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateCreateTrigger(tt.req)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"malformed", &cron.MalformedExpressionError{Field: "minute", Value: "61", Reason: "out of range"}, http.StatusBadRequest},
		{"ambiguous", cron.ErrAmbiguousField, http.StatusBadRequest},
		{"precision", cron.ErrUnsupportedPrecision, http.StatusBadRequest},
		{"payload", &domain.InvalidPayloadError{Fields: []string{"projectId"}}, http.StatusBadRequest},
		{"trigger id", registry.ErrInvalidTriggerID, http.StatusBadRequest},
		{"not found", fmt.Errorf("%w: t1", registry.ErrTriggerNotFound), http.StatusNotFound},
		{"duplicate", fmt.Errorf("%w: t1", registry.ErrDuplicateTrigger), http.StatusConflict},
		{"firing", fmt.Errorf("%w: t1", registry.ErrTriggerFiring), http.StatusConflict},
		{"disabled", fmt.Errorf("%w: t1", registry.ErrTriggerDisabled), http.StatusConflict},
		{"no worker", scheduler.ErrNoWorker, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
