package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/cron"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/domain"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/registry"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/scheduler"
)

const maxTriggerIDLength = 128

func validateCreateTrigger(req CreateTriggerRequest) error {
	if err := validateTriggerID(req.ID); err != nil {
		return err
	}
	if strings.TrimSpace(req.Cron) == "" {
		return fmt.Errorf("cron is required")
	}
	return nil
}

func validateTriggerID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("id is required")
	}
	if len(id) > maxTriggerIDLength {
		return fmt.Errorf("id must be at most %d characters", maxTriggerIDLength)
	}
	if strings.ContainsAny(id, "/?#") {
		return fmt.Errorf("id must not contain '/', '?' or '#'")
	}
	return nil
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, cron.ErrMalformedExpression),
		errors.Is(err, cron.ErrAmbiguousField),
		errors.Is(err, cron.ErrUnsupportedPrecision),
		errors.Is(err, domain.ErrInvalidPayload),
		errors.Is(err, registry.ErrInvalidTriggerID):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrTriggerNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrDuplicateTrigger),
		errors.Is(err, registry.ErrTriggerFiring),
		errors.Is(err, registry.ErrTriggerDisabled):
		return http.StatusConflict
	case errors.Is(err, scheduler.ErrNoWorker):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
