package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Payload keys as they appear in trigger definitions.
const (
	PayloadKeyProjectID  = "projectId"
	PayloadKeyPipelineID = "pipelineId"
)

// ErrInvalidPayload matches every *InvalidPayloadError.
var ErrInvalidPayload = errors.New("invalid job payload")

// JobPayload identifies the pipeline a trigger runs. Both ids are opaque.
type JobPayload struct {
	ProjectID  string `json:"projectId" yaml:"projectId"`
	PipelineID string `json:"pipelineId" yaml:"pipelineId"`
}

// Validate reports every missing or blank key.
func (p JobPayload) Validate() error {
	var missing []string
	if strings.TrimSpace(p.ProjectID) == "" {
		missing = append(missing, PayloadKeyProjectID)
	}
	if strings.TrimSpace(p.PipelineID) == "" {
		missing = append(missing, PayloadKeyPipelineID)
	}
	if len(missing) > 0 {
		return &InvalidPayloadError{Fields: missing}
	}
	return nil
}

// InvalidPayloadError lists the payload keys that failed validation.
type InvalidPayloadError struct {
	Fields []string
}

func (e *InvalidPayloadError) Error() string {
	return fmt.Sprintf("invalid job payload: missing %s", strings.Join(e.Fields, ", "))
}

func (e *InvalidPayloadError) Is(target error) bool {
	return target == ErrInvalidPayload
}
