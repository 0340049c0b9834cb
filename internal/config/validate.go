package config

import (
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap/zapcore"
)

// MaxTickInterval bounds TICK_INTERVAL so that no minute-resolution fire is
// late by more than one tick.
const MaxTickInterval = time.Minute

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	errs := append(ValidationErrors(nil), cfg.parseErrs...)

	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if cfg.PipelineBaseURL == "" {
		add("PIPELINE_BASE_URL", "required")
	} else if u, err := url.Parse(cfg.PipelineBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("PIPELINE_BASE_URL", "must be an absolute http(s) URL, got %q", cfg.PipelineBaseURL)
	}

	if d, ok := validDuration(&errs, "TICK_INTERVAL", cfg.TickIntervalStr); ok && d > MaxTickInterval {
		add("TICK_INTERVAL", "must be at most %s", MaxTickInterval)
	}
	validDuration(&errs, "EXECUTION_TIMEOUT", cfg.ExecutionTimeoutStr)
	validDuration(&errs, "HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr)
	validDuration(&errs, "CIRCUIT_BREAKER_COOLDOWN", cfg.CircuitBreakerCooldownStr)

	if cfg.Workers <= 0 {
		add("WORKERS", "must be positive")
	}
	if cfg.ResultBufferSize <= 0 {
		add("RESULT_BUFFER_SIZE", "must be positive")
	}
	if cfg.CircuitBreakerThreshold < 0 {
		add("CIRCUIT_BREAKER_THRESHOLD", "must not be negative")
	}
	if cfg.PipelineRateLimit < 0 {
		add("PIPELINE_RATE_LIMIT", "must not be negative")
	}
	if cfg.PipelineRateLimit > 0 && cfg.PipelineRateBurst <= 0 {
		add("PIPELINE_RATE_BURST", "must be positive when PIPELINE_RATE_LIMIT is set")
	}

	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		add("TIMEZONE", "unknown time zone %q", cfg.Timezone)
	}

	switch cfg.TriggerSource {
	case SourceNone:
	case SourceFile:
		if cfg.TriggersFile == "" {
			add("TRIGGERS_FILE", "required when TRIGGER_SOURCE=file")
		}
		validDuration(&errs, "RECONCILE_INTERVAL", cfg.ReconcileIntervalStr)
	case SourcePostgres:
		if cfg.DatabaseURL == "" {
			add("DATABASE_URL", "required when TRIGGER_SOURCE=postgres")
		}
		validDuration(&errs, "RECONCILE_INTERVAL", cfg.ReconcileIntervalStr)
	default:
		add("TRIGGER_SOURCE", "must be 'file' or 'postgres', got %q", cfg.TriggerSource)
	}

	if cfg.DatabaseURL != "" {
		validDuration(&errs, "DB_OP_TIMEOUT", cfg.DBOpTimeoutStr)
	}

	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		add("LOG_LEVEL", "unknown level %q", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		add("LOG_FORMAT", "must be 'json' or 'console', got %q", cfg.LogFormat)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// validDuration appends an error unless s is a positive duration.
func validDuration(errs *ValidationErrors, field, s string) (time.Duration, bool) {
	d, err := time.ParseDuration(s)
	if err != nil {
		*errs = append(*errs, ValidationError{Field: field, Message: fmt.Sprintf("invalid duration: %v", err)})
		return 0, false
	}
	if d <= 0 {
		*errs = append(*errs, ValidationError{Field: field, Message: "must be positive"})
		return 0, false
	}
	return d, true
}
