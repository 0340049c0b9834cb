package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

// Trigger sources for TRIGGER_SOURCE.
const (
	SourceNone     = ""
	SourceFile     = "file"
	SourcePostgres = "postgres"
)

// Config holds all configuration for pipecron.
// Values are loaded from environment variables; see the serve command help
// for the full list.
type Config struct {
	HTTPAddr string `json:"http_addr"`

	TickInterval    time.Duration `json:"-"`
	TickIntervalStr string        `json:"tick_interval"`
	Workers         int           `json:"workers"`
	Timezone        string        `json:"timezone"`

	ExecutionTimeout    time.Duration `json:"-"`
	ExecutionTimeoutStr string        `json:"execution_timeout"`

	PipelineBaseURL   string  `json:"pipeline_base_url"`
	PipelineSecret    string  `json:"pipeline_secret,omitempty"`
	PipelineRateLimit float64 `json:"pipeline_rate_limit"`
	PipelineRateBurst int     `json:"pipeline_rate_burst"`

	DatabaseURL          string        `json:"database_url,omitempty"`
	DBOpTimeout          time.Duration `json:"-"`
	DBOpTimeoutStr       string        `json:"db_op_timeout"`
	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	// HistorySQLitePath is used for execution history when DATABASE_URL is unset.
	HistorySQLitePath string `json:"history_sqlite_path,omitempty"`

	RedisAddr string `json:"redis_addr,omitempty"`

	TriggerSource        string        `json:"trigger_source"`
	TriggersFile         string        `json:"triggers_file,omitempty"`
	ReconcileInterval    time.Duration `json:"-"`
	ReconcileIntervalStr string        `json:"reconcile_interval"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	ResultBufferSize int `json:"result_buffer_size"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	// parseErrs collects numeric values that could not be parsed; Validate
	// reports them.
	parseErrs ValidationErrors
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		HTTPAddr:                  os.Getenv("HTTP_ADDR"),
		TickIntervalStr:           os.Getenv("TICK_INTERVAL"),
		Timezone:                  os.Getenv("TIMEZONE"),
		ExecutionTimeoutStr:       os.Getenv("EXECUTION_TIMEOUT"),
		PipelineBaseURL:           os.Getenv("PIPELINE_BASE_URL"),
		PipelineSecret:            os.Getenv("PIPELINE_SECRET"),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		DBOpTimeoutStr:            os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:      os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:      os.Getenv("DB_CONN_MAX_IDLE_TIME"),
		HistorySQLitePath:         os.Getenv("HISTORY_SQLITE_PATH"),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		TriggerSource:             strings.ToLower(strings.TrimSpace(os.Getenv("TRIGGER_SOURCE"))),
		TriggersFile:              os.Getenv("TRIGGERS_FILE"),
		ReconcileIntervalStr:      os.Getenv("RECONCILE_INTERVAL"),
		MetricsEnabled:            os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:               os.Getenv("METRICS_PATH"),
		CircuitBreakerCooldownStr: os.Getenv("CIRCUIT_BREAKER_COOLDOWN"),
		HTTPShutdownTimeoutStr:    os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		LogLevel:                  os.Getenv("LOG_LEVEL"),
		LogFormat:                 os.Getenv("LOG_FORMAT"),
	}

	cfg.Workers = cfg.intEnv("WORKERS", 10)
	cfg.PipelineRateBurst = cfg.intEnv("PIPELINE_RATE_BURST", 1)
	cfg.PipelineRateLimit = cfg.floatEnv("PIPELINE_RATE_LIMIT", 0)
	cfg.DBMaxOpenConns = cfg.intEnv("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = cfg.intEnv("DB_MAX_IDLE_CONNS", 5)
	cfg.CircuitBreakerThreshold = cfg.intEnv("CIRCUIT_BREAKER_THRESHOLD", 5)
	cfg.ResultBufferSize = cfg.intEnv("RESULT_BUFFER_SIZE", 100)

	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.TriggerSource == SourceNone && cfg.TriggersFile != "" {
		cfg.TriggerSource = SourceFile
	}

	setDefault(&cfg.TickIntervalStr, "1s")
	setDefault(&cfg.Timezone, "UTC")
	setDefault(&cfg.ExecutionTimeoutStr, "30s")
	setDefault(&cfg.DBOpTimeoutStr, "5s")
	setDefault(&cfg.DBConnMaxLifetimeStr, "30m")
	setDefault(&cfg.DBConnMaxIdleTimeStr, "5m")
	setDefault(&cfg.ReconcileIntervalStr, "1m")
	setDefault(&cfg.MetricsPath, "/metrics")
	setDefault(&cfg.CircuitBreakerCooldownStr, "2m")
	setDefault(&cfg.HTTPShutdownTimeoutStr, "10s")
	setDefault(&cfg.LogLevel, "info")
	setDefault(&cfg.LogFormat, "json")

	// Parse durations; validation is handled separately by Validate().
	parseDuration(cfg.TickIntervalStr, &cfg.TickInterval)
	parseDuration(cfg.ExecutionTimeoutStr, &cfg.ExecutionTimeout)
	parseDuration(cfg.DBOpTimeoutStr, &cfg.DBOpTimeout)
	parseDuration(cfg.DBConnMaxLifetimeStr, &cfg.DBConnMaxLifetime)
	parseDuration(cfg.DBConnMaxIdleTimeStr, &cfg.DBConnMaxIdleTime)
	parseDuration(cfg.ReconcileIntervalStr, &cfg.ReconcileInterval)
	parseDuration(cfg.CircuitBreakerCooldownStr, &cfg.CircuitBreakerCooldown)
	parseDuration(cfg.HTTPShutdownTimeoutStr, &cfg.HTTPShutdownTimeout)

	return cfg
}

func setDefault(s *string, def string) {
	if *s == "" {
		*s = def
	}
}

func parseDuration(s string, d *time.Duration) {
	if v, err := time.ParseDuration(s); err == nil {
		*d = v
	}
}

func (c *Config) intEnv(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		c.parseErrs = append(c.parseErrs, ValidationError{Field: key, Message: "must be an integer, got " + strconv.Quote(raw)})
		return def
	}
	return n
}

func (c *Config) floatEnv(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		c.parseErrs = append(c.parseErrs, ValidationError{Field: key, Message: "must be a number, got " + strconv.Quote(raw)})
		return def
	}
	return f
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := c
	masked.DatabaseURL = maskSecret(c.DatabaseURL)
	masked.PipelineSecret = maskSecret(c.PipelineSecret)
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if i := strings.Index(s, "://"); i > 0 {
		return s[:i+3] + "***"
	}
	return "***"
}
