package main

import (
	"go.uber.org/zap"

	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/config"
)

// logConfigWarnings logs configuration choices that are valid but lose data
// or visibility in production.
func logConfigWarnings(logger *zap.Logger, cfg config.Config) {
	if cfg.TriggerSource == config.SourceNone {
		logger.Warn("TRIGGER_SOURCE not set; triggers registered through the API are lost on restart")
	}
	if cfg.DatabaseURL == "" && cfg.HistorySQLitePath == "" {
		logger.Warn("neither DATABASE_URL nor HISTORY_SQLITE_PATH set; execution history is kept in memory")
	}
	if cfg.PipelineSecret == "" {
		logger.Warn("PIPELINE_SECRET not set; pipeline run requests are not signed")
	}
	if !cfg.MetricsEnabled {
		logger.Warn("METRICS_ENABLED=false; scheduler drift and failures are not observable")
	}
	if cfg.CircuitBreakerThreshold == 0 {
		logger.Info("CIRCUIT_BREAKER_THRESHOLD=0; failing pipelines are called on every fire")
	}
	if cfg.Workers == 1 {
		logger.Info("WORKERS=1; a slow pipeline delays every other trigger")
	}
}
