package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	pipecron "github.com/ibagroup-eu/Visual-Flow-databricks-sub001"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/analytics"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/api"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/circuitbreaker"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/config"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/cron"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/executor"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/history"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/logging"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/metrics"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/pipeline"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/reconciler"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/registry"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/scheduler"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/source/file"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/store/postgres"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/store/sqlite"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/transport/channel"

	_ "github.com/lib/pq"
)

// redisPinger adapts a redis client to api.HealthChecker.
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) PingContext(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func runServe(parent context.Context, cfg config.Config) error {
	logger, _, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.Named("pipecron")

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logConfigWarnings(logger, cfg)

	// PostgreSQL backs both execution history and the postgres trigger source.
	var db *sql.DB
	var pg *postgres.Store
	if cfg.DatabaseURL != "" {
		db, err = openDatabase(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		pg = postgres.New(db)
	}

	store, closeStore, err := openHistory(ctx, cfg, pg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("history store close failed", zap.Error(err))
		}
	}()

	var metricsSink *metrics.PrometheusSink
	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer, logger)
		logger.Info("metrics enabled", zap.String("path", cfg.MetricsPath))
	}

	reg := registry.New(registry.Config{Timezone: cfg.Timezone}, cron.NewParser())

	runner, err := pipeline.NewHTTPRunner(pipeline.Config{
		BaseURL:   cfg.PipelineBaseURL,
		Secret:    cfg.PipelineSecret,
		RateLimit: cfg.PipelineRateLimit,
		Burst:     cfg.PipelineRateBurst,
	})
	if err != nil {
		return err
	}

	exec := executor.New(runner, executor.Config{Timeout: cfg.ExecutionTimeout}).WithLogger(logger)
	if cfg.CircuitBreakerThreshold > 0 {
		exec = exec.WithCircuitBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
	}
	if metricsSink != nil {
		exec = exec.WithMetrics(metricsSink)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		exec = exec.WithAnalytics(analytics.NewRedisSink(redisClient, analytics.Config{}).WithLogger(logger))
		logger.Info("analytics enabled", zap.String("redis", cfg.RedisAddr))
	}

	busOpts := []channel.Option{channel.WithLogger(logger)}
	if metricsSink != nil {
		busOpts = append(busOpts, channel.WithMetrics(metricsSink))
	}
	bus := channel.NewResultBus(cfg.ResultBufferSize, busOpts...)

	sched := scheduler.New(
		scheduler.Config{TickInterval: cfg.TickInterval, Workers: cfg.Workers},
		reg,
		exec,
	).WithObserver(bus).WithLogger(logger)
	if metricsSink != nil {
		sched = sched.WithMetrics(metricsSink)
	}

	svc := pipecron.NewService(reg, sched).WithLogger(logger)
	if metricsSink != nil {
		svc = svc.WithMetrics(metricsSink)
	}

	apiHandler := api.NewHandler(svc).WithExecutions(store).WithLogger(logger)
	if db != nil {
		apiHandler = apiHandler.WithHealthChecker("database", db)
	}
	if redisClient != nil {
		apiHandler = apiHandler.WithHealthChecker("redis", redisPinger{client: redisClient})
	}

	var handler http.Handler = apiHandler
	if cfg.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
		mux.Handle("/", apiHandler)
		handler = mux
	}
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handler,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Separate contexts so components stop in order.
	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	reconcilerCtx, cancelReconciler := context.WithCancel(context.Background())
	recorderCtx, cancelRecorder := context.WithCancel(context.Background())
	defer cancelScheduler()
	defer cancelReconciler()
	defer cancelRecorder()

	var schedulerWg, reconcilerWg, recorderWg sync.WaitGroup

	recorder := history.NewRecorder(store).WithLogger(logger)
	recorderWg.Add(1)
	go func() {
		defer recorderWg.Done()
		recorder.Run(recorderCtx, bus.Channel())
	}()

	if recon := newReconciler(cfg, pg, reg, metricsSink, logger); recon != nil {
		reconcilerWg.Add(1)
		go func() {
			defer reconcilerWg.Done()
			recon.Run(reconcilerCtx)
		}()

		if cfg.TriggerSource == config.SourceFile {
			src := file.New(cfg.TriggersFile).WithLogger(logger)
			reconcilerWg.Add(1)
			go func() {
				defer reconcilerWg.Done()
				if err := src.Watch(reconcilerCtx, recon.Notify); err != nil {
					logger.Warn("trigger file watch stopped, falling back to polling", zap.Error(err))
				}
			}()
		}
		logger.Info("reconciler enabled",
			zap.String("source", cfg.TriggerSource),
			zap.Duration("interval", cfg.ReconcileInterval))
	}

	schedulerWg.Add(1)
	go func() {
		defer schedulerWg.Done()
		if err := sched.Run(schedulerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("scheduler stopped", zap.Error(err))
		}
	}()

	logger.Info("started",
		zap.String("version", version),
		zap.Duration("tick", cfg.TickInterval),
		zap.Int("workers", cfg.Workers),
		zap.String("http", cfg.HTTPAddr))
	notifySystemd(logger, daemon.SdNotifyReady)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
	case runErr = <-serverErr:
		logger.Error("http server failed, shutting down", zap.Error(runErr))
	}
	notifySystemd(logger, daemon.SdNotifyStopping)

	// Phase 1: stop firing; in-flight pipeline runs finish first.
	logger.Info("stopping scheduler")
	cancelScheduler()
	schedulerWg.Wait()

	// Phase 2: stop applying trigger definitions.
	logger.Info("stopping reconciler")
	cancelReconciler()
	reconcilerWg.Wait()

	// Phase 3: flush buffered results to the history store.
	logger.Info("draining execution results")
	cancelRecorder()
	recorderWg.Wait()

	// Phase 4: stop the HTTP server.
	logger.Info("stopping http server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", zap.Error(err))
	}

	logger.Info("stopped")
	return runErr
}

func openDatabase(ctx context.Context, cfg config.Config, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	logger.Info("db pool configured",
		zap.Int("max_open", cfg.DBMaxOpenConns),
		zap.Int("max_idle", cfg.DBMaxIdleConns),
		zap.Duration("max_lifetime", cfg.DBConnMaxLifetime),
		zap.Duration("max_idle_time", cfg.DBConnMaxIdleTime))

	opCtx, cancel := context.WithTimeout(ctx, cfg.DBOpTimeout)
	defer cancel()
	if err := db.PingContext(opCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := postgres.New(db).Migrate(opCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// openHistory picks the execution history store: PostgreSQL when a database
// is configured, then SQLite, then memory.
func openHistory(ctx context.Context, cfg config.Config, pg *postgres.Store) (history.Store, func() error, error) {
	noop := func() error { return nil }

	switch {
	case pg != nil:
		return pg, noop, nil
	case cfg.HistorySQLitePath != "":
		s, err := sqlite.Open(ctx, cfg.HistorySQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open history store: %w", err)
		}
		return s, s.Close, nil
	default:
		return history.NewMemoryStore(history.DefaultMemoryLimit), noop, nil
	}
}

// newReconciler returns nil when no trigger source is configured.
func newReconciler(cfg config.Config, pg *postgres.Store, reg *registry.Registry, sink *metrics.PrometheusSink, logger *zap.Logger) *reconciler.Reconciler {
	var src reconciler.Source
	switch cfg.TriggerSource {
	case config.SourceFile:
		src = file.New(cfg.TriggersFile).WithLogger(logger)
	case config.SourcePostgres:
		if pg == nil {
			return nil
		}
		src = pg
	default:
		return nil
	}

	recon := reconciler.New(reconciler.Config{Interval: cfg.ReconcileInterval}, src, reg).WithLogger(logger)
	if sink != nil {
		recon = recon.WithMetrics(sink)
	}
	return recon
}

func notifySystemd(logger *zap.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logger.Debug("systemd notify failed", zap.Error(err))
		return
	}
	if sent {
		logger.Debug("systemd notified", zap.String("state", state))
	}
}
