// Command pipeline-receiver is a stand-in for the pipeline-run service. It
// accepts run requests, checks their signature and keeps the most recent
// ones for inspection. Intended for local development and load tests.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/logging"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/pipeline"
)

const maxStored = 50

type runRecord struct {
	ReceivedAt string `json:"receivedAt"`
	ProjectID  string `json:"projectId"`
	PipelineID string `json:"pipelineId"`
	RequestID  string `json:"requestId,omitempty"`
	Body       string `json:"body"`
}

type stats struct {
	Count    int64       `json:"count"`
	Rejected int64       `json:"rejected"`
	LastRuns []runRecord `json:"lastRuns"`
	Since    string      `json:"since"`
}

type receiver struct {
	secret string
	// failStatus, when non-zero, is returned for every accepted run.
	failStatus int
	delay      time.Duration
	logger     *zap.Logger
	clock      func() time.Time

	mu       sync.Mutex
	count    int64
	rejected int64
	lastRuns []runRecord
	since    time.Time
}

func newReceiver(secret string, logger *zap.Logger) *receiver {
	return &receiver{
		secret: secret,
		logger: logging.OrNop(logger),
		clock:  time.Now,
		since:  time.Now().UTC(),
	}
}

func (rv *receiver) routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/projects/{projectID}/pipelines/{pipelineID}/run", rv.run)
	r.Get("/stats", rv.stats)
	r.Post("/reset", rv.reset)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return r
}

func (rv *receiver) run(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	if rv.secret != "" && !pipeline.VerifySignature(rv.secret, body, r.Header.Get(pipeline.HeaderSignature)) {
		rv.mu.Lock()
		rv.rejected++
		rv.mu.Unlock()
		rv.logger.Warn("signature mismatch", zap.String("path", r.URL.Path))
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var req pipeline.RunRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	rec := runRecord{
		ReceivedAt: rv.clock().UTC().Format(time.RFC3339Nano),
		ProjectID:  chi.URLParam(r, "projectID"),
		PipelineID: chi.URLParam(r, "pipelineID"),
		RequestID:  r.Header.Get(pipeline.HeaderRequestID),
		Body:       string(body),
	}

	rv.mu.Lock()
	rv.count++
	rv.lastRuns = append(rv.lastRuns, rec)
	if len(rv.lastRuns) > maxStored {
		rv.lastRuns = rv.lastRuns[len(rv.lastRuns)-maxStored:]
	}
	current := rv.count
	rv.mu.Unlock()

	rv.logger.Info("run received",
		zap.Int64("n", current),
		zap.String("project_id", rec.ProjectID),
		zap.String("pipeline_id", rec.PipelineID))

	if rv.delay > 0 {
		select {
		case <-time.After(rv.delay):
		case <-r.Context().Done():
			return
		}
	}
	if rv.failStatus != 0 {
		http.Error(w, "simulated failure", rv.failStatus)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func (rv *receiver) stats(w http.ResponseWriter, _ *http.Request) {
	rv.mu.Lock()
	s := stats{
		Count:    rv.count,
		Rejected: rv.rejected,
		LastRuns: append([]runRecord(nil), rv.lastRuns...),
		Since:    rv.since.Format(time.RFC3339),
	}
	rv.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s)
}

func (rv *receiver) reset(w http.ResponseWriter, _ *http.Request) {
	rv.mu.Lock()
	rv.count = 0
	rv.rejected = 0
	rv.lastRuns = nil
	rv.since = rv.clock().UTC()
	rv.mu.Unlock()

	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "reset")
}

func main() {
	logger, _, err := logging.New(logging.Config{Level: os.Getenv("LOG_LEVEL"), Format: os.Getenv("LOG_FORMAT")})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.Named("pipeline-receiver")

	addr := ":8081"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	rv := newReceiver(os.Getenv("PIPELINE_SECRET"), logger)
	if v := os.Getenv("FAIL_STATUS"); v != "" {
		code, err := strconv.Atoi(v)
		if err != nil || code < 400 || code > 599 {
			logger.Fatal("FAIL_STATUS must be an HTTP error status", zap.String("value", v))
		}
		rv.failStatus = code
	}
	if v := os.Getenv("DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			logger.Fatal("invalid DELAY", zap.Error(err))
		}
		rv.delay = d
	}

	logger.Info("listening", zap.String("addr", addr), zap.Bool("verify_signature", rv.secret != ""))
	if err := http.ListenAndServe(addr, rv.routes()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", zap.Error(err))
	}
}
