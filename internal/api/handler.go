package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/cron"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/domain"
	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/logging"
)

// Pagination defaults and limits for execution listings.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Service is the trigger control surface the handler drives.
type Service interface {
	RegisterTrigger(id, expression, projectID, pipelineID string) (domain.Trigger, error)
	UnregisterTrigger(id string) error
	ConvertCronExpression(expression string, from, to cron.Dialect) (string, error)
	Reschedule(id, expression string) (domain.Trigger, error)
	Get(id string) (domain.Trigger, error)
	List() []domain.Trigger
	Pause(id string) (domain.Trigger, error)
	Resume(id string) (domain.Trigger, error)
	RunNow(ctx context.Context, id string) (domain.FireEvent, error)
}

type ExecutionStore interface {
	ListExecutions(ctx context.Context, triggerID string, limit int) ([]domain.ExecutionRecord, error)
}

// HealthChecker reports the health of one dependency for /health?verbose=true.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	service    Service
	executions ExecutionStore // optional, nil = disabled
	checks     map[string]HealthChecker
	logger     *zap.Logger
	router     chi.Router
}

func NewHandler(service Service) *Handler {
	h := &Handler{
		service: service,
		checks:  make(map[string]HealthChecker),
		logger:  zap.NewNop(),
	}
	h.router = h.routes()
	return h
}

func (h *Handler) WithExecutions(store ExecutionStore) *Handler {
	h.executions = store
	return h
}

// WithHealthChecker adds a named dependency to verbose /health responses.
func (h *Handler) WithHealthChecker(name string, c HealthChecker) *Handler {
	h.checks[name] = c
	return h
}

func (h *Handler) WithLogger(logger *zap.Logger) *Handler {
	h.logger = logging.OrNop(logger).Named("api")
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", h.health)
	r.Post("/cron/convert", h.convert)

	r.Route("/triggers", func(r chi.Router) {
		r.Post("/", h.createTrigger)
		r.Get("/", h.listTriggers)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getTrigger)
			r.Delete("/", h.deleteTrigger)
			r.Put("/schedule", h.rescheduleTrigger)
			r.Post("/pause", h.pauseTrigger)
			r.Post("/resume", h.resumeTrigger)
			r.Post("/run", h.runTrigger)
			r.Get("/executions", h.listExecutions)
		})
	})
	return r
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Triggers   int               `json:"triggers"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Triggers: len(h.service.List())}

	verbose := r.URL.Query().Get("verbose") == "true"
	if !verbose || len(h.checks) == 0 {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp.Components = make(map[string]string, len(h.checks))
	for name, c := range h.checks {
		if err := c.PingContext(ctx); err != nil {
			resp.Status = "degraded"
			resp.Components[name] = "unhealthy: " + err.Error()
		} else {
			resp.Components[name] = "healthy"
		}
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, resp)
}

func (h *Handler) createTrigger(w http.ResponseWriter, r *http.Request) {
	var req CreateTriggerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validateCreateTrigger(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := h.service.RegisterTrigger(req.ID, req.Cron, req.ProjectID, req.PipelineID)
	if err != nil {
		h.writeServiceError(w, "register trigger", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTriggerResponse(t))
}

func (h *Handler) listTriggers(w http.ResponseWriter, _ *http.Request) {
	triggers := h.service.List()
	resp := ListTriggersResponse{Triggers: make([]TriggerResponse, len(triggers))}
	for i, t := range triggers {
		resp.Triggers[i] = toTriggerResponse(t)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getTrigger(w http.ResponseWriter, r *http.Request) {
	t, err := h.service.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, "get trigger", err)
		return
	}
	writeJSON(w, http.StatusOK, toTriggerResponse(t))
}

func (h *Handler) deleteTrigger(w http.ResponseWriter, r *http.Request) {
	if err := h.service.UnregisterTrigger(chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, "unregister trigger", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) rescheduleTrigger(w http.ResponseWriter, r *http.Request) {
	var req RescheduleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Cron == "" {
		writeError(w, http.StatusBadRequest, "cron is required")
		return
	}

	t, err := h.service.Reschedule(chi.URLParam(r, "id"), req.Cron)
	if err != nil {
		h.writeServiceError(w, "reschedule trigger", err)
		return
	}
	writeJSON(w, http.StatusOK, toTriggerResponse(t))
}

func (h *Handler) pauseTrigger(w http.ResponseWriter, r *http.Request) {
	t, err := h.service.Pause(chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, "pause trigger", err)
		return
	}
	writeJSON(w, http.StatusOK, toTriggerResponse(t))
}

func (h *Handler) resumeTrigger(w http.ResponseWriter, r *http.Request) {
	t, err := h.service.Resume(chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, "resume trigger", err)
		return
	}
	writeJSON(w, http.StatusOK, toTriggerResponse(t))
}

func (h *Handler) runTrigger(w http.ResponseWriter, r *http.Request) {
	ev, err := h.service.RunNow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, "run trigger", err)
		return
	}
	writeJSON(w, http.StatusAccepted, RunResponse{
		EventID:   ev.ID.String(),
		TriggerID: ev.TriggerID,
		FiredAt:   formatTime(ev.FiredAt),
	})
}

func (h *Handler) listExecutions(w http.ResponseWriter, r *http.Request) {
	if h.executions == nil {
		writeError(w, http.StatusNotImplemented, "execution history is not configured")
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	recs, err := h.executions.ListExecutions(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		h.logger.Error("list executions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}

	resp := ListExecutionsResponse{Executions: make([]ExecutionResponse, len(recs))}
	for i, rec := range recs {
		resp.Executions[i] = toExecutionResponse(rec)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) convert(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if !decodeBody(w, r, &req) {
		return
	}

	from, err := cron.ParseDialect(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "from: "+err.Error())
		return
	}
	to, err := cron.ParseDialect(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "to: "+err.Error())
		return
	}

	out, err := h.service.ConvertCronExpression(req.Expression, from, to)
	if err != nil {
		h.writeServiceError(w, "convert", err)
		return
	}
	writeJSON(w, http.StatusOK, ConvertResponse{Expression: out, Dialect: string(to)})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(op, zap.Error(err))
		writeError(w, status, op+" failed")
		return
	}
	writeError(w, status, err.Error())
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

// decodeBody decodes a JSON request body into v, writing the error response
// itself when it fails.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parseLimit reads the limit query parameter, defaulting to DefaultLimit.
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return DefaultLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	if limit > MaxLimit {
		return 0, errors.New("limit exceeds maximum of " + strconv.Itoa(MaxLimit))
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	return limit, nil
}
