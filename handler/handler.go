package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"loanflash-agent/internal/domain"
	"loanflash-agent/internal/metrics"
	"loanflash-agent/internal/middleware"
	"loanflash-agent/internal/ratelimit"
	"loanflash-agent/internal/usecase"
	"loanflash-agent/internal/workflow"
)

const maxBodyBytes = 1 << 20

type ChatUseCase interface {
	Chat(ctx context.Context, messages []domain.ChatMessage) (domain.ChatResponse, error)
}

type WorkflowUseCase interface {
	Create(ctx context.Context, raw []byte) (*domain.Workflow, error)
	Get(ctx context.Context, id string) (domain.Workflow, error)
	UpdateStep(ctx context.Context, workflowID, stepID string, completed bool) (domain.Workflow, error)
	Templates() []workflow.Template
}

type HealthChecker interface {
	Check(ctx context.Context) usecase.HealthReport
}

type RateLimiter interface {
	Allow(ctx context.Context, key string) ratelimit.Decision
}

type chatRequest struct {
	Messages []domain.ChatMessage `json:"messages"`
}

type updateStepRequest struct {
	IsCompleted *bool `json:"is_completed"`
}

type errorResponse struct {
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

// Handler serves the HTTP API. The same router backs the standalone server
// and the Lambda adapter.
type Handler struct {
	chat      ChatUseCase
	workflows WorkflowUseCase
	health    HealthChecker
	limiter   RateLimiter
	trustXFF  bool
	origins   []string
	metrics   bool
	logger    *slog.Logger

	router http.Handler
}

type Option func(*Handler)

// WithRateLimiter enables per-client limiting on the chat and workflow
// create routes.
func WithRateLimiter(l RateLimiter) Option {
	return func(h *Handler) { h.limiter = l }
}

// WithTrustedProxy keys rate limiting on the last X-Forwarded-For hop. Use it
// only when a proxy that appends the header fronts the server.
func WithTrustedProxy() Option {
	return func(h *Handler) { h.trustXFF = true }
}

func WithAllowedOrigins(origins []string) Option {
	return func(h *Handler) { h.origins = origins }
}

// WithMetricsEndpoint exposes GET /metrics.
func WithMetricsEndpoint() Option {
	return func(h *Handler) { h.metrics = true }
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

func NewHandler(chat ChatUseCase, workflows WorkflowUseCase, health HealthChecker, opts ...Option) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat use case must not be nil")
	}
	if workflows == nil {
		return nil, errors.New("handler: workflow use case must not be nil")
	}
	if health == nil {
		return nil, errors.New("handler: health checker must not be nil")
	}
	h := &Handler{
		chat:      chat,
		workflows: workflows,
		health:    health,
		origins:   []string{"http://localhost:3000"},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.router = h.routes()
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Observe(h.logger))
	r.Use(h.recoverer)
	r.Use(middleware.CORS(h.origins))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Detail: "Not Found", Code: string(usecase.ErrorNotFound)})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Detail: "Method Not Allowed", Code: string(usecase.ErrorValidation)})
	})

	r.Get("/health", h.handleHealth)
	r.Get("/api/health", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.With(h.rateLimit).Post("/chat", h.handleChat)
		r.Get("/templates", h.handleTemplates)
		r.Route("/workflow", func(r chi.Router) {
			r.With(h.rateLimit).Post("/create", h.handleCreateWorkflow)
			r.Get("/{id}", h.handleGetWorkflow)
			r.Put("/{id}/step/{stepId}", h.handleUpdateStep)
		})
	})

	if h.metrics {
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	}
	return r
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, invalidBody(err))
		return
	}
	out, err := h.chat.Chat(r.Context(), req.Messages)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := h.health.Check(r.Context())
	status := http.StatusOK
	if report.Status == usecase.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (h *Handler) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, r, invalidBody(err))
		return
	}
	wf, err := h.workflows.Create(r.Context(), raw)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

func (h *Handler) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.workflows.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (h *Handler) handleUpdateStep(w http.ResponseWriter, r *http.Request) {
	var req updateStepRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, invalidBody(err))
		return
	}
	if req.IsCompleted == nil {
		h.writeError(w, r, &usecase.Error{Code: usecase.ErrorValidation, Reason: "missing_is_completed", Detail: "is_completed is required"})
		return
	}
	wf, err := h.workflows.UpdateStep(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "stepId"), *req.IsCompleted)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (h *Handler) handleTemplates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.workflows.Templates())
}

func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		d := h.limiter.Allow(r.Context(), ratelimit.ClientKey(r, h.trustXFF))
		if !d.Allowed {
			metrics.RateLimited.Inc()
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
			h.writeError(w, r, usecase.RateLimited())
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				h.logger.ErrorContext(r.Context(), "handler panicked",
					"panic", rec,
					"correlation_id", middleware.CorrelationIDFrom(r.Context()),
				)
				writeJSON(w, http.StatusInternalServerError, errorResponse{
					Detail: "Internal server error",
					Code:   string(usecase.ErrorInternal),
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ue := usecase.AsError(err)
	status := statusFor(ue.Code)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"code", string(ue.Code),
			"reason", ue.Reason,
			"err", err,
			"correlation_id", middleware.CorrelationIDFrom(r.Context()),
		)
	}
	detail := ue.Detail
	if detail == "" {
		detail = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Detail: detail, Code: string(ue.Code)})
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorValidation:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func invalidBody(err error) *usecase.Error {
	return &usecase.Error{Code: usecase.ErrorValidation, Reason: "invalid_json", Detail: "Invalid request body", Err: err}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("handler: trailing data after JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
