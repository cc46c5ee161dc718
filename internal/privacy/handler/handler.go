// Package handler exposes the engine's operational surface: a health check
// backed by the healthCheck operation and the Prometheus scrape endpoint.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"

	"privacy/internal/privacy/models"
	dErrors "privacy/pkg/domain-errors"
	"privacy/pkg/platform/middleware/requesttime"
)

// HealthChecker is satisfied by *service.Service.
type HealthChecker interface {
	HealthCheck(ctx context.Context) (*models.HealthReport, error)
}

type Handler struct {
	health  HealthChecker
	metrics http.Handler
	logger  *slog.Logger
	timeout time.Duration
}

func New(health HealthChecker, metrics http.Handler, logger *slog.Logger) *Handler {
	return &Handler{
		health:  health,
		metrics: metrics,
		logger:  logger,
		timeout: 10 * time.Second,
	}
}

// Router builds the ops router.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(requesttime.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(chimw.Timeout(h.timeout))

	r.Get("/healthz", h.handleHealth)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report, err := h.health.HealthCheck(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "health check failed",
			"request_id", chimw.GetReqID(ctx),
			"error", err,
		)
		code := dErrors.CodeOf(err)
		if code == "" {
			code = dErrors.CodeInternal
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   string(code),
			"message": err.Error(),
		})
		return
	}

	status := http.StatusOK
	if report.Status != models.HealthStatusHealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
