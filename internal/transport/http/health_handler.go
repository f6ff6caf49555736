package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"
)

// ReadinessFunc reports whether the server can take traffic
type ReadinessFunc func(ctx context.Context) error

// HealthHandler serves the liveness and readiness endpoints
type HealthHandler struct {
	ready  ReadinessFunc
	logger *slog.Logger
}

// NewHealthHandler creates a new health handler. A nil ready func reports
// ready.
func NewHealthHandler(ready ReadinessFunc, logger *slog.Logger) *HealthHandler {
	if ready == nil {
		ready = func(context.Context) error { return nil }
	}
	return &HealthHandler{
		ready:  ready,
		logger: logger.With(slog.String("handler", "health")),
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Root handles GET /
func (h *HealthHandler) Root(w http.ResponseWriter, r *http.Request) {
	render.PlainText(w, r, "API is running!")
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, healthResponse{Status: "ok", Message: "Server is running"})
}

// Ready handles GET /health/ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.ready(ctx); err != nil {
		h.logger.WarnContext(ctx, "readiness check failed", slog.String("error", err.Error()))
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	render.JSON(w, r, map[string]string{"status": "ready"})
}
