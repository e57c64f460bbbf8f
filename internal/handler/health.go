package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// HealthHandler reports liveness and, when a check is configured, whether
// the entitlement store is reachable.
type HealthHandler struct {
	check  func(ctx context.Context) error
	logger *slog.Logger
}

// NewHealthHandler creates a new HealthHandler. check may be nil.
func NewHealthHandler(check func(ctx context.Context) error, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{check: check, logger: logger}
}

// RegisterRoutes registers the health route and the JSON 404 fallback.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		NotFoundResponse(w, r, h.logger)
	})
}

// Health returns 200 when the service can take traffic.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.check != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.check(ctx); err != nil {
			h.logger.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
