package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger checks connectivity to one backing dependency.
type Pinger func(ctx context.Context) error

// HealthHandler serves the health-check endpoint, including reachability of
// the backing stores when pingers are registered.
type HealthHandler struct {
	logger  *slog.Logger
	pingers map[string]Pinger
}

// NewHealthHandler creates a HealthHandler. The pingers map is keyed by
// dependency name ("redis", "postgres"); nil is allowed.
func NewHealthHandler(logger *slog.Logger, pingers map[string]Pinger) *HealthHandler {
	return &HealthHandler{logger: logger, pingers: pingers}
}

// HealthCheck responds with the server status and per-dependency health.
// Any failing dependency turns the overall status to "degraded" with a 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	deps := make(map[string]string, len(h.pingers))
	for name, ping := range h.pingers {
		if err := ping(ctx); err != nil {
			deps[name] = "unreachable"
			status = "degraded"
			code = http.StatusServiceUnavailable
			h.logger.WarnContext(ctx, "health check dependency failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		deps[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":       status,
		"dependencies": deps,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}
