package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// Check reports the health of one dependency.
type Check func(ctx context.Context) error

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	mode      string
	startedAt time.Time
	checks    map[string]Check
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler. checks are run on every request
// with a short timeout; any failure turns the response into a 503.
func NewHealthHandler(mode string, checks map[string]Check, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		mode:      mode,
		startedAt: time.Now().UTC(),
		checks:    checks,
		logger:    logger,
	}
}

// HealthCheck reports liveness and the state of each dependency.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status, code := "ok", http.StatusOK
	deps := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			deps[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":         status,
		"mode":           h.mode,
		"dependencies":   deps,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}
