package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/govquery/explorer/internal/api/response"
)

// healthCheckTimeout bounds each database check.
const healthCheckTimeout = 2 * time.Second

// DatabaseChecker checks database connectivity.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
	SelectOne(ctx context.Context) error
}

// HealthHandler handles liveness, database checks and the service index.
type HealthHandler struct {
	db      DatabaseChecker
	version string
	now     func() time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(db DatabaseChecker, version string) *HealthHandler {
	return &HealthHandler{db: db, version: version, now: time.Now}
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status    string `json:"status"`
	Database  string `json:"database"`
	Timestamp string `json:"timestamp,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Healthz handles GET /healthz. An unreachable database answers 503.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		slog.WarnContext(r.Context(), "health check failed", "error", err)
		response.RespondJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:   "unhealthy",
			Database: "disconnected",
			Error:    "database unavailable",
		})

		return
	}

	response.RespondJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Database:  "connected",
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
}

// DBCheck handles GET /dbcheck by running SELECT 1.
func (h *HealthHandler) DBCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := h.db.SelectOne(ctx); err != nil {
		slog.ErrorContext(r.Context(), "database check failed", "error", err)
		response.RespondServiceUnavailable(w, "Database check failed")

		return
	}

	response.RespondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"message": "Database query successful",
		"result":  1,
	})
}

// Root handles GET / with the service name, version and endpoint index.
func (h *HealthHandler) Root(w http.ResponseWriter, _ *http.Request) {
	response.RespondJSON(w, http.StatusOK, map[string]any{
		"message": "Governance Query Explorer",
		"version": h.version,
		"endpoints": map[string]string{
			"health":       "/healthz",
			"query":        "/query",
			"query_stream": "/query/stream",
			"search":       "/search",
			"nlsql":        "/nlsql",
			"metrics":      "/metrics",
		},
	})
}
