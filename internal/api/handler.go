// Package api serves the harness status endpoints: health probes, metrics
// and the results of the running session.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"seedharness/internal/health"
)

// Handler contains the HTTP handlers of the status server.
type Handler struct {
	health   *health.Checker
	progress *Progress
}

// NewHandler creates a new status handler.
func NewHandler(healthChecker *health.Checker, progress *Progress) *Handler {
	return &Handler{
		health:   healthChecker,
		progress: progress,
	}
}

// ListResults handles GET /v1/results
func (h *Handler) ListResults(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.progress.Snapshot())
}

// GetResult handles GET /v1/results/{scenario}
func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("scenario")
	if name == "" {
		h.writeError(w, http.StatusBadRequest, "Scenario name is required")
		return
	}

	result, ok := h.progress.Get(name)
	if !ok {
		h.writeError(w, http.StatusNotFound, "No result for scenario "+name)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// Livez handles GET /livez - liveness probe.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 while the backend or the controller API is unavailable, and
// once the session is finishing.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
