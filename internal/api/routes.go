package api

import (
	"net/http"

	"seedharness/internal/health"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	HealthChecker  *health.Checker
	Progress       *Progress
	MetricsHandler http.Handler // Optional Prometheus handler
}

// NewRouter creates the status server router.
func NewRouter(cfg RouterConfig) http.Handler {
	progress := cfg.Progress
	if progress == nil {
		progress = NewProgress(0)
	}
	handler := NewHandler(cfg.HealthChecker, progress)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)
	mux.HandleFunc("GET /v1/results", handler.ListResults)
	mux.HandleFunc("GET /v1/results/{scenario}", handler.GetResult)
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}

	// Outermost first
	var h http.Handler = mux
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
