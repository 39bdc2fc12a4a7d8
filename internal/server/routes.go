package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()
	authed := RequireUser(h.svc.Sessions, h.svc.Users, logger)

	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /clips", h.ListClips)
	mux.HandleFunc("GET /clips/{name}", h.GetClip)
	mux.HandleFunc("GET /users/{id}/clips", h.ListUserClips)
	mux.HandleFunc("GET /stream/status", h.StreamStatus)
	mux.HandleFunc("POST /auth/refresh", h.RefreshSession)

	mux.Handle("POST /clips/import", authed(http.HandlerFunc(h.ImportClip)))
	mux.Handle("POST /clips/capture", authed(http.HandlerFunc(h.CaptureClip)))
	mux.Handle("PATCH /clips/{name}", authed(http.HandlerFunc(h.EditClip)))
	mux.Handle("POST /clips/{name}/trim", authed(http.HandlerFunc(h.TrimClip)))
	mux.Handle("DELETE /clips/{name}", authed(http.HandlerFunc(h.DeleteClip)))
	mux.Handle("GET /clips/{name}/download", authed(http.HandlerFunc(h.DownloadClip)))

	// Apply middleware chain
	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
