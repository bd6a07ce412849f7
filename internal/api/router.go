package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rosterhq/roster/internal/repositories"
)

// RouterConfig holds all dependencies needed to build the HTTP router.
// It is populated in main.go after all components are initialized and
// passed to NewRouter as a single struct.
type RouterConfig struct {
	Store  *repositories.Directory
	Logger *zap.Logger

	// Registry backs the /metrics endpoint.
	Registry *prometheus.Registry

	// OpsToken, when non-empty, guards everything under /api/v1 with a
	// static bearer token. Probes and metrics stay open either way.
	OpsToken string
}

// NewRouter builds and returns the fully configured Chi router. The surface
// only observes sync activity: it never creates or modifies provider
// bindings, which are managed out of band.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// --- Global middleware ---
	// RequestID generates a unique ID for each request, used in logs and
	// response headers for tracing.
	r.Use(middleware.RequestID)

	// RealIP extracts the real client IP from X-Forwarded-For or X-Real-IP
	// headers when the server runs behind a reverse proxy.
	r.Use(middleware.RealIP)

	// RequestLogger logs every request with method, path, status and size.
	r.Use(RequestLogger(cfg.Logger))

	// Recoverer catches panics in handlers, logs them, and returns a 500
	// instead of crashing the server.
	r.Use(middleware.Recoverer)

	healthHandler := NewHealthHandler(cfg.Store, cfg.Logger)
	syncRunHandler := NewSyncRunHandler(cfg.Store.SyncRuns, cfg.Logger)
	userHandler := NewUserHandler(cfg.Store.Users, cfg.Logger)

	r.Get("/healthz", healthHandler.Live)
	r.Get("/readyz", healthHandler.Ready)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.OpsToken != "" {
			r.Use(RequireToken(cfg.OpsToken))
		}

		r.Get("/sync/runs", syncRunHandler.List)
		r.Get("/sync/runs/{id}", syncRunHandler.GetByID)

		r.Get("/users", userHandler.List)
		r.Get("/users/{id}", userHandler.GetByID)
	})

	return r
}
