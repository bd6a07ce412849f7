package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/rosterhq/roster/internal/repositories"
)

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	store  *repositories.Directory
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(store *repositories.Directory, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		store:  store,
		logger: logger.Named("health_handler"),
	}
}

// Live handles GET /healthz. It performs no dependency checks: the process
// answering is the whole signal, so a broken database never turns into a
// restart loop.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	Ok(w, map[string]string{"status": "ok"})
}

// Ready handles GET /readyz. It pings the database and returns 503 while it
// is unreachable, taking the instance out of rotation without killing it.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn("readiness check failed", zap.Error(err))
		ErrUnavailable(w, "database unavailable")
		return
	}
	Ok(w, map[string]string{"status": "ok"})
}
