package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rosterhq/roster/internal/db"
	"github.com/rosterhq/roster/internal/repositories"
)

// SyncRunHandler groups the sync-run history handlers. Runs are read-only
// from the API perspective — they are created exclusively by the scheduler.
type SyncRunHandler struct {
	repo   repositories.SyncRunRepository
	logger *zap.Logger
}

// NewSyncRunHandler creates a new SyncRunHandler.
func NewSyncRunHandler(repo repositories.SyncRunRepository, logger *zap.Logger) *SyncRunHandler {
	return &SyncRunHandler{
		repo:   repo,
		logger: logger.Named("syncrun_handler"),
	}
}

// -----------------------------------------------------------------------------
// Response types
// -----------------------------------------------------------------------------

// syncRunResponse is the JSON representation of one reconciliation run.
type syncRunResponse struct {
	ID           string   `json:"id"`
	ProviderID   string   `json:"provider_id"`
	TeamID       string   `json:"team_id"`
	Status       string   `json:"status"`
	StartedAt    string   `json:"started_at"`
	CompletedAt  string   `json:"completed_at"`
	DurationMS   int64    `json:"duration_ms"`
	Created      int      `json:"created"`
	Updated      int      `json:"updated"`
	Suspended    int      `json:"suspended"`
	Reactivated  int      `json:"reactivated"`
	Unchanged    int      `json:"unchanged"`
	AddedToGroup int      `json:"added_to_group"`
	Errors       []string `json:"errors"`
}

// syncRunToResponse converts a db.SyncRun to its JSON shape. The Errors
// column holds a JSON array written by the scheduler; anything unreadable
// degrades to an empty list rather than failing the whole response.
func syncRunToResponse(run *db.SyncRun) syncRunResponse {
	errs := []string{}
	if run.Errors != "" {
		_ = json.Unmarshal([]byte(run.Errors), &errs)
	}

	return syncRunResponse{
		ID:           run.ID.String(),
		ProviderID:   run.AuthenticationProviderID.String(),
		TeamID:       run.TeamID.String(),
		Status:       run.Status,
		StartedAt:    run.StartedAt.UTC().String(),
		CompletedAt:  run.CompletedAt.UTC().String(),
		DurationMS:   run.DurationMS,
		Created:      run.Created,
		Updated:      run.Updated,
		Suspended:    run.Suspended,
		Reactivated:  run.Reactivated,
		Unchanged:    run.Unchanged,
		AddedToGroup: run.AddedToGroup,
		Errors:       errs,
	}
}

// listSyncRunsResponse wraps a paginated list of runs.
type listSyncRunsResponse struct {
	Items []syncRunResponse `json:"items"`
	Total int64             `json:"total"`
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// List handles GET /api/v1/sync/runs.
// Returns runs newest first, optionally filtered by provider_id.
func (h *SyncRunHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := paginationOpts(r)

	if providerID := r.URL.Query().Get("provider_id"); providerID != "" {
		id, err := uuid.Parse(providerID)
		if err != nil {
			ErrBadRequest(w, "invalid provider_id: must be a valid UUID")
			return
		}
		runs, total, err := h.repo.ListByProvider(r.Context(), id, opts)
		if err != nil {
			h.logger.Error("failed to list sync runs by provider", zap.Error(err))
			ErrInternal(w)
			return
		}
		h.writeRunList(w, runs, total)
		return
	}

	runs, total, err := h.repo.ListRecent(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list sync runs", zap.Error(err))
		ErrInternal(w)
		return
	}
	h.writeRunList(w, runs, total)
}

// GetByID handles GET /api/v1/sync/runs/{id}.
func (h *SyncRunHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	run, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get sync run", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, syncRunToResponse(run))
}

// writeRunList converts a slice of db.SyncRun to a listSyncRunsResponse.
func (h *SyncRunHandler) writeRunList(w http.ResponseWriter, runs []db.SyncRun, total int64) {
	items := make([]syncRunResponse, len(runs))
	for i := range runs {
		items[i] = syncRunToResponse(&runs[i])
	}
	Ok(w, listSyncRunsResponse{Items: items, Total: total})
}

// -----------------------------------------------------------------------------
// Shared handler helpers
// -----------------------------------------------------------------------------

// parseUUID extracts and parses a UUID path parameter by name.
// Writes a 400 and returns false if the parameter is missing or malformed.
func parseUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, param)
	id, err := uuid.Parse(raw)
	if err != nil {
		ErrBadRequest(w, "invalid "+param+": must be a valid UUID")
		return uuid.UUID{}, false
	}
	return id, true
}

// paginationOpts reads limit and offset query parameters from the request.
// Defaults: limit=20, offset=0. Max limit is capped at 100.
func paginationOpts(r *http.Request) repositories.ListOptions {
	limit := 20
	offset := 0

	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 100 {
		limit = 100
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return repositories.ListOptions{Limit: limit, Offset: offset}
}
