package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rosterhq/roster/internal/db"
	"github.com/rosterhq/roster/internal/repositories"
)

// UserHandler groups the directory-user HTTP handlers. Like sync runs,
// users are read-only from the API perspective: they are created and
// suspended exclusively by the reconciliation engine (or out of band),
// and this surface exists so operators can inspect the result.
type UserHandler struct {
	repo   repositories.UserRepository
	logger *zap.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(repo repositories.UserRepository, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		repo:   repo,
		logger: logger.Named("user_handler"),
	}
}

// -----------------------------------------------------------------------------
// Response types
// -----------------------------------------------------------------------------

// userResponse is the JSON representation of a directory user.
type userResponse struct {
	ID           string  `json:"id"`
	TeamID       string  `json:"team_id"`
	Email        string  `json:"email"`
	Name         string  `json:"name"`
	AvatarURL    string  `json:"avatar_url"`
	Role         string  `json:"role"`
	Suspended    bool    `json:"suspended"`
	SuspendedAt  *string `json:"suspended_at"`
	LastActiveAt *string `json:"last_active_at"`
	CreatedAt    string  `json:"created_at"`
}

// userToResponse converts a db.User to its JSON shape.
func userToResponse(u *db.User) userResponse {
	resp := userResponse{
		ID:        u.ID.String(),
		TeamID:    u.TeamID.String(),
		Email:     u.Email,
		Name:      u.Name,
		AvatarURL: u.AvatarURL,
		Role:      u.Role,
		Suspended: u.Suspended(),
		CreatedAt: u.CreatedAt.UTC().String(),
	}
	if u.SuspendedAt != nil {
		s := u.SuspendedAt.UTC().String()
		resp.SuspendedAt = &s
	}
	if u.LastActiveAt != nil {
		s := u.LastActiveAt.UTC().String()
		resp.LastActiveAt = &s
	}
	return resp
}

// listUsersResponse wraps a paginated list of users.
type listUsersResponse struct {
	Items []userResponse `json:"items"`
	Total int64          `json:"total"`
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// List handles GET /api/v1/users.
// team_id is required: users are never listed across team boundaries.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("team_id")
	if raw == "" {
		ErrBadRequest(w, "team_id is required")
		return
	}
	teamID, err := uuid.Parse(raw)
	if err != nil {
		ErrBadRequest(w, "invalid team_id: must be a valid UUID")
		return
	}

	users, total, err := h.repo.List(r.Context(), teamID, paginationOpts(r))
	if err != nil {
		h.logger.Error("failed to list users", zap.String("team_id", teamID.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]userResponse, len(users))
	for i := range users {
		items[i] = userToResponse(&users[i])
	}

	Ok(w, listUsersResponse{Items: items, Total: total})
}

// GetByID handles GET /api/v1/users/{id}.
func (h *UserHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	user, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get user", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, userToResponse(user))
}
