// Package repositories implements the directory store: typed repository
// interfaces over the GORM models in internal/db, bundled into a Directory
// aggregate that also provides the per-user transaction primitive the sync
// engine relies on.
//
// All implementations translate gorm.ErrRecordNotFound into ErrNotFound and
// unique-constraint violations into ErrConflict, so callers branch on
// sentinels rather than driver-specific errors.
package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rosterhq/roster/internal/db"
)

// -----------------------------------------------------------------------------
// Common
// -----------------------------------------------------------------------------

// ListOptions contains common pagination options for list queries.
type ListOptions struct {
	Limit  int
	Offset int
}

// -----------------------------------------------------------------------------
// TeamRepository
// -----------------------------------------------------------------------------

type TeamRepository interface {
	Create(ctx context.Context, team *db.Team) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.Team, error)
}

// -----------------------------------------------------------------------------
// AuthProviderRepository
// -----------------------------------------------------------------------------

type AuthProviderRepository interface {
	Create(ctx context.Context, provider *db.AuthenticationProvider) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.AuthenticationProvider, error)
	GetByNameInTeam(ctx context.Context, teamID uuid.UUID, name string) (*db.AuthenticationProvider, error)

	// ListEnabledByName returns every enabled binding with the given provider
	// name across all teams, ordered by creation time. The sync driver uses
	// this to enumerate the bindings it may own for a tick.
	ListEnabledByName(ctx context.Context, name string) ([]db.AuthenticationProvider, error)

	Update(ctx context.Context, provider *db.AuthenticationProvider) error
}

// -----------------------------------------------------------------------------
// UserRepository
// -----------------------------------------------------------------------------

type UserRepository interface {
	Create(ctx context.Context, user *db.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.User, error)

	// GetByEmail matches case-insensitively within the team; the stored
	// casing is preserved in the returned record.
	GetByEmail(ctx context.Context, teamID uuid.UUID, email string) (*db.User, error)

	Update(ctx context.Context, user *db.User) error

	// Suspend stamps suspendedAt/suspendedById. byID is nil for system
	// actions such as directory sync.
	Suspend(ctx context.Context, id uuid.UUID, at time.Time, byID *uuid.UUID) error

	// ClearSuspension nulls both suspendedAt and suspendedById.
	ClearSuspension(ctx context.Context, id uuid.UUID) error

	List(ctx context.Context, teamID uuid.UUID, opts ListOptions) ([]db.User, int64, error)
}

// -----------------------------------------------------------------------------
// AuthenticationRepository
// -----------------------------------------------------------------------------

type AuthenticationRepository interface {
	Create(ctx context.Context, auth *db.UserAuthentication) error

	// ListByProvider returns every authentication of the provider whose user
	// belongs to the given team, with the User field populated. Rows whose
	// user falls outside the team are excluded — reconciliation must never
	// observe another tenant's users.
	ListByProvider(ctx context.Context, providerID, teamID uuid.UUID) ([]db.UserAuthentication, error)
}

// -----------------------------------------------------------------------------
// GroupRepository
// -----------------------------------------------------------------------------

type GroupRepository interface {
	Create(ctx context.Context, group *db.Group) error
	GetByIDInTeam(ctx context.Context, id, teamID uuid.UUID) (*db.Group, error)
	GetByNameInTeam(ctx context.Context, teamID uuid.UUID, name string) (*db.Group, error)

	// AddMember inserts a membership row. Adding an existing member is a
	// no-op, not an error.
	AddMember(ctx context.Context, groupID, userID uuid.UUID, permission string) error
}

// -----------------------------------------------------------------------------
// SyncRunRepository
// -----------------------------------------------------------------------------

type SyncRunRepository interface {
	Create(ctx context.Context, run *db.SyncRun) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.SyncRun, error)
	ListRecent(ctx context.Context, opts ListOptions) ([]db.SyncRun, int64, error)
	ListByProvider(ctx context.Context, providerID uuid.UUID, opts ListOptions) ([]db.SyncRun, int64, error)
}
