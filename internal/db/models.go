package db

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role values assignable to a User. Teams pick one of these as the default
// for users created by directory sync.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleViewer = "viewer"
)

// GroupPermissionMember is the permission granted when sync adds a user to
// a team's default group.
const GroupPermissionMember = "member"

// ProviderNameOIDC is the provider name under which OIDC bindings are stored.
// The sync driver only considers bindings with this name.
const ProviderNameOIDC = "oidc"

// base contains the common fields shared by all models.
// ID uses UUID v7 (time-ordered) for efficient B-tree indexing and natural
// chronological ordering without a separate created_at sort. CreatedAt and
// UpdatedAt are managed automatically by GORM.
type base struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate generates a new UUID v7 if the ID is not already set.
// This ensures every record has a valid time-ordered ID before insertion.
func (b *base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

// -----------------------------------------------------------------------------
// Teams
// -----------------------------------------------------------------------------

// Team is the tenant boundary. Every user, group, and authentication provider
// belongs to exactly one team, and directory sync never crosses teams.
type Team struct {
	base
	Name            string `gorm:"not null"`
	DefaultUserRole string `gorm:"not null;default:'member'"` // role assigned to users created by sync
}

// -----------------------------------------------------------------------------
// Authentication providers
// -----------------------------------------------------------------------------

// AuthenticationProvider is a (team, provider-name) binding, e.g. the "oidc"
// binding of one team. Directory sync reconciles one binding at a time.
//
// Settings holds provider-specific configuration as a JSON object. For sync
// the recognized keys are "syncDefaultGroupId" and "syncDefaultGroupName",
// which select the group new users are added to on creation.
type AuthenticationProvider struct {
	base
	TeamID   uuid.UUID `gorm:"type:text;not null;index;uniqueIndex:idx_auth_providers_team_name"`
	Name     string    `gorm:"not null;uniqueIndex:idx_auth_providers_team_name"`
	Enabled  bool      `gorm:"not null;default:true"`
	Settings string    `gorm:"type:text;not null;default:'{}'"` // JSON object
}

// SyncSettings is the sync-related subset of AuthenticationProvider.Settings.
// DefaultGroupID takes precedence over DefaultGroupName when both are set.
type SyncSettings struct {
	DefaultGroupID   string `json:"syncDefaultGroupId"`
	DefaultGroupName string `json:"syncDefaultGroupName"`
}

// SyncSettings decodes the Settings JSON and returns the sync-related keys.
// An empty Settings string decodes to the zero value.
func (p *AuthenticationProvider) SyncSettings() (SyncSettings, error) {
	var s SyncSettings
	if p.Settings == "" {
		return s, nil
	}
	if err := json.Unmarshal([]byte(p.Settings), &s); err != nil {
		return SyncSettings{}, fmt.Errorf("db: decode provider settings: %w", err)
	}
	return s, nil
}

// -----------------------------------------------------------------------------
// Users
// -----------------------------------------------------------------------------

// User is a local directory entry scoped to a team. Email is unique within
// the team case-insensitively — the functional unique index lives in the SQL
// migration (LOWER(email)), since GORM tags cannot express it.
//
// SuspendedAt gates activity: null means active, non-null means the user is
// suspended and cannot sign in. Sync suspends users that disappear from the
// identity provider and reactivates them when they reappear; it never deletes
// them. SuspendedByID stays null for sync-driven suspensions (system action,
// no acting operator).
type User struct {
	base
	TeamID        uuid.UUID `gorm:"type:text;not null;index"`
	Email         string    `gorm:"not null;index"`
	Name          string    `gorm:"not null"`
	AvatarURL     string    `gorm:"not null;default:''"`
	Role          string    `gorm:"not null;default:'member'"` // "admin", "member", or "viewer"
	SuspendedAt   *time.Time
	SuspendedByID *uuid.UUID `gorm:"type:text"`
	LastActiveAt  *time.Time
}

// Suspended reports whether the user is currently suspended.
func (u *User) Suspended() bool {
	return u.SuspendedAt != nil
}

// -----------------------------------------------------------------------------
// User authentications
// -----------------------------------------------------------------------------

// UserAuthentication links a User to an AuthenticationProvider by the
// provider's stable subject identifier. A user has at most one authentication
// per provider, and a providerId maps to at most one user per provider.
// Rows are created on first observation of a (providerId, user) pair and the
// link itself is never rewritten afterwards.
//
// AccessToken and RefreshToken are populated by the interactive login flow,
// not by sync — sync creates links with empty tokens. Both are encrypted at
// rest via EncryptedString.
type UserAuthentication struct {
	base
	UserID                   uuid.UUID       `gorm:"type:text;not null;index;uniqueIndex:idx_user_auths_provider_user"`
	AuthenticationProviderID uuid.UUID       `gorm:"type:text;not null;index;uniqueIndex:idx_user_auths_provider_user;uniqueIndex:idx_user_auths_provider_subject"`
	ProviderID               string          `gorm:"not null;uniqueIndex:idx_user_auths_provider_subject"` // IdP subject identifier
	AccessToken              EncryptedString `gorm:"type:text;not null;default:''"`
	RefreshToken             EncryptedString `gorm:"type:text;not null;default:''"`
	Scopes                   string          `gorm:"not null;default:''"` // space-separated

	// User is populated by AuthenticationRepository.ListByProvider via a
	// second query. The gorm:"-" tag prevents GORM from attempting foreign
	// key resolution on this field, which would fail with uuid.UUID
	// primary keys.
	User *User `gorm:"-"`
}

// -----------------------------------------------------------------------------
// Groups
// -----------------------------------------------------------------------------

// Group is a named collection of users within a team. Sync only touches the
// optional default group configured on the provider binding; it never creates
// or reconciles other groups.
type Group struct {
	base
	TeamID uuid.UUID `gorm:"type:text;not null;index;uniqueIndex:idx_groups_team_name"`
	Name   string    `gorm:"not null;uniqueIndex:idx_groups_team_name"`
}

// GroupUser is the membership join table between Group and User.
type GroupUser struct {
	base
	GroupID    uuid.UUID `gorm:"type:text;not null;index;uniqueIndex:idx_group_users_group_user"`
	UserID     uuid.UUID `gorm:"type:text;not null;index;uniqueIndex:idx_group_users_group_user"`
	Permission string    `gorm:"not null;default:'member'"`
}

// -----------------------------------------------------------------------------
// Sync runs
// -----------------------------------------------------------------------------

// SyncRun statuses.
const (
	SyncRunSuccess = "success" // completed without errors
	SyncRunPartial = "partial" // completed with per-user errors
	SyncRunFailed  = "failed"  // aborted before any mutation
)

// SyncRun is the audit record of one reconciliation of one provider binding.
// The scheduler writes a row per binding per tick; the operational API exposes
// them read-only for inspection.
type SyncRun struct {
	base
	AuthenticationProviderID uuid.UUID `gorm:"type:text;not null;index"`
	TeamID                   uuid.UUID `gorm:"type:text;not null;index"`
	Status                   string    `gorm:"not null"` // "success", "partial", or "failed"
	StartedAt                time.Time `gorm:"not null"`
	CompletedAt              time.Time `gorm:"not null"`
	DurationMS               int64     `gorm:"not null;default:0"`
	Created                  int       `gorm:"not null;default:0"`
	Updated                  int       `gorm:"not null;default:0"`
	Suspended                int       `gorm:"not null;default:0"`
	Reactivated              int       `gorm:"not null;default:0"`
	Unchanged                int       `gorm:"not null;default:0"`
	AddedToGroup             int       `gorm:"not null;default:0"`
	Errors                   string    `gorm:"type:text;not null;default:'[]'"` // JSON array, first 10 error strings
}
