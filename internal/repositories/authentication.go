package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rosterhq/roster/internal/db"
)

// gormAuthenticationRepository is the GORM implementation of AuthenticationRepository.
type gormAuthenticationRepository struct {
	db *gorm.DB
}

// Create inserts a new authentication link.
// Returns ErrConflict when the providerId is already linked within the
// provider, or the user already has a link to the provider.
func (r *gormAuthenticationRepository) Create(ctx context.Context, auth *db.UserAuthentication) error {
	if err := r.db.WithContext(ctx).Create(auth).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("user_authentications: create: %w", err)
	}
	return nil
}

// ListByProvider returns the provider's authentications whose user belongs to
// the given team, with the User field populated.
//
// The user records are loaded with a second query and stitched in manually —
// GORM cannot auto-resolve foreign keys when the primary key is uuid.UUID
// (a custom type), so associations are never used in this codebase.
// Authentications whose user is missing or belongs to another team are
// filtered out.
func (r *gormAuthenticationRepository) ListByProvider(ctx context.Context, providerID, teamID uuid.UUID) ([]db.UserAuthentication, error) {
	var auths []db.UserAuthentication
	err := r.db.WithContext(ctx).
		Where("authentication_provider_id = ?", providerID).
		Order("created_at ASC").
		Find(&auths).Error
	if err != nil {
		return nil, fmt.Errorf("user_authentications: list by provider: %w", err)
	}
	if len(auths) == 0 {
		return auths, nil
	}

	userIDs := make([]uuid.UUID, 0, len(auths))
	for i := range auths {
		userIDs = append(userIDs, auths[i].UserID)
	}

	var users []db.User
	err = r.db.WithContext(ctx).
		Where("id IN ? AND team_id = ?", userIDs, teamID).
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("user_authentications: load users: %w", err)
	}

	byID := make(map[uuid.UUID]*db.User, len(users))
	for i := range users {
		byID[users[i].ID] = &users[i]
	}

	scoped := auths[:0]
	for i := range auths {
		user, ok := byID[auths[i].UserID]
		if !ok {
			continue
		}
		auths[i].User = user
		scoped = append(scoped, auths[i])
	}
	return scoped, nil
}
