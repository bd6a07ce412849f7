package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rosterhq/roster/internal/db"
)

// gormAuthProviderRepository is the GORM implementation of AuthProviderRepository.
type gormAuthProviderRepository struct {
	db *gorm.DB
}

// Create inserts a new provider binding.
// Returns ErrConflict if the team already has a binding with this name.
func (r *gormAuthProviderRepository) Create(ctx context.Context, provider *db.AuthenticationProvider) error {
	if err := r.db.WithContext(ctx).Create(provider).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("auth_providers: create: %w", err)
	}
	return nil
}

// GetByID retrieves a provider binding by its UUID.
// Returns ErrNotFound if no record exists.
func (r *gormAuthProviderRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.AuthenticationProvider, error) {
	var provider db.AuthenticationProvider
	err := r.db.WithContext(ctx).First(&provider, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("auth_providers: get by id: %w", err)
	}
	return &provider, nil
}

// GetByNameInTeam retrieves a team's binding by provider name.
// Returns ErrNotFound if no record exists.
func (r *gormAuthProviderRepository) GetByNameInTeam(ctx context.Context, teamID uuid.UUID, name string) (*db.AuthenticationProvider, error) {
	var provider db.AuthenticationProvider
	err := r.db.WithContext(ctx).
		First(&provider, "team_id = ? AND name = ?", teamID, name).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("auth_providers: get by name in team: %w", err)
	}
	return &provider, nil
}

// ListEnabledByName returns all enabled bindings with the given provider name,
// across teams, ordered by creation time.
func (r *gormAuthProviderRepository) ListEnabledByName(ctx context.Context, name string) ([]db.AuthenticationProvider, error) {
	var providers []db.AuthenticationProvider
	err := r.db.WithContext(ctx).
		Where("name = ? AND enabled = ?", name, true).
		Order("created_at ASC").
		Find(&providers).Error
	if err != nil {
		return nil, fmt.Errorf("auth_providers: list enabled by name: %w", err)
	}
	return providers, nil
}

// Update persists changes to an existing provider binding.
func (r *gormAuthProviderRepository) Update(ctx context.Context, provider *db.AuthenticationProvider) error {
	result := r.db.WithContext(ctx).Save(provider)
	if result.Error != nil {
		return fmt.Errorf("auth_providers: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
