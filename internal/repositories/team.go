package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rosterhq/roster/internal/db"
)

// gormTeamRepository is the GORM implementation of TeamRepository.
type gormTeamRepository struct {
	db *gorm.DB
}

// Create inserts a new team record.
func (r *gormTeamRepository) Create(ctx context.Context, team *db.Team) error {
	if err := r.db.WithContext(ctx).Create(team).Error; err != nil {
		return fmt.Errorf("teams: create: %w", err)
	}
	return nil
}

// GetByID retrieves a team by its UUID. Returns ErrNotFound if no record exists.
func (r *gormTeamRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.Team, error) {
	var team db.Team
	err := r.db.WithContext(ctx).First(&team, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("teams: get by id: %w", err)
	}
	return &team, nil
}
