package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rosterhq/roster/internal/db"
)

// gormGroupRepository is the GORM implementation of GroupRepository.
type gormGroupRepository struct {
	db *gorm.DB
}

// Create inserts a new group.
// Returns ErrConflict if the team already has a group with this name.
func (r *gormGroupRepository) Create(ctx context.Context, group *db.Group) error {
	if err := r.db.WithContext(ctx).Create(group).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("groups: create: %w", err)
	}
	return nil
}

// GetByIDInTeam retrieves a group by UUID, constrained to the team.
// Returns ErrNotFound if no record exists in that team.
func (r *gormGroupRepository) GetByIDInTeam(ctx context.Context, id, teamID uuid.UUID) (*db.Group, error) {
	var group db.Group
	err := r.db.WithContext(ctx).First(&group, "id = ? AND team_id = ?", id, teamID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("groups: get by id in team: %w", err)
	}
	return &group, nil
}

// GetByNameInTeam retrieves a group by name within the team.
// Returns ErrNotFound if no record exists.
func (r *gormGroupRepository) GetByNameInTeam(ctx context.Context, teamID uuid.UUID, name string) (*db.Group, error) {
	var group db.Group
	err := r.db.WithContext(ctx).First(&group, "team_id = ? AND name = ?", teamID, name).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("groups: get by name in team: %w", err)
	}
	return &group, nil
}

// AddMember inserts a membership row. Adding a user who is already a member
// is a no-op — the desired state (user in group) is already met.
func (r *gormGroupRepository) AddMember(ctx context.Context, groupID, userID uuid.UUID, permission string) error {
	membership := &db.GroupUser{
		GroupID:    groupID,
		UserID:     userID,
		Permission: permission,
	}
	if err := r.db.WithContext(ctx).Create(membership).Error; err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("groups: add member: %w", err)
	}
	return nil
}
