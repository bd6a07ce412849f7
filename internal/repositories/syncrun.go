package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rosterhq/roster/internal/db"
)

// gormSyncRunRepository is the GORM implementation of SyncRunRepository.
type gormSyncRunRepository struct {
	db *gorm.DB
}

// Create inserts a new sync run record.
func (r *gormSyncRunRepository) Create(ctx context.Context, run *db.SyncRun) error {
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("sync_runs: create: %w", err)
	}
	return nil
}

// GetByID retrieves a sync run by its UUID. Returns ErrNotFound if no record exists.
func (r *gormSyncRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.SyncRun, error) {
	var run db.SyncRun
	err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sync_runs: get by id: %w", err)
	}
	return &run, nil
}

// ListRecent returns sync runs across all bindings, newest first.
func (r *gormSyncRunRepository) ListRecent(ctx context.Context, opts ListOptions) ([]db.SyncRun, int64, error) {
	var runs []db.SyncRun
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.SyncRun{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("sync_runs: list count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("started_at DESC").
		Find(&runs).Error; err != nil {
		return nil, 0, fmt.Errorf("sync_runs: list: %w", err)
	}

	return runs, total, nil
}

// ListByProvider returns the binding's sync runs, newest first.
func (r *gormSyncRunRepository) ListByProvider(ctx context.Context, providerID uuid.UUID, opts ListOptions) ([]db.SyncRun, int64, error) {
	var runs []db.SyncRun
	var total int64

	if err := r.db.WithContext(ctx).
		Model(&db.SyncRun{}).
		Where("authentication_provider_id = ?", providerID).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("sync_runs: list by provider count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Where("authentication_provider_id = ?", providerID).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("started_at DESC").
		Find(&runs).Error; err != nil {
		return nil, 0, fmt.Errorf("sync_runs: list by provider: %w", err)
	}

	return runs, total, nil
}
