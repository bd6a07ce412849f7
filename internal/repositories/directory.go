package repositories

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Directory bundles one repository per entity over a shared *gorm.DB.
// Components take the whole aggregate rather than individual repositories,
// because reconciliation touches most of them and needs them to share a
// transaction.
type Directory struct {
	Teams           TeamRepository
	AuthProviders   AuthProviderRepository
	Users           UserRepository
	Authentications AuthenticationRepository
	Groups          GroupRepository
	SyncRuns        SyncRunRepository

	db *gorm.DB
}

// NewDirectory returns a Directory backed by the provided *gorm.DB.
func NewDirectory(database *gorm.DB) *Directory {
	return &Directory{
		Teams:           &gormTeamRepository{db: database},
		AuthProviders:   &gormAuthProviderRepository{db: database},
		Users:           &gormUserRepository{db: database},
		Authentications: &gormAuthenticationRepository{db: database},
		Groups:          &gormGroupRepository{db: database},
		SyncRuns:        &gormSyncRunRepository{db: database},
		db:              database,
	}
}

// WithTransaction runs fn inside a database transaction. fn receives a
// Directory whose repositories are bound to the transaction; returning an
// error rolls the transaction back, returning nil commits it. The
// commit-or-rollback is guaranteed on every exit path, including panics,
// which GORM re-raises after rolling back.
//
// Transactions do not nest: a Directory passed to fn must not start another.
func (d *Directory) WithTransaction(ctx context.Context, fn func(tx *Directory) error) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewDirectory(tx))
	})
}

// Ping verifies that the underlying database connection is alive.
func (d *Directory) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("directory: failed to get sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}
