// Package main implements a one-shot seed command that bootstraps a Roster
// database: a team, its OIDC provider binding, an optional default group for
// synced users, and an initial admin user. It lives inside the server module
// so it can access internal/* packages.
//
// Usage:
//
//	go run ./cmd/seed \
//	  --team "Acme" \
//	  --email admin@acme.test \
//	  --name "Admin User" \
//	  --default-group Everyone
//
// Environment variables:
//
//	ROSTER_DB_DRIVER   sqlite or postgres (default: sqlite)
//	ROSTER_DB_DSN      SQLite file path or Postgres DSN (default: ./roster.db)
//	ROSTER_SECRET_KEY  Master encryption key — must match the value used by the server
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rosterhq/roster/internal/db"
	"github.com/rosterhq/roster/internal/repositories"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ─── Flags ────────────────────────────────────────────────────────────────

	team := flag.String("team", "", "Team name (required)")
	email := flag.String("email", "", "Admin user email (required)")
	name := flag.String("name", "Admin User", "Admin display name")
	role := flag.String("role", db.RoleAdmin, "Admin user role: admin, member, or viewer")
	defaultGroup := flag.String("default-group", "", "Optional group synced users are added to on create")
	providerEnabled := flag.Bool("provider-enabled", true, "Whether the OIDC binding starts enabled")
	flag.Parse()

	if *team == "" {
		return fmt.Errorf("--team is required")
	}
	if *email == "" {
		return fmt.Errorf("--email is required")
	}
	if *role != db.RoleAdmin && *role != db.RoleMember && *role != db.RoleViewer {
		return fmt.Errorf("--role must be 'admin', 'member', or 'viewer'")
	}

	// ─── Config ───────────────────────────────────────────────────────────────

	driver := envOrDefault("ROSTER_DB_DRIVER", "sqlite")
	dsn := envOrDefault("ROSTER_DB_DSN", "./roster.db")

	secretKey := os.Getenv("ROSTER_SECRET_KEY")
	if secretKey == "" {
		return fmt.Errorf(
			"ROSTER_SECRET_KEY is not set\n" +
				"  Set it to the same value used by the server, otherwise the\n" +
				"  encrypted token columns will be unreadable later.",
		)
	}

	// ─── Encryption ───────────────────────────────────────────────────────────

	// InitEncryption must be called before any DB operation so that
	// EncryptedString fields are encoded correctly on write.
	if err := db.InitEncryption([]byte(secretKey)); err != nil {
		return fmt.Errorf("init encryption: %w", err)
	}

	// ─── Database ─────────────────────────────────────────────────────────────

	logger, _ := zap.NewDevelopment()

	database, err := db.New(db.Config{
		Driver:   driver,
		DSN:      dsn,
		Logger:   logger,
		LogLevel: gormlogger.Silent, // suppress GORM query logs in seed output
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	store := repositories.NewDirectory(database)
	ctx := context.Background()

	// ─── Create team ──────────────────────────────────────────────────────────

	teamRec := &db.Team{
		Name:            *team,
		DefaultUserRole: db.RoleMember,
	}
	if err := store.Teams.Create(ctx, teamRec); err != nil {
		return fmt.Errorf("create team: %w", err)
	}

	// ─── Create default group (optional) ──────────────────────────────────────

	settings := "{}"
	var groupLine string
	if *defaultGroup != "" {
		group := &db.Group{
			TeamID: teamRec.ID,
			Name:   *defaultGroup,
		}
		if err := store.Groups.Create(ctx, group); err != nil {
			return fmt.Errorf("create group: %w", err)
		}
		encoded, err := json.Marshal(db.SyncSettings{DefaultGroupID: group.ID.String()})
		if err != nil {
			return fmt.Errorf("encode provider settings: %w", err)
		}
		settings = string(encoded)
		groupLine = fmt.Sprintf("  Group:    %s (%s)\n", group.Name, group.ID)
	}

	// ─── Create OIDC provider binding ─────────────────────────────────────────

	provider := &db.AuthenticationProvider{
		TeamID:   teamRec.ID,
		Name:     db.ProviderNameOIDC,
		Enabled:  true,
		Settings: settings,
	}
	if err := store.AuthProviders.Create(ctx, provider); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return fmt.Errorf("team %q already has an %q binding", *team, db.ProviderNameOIDC)
		}
		return fmt.Errorf("create provider binding: %w", err)
	}
	if !*providerEnabled {
		// GORM skips zero-valued fields carrying a default tag on insert, so a
		// disabled binding needs an explicit update after the create.
		provider.Enabled = false
		if err := store.AuthProviders.Update(ctx, provider); err != nil {
			return fmt.Errorf("disable provider binding: %w", err)
		}
	}

	// ─── Create admin user ────────────────────────────────────────────────────

	user := &db.User{
		TeamID: teamRec.ID,
		Email:  *email,
		Name:   *name,
		Role:   *role,
	}
	if err := store.Users.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return fmt.Errorf("a user with email %q already exists in this team", *email)
		}
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Printf("✓ Seed complete\n")
	fmt.Printf("  Team:     %s (%s)\n", teamRec.Name, teamRec.ID)
	fmt.Printf("  Provider: %s (%s, enabled=%t)\n", provider.Name, provider.ID, provider.Enabled)
	if groupLine != "" {
		fmt.Print(groupLine)
	}
	fmt.Printf("  User:     %s (%s, role=%s)\n", user.Email, user.ID, user.Role)

	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
