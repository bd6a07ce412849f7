// Package usersync keeps the local user directory consistent with an
// identity provider. Given a snapshot of the provider's enabled users and a
// (team, provider) binding, the engine applies the minimal set of mutations
// to make the directory match the snapshot and reports what changed.
//
// Reconciliation runs in two phases. Phase 1 walks the binding's existing
// authentications: users still present in the snapshot are diffed and
// reactivated as needed, users that disappeared are suspended. Phase 2 walks
// the snapshot entries Phase 1 did not consume: entries matching an existing
// user by email (case-insensitive) are linked to that user, the rest create
// new users. Every per-user mutation runs in its own transaction, so a
// failure on one user never aborts the others.
//
// Three safety rules hold unconditionally: an empty snapshot aborts the run
// before any write, users are never deleted, and avatars the user uploaded
// themselves are never overwritten.
package usersync

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rosterhq/roster/internal/db"
	"github.com/rosterhq/roster/internal/repositories"
)

const defaultAvatarHint = "keycloak"

// Options configure one reconciliation call.
type Options struct {
	// DefaultGroupID selects the group newly created users are added to.
	// It takes precedence over DefaultGroupName. A configured group that
	// cannot be resolved is logged and skipped, never fatal.
	DefaultGroupID   *uuid.UUID
	DefaultGroupName string
}

// Engine applies identity provider snapshots to the directory.
type Engine struct {
	store       *repositories.Directory
	avatarHints []string
	logger      *zap.Logger
}

// New returns an Engine over the given store. avatarHints are substrings
// (matched case-insensitively) that mark an avatar URL as provider-sourced
// and therefore safe to overwrite; when none are given, "keycloak" is used.
func New(store *repositories.Directory, avatarHints []string, logger *zap.Logger) *Engine {
	hints := make([]string, 0, len(avatarHints))
	for _, h := range avatarHints {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hints = append(hints, h)
		}
	}
	if len(hints) == 0 {
		hints = []string{defaultAvatarHint}
	}
	return &Engine{store: store, avatarHints: hints, logger: logger.Named("usersync")}
}

// Reconcile applies the snapshot to the binding identified by teamID and
// providerID. It never returns an error: recoverable failures are collected
// in the report, and a failed precondition (empty snapshot, unknown team or
// provider) aborts the run with a single error entry and zero counts.
func (e *Engine) Reconcile(ctx context.Context, teamID, providerID uuid.UUID, snapshot []User, opts Options) *Report {
	report := &Report{}

	// An empty snapshot would orphan, and therefore suspend, every linked
	// user in the team. Treat it as a provider-side fault and refuse.
	if len(snapshot) == 0 {
		report.errorf("Provider returned empty user list - sync aborted to prevent mass suspension")
		return report
	}

	team, err := e.store.Teams.GetByID(ctx, teamID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			report.errorf("Team %s not found", teamID)
		} else {
			report.errorf("Failed to load team %s: %s", teamID, err)
		}
		return report
	}

	provider, err := e.store.AuthProviders.GetByID(ctx, providerID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			report.errorf("Authentication provider %s not found", providerID)
		} else {
			report.errorf("Failed to load authentication provider %s: %s", providerID, err)
		}
		return report
	}
	// A provider bound to another team is not visible from this one.
	if provider.TeamID != team.ID {
		report.errorf("Authentication provider %s not found", providerID)
		return report
	}

	byProviderID := make(map[string]User, len(snapshot))
	for _, entry := range snapshot {
		byProviderID[entry.ProviderID] = entry
	}

	defaultRole := team.DefaultUserRole
	if defaultRole == "" {
		defaultRole = db.RoleMember
	}
	group := e.resolveDefaultGroup(ctx, team.ID, opts)

	auths, err := e.store.Authentications.ListByProvider(ctx, provider.ID, team.ID)
	if err != nil {
		report.errorf("Failed to load existing authentications: %s", err)
		return report
	}

	// Phase 1: existing authentications. Present in the snapshot means
	// update and reactivate; absent means suspend. Every linked subject is
	// marked processed so Phase 2 cannot create it a second time.
	processed := make(map[string]bool, len(auths))
	for i := range auths {
		auth := &auths[i]
		processed[auth.ProviderID] = true

		if entry, ok := byProviderID[auth.ProviderID]; ok {
			e.syncLinked(ctx, auth.User, entry, report)
		} else {
			e.suspendOrphan(ctx, auth.User, report)
		}
	}

	// Phase 2: snapshot entries with no authentication yet. An email match
	// links the provider subject to the existing user, anything else is a
	// brand new directory entry.
	for _, entry := range snapshot {
		if processed[entry.ProviderID] {
			continue
		}
		// The normalizer already drops these; kept for callers that
		// assemble snapshots themselves.
		if entry.Email == "" {
			report.errorf("Skipping user %s: no email address", entry.ProviderID)
			continue
		}

		existing, err := e.store.Users.GetByEmail(ctx, team.ID, entry.Email)
		switch {
		case err == nil:
			e.linkExisting(ctx, existing, entry, provider.ID, report)
		case errors.Is(err, repositories.ErrNotFound):
			e.createUser(ctx, team.ID, entry, provider.ID, defaultRole, group, report)
		default:
			report.errorf("Failed to create user %s: %s", entry.Email, err)
		}
	}

	return report
}

// syncLinked reconciles a user still present in the snapshot: the attribute
// diff and any suspension clear run inside one transaction. The diff outcome
// decides updated versus unchanged; reactivation is counted independently,
// so one user can increment both updated and reactivated.
func (e *Engine) syncLinked(ctx context.Context, user *db.User, entry User, report *Report) {
	changed, dirty := e.applyDiff(user, entry)
	wasSuspended := user.Suspended()

	if dirty || wasSuspended {
		err := e.store.WithTransaction(ctx, func(tx *repositories.Directory) error {
			if dirty {
				if err := tx.Users.Update(ctx, user); err != nil {
					return err
				}
			}
			if wasSuspended {
				return tx.Users.ClearSuspension(ctx, user.ID)
			}
			return nil
		})
		if err != nil {
			report.errorf("Failed to update user %s: %s", user.Email, err)
			return
		}
	}

	if changed {
		report.Updated++
	} else {
		report.Unchanged++
	}
	if wasSuspended {
		report.Reactivated++
	}
}

// suspendOrphan suspends a linked user that disappeared from the snapshot.
// Already-suspended orphans stay untouched and count as unchanged.
func (e *Engine) suspendOrphan(ctx context.Context, user *db.User, report *Report) {
	if user.Suspended() {
		report.Unchanged++
		return
	}

	now := time.Now().UTC()
	err := e.store.WithTransaction(ctx, func(tx *repositories.Directory) error {
		// A nil actor records the suspension as a system action.
		return tx.Users.Suspend(ctx, user.ID, now, nil)
	})
	if err != nil {
		report.errorf("Failed to suspend user %s: %s", user.Email, err)
		return
	}
	report.Suspended++
}

// linkExisting attaches an authentication to a user matched by email: an
// invited user signing in through the provider for the first time, or a
// subject whose provider-side ID changed. The link itself is not a create;
// only attribute changes and reactivation are counted.
func (e *Engine) linkExisting(ctx context.Context, user *db.User, entry User, providerID uuid.UUID, report *Report) {
	changed, dirty := e.applyDiff(user, entry)
	wasSuspended := user.Suspended()

	err := e.store.WithTransaction(ctx, func(tx *repositories.Directory) error {
		auth := &db.UserAuthentication{
			UserID:                   user.ID,
			AuthenticationProviderID: providerID,
			ProviderID:               entry.ProviderID,
		}
		if err := tx.Authentications.Create(ctx, auth); err != nil {
			return err
		}
		if dirty {
			if err := tx.Users.Update(ctx, user); err != nil {
				return err
			}
		}
		if wasSuspended {
			return tx.Users.ClearSuspension(ctx, user.ID)
		}
		return nil
	})
	if err != nil {
		report.errorf("Failed to update user %s: %s", user.Email, err)
		return
	}

	if changed {
		report.Updated++
	}
	if wasSuspended {
		report.Reactivated++
	}
	if !changed && !wasSuspended {
		report.Unchanged++
	}
}

// createUser creates a directory entry plus its authentication link, and
// adds the user to the default group when one was resolved. The stored email
// keeps the provider-supplied casing.
func (e *Engine) createUser(ctx context.Context, teamID uuid.UUID, entry User, providerID uuid.UUID, role string, group *db.Group, report *Report) {
	err := e.store.WithTransaction(ctx, func(tx *repositories.Directory) error {
		user := &db.User{
			TeamID:    teamID,
			Email:     entry.Email,
			Name:      entry.Name,
			AvatarURL: entry.AvatarURL,
			Role:      role,
		}
		if err := tx.Users.Create(ctx, user); err != nil {
			return err
		}
		auth := &db.UserAuthentication{
			UserID:                   user.ID,
			AuthenticationProviderID: providerID,
			ProviderID:               entry.ProviderID,
		}
		if err := tx.Authentications.Create(ctx, auth); err != nil {
			return err
		}
		if group != nil {
			return tx.Groups.AddMember(ctx, group.ID, user.ID, db.GroupPermissionMember)
		}
		return nil
	})
	if err != nil {
		report.errorf("Failed to create user %s: %s", entry.Email, err)
		return
	}

	report.Created++
	if group != nil {
		report.AddedToGroup++
	}
}

// applyDiff folds the snapshot entry's attributes into the user record in
// memory and reports what it did. changed means an attribute differed under
// the diff rules and the user counts as updated. dirty means the record
// needs persisting, which additionally covers adopting the provider's email
// casing, a write that deliberately does not count as an update.
//
// The name is replaced when the provider value is non-empty and differs; the
// email when it differs case-insensitively, adopting the provider casing;
// the avatar only when the provider value is non-empty and the current one
// is empty or recognizably provider-sourced, so an avatar the user uploaded
// is never clobbered.
func (e *Engine) applyDiff(user *db.User, entry User) (changed, dirty bool) {
	if entry.Name != "" && entry.Name != user.Name {
		user.Name = entry.Name
		changed = true
	}

	if entry.Email != "" {
		if !strings.EqualFold(entry.Email, user.Email) {
			user.Email = entry.Email
			changed = true
		} else if entry.Email != user.Email {
			// Same address, different casing: adopt the provider's casing
			// without counting an update.
			user.Email = entry.Email
			dirty = true
		}
	}

	if entry.AvatarURL != "" && entry.AvatarURL != user.AvatarURL && e.replaceableAvatar(user.AvatarURL) {
		user.AvatarURL = entry.AvatarURL
		changed = true
	}

	return changed, changed || dirty
}

// replaceableAvatar reports whether the current avatar may be overwritten:
// it is empty, or its URL contains one of the configured provider hints.
func (e *Engine) replaceableAvatar(current string) bool {
	if current == "" {
		return true
	}
	lower := strings.ToLower(current)
	for _, hint := range e.avatarHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// resolveDefaultGroup looks up the group named in the options, ID first,
// then name. A configured group that cannot be found is logged and ignored;
// user sync proceeds without the group step.
func (e *Engine) resolveDefaultGroup(ctx context.Context, teamID uuid.UUID, opts Options) *db.Group {
	if opts.DefaultGroupID != nil {
		group, err := e.store.Groups.GetByIDInTeam(ctx, *opts.DefaultGroupID, teamID)
		if err == nil {
			return group
		}
		e.logger.Warn("default group not found by id, skipping group assignment",
			zap.String("group_id", opts.DefaultGroupID.String()),
			zap.Error(err),
		)
		return nil
	}

	if opts.DefaultGroupName != "" {
		group, err := e.store.Groups.GetByNameInTeam(ctx, teamID, opts.DefaultGroupName)
		if err == nil {
			return group
		}
		e.logger.Warn("default group not found by name, skipping group assignment",
			zap.String("group_name", opts.DefaultGroupName),
			zap.Error(err),
		)
	}
	return nil
}
