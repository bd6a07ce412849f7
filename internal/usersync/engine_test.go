package usersync

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rosterhq/roster/internal/db"
	"github.com/rosterhq/roster/internal/repositories"
)

// fixture bundles an engine with a fresh in-memory directory, one team, and
// one provider binding — the setting every reconciliation test starts from.
type fixture struct {
	store    *repositories.Directory
	engine   *Engine
	team     *db.Team
	provider *db.AuthenticationProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	database, err := db.New(db.Config{
		Driver:   "sqlite",
		DSN:      ":memory:",
		Logger:   zap.NewNop(),
		LogLevel: gormlogger.Silent,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := database.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	store := repositories.NewDirectory(database)
	ctx := context.Background()

	team := &db.Team{Name: "acme", DefaultUserRole: db.RoleMember}
	require.NoError(t, store.Teams.Create(ctx, team))

	provider := &db.AuthenticationProvider{TeamID: team.ID, Name: db.ProviderNameOIDC, Enabled: true}
	require.NoError(t, store.AuthProviders.Create(ctx, provider))

	return &fixture{
		store:    store,
		engine:   New(store, nil, zap.NewNop()),
		team:     team,
		provider: provider,
	}
}

func (f *fixture) reconcile(t *testing.T, snapshot []User, opts Options) *Report {
	t.Helper()
	return f.engine.Reconcile(context.Background(), f.team.ID, f.provider.ID, snapshot, opts)
}

// addUser inserts a directory user without any authentication link.
func (f *fixture) addUser(t *testing.T, email, name string) *db.User {
	t.Helper()

	user := &db.User{TeamID: f.team.ID, Email: email, Name: name, Role: db.RoleMember}
	require.NoError(t, f.store.Users.Create(context.Background(), user))
	return user
}

// addLinkedUser inserts a user already linked to the fixture's provider.
func (f *fixture) addLinkedUser(t *testing.T, email, name, providerID string) *db.User {
	t.Helper()

	user := f.addUser(t, email, name)
	auth := &db.UserAuthentication{
		UserID:                   user.ID,
		AuthenticationProviderID: f.provider.ID,
		ProviderID:               providerID,
	}
	require.NoError(t, f.store.Authentications.Create(context.Background(), auth))
	return user
}

func (f *fixture) suspendUser(t *testing.T, id uuid.UUID) {
	t.Helper()
	require.NoError(t, f.store.Users.Suspend(context.Background(), id, time.Now().UTC(), nil))
}

func (f *fixture) reloadUser(t *testing.T, id uuid.UUID) *db.User {
	t.Helper()

	user, err := f.store.Users.GetByID(context.Background(), id)
	require.NoError(t, err)
	return user
}

// linkedSubjects returns the provider subjects currently linked, keyed by the
// linked user's email.
func (f *fixture) linkedSubjects(t *testing.T) map[string]string {
	t.Helper()

	auths, err := f.store.Authentications.ListByProvider(context.Background(), f.provider.ID, f.team.ID)
	require.NoError(t, err)

	subjects := make(map[string]string, len(auths))
	for _, auth := range auths {
		subjects[auth.User.Email] = auth.ProviderID
	}
	return subjects
}

func TestReconcileCreatesNewUsers(t *testing.T) {
	f := newFixture(t)

	report := f.reconcile(t, []User{
		{ProviderID: "sub-a", Email: "a@example.com", Name: "A"},
		{ProviderID: "sub-b", Email: "b@example.com", Name: "B"},
	}, Options{})

	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 0, report.Updated)
	assert.Equal(t, 0, report.Suspended)
	assert.Empty(t, report.Errors)

	subjects := f.linkedSubjects(t)
	assert.Equal(t, map[string]string{"a@example.com": "sub-a", "b@example.com": "sub-b"}, subjects)

	user, err := f.store.Users.GetByEmail(context.Background(), f.team.ID, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "A", user.Name)
	assert.Equal(t, db.RoleMember, user.Role)
	assert.False(t, user.Suspended())
}

func TestReconcileIsIdempotent(t *testing.T) {
	f := newFixture(t)
	snapshot := []User{
		{ProviderID: "sub-a", Email: "a@example.com", Name: "A"},
		{ProviderID: "sub-b", Email: "b@example.com", Name: "B"},
	}

	first := f.reconcile(t, snapshot, Options{})
	require.Equal(t, 2, first.Created)

	second := f.reconcile(t, snapshot, Options{})
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 0, second.Updated)
	assert.Equal(t, 0, second.Suspended)
	assert.Equal(t, 0, second.Reactivated)
	assert.Equal(t, 2, second.Unchanged)
	assert.Empty(t, second.Errors)
}

func TestReconcileUpdatesChangedName(t *testing.T) {
	f := newFixture(t)
	user := f.addLinkedUser(t, "a@example.com", "Old", "sub-a")

	report := f.reconcile(t, []User{
		{ProviderID: "sub-a", Email: "a@example.com", Name: "New"},
	}, Options{})

	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 0, report.Created)
	assert.Equal(t, 0, report.Unchanged)
	assert.Equal(t, "New", f.reloadUser(t, user.ID).Name)
}

func TestReconcileLeavesIdenticalUserUnchanged(t *testing.T) {
	f := newFixture(t)
	user := f.addLinkedUser(t, "a@example.com", "A", "sub-a")

	report := f.reconcile(t, []User{
		{ProviderID: "sub-a", Email: "a@example.com", Name: "A"},
	}, Options{})

	assert.Equal(t, 1, report.Unchanged)
	assert.Equal(t, 0, report.Updated)
	assert.Equal(t, "A", f.reloadUser(t, user.ID).Name)
}

func TestReconcileSuspendsOrphans(t *testing.T) {
	f := newFixture(t)
	orphan := f.addLinkedUser(t, "gone@example.com", "Gone", "sub-gone")

	report := f.reconcile(t, []User{
		{ProviderID: "sub-new", Email: "other@example.com", Name: "O"},
	}, Options{})

	assert.Equal(t, 1, report.Suspended)
	assert.Equal(t, 1, report.Created)
	assert.Empty(t, report.Errors)

	got := f.reloadUser(t, orphan.ID)
	require.NotNil(t, got.SuspendedAt)
	// Sync suspensions are system actions with no acting user.
	assert.Nil(t, got.SuspendedByID)

	// The link survives suspension so a reappearing subject reactivates
	// instead of creating a duplicate.
	subjects := f.linkedSubjects(t)
	assert.Equal(t, "sub-gone", subjects["gone@example.com"])
}

func TestReconcileLeavesSuspendedOrphanAlone(t *testing.T) {
	f := newFixture(t)
	orphan := f.addLinkedUser(t, "gone@example.com", "Gone", "sub-gone")
	f.suspendUser(t, orphan.ID)
	before := f.reloadUser(t, orphan.ID)

	report := f.reconcile(t, []User{
		{ProviderID: "sub-new", Email: "other@example.com", Name: "O"},
	}, Options{})

	assert.Equal(t, 0, report.Suspended)
	assert.Equal(t, 1, report.Unchanged)

	after := f.reloadUser(t, orphan.ID)
	require.NotNil(t, after.SuspendedAt)
	assert.Equal(t, before.SuspendedAt.Unix(), after.SuspendedAt.Unix())
}

func TestReconcileReactivatesReturningUser(t *testing.T) {
	f := newFixture(t)
	user := f.addLinkedUser(t, "back@example.com", "Back", "sub-back")
	f.suspendUser(t, user.ID)

	report := f.reconcile(t, []User{
		{ProviderID: "sub-back", Email: "back@example.com", Name: "Back"},
	}, Options{})

	assert.Equal(t, 1, report.Reactivated)
	assert.Equal(t, 0, report.Updated)
	assert.Equal(t, 1, report.Unchanged)
	assert.Nil(t, f.reloadUser(t, user.ID).SuspendedAt)
}

func TestReconcileCountsUpdateAndReactivationOnce(t *testing.T) {
	f := newFixture(t)
	user := f.addLinkedUser(t, "back@example.com", "Old", "sub-back")
	f.suspendUser(t, user.ID)

	report := f.reconcile(t, []User{
		{ProviderID: "sub-back", Email: "back@example.com", Name: "New"},
	}, Options{})

	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Reactivated)
	assert.Equal(t, 0, report.Unchanged)

	got := f.reloadUser(t, user.ID)
	assert.Equal(t, "New", got.Name)
	assert.Nil(t, got.SuspendedAt)
}

func TestReconcileLinksInvitedUserByEmail(t *testing.T) {
	f := newFixture(t)
	invited := f.addUser(t, "invited@example.com", "Placeholder")

	report := f.reconcile(t, []User{
		{ProviderID: "sub-inv", Email: "invited@example.com", Name: "Invited"},
	}, Options{})

	assert.Equal(t, 0, report.Created)
	assert.Equal(t, 1, report.Updated)

	subjects := f.linkedSubjects(t)
	assert.Equal(t, "sub-inv", subjects["invited@example.com"])
	assert.Equal(t, "Invited", f.reloadUser(t, invited.ID).Name)
}

func TestReconcileRefusesEmptySnapshot(t *testing.T) {
	f := newFixture(t)
	user := f.addLinkedUser(t, "keep@example.com", "Keep", "sub-keep")

	report := f.reconcile(t, nil, Options{})

	assert.Equal(t, 0, report.Suspended)
	assert.Equal(t, 0, report.Total())
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "empty user list")
	assert.Nil(t, f.reloadUser(t, user.ID).SuspendedAt)
}

func TestReconcileSkipsEntriesWithoutEmail(t *testing.T) {
	f := newFixture(t)

	report := f.reconcile(t, []User{
		{ProviderID: "sub-nomail", Name: "NoMail"},
		{ProviderID: "sub-v", Email: "v@example.com", Name: "V"},
	}, Options{})

	assert.Equal(t, 1, report.Created)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "no email")

	subjects := f.linkedSubjects(t)
	assert.Equal(t, map[string]string{"v@example.com": "sub-v"}, subjects)
}

func TestReconcileMatchesEmailCaseInsensitively(t *testing.T) {
	f := newFixture(t)
	user := f.addUser(t, "test@example.com", "Test")

	report := f.reconcile(t, []User{
		{ProviderID: "sub-t", Email: "TEST@EXAMPLE.COM", Name: "Test"},
	}, Options{})

	assert.Equal(t, 1, report.Unchanged)
	assert.Equal(t, 0, report.Created)
	assert.Equal(t, 0, report.Updated)

	// Same address, new casing: the directory adopts the provider's spelling
	// without it counting as an update.
	assert.Equal(t, "TEST@EXAMPLE.COM", f.reloadUser(t, user.ID).Email)
}

func TestReconcileKeepsIdenticalCasing(t *testing.T) {
	f := newFixture(t)
	user := f.addLinkedUser(t, "same@example.com", "Same", "sub-s")

	report := f.reconcile(t, []User{
		{ProviderID: "sub-s", Email: "same@example.com", Name: "Same"},
	}, Options{})

	assert.Equal(t, 1, report.Unchanged)
	assert.Equal(t, "same@example.com", f.reloadUser(t, user.ID).Email)
}

func TestReconcileUnknownTeam(t *testing.T) {
	f := newFixture(t)

	report := f.engine.Reconcile(context.Background(), uuid.New(), f.provider.ID,
		[]User{{ProviderID: "sub-a", Email: "a@example.com", Name: "A"}}, Options{})

	assert.Equal(t, 0, report.Total())
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "Team")
	assert.Contains(t, report.Errors[0], "not found")
}

func TestReconcileUnknownProvider(t *testing.T) {
	f := newFixture(t)

	report := f.engine.Reconcile(context.Background(), f.team.ID, uuid.New(),
		[]User{{ProviderID: "sub-a", Email: "a@example.com", Name: "A"}}, Options{})

	assert.Equal(t, 0, report.Total())
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "Authentication provider")
	assert.Contains(t, report.Errors[0], "not found")
}

func TestReconcileRejectsForeignProvider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other := &db.Team{Name: "globex", DefaultUserRole: db.RoleMember}
	require.NoError(t, f.store.Teams.Create(ctx, other))
	foreign := &db.AuthenticationProvider{TeamID: other.ID, Name: db.ProviderNameOIDC, Enabled: true}
	require.NoError(t, f.store.AuthProviders.Create(ctx, foreign))

	report := f.engine.Reconcile(ctx, f.team.ID, foreign.ID,
		[]User{{ProviderID: "sub-a", Email: "a@example.com", Name: "A"}}, Options{})

	assert.Equal(t, 0, report.Total())
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "Authentication provider")
	assert.Contains(t, report.Errors[0], "not found")
}

func TestReconcileNeverTouchesOtherTeams(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other := &db.Team{Name: "globex", DefaultUserRole: db.RoleMember}
	require.NoError(t, f.store.Teams.Create(ctx, other))
	twin := &db.User{TeamID: other.ID, Email: "a@example.com", Name: "Twin", Role: db.RoleMember}
	require.NoError(t, f.store.Users.Create(ctx, twin))

	report := f.reconcile(t, []User{
		{ProviderID: "sub-a", Email: "a@example.com", Name: "A"},
	}, Options{})

	// The same address in another team is invisible here: a new user is
	// created in this team and the other team's user keeps its name.
	assert.Equal(t, 1, report.Created)

	got, err := f.store.Users.GetByID(ctx, twin.ID)
	require.NoError(t, err)
	assert.Equal(t, "Twin", got.Name)
}

func TestReconcileContinuesAfterUserFailure(t *testing.T) {
	f := newFixture(t)

	// Two subjects claiming one email: the first one creates the user and
	// the second one fails linking (one authentication per provider and
	// user). The failure must not abort the remaining entries.
	report := f.reconcile(t, []User{
		{ProviderID: "sub-1", Email: "dup@example.com", Name: "Dup"},
		{ProviderID: "sub-2", Email: "dup@example.com", Name: "Dup"},
		{ProviderID: "sub-3", Email: "ok@example.com", Name: "OK"},
	}, Options{})

	assert.Equal(t, 2, report.Created)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "dup@example.com")

	subjects := f.linkedSubjects(t)
	assert.Equal(t, "sub-1", subjects["dup@example.com"])
	assert.Equal(t, "sub-3", subjects["ok@example.com"])
}

// ---------------------------------------------------------------------------
// Avatar handling
// ---------------------------------------------------------------------------

func TestReconcileAdoptsAvatarWhenEmpty(t *testing.T) {
	f := newFixture(t)
	user := f.addLinkedUser(t, "a@example.com", "A", "sub-a")

	report := f.reconcile(t, []User{
		{ProviderID: "sub-a", Email: "a@example.com", Name: "A", AvatarURL: "https://idp.example.com/a.png"},
	}, Options{})

	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, "https://idp.example.com/a.png", f.reloadUser(t, user.ID).AvatarURL)
}

func TestReconcileNeverClobbersCustomAvatar(t *testing.T) {
	f := newFixture(t)
	user := f.addLinkedUser(t, "a@example.com", "A", "sub-a")
	user.AvatarURL = "https://cdn.example.com/uploads/me.png"
	require.NoError(t, f.store.Users.Update(context.Background(), user))

	report := f.reconcile(t, []User{
		{ProviderID: "sub-a", Email: "a@example.com", Name: "A", AvatarURL: "https://idp.example.com/new.png"},
	}, Options{})

	assert.Equal(t, 1, report.Unchanged)
	assert.Equal(t, 0, report.Updated)
	assert.Equal(t, "https://cdn.example.com/uploads/me.png", f.reloadUser(t, user.ID).AvatarURL)
}

func TestReconcileReplacesProviderSourcedAvatar(t *testing.T) {
	f := newFixture(t)
	user := f.addLinkedUser(t, "a@example.com", "A", "sub-a")
	user.AvatarURL = "https://keycloak.corp.example.com/avatars/old.png"
	require.NoError(t, f.store.Users.Update(context.Background(), user))

	report := f.reconcile(t, []User{
		{ProviderID: "sub-a", Email: "a@example.com", Name: "A", AvatarURL: "https://keycloak.corp.example.com/avatars/new.png"},
	}, Options{})

	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, "https://keycloak.corp.example.com/avatars/new.png", f.reloadUser(t, user.ID).AvatarURL)
}

func TestReconcileHonorsCustomAvatarHints(t *testing.T) {
	f := newFixture(t)
	f.engine = New(f.store, []string{" Gravatar "}, zap.NewNop())

	user := f.addLinkedUser(t, "a@example.com", "A", "sub-a")
	user.AvatarURL = "https://www.gravatar.com/avatar/abc"
	require.NoError(t, f.store.Users.Update(context.Background(), user))

	report := f.reconcile(t, []User{
		{ProviderID: "sub-a", Email: "a@example.com", Name: "A", AvatarURL: "https://idp.example.com/new.png"},
	}, Options{})

	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, "https://idp.example.com/new.png", f.reloadUser(t, user.ID).AvatarURL)
}

// ---------------------------------------------------------------------------
// Default group assignment
// ---------------------------------------------------------------------------

func TestReconcileAddsNewUsersToGroupByID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	group := &db.Group{TeamID: f.team.ID, Name: "Everyone"}
	require.NoError(t, f.store.Groups.Create(ctx, group))

	report := f.reconcile(t, []User{
		{ProviderID: "sub-a", Email: "a@example.com", Name: "A"},
	}, Options{DefaultGroupID: &group.ID})

	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.AddedToGroup)
	assert.Empty(t, report.Errors)
}

func TestReconcileAddsNewUsersToGroupByName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	group := &db.Group{TeamID: f.team.ID, Name: "Everyone"}
	require.NoError(t, f.store.Groups.Create(ctx, group))

	report := f.reconcile(t, []User{
		{ProviderID: "sub-a", Email: "a@example.com", Name: "A"},
	}, Options{DefaultGroupName: "Everyone"})

	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.AddedToGroup)
}

func TestReconcileSkipsUnresolvableGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	group := &db.Group{TeamID: f.team.ID, Name: "Everyone"}
	require.NoError(t, f.store.Groups.Create(ctx, group))

	// An unresolvable ID wins over a resolvable name: the ID was configured
	// explicitly, so silently falling back to the name would assign the
	// wrong group.
	missing := uuid.New()
	report := f.reconcile(t, []User{
		{ProviderID: "sub-a", Email: "a@example.com", Name: "A"},
	}, Options{DefaultGroupID: &missing, DefaultGroupName: "Everyone"})

	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 0, report.AddedToGroup)
	assert.Empty(t, report.Errors)
}

func TestReconcileDoesNotAddLinkedUsersToGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	group := &db.Group{TeamID: f.team.ID, Name: "Everyone"}
	require.NoError(t, f.store.Groups.Create(ctx, group))
	f.addUser(t, "invited@example.com", "Invited")

	report := f.reconcile(t, []User{
		{ProviderID: "sub-inv", Email: "invited@example.com", Name: "Invited"},
	}, Options{DefaultGroupID: &group.ID})

	// Group assignment is a creation-time step only.
	assert.Equal(t, 0, report.Created)
	assert.Equal(t, 0, report.AddedToGroup)
}

func TestReconcileAppliesTeamDefaultRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	viewers := &db.Team{Name: "viewers-only", DefaultUserRole: db.RoleViewer}
	require.NoError(t, f.store.Teams.Create(ctx, viewers))
	binding := &db.AuthenticationProvider{TeamID: viewers.ID, Name: db.ProviderNameOIDC, Enabled: true}
	require.NoError(t, f.store.AuthProviders.Create(ctx, binding))

	report := f.engine.Reconcile(ctx, viewers.ID, binding.ID,
		[]User{{ProviderID: "sub-a", Email: "a@example.com", Name: "A"}}, Options{})
	require.Equal(t, 1, report.Created)

	user, err := f.store.Users.GetByEmail(ctx, viewers.ID, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, db.RoleViewer, user.Role)
}

func TestReportTotal(t *testing.T) {
	r := &Report{Created: 1, Updated: 2, Suspended: 3, Reactivated: 4, Unchanged: 5, AddedToGroup: 6}
	// AddedToGroup overlaps with Created and is deliberately excluded.
	assert.Equal(t, 15, r.Total())

	empty := &Report{}
	empty.errorf("boom %d", 1)
	assert.Equal(t, 0, empty.Total())
	assert.Equal(t, []string{"boom 1"}, empty.Errors)
}
