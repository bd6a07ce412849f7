package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rosterhq/roster/internal/db"
)

func (f *apiFixture) seedUser(t *testing.T, teamID uuid.UUID, email, name string, created time.Time) *db.User {
	t.Helper()

	user := &db.User{
		TeamID: teamID,
		Email:  email,
		Name:   name,
		Role:   db.RoleMember,
	}
	user.CreatedAt = created
	require.NoError(t, f.store.Users.Create(context.Background(), user))
	return user
}

func TestListUsers(t *testing.T) {
	f := newAPIFixture(t, "")
	ctx := context.Background()

	otherTeam := &db.Team{Name: "globex", DefaultUserRole: db.RoleMember}
	require.NoError(t, f.store.Teams.Create(ctx, otherTeam))

	base := time.Now().UTC().Truncate(time.Second)
	alice := f.seedUser(t, f.team.ID, "alice@example.com", "Alice Cooper", base.Add(-2*time.Hour))
	bob := f.seedUser(t, f.team.ID, "bob@example.com", "Bob Dylan", base.Add(-time.Hour))
	f.seedUser(t, otherTeam.ID, "carol@example.com", "Carol King", base)

	require.NoError(t, f.store.Users.Suspend(ctx, bob.ID, base, nil))

	t.Run("scoped to team, oldest first", func(t *testing.T) {
		rec := f.get(t, "/api/v1/users?team_id="+f.team.ID.String(), "")
		require.Equal(t, http.StatusOK, rec.Code)

		list := decodeData[listUsersResponse](t, rec)
		assert.EqualValues(t, 2, list.Total)
		require.Len(t, list.Items, 2)
		assert.Equal(t, alice.ID.String(), list.Items[0].ID)
		assert.Equal(t, "alice@example.com", list.Items[0].Email)
		assert.False(t, list.Items[0].Suspended)
		assert.Nil(t, list.Items[0].SuspendedAt)
		assert.Equal(t, "Bob Dylan", list.Items[1].Name)
		assert.True(t, list.Items[1].Suspended)
		assert.NotNil(t, list.Items[1].SuspendedAt)
	})

	t.Run("other team sees only its own users", func(t *testing.T) {
		rec := f.get(t, "/api/v1/users?team_id="+otherTeam.ID.String(), "")
		require.Equal(t, http.StatusOK, rec.Code)

		list := decodeData[listUsersResponse](t, rec)
		assert.EqualValues(t, 1, list.Total)
		require.Len(t, list.Items, 1)
		assert.Equal(t, "carol@example.com", list.Items[0].Email)
	})

	t.Run("missing team_id", func(t *testing.T) {
		rec := f.get(t, "/api/v1/users", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "team_id is required", decodeError(t, rec).Message)
	})

	t.Run("malformed team_id", func(t *testing.T) {
		rec := f.get(t, "/api/v1/users?team_id=nope", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "bad_request", decodeError(t, rec).Code)
	})

	t.Run("pagination", func(t *testing.T) {
		rec := f.get(t, "/api/v1/users?team_id="+f.team.ID.String()+"&limit=1&offset=1", "")
		require.Equal(t, http.StatusOK, rec.Code)

		list := decodeData[listUsersResponse](t, rec)
		assert.EqualValues(t, 2, list.Total)
		require.Len(t, list.Items, 1)
		assert.Equal(t, bob.ID.String(), list.Items[0].ID)
	})
}

func TestGetUser(t *testing.T) {
	f := newAPIFixture(t, "")

	user := f.seedUser(t, f.team.ID, "dana@example.com", "Dana Scully", time.Now().UTC())
	user.AvatarURL = "https://cdn.example.com/dana.png"
	require.NoError(t, f.store.Users.Update(context.Background(), user))

	t.Run("found", func(t *testing.T) {
		rec := f.get(t, "/api/v1/users/"+user.ID.String(), "")
		require.Equal(t, http.StatusOK, rec.Code)

		got := decodeData[userResponse](t, rec)
		assert.Equal(t, user.ID.String(), got.ID)
		assert.Equal(t, f.team.ID.String(), got.TeamID)
		assert.Equal(t, "dana@example.com", got.Email)
		assert.Equal(t, "Dana Scully", got.Name)
		assert.Equal(t, "https://cdn.example.com/dana.png", got.AvatarURL)
		assert.Equal(t, db.RoleMember, got.Role)
		assert.False(t, got.Suspended)
	})

	t.Run("unknown id", func(t *testing.T) {
		rec := f.get(t, "/api/v1/users/"+uuid.NewString(), "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed id", func(t *testing.T) {
		rec := f.get(t, "/api/v1/users/nope", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
