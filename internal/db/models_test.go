package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSyncSettingsDecode(t *testing.T) {
	p := &AuthenticationProvider{
		Settings: `{"syncDefaultGroupId":"00000000-0000-0000-0000-000000000001","syncDefaultGroupName":"Everyone"}`,
	}
	s, err := p.SyncSettings()
	require.NoError(t, err)
	require.Equal(t, "00000000-0000-0000-0000-000000000001", s.DefaultGroupID)
	require.Equal(t, "Everyone", s.DefaultGroupName)
}

func TestSyncSettingsEmptyAndDefault(t *testing.T) {
	for _, settings := range []string{"", "{}"} {
		p := &AuthenticationProvider{Settings: settings}
		s, err := p.SyncSettings()
		require.NoError(t, err)
		require.Zero(t, s)
	}
}

func TestSyncSettingsIgnoresUnrelatedKeys(t *testing.T) {
	p := &AuthenticationProvider{
		Settings: `{"clientId":"web","syncDefaultGroupName":"Staff"}`,
	}
	s, err := p.SyncSettings()
	require.NoError(t, err)
	require.Empty(t, s.DefaultGroupID)
	require.Equal(t, "Staff", s.DefaultGroupName)
}

func TestSyncSettingsMalformed(t *testing.T) {
	p := &AuthenticationProvider{Settings: `{not json`}
	_, err := p.SyncSettings()
	require.Error(t, err)
}

func TestUserSuspended(t *testing.T) {
	var u User
	require.False(t, u.Suspended())

	now := time.Now()
	u.SuspendedAt = &now
	require.True(t, u.Suspended())
}
