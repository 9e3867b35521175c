package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"magicart-access-api/internal/repository"
)

func TestIdentityResolver_StableAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "identity.db")

	store, err := repository.NewSQLiteStore(path, nil)
	require.NoError(t, err)

	first, err := NewIdentityResolver(store.Settings(), nil).Resolve(ctx)
	require.NoError(t, err)
	assert.Regexp(t, `^192\.168\.1\.\d{1,3}$`, first.Network)
	assert.Regexp(t, `^HWID-[0-9A-Z]{26}$`, first.Device)
	require.NoError(t, store.Close())

	store, err = repository.NewSQLiteStore(path, nil)
	require.NoError(t, err)
	defer store.Close()

	resolver := NewIdentityResolver(store.Settings(), nil)
	second, err := resolver.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	third, err := resolver.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestIdentityResolver_UsesPersistedValues(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	require.NoError(t, env.store.SetSetting(ctx, settingNetworkSurrogate, "10.0.0.1"))
	require.NoError(t, env.store.SetSetting(ctx, settingDeviceSurrogate, "HWID-FIXED"))

	id, err := NewIdentityResolver(env.store.Settings(), nil).Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", id.Network)
	assert.Equal(t, "HWID-FIXED", id.Device)
}
