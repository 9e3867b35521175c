package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"magicart-access-api/internal/model"
)

func TestCredentialStore_RegisterAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	id := model.Identity{Network: "192.168.1.9", Device: "HWID-CRED"}

	a, err := env.credentials.Register(ctx, "  judy ", "s3cret", id)
	require.NoError(t, err)
	assert.Equal(t, "judy", a.Username)
	assert.Equal(t, model.TierFree, a.Tier)
	assert.False(t, a.IsAdmin)
	assert.Equal(t, 0, a.FailedKeyAttempts)
	assert.Equal(t, id, a.Identity())
	assert.NotEqual(t, "s3cret", a.PasswordHash)

	got, err := env.credentials.Authenticate(ctx, "judy", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "judy", got.Username)

	_, err = env.credentials.Authenticate(ctx, "judy", "S3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = env.credentials.Authenticate(ctx, "nobody", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestCredentialStore_RejectsBadInput(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	for _, tc := range []struct{ username, secret string }{
		{"", "pw"},
		{"has space", "pw"},
		{strings.Repeat("x", 65), "pw"},
		{"ok", ""},
		{"ok", strings.Repeat("p", 73)},
	} {
		_, err := env.credentials.Register(ctx, tc.username, tc.secret, model.Identity{})
		assert.ErrorIs(t, err, ErrInvalidInput, "%q", tc.username)
	}
}

func TestCredentialStore_SeedImmunePrincipal(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	immune := env.account(t, testImmune)
	assert.Equal(t, model.TierInfinity, immune.Tier)
	assert.True(t, immune.IsAdmin)
	assert.Equal(t, ImmuneNetworkSurrogate, immune.NetworkSurrogate)
	assert.Equal(t, ImmuneDeviceSurrogate, immune.DeviceSurrogate)

	// seeding again leaves the record alone
	require.NoError(t, env.credentials.Seed(ctx, testImmune, "different"))
	_, err := env.credentials.Authenticate(ctx, testImmune, "immune-secret")
	assert.NoError(t, err)
}

func TestCredentialStore_SeedGeneratesSecret(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	require.NoError(t, env.credentials.Seed(ctx, "root", ""))
	root := env.account(t, "root")
	assert.True(t, root.IsAdmin)
	assert.NotEmpty(t, root.PasswordHash)
}
