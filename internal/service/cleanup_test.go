package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"magicart-access-api/internal/model"
)

func TestCleanupScheduler_PrunesOnlyOldExpiredRecords(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	now := env.clock.Now()

	require.NoError(t, env.store.Bans().Append(ctx,
		NewRecord(model.BanKindNetwork, "old", time.Hour, now.Add(-200*24*time.Hour)),
		NewRecord(model.BanKindNetwork, "recent", time.Hour, now.Add(-2*24*time.Hour)),
		NewRecord(model.BanKindDevice, "active", 365*24*time.Hour, now),
	))

	s := NewCleanupScheduler(env.store.Bans(), CleanupConfig{Retention: 90 * 24 * time.Hour, Interval: time.Hour}, env.clock.Now, nil)
	deleted, err := s.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	left, err := env.ledger.List(ctx)
	require.NoError(t, err)
	require.Len(t, left, 2)
	for _, r := range left {
		assert.NotEqual(t, "old", r.Surrogate)
	}
}

func TestCleanupScheduler_StartStop(t *testing.T) {
	env := newTestEnv(t, nil)
	s := NewCleanupScheduler(env.store.Bans(), CleanupConfig{}, nil, nil)

	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
}
