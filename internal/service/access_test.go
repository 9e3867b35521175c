package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"magicart-access-api/internal/model"
)

var (
	envA = model.Identity{Network: "192.168.1.10", Device: "HWID-AAAA"}
	envB = model.Identity{Network: "192.168.1.20", Device: "HWID-BBBB"}
)

func TestEngine_CarlRedeemsUnboundKey(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, sequentialKeys("VIP-AAAA-BBBB-CCCC"))
	env.register(t, "carl", envA)

	key, err := env.engine.IssueKey(ctx, testImmune, model.TierVIP, "")
	require.NoError(t, err)
	assert.Equal(t, "VIP-AAAA-BBBB-CCCC", key.Value)

	tier, err := env.engine.RedeemKey(ctx, "carl", envA, "VIP-AAAA-BBBB-CCCC")
	require.NoError(t, err)
	assert.Equal(t, model.TierVIP, tier)
	assert.Equal(t, model.TierVIP, env.account(t, "carl").Tier)

	present, err := env.licenses.Contains(ctx, "VIP-AAAA-BBBB-CCCC")
	require.NoError(t, err)
	assert.False(t, present)
}

func TestEngine_RedemptionIsAtMostOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, sequentialKeys("SSVIP-K1K1-K1K1-K1K1"))
	env.register(t, "dana", envA)

	_, err := env.engine.IssueKey(ctx, testImmune, model.TierSSVIP, "")
	require.NoError(t, err)

	_, err = env.engine.RedeemKey(ctx, "dana", envA, "SSVIP-K1K1-K1K1-K1K1")
	require.NoError(t, err)

	_, err = env.engine.RedeemKey(ctx, "dana", envA, "SSVIP-K1K1-K1K1-K1K1")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.Equal(t, 1, env.account(t, "dana").FailedKeyAttempts)
}

func TestEngine_ConcurrentRedemptionSucceedsOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, sequentialKeys("INFINITY-RACE-RACE-RACE"))
	env.register(t, "u1", envA)
	env.register(t, "u2", envB)

	_, err := env.engine.IssueKey(ctx, testImmune, model.TierInfinity, "")
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for _, u := range []struct {
		name string
		id   model.Identity
	}{{"u1", envA}, {"u2", envB}} {
		wg.Add(1)
		go func(name string, id model.Identity) {
			defer wg.Done()
			if _, err := env.engine.RedeemKey(ctx, name, id, "INFINITY-RACE-RACE-RACE"); err == nil {
				wins.Add(1)
			}
		}(u.name, u.id)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestEngine_WrongOwnerKeepsKeyAndCountsFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, sequentialKeys("VIP-BIND-BIND-BIND"))
	env.register(t, "alice", envA)
	env.register(t, "bob", envB)

	_, err := env.engine.IssueKey(ctx, testImmune, model.TierVIP, "alice")
	require.NoError(t, err)

	_, err = env.engine.RedeemKey(ctx, "bob", envB, "VIP-BIND-BIND-BIND")
	assert.ErrorIs(t, err, ErrKeyWrongOwner)
	assert.Equal(t, 1, env.account(t, "bob").FailedKeyAttempts)

	present, err := env.licenses.Contains(ctx, "VIP-BIND-BIND-BIND")
	require.NoError(t, err)
	assert.True(t, present)

	tier, err := env.engine.RedeemKey(ctx, "alice", envA, "VIP-BIND-BIND-BIND")
	require.NoError(t, err)
	assert.Equal(t, model.TierVIP, tier)
}

func TestEngine_SuccessResetsFailures(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, sequentialKeys("VIP-OKOK-OKOK-OKOK"))
	env.register(t, "erin", envA)

	for i := 0; i < 2; i++ {
		_, err := env.engine.RedeemKey(ctx, "erin", envA, "BOGUS")
		require.ErrorIs(t, err, ErrKeyNotFound)
	}
	assert.Equal(t, 2, env.account(t, "erin").FailedKeyAttempts)

	_, err := env.engine.IssueKey(ctx, testImmune, model.TierVIP, "")
	require.NoError(t, err)
	_, err = env.engine.RedeemKey(ctx, "erin", envA, "VIP-OKOK-OKOK-OKOK")
	require.NoError(t, err)
	assert.Equal(t, 0, env.account(t, "erin").FailedKeyAttempts)
}

func TestEngine_ThreeFailuresTemporaryBan(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.register(t, "frank", envA)
	now := env.clock.Now()

	for i := 0; i < 3; i++ {
		_, err := env.engine.RedeemKey(ctx, "frank", envA, "NOPE")
		require.ErrorIs(t, err, ErrKeyNotFound)
	}

	frank := env.account(t, "frank")
	assert.Equal(t, 3, frank.FailedKeyAttempts)
	require.NotNil(t, frank.BannedUntil)
	assert.WithinDuration(t, now.Add(10*time.Minute), *frank.BannedUntil, time.Second)
	assert.Equal(t, ReasonSpam, frank.BanReason)

	bans, err := env.ledger.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, bans, "isolated offender gets no hardware ban")

	status, err := env.engine.BanStatus(ctx, frank, envA)
	require.NoError(t, err)
	assert.True(t, status.Banned)
	assert.Equal(t, model.BanScopeAccount, status.Scope)

	_, err = env.engine.RedeemKey(ctx, "frank", envA, "NOPE")
	assert.ErrorIs(t, err, ErrBanned)
	assert.Equal(t, 3, env.account(t, "frank").FailedKeyAttempts, "banned attempts are not counted")

	env.clock.Advance(11 * time.Minute)
	status, err = env.engine.BanStatus(ctx, env.account(t, "frank"), envA)
	require.NoError(t, err)
	assert.False(t, status.Banned)
}

func TestEngine_CloneEscalation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	shared := model.Identity{Network: "192.168.1.50", Device: "HWID-SHARED"}
	env.register(t, "clone1", shared)
	env.register(t, "clone2", shared)
	now := env.clock.Now()

	for i := 0; i < 3; i++ {
		_, _ = env.engine.RedeemKey(ctx, "clone1", shared, "X")
	}
	require.True(t, env.account(t, "clone1").IsBannedAt(now))

	// the hardware surrogates are not banned yet, so clone2 can still try keys
	for i := 0; i < 3; i++ {
		_, err := env.engine.RedeemKey(ctx, "clone2", shared, "Y")
		require.ErrorIs(t, err, ErrKeyNotFound)
	}

	yearFromNow := now.Add(365 * 24 * time.Hour)
	for _, name := range []string{"clone1", "clone2"} {
		a := env.account(t, name)
		require.NotNil(t, a.BannedUntil, name)
		assert.WithinDuration(t, yearFromNow, *a.BannedUntil, time.Second, name)
		assert.Equal(t, ReasonEscalation, a.BanReason, name)
	}

	netBanned, err := env.ledger.IsNetworkBanned(ctx, shared.Network, now)
	require.NoError(t, err)
	assert.True(t, netBanned)
	devBanned, err := env.ledger.IsDeviceBanned(ctx, shared.Device, now)
	require.NoError(t, err)
	assert.True(t, devBanned)

	// a fresh account from the same environment is banned immediately
	fresh := env.register(t, "clone3", shared)
	status, err := env.engine.BanStatus(ctx, fresh, shared)
	require.NoError(t, err)
	assert.True(t, status.Banned)
	assert.Equal(t, model.BanScopeHardware, status.Scope)
	assert.Equal(t, ReasonHardware, status.Reason)
	require.NotNil(t, status.ExpiresAt)
	assert.WithinDuration(t, yearFromNow, *status.ExpiresAt, time.Second)
}

func TestEngine_EscalationAcrossDifferentSurrogates(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	// A and B share only the network surrogate
	a := model.Identity{Network: "192.168.1.77", Device: "HWID-A"}
	b := model.Identity{Network: "192.168.1.77", Device: "HWID-B"}
	env.register(t, "acct-a", a)
	env.register(t, "acct-b", b)
	now := env.clock.Now()

	for i := 0; i < 3; i++ {
		_, _ = env.engine.RedeemKey(ctx, "acct-a", a, "X")
	}
	for i := 0; i < 3; i++ {
		_, _ = env.engine.RedeemKey(ctx, "acct-b", b, "X")
	}

	for _, s := range []struct {
		kind model.BanKind
		val  string
	}{
		{model.BanKindNetwork, "192.168.1.77"},
		{model.BanKindDevice, "HWID-A"},
		{model.BanKindDevice, "HWID-B"},
	} {
		active, err := env.store.Bans().Active(ctx, s.kind, s.val, now)
		require.NoError(t, err)
		assert.Len(t, active, 1, "%s %s", s.kind, s.val)
	}
	assert.True(t, env.account(t, "acct-a").BannedUntil.After(now.Add(300*24*time.Hour)))
	assert.True(t, env.account(t, "acct-b").BannedUntil.After(now.Add(300*24*time.Hour)))
}

func TestEngine_RepeatEscalationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	shared := model.Identity{Network: "192.168.1.51", Device: "HWID-IDEM"}
	// other environment so the later accounts are not hardware-banned at redemption time
	elsewhere := model.Identity{Network: "192.168.1.52", Device: "HWID-ELSE"}
	env.register(t, "r1", shared)
	env.register(t, "r2", shared)

	for _, name := range []string{"r1", "r2"} {
		for i := 0; i < 3; i++ {
			_, _ = env.engine.RedeemKey(ctx, name, elsewhere, "X")
		}
	}
	before, err := env.ledger.List(ctx)
	require.NoError(t, err)
	require.Len(t, before, 2)

	env.clock.Advance(time.Hour)
	env.register(t, "r3", shared)
	for i := 0; i < 3; i++ {
		_, _ = env.engine.RedeemKey(ctx, "r3", elsewhere, "X")
	}

	after, err := env.ledger.List(ctx)
	require.NoError(t, err)
	assert.Len(t, after, 2, "already banned surrogates are not recorded again")

	expiry, err := env.ledger.EffectiveExpiry(ctx, shared.Network, shared.Device, env.clock.Now())
	require.NoError(t, err)
	require.NotNil(t, expiry)
	assert.True(t, expiry.Equal(*env.account(t, "r3").BannedUntil))
}

func TestEngine_ImmunePrincipal(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.register(t, "mallory", envA)

	_, err := env.engine.RedeemKey(ctx, testImmune, envA, "WHATEVER")
	assert.ErrorIs(t, err, ErrProtected)

	err = env.engine.AdminBan(ctx, testImmune, testImmune)
	assert.ErrorIs(t, err, ErrProtected)

	// hardware-ban the instance the immune principal is running on
	require.NoError(t, env.engine.AdminBan(ctx, testImmune, "mallory"))

	immune := env.account(t, testImmune)
	assert.Equal(t, model.TierInfinity, immune.Tier)
	assert.True(t, immune.IsAdmin)
	assert.Nil(t, immune.BannedUntil)
	assert.Equal(t, 0, immune.FailedKeyAttempts)

	status, err := env.engine.BanStatus(ctx, immune, envA)
	require.NoError(t, err)
	assert.False(t, status.Banned)

	decision, err := env.engine.GateTool(ctx, immune, envA, model.ToolAIReal)
	require.NoError(t, err)
	assert.Equal(t, model.GateAllowed, decision)
}

func TestEngine_AdminBan(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.register(t, "target", envA)
	env.register(t, "peer", envB)
	now := env.clock.Now()

	assert.ErrorIs(t, env.engine.AdminBan(ctx, "peer", "target"), ErrUnauthorized)
	assert.ErrorIs(t, env.engine.AdminBan(ctx, "ghost", "target"), ErrUnauthorized)
	assert.ErrorIs(t, env.engine.AdminBan(ctx, testImmune, "nobody"), ErrAccountNotFound)

	require.NoError(t, env.engine.AdminBan(ctx, testImmune, "target"))

	target := env.account(t, "target")
	require.NotNil(t, target.BannedUntil)
	assert.WithinDuration(t, now.Add(365*24*time.Hour), *target.BannedUntil, time.Second)
	assert.Equal(t, ReasonAdmin, target.BanReason)

	net, err := env.ledger.IsNetworkBanned(ctx, envA.Network, now)
	require.NoError(t, err)
	dev, err := env.ledger.IsDeviceBanned(ctx, envA.Device, now)
	require.NoError(t, err)
	assert.True(t, net)
	assert.True(t, dev)

	status, err := env.engine.BanStatus(ctx, env.account(t, "peer"), envB)
	require.NoError(t, err)
	assert.False(t, status.Banned, "other environments are unaffected")
}

func TestEngine_IssueKeyRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.register(t, "pleb", envA)

	_, err := env.engine.IssueKey(ctx, "pleb", model.TierVIP, "")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = env.engine.IssueKey(ctx, testImmune, model.TierFree, "")
	assert.ErrorIs(t, err, ErrInvalidTier)

	key, err := env.engine.IssueKey(ctx, testImmune, model.TierSSVIP, "pleb")
	require.NoError(t, err)
	assert.Regexp(t, `^SSVIP-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`, key.Value)
	assert.Equal(t, "pleb", key.BoundUsername)
}

func TestEngine_GateTool(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	vip := env.register(t, "vip", envA)
	vip.Tier = model.TierVIP
	require.NoError(t, env.credentials.Update(ctx, vip))

	cases := []struct {
		account *model.Account
		tool    model.ToolID
		want    model.GateDecision
	}{
		{nil, model.ToolBrush, model.GateAllowed},
		{nil, model.ToolLine, model.GateDenied},
		{vip, model.ToolLine, model.GateAllowed},
		{vip, model.ToolRect, model.GateAllowed},
		{vip, model.ToolAirbrush, model.GateDenied},
		{vip, model.ToolID("laser"), model.GateDenied},
	}
	for _, tc := range cases {
		got, err := env.engine.GateTool(ctx, tc.account, envA, tc.tool)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%v %s", tc.account != nil, tc.tool)
	}

	require.NoError(t, env.engine.AdminBan(ctx, testImmune, "vip"))
	got, err := env.engine.GateTool(ctx, nil, envA, model.ToolBrush)
	require.NoError(t, err)
	assert.Equal(t, model.GateDenied, got, "hardware bans apply to anonymous sessions")
}

func TestDecideTool_MonotonicInTier(t *testing.T) {
	for _, tool := range model.Tools() {
		for i, tier := range model.Tiers() {
			if DecideTool(tier, tool.ID) != model.GateAllowed {
				continue
			}
			for _, higher := range model.Tiers()[i+1:] {
				assert.Equal(t, model.GateAllowed, DecideTool(higher, tool.ID), "%s at %s", tool.ID, higher)
			}
		}
	}
	for _, tool := range model.Tools() {
		assert.Equal(t, model.GateAllowed, DecideTool(model.TierInfinity, tool.ID))
	}
}

func TestEngine_RegisterDuplicate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.register(t, "gina", envA)

	_, err := env.engine.Register(ctx, "gina", "other", envB)
	assert.ErrorIs(t, err, ErrDuplicateUsername)

	_, err = env.engine.Register(ctx, testImmune, "x", envB)
	assert.ErrorIs(t, err, ErrDuplicateUsername)
}

func TestEngine_LoginStillWorksWhenBanned(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.register(t, "hank", envA)
	require.NoError(t, env.engine.AdminBan(ctx, testImmune, "hank"))

	a, err := env.engine.Login(ctx, "hank", "pw-hank")
	require.NoError(t, err)

	status, err := env.engine.BanStatus(ctx, a, envB)
	require.NoError(t, err)
	assert.True(t, status.Banned)
	assert.Equal(t, model.BanScopeAccount, status.Scope)
	assert.Equal(t, ReasonAdmin, status.Reason)

	_, err = env.engine.Login(ctx, "hank", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestEngine_EmptyKeyIsNotAnAttempt(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.register(t, "ivy", envA)

	_, err := env.engine.RedeemKey(ctx, "ivy", envA, "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, 0, env.account(t, "ivy").FailedKeyAttempts)
}
