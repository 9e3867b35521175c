package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"magicart-access-api/internal/metrics"
	"magicart-access-api/internal/model"
	"magicart-access-api/internal/repository"
)

const testImmune = "NPH"

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	store       *repository.SQLStore
	clock       *fakeClock
	credentials *CredentialStore
	licenses    *LicenseRegistry
	ledger      *BanLedger
	engine      *AccessEngine
	identity    *IdentityResolver
	session     *Session
	metrics     *metrics.Recorder
}

func newTestEnv(t *testing.T, generate KeyGenerator) *testEnv {
	t.Helper()

	store, err := repository.NewSQLiteStore(filepath.Join(t.TempDir(), "engine.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := newFakeClock()
	rec := metrics.New()
	credentials := NewCredentialStore(store.Accounts(), bcrypt.MinCost, clock.Now, nil)
	licenses := NewLicenseRegistry(store.Keys(), generate, clock.Now, nil)
	ledger := NewBanLedger(store.Bans())
	engine := NewAccessEngine(store, credentials, licenses, ledger, EngineConfig{
		ImmuneUsername: testImmune,
		Policy:         DefaultPolicy(),
		Now:            clock.Now,
		Metrics:        rec,
	})
	identity := NewIdentityResolver(store.Settings(), nil)

	require.NoError(t, credentials.Seed(context.Background(), testImmune, "immune-secret"))

	return &testEnv{
		store:       store,
		clock:       clock,
		credentials: credentials,
		licenses:    licenses,
		ledger:      ledger,
		engine:      engine,
		identity:    identity,
		session:     NewSession(engine, identity, 0, nil),
		metrics:     rec,
	}
}

// register creates an account bound to an explicit identity.
func (e *testEnv) register(t *testing.T, username string, id model.Identity) *model.Account {
	t.Helper()
	a, err := e.engine.Register(context.Background(), username, "pw-"+username, id)
	require.NoError(t, err)
	return a
}

func (e *testEnv) account(t *testing.T, username string) *model.Account {
	t.Helper()
	a, err := e.engine.Account(context.Background(), username)
	require.NoError(t, err)
	return a
}

// sequentialKeys returns a generator yielding values in order, then repeating the last.
func sequentialKeys(values ...string) KeyGenerator {
	var mu sync.Mutex
	i := 0
	return func(model.Tier) string {
		mu.Lock()
		defer mu.Unlock()
		v := values[i]
		if i < len(values)-1 {
			i++
		}
		return v
	}
}
