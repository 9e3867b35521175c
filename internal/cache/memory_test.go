package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryCache_SetGetExpire(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewMemoryCache(WithClock(clock.Now))
	defer c.Close()

	value := []byte("hello")
	require.NoError(t, c.Set(ctx, "k", value, time.Minute))
	value[0] = 'j'

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got, "stored values are copies")

	ok, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	clock.Advance(time.Minute)
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
	ok, err = c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCache_TouchAndDelete(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewMemoryCache(WithClock(clock.Now))
	defer c.Close()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	clock.Advance(50 * time.Second)
	require.NoError(t, c.Touch(ctx, "k", time.Minute))
	clock.Advance(50 * time.Second)

	_, err := c.Get(ctx, "k")
	assert.NoError(t, err)

	assert.ErrorIs(t, c.Touch(ctx, "missing", time.Minute), ErrCacheMiss)

	require.NoError(t, c.Delete(ctx, "k"))
	require.NoError(t, c.Delete(ctx, "k"))
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCache_SweepRemovesExpired(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewMemoryCache(WithClock(clock.Now), WithSweepInterval(time.Hour))
	defer c.Close()

	require.NoError(t, c.Set(ctx, "short", []byte("1"), time.Second))
	require.NoError(t, c.Set(ctx, "long", []byte("2"), time.Hour))
	clock.Advance(time.Minute)

	c.removeExpired()

	c.mu.RLock()
	_, shortLeft := c.entries["short"]
	_, longLeft := c.entries["long"]
	c.mu.RUnlock()
	assert.False(t, shortLeft)
	assert.True(t, longLeft)
}
