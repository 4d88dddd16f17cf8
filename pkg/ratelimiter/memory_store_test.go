package ratelimiter_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mfa/pkg/ratelimiter"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryStore_ConsumeTokens(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	config := ratelimiter.Config{
		Capacity:       10,
		RefillRate:     2,
		RefillInterval: time.Minute,
	}

	t.Run("creates new bucket with full capacity", func(t *testing.T) {
		t.Parallel()
		clock := newFakeClock()
		store := ratelimiter.NewMemoryStore(ratelimiter.WithMemoryStoreClock(clock.Now))

		remaining, resetAt, err := store.ConsumeTokens(ctx, "new-key", 3, config)
		require.NoError(t, err)
		assert.Equal(t, 7, remaining)
		assert.Equal(t, clock.Now().Add(time.Minute), resetAt)
	})

	t.Run("goes negative when overdrawn", func(t *testing.T) {
		t.Parallel()
		store := ratelimiter.NewMemoryStore()

		remaining, _, err := store.ConsumeTokens(ctx, "k", 4, config)
		require.NoError(t, err)
		assert.Equal(t, 6, remaining)

		remaining, _, err = store.ConsumeTokens(ctx, "k", 8, config)
		require.NoError(t, err)
		assert.Equal(t, -2, remaining)
	})

	t.Run("refills per elapsed interval", func(t *testing.T) {
		t.Parallel()
		clock := newFakeClock()
		store := ratelimiter.NewMemoryStore(ratelimiter.WithMemoryStoreClock(clock.Now))

		remaining, _, err := store.ConsumeTokens(ctx, "k", config.Capacity, config)
		require.NoError(t, err)
		assert.Equal(t, 0, remaining)

		clock.Advance(time.Minute + time.Second)
		remaining, _, err = store.ConsumeTokens(ctx, "k", 0, config)
		require.NoError(t, err)
		assert.Equal(t, 2, remaining)

		clock.Advance(3 * time.Minute)
		remaining, _, err = store.ConsumeTokens(ctx, "k", 0, config)
		require.NoError(t, err)
		assert.Equal(t, 8, remaining)
	})

	t.Run("caps tokens at capacity", func(t *testing.T) {
		t.Parallel()
		clock := newFakeClock()
		store := ratelimiter.NewMemoryStore(ratelimiter.WithMemoryStoreClock(clock.Now))

		_, _, err := store.ConsumeTokens(ctx, "k", 5, config)
		require.NoError(t, err)

		clock.Advance(24 * time.Hour)
		remaining, _, err := store.ConsumeTokens(ctx, "k", 0, config)
		require.NoError(t, err)
		assert.Equal(t, config.Capacity, remaining)
	})

	t.Run("keys are isolated", func(t *testing.T) {
		t.Parallel()
		store := ratelimiter.NewMemoryStore()

		_, _, err := store.ConsumeTokens(ctx, "a", 10, config)
		require.NoError(t, err)

		remaining, _, err := store.ConsumeTokens(ctx, "b", 1, config)
		require.NoError(t, err)
		assert.Equal(t, 9, remaining)
	})
}

func TestMemoryStore_IntegerOverflowPrevention(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := ratelimiter.NewMemoryStore(ratelimiter.WithMemoryStoreClock(clock.Now))
	config := ratelimiter.Config{
		Capacity:       1 << 30,
		RefillRate:     1 << 29,
		RefillInterval: time.Nanosecond,
	}

	_, _, err := store.ConsumeTokens(context.Background(), "k", 1<<30, config)
	require.NoError(t, err)

	clock.Advance(100 * 365 * 24 * time.Hour)
	remaining, _, err := store.ConsumeTokens(context.Background(), "k", 0, config)
	require.NoError(t, err)
	assert.Equal(t, config.Capacity, remaining)
}

func TestMemoryStore_Reset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := ratelimiter.NewMemoryStore()
	config := ratelimiter.Config{Capacity: 3, RefillRate: 1, RefillInterval: time.Hour}

	_, _, err := store.ConsumeTokens(ctx, "k", 3, config)
	require.NoError(t, err)

	require.NoError(t, store.Reset(ctx, "k"))

	remaining, _, err := store.ConsumeTokens(ctx, "k", 0, config)
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)

	assert.NoError(t, store.Reset(ctx, "missing"))
}

func TestMemoryStore_RemoveStale(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	store := ratelimiter.NewMemoryStore(
		ratelimiter.WithMemoryStoreClock(clock.Now),
		ratelimiter.WithStaleAfter(10*time.Minute),
	)
	config := ratelimiter.Config{Capacity: 3, RefillRate: 1, RefillInterval: time.Minute}

	_, _, err := store.ConsumeTokens(ctx, "old", 1, config)
	require.NoError(t, err)

	clock.Advance(9 * time.Minute)
	_, _, err = store.ConsumeTokens(ctx, "fresh", 1, config)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, store.RemoveStale())

	stats := store.Stats()
	assert.Equal(t, int64(2), stats.BucketsCreated)
	assert.Equal(t, int64(1), stats.BucketsRemoved)
	assert.Equal(t, 1, stats.ActiveBuckets)
}

func TestMemoryStore_StartStop(t *testing.T) {
	t.Parallel()

	t.Run("start and stop", func(t *testing.T) {
		t.Parallel()
		store := ratelimiter.NewMemoryStore(ratelimiter.WithCleanupInterval(10 * time.Millisecond))

		errCh := make(chan error, 1)
		go func() { errCh <- store.Start(context.Background()) }()

		require.Eventually(t, func() bool { return store.Stats().IsRunning }, time.Second, 5*time.Millisecond)
		require.NoError(t, store.Stop())

		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(time.Second):
			t.Fatal("Start did not return after Stop")
		}
		assert.False(t, store.Stats().IsRunning)
	})

	t.Run("stop without start", func(t *testing.T) {
		t.Parallel()
		store := ratelimiter.NewMemoryStore()
		assert.ErrorIs(t, store.Stop(), ratelimiter.ErrCleanupNotRunning)
	})

	t.Run("second start", func(t *testing.T) {
		t.Parallel()
		store := ratelimiter.NewMemoryStore(ratelimiter.WithCleanupInterval(10 * time.Millisecond))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go func() { _ = store.Start(ctx) }()
		require.Eventually(t, func() bool { return store.Stats().IsRunning }, time.Second, 5*time.Millisecond)
		assert.ErrorIs(t, store.Start(ctx), ratelimiter.ErrCleanupRunning)
		require.NoError(t, store.Stop())
	})

	t.Run("invalid cleanup interval", func(t *testing.T) {
		t.Parallel()
		store := ratelimiter.NewMemoryStore(ratelimiter.WithCleanupInterval(0))
		assert.ErrorIs(t, store.Start(context.Background()), ratelimiter.ErrInvalidCleanupInterval)
	})
}

func TestMemoryStore_Run(t *testing.T) {
	t.Parallel()

	store := ratelimiter.NewMemoryStore(ratelimiter.WithCleanupInterval(10 * time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- store.Run(ctx)() }()

	require.Eventually(t, func() bool { return store.Stats().IsRunning }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
