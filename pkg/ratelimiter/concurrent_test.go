package ratelimiter_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mfa/pkg/ratelimiter"
)

func TestBucket_ConcurrentSafety(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping race condition test in short mode")
	}

	t.Parallel()

	ctx := context.Background()
	config := ratelimiter.Config{
		Capacity:       500,
		RefillRate:     1,
		RefillInterval: time.Hour, // no refill during the test
	}

	store := ratelimiter.NewMemoryStore()
	tb, err := ratelimiter.NewBucket(store, config)
	require.NoError(t, err)

	const goroutines = 50
	const perGoroutine = 20

	var allowed atomic.Int64
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			for range perGoroutine {
				res, err := tb.Allow(ctx, "shared")
				if err == nil && res.Allowed() {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(config.Capacity), allowed.Load())
}

func TestMemoryStore_ConcurrentCleanup(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping concurrent cleanup test in short mode")
	}

	t.Parallel()

	store := ratelimiter.NewMemoryStore(
		ratelimiter.WithCleanupInterval(time.Millisecond),
		ratelimiter.WithStaleAfter(time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- store.Run(ctx)() }()

	config := ratelimiter.Config{Capacity: 5, RefillRate: 1, RefillInterval: time.Second}
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 50 {
				_, _, err := store.ConsumeTokens(ctx, string(rune('a'+i))+string(rune('a'+j%5)), 1, config)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	cancel()
	require.NoError(t, <-done)
}
