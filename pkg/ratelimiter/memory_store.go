package ratelimiter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// memoryBucket is the state of one key. touched drives stale eviction.
type memoryBucket struct {
	tokens   int
	refilled time.Time
	touched  time.Time
}

// MemoryStore keeps buckets in process memory. It backs the attempt limiter
// when no shared Redis is configured, so limits are per instance.
//
// Buckets are created lazily and evicted by a cleanup loop once untouched for
// the stale threshold; Run wires that loop into an errgroup.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]*memoryBucket

	cleanupInterval time.Duration
	staleAfter      time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger
	now             func() time.Time

	cancel  context.CancelFunc
	running atomic.Bool
	sweeps  sync.WaitGroup

	created atomic.Int64
	evicted atomic.Int64
}

// MemoryStoreStats is a point-in-time snapshot of a MemoryStore.
type MemoryStoreStats struct {
	BucketsCreated int64
	BucketsRemoved int64
	ActiveBuckets  int
	IsRunning      bool
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithCleanupInterval sets how often the cleanup loop looks for stale buckets.
// Default is 5 minutes.
func WithCleanupInterval(interval time.Duration) MemoryStoreOption {
	return func(ms *MemoryStore) {
		ms.cleanupInterval = interval
	}
}

// WithStaleAfter sets how long an untouched bucket survives. Keep it above
// the attempt window, or an evicted bucket hands a locked-out user a fresh
// budget. Default is one hour.
func WithStaleAfter(d time.Duration) MemoryStoreOption {
	return func(ms *MemoryStore) {
		if d > 0 {
			ms.staleAfter = d
		}
	}
}

// WithMemoryStoreShutdownTimeout bounds how long Stop waits for a running sweep.
func WithMemoryStoreShutdownTimeout(timeout time.Duration) MemoryStoreOption {
	return func(ms *MemoryStore) {
		if timeout > 0 {
			ms.shutdownTimeout = timeout
		}
	}
}

func WithMemoryStoreLogger(logger *slog.Logger) MemoryStoreOption {
	return func(ms *MemoryStore) {
		if logger != nil {
			ms.logger = logger
		}
	}
}

// WithMemoryStoreClock replaces time.Now, so tests can step through windows.
func WithMemoryStoreClock(now func() time.Time) MemoryStoreOption {
	return func(ms *MemoryStore) {
		if now != nil {
			ms.now = now
		}
	}
}

// NewMemoryStore returns an empty store. Eviction only happens while Start
// or Run is active.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	ms := &MemoryStore{
		buckets:         make(map[string]*memoryBucket),
		cleanupInterval: 5 * time.Minute,
		staleAfter:      time.Hour,
		shutdownTimeout: 30 * time.Second,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(ms)
	}
	return ms
}

// ConsumeTokens credits whole refill intervals elapsed since the last refill,
// then takes tokens. The result can be negative; the limiter reads that as a
// denial.
func (ms *MemoryStore) ConsumeTokens(ctx context.Context, key string, tokens int, config Config) (int, time.Time, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	b, ok := ms.buckets[key]
	if !ok {
		b = &memoryBucket{tokens: config.Capacity, refilled: now}
		ms.buckets[key] = b
		ms.created.Add(1)
	}

	// More intervals than it takes to fill the bucket change nothing, and a
	// long idle gap would otherwise overflow the multiplication below.
	fill := int64(config.Capacity/config.RefillRate + 1)
	intervals := int(min(int64(now.Sub(b.refilled)/config.RefillInterval), fill))
	if intervals > 0 {
		b.tokens = min(b.tokens+intervals*config.RefillRate, config.Capacity)
		b.refilled = now
	}

	b.tokens -= tokens
	b.touched = now

	return b.tokens, b.refilled.Add(config.RefillInterval), nil
}

// Reset forgets key, so its next attempt starts from a full bucket.
func (ms *MemoryStore) Reset(ctx context.Context, key string) error {
	ms.mu.Lock()
	delete(ms.buckets, key)
	ms.mu.Unlock()
	return nil
}

// Start sweeps stale buckets every cleanup interval and blocks until ctx ends
// or Stop is called.
func (ms *MemoryStore) Start(ctx context.Context) error {
	ms.mu.Lock()
	if ms.cancel != nil {
		ms.mu.Unlock()
		return ErrCleanupRunning
	}
	if ms.cleanupInterval <= 0 {
		ms.mu.Unlock()
		return fmt.Errorf("%w: got %v", ErrInvalidCleanupInterval, ms.cleanupInterval)
	}
	ctx, ms.cancel = context.WithCancel(ctx)
	ms.mu.Unlock()

	ms.running.Store(true)
	defer ms.running.Store(false)

	ms.logger.InfoContext(ctx, "attempt bucket cleanup started",
		slog.Duration("cleanup_interval", ms.cleanupInterval),
		slog.Duration("stale_after", ms.staleAfter))

	ticker := time.NewTicker(ms.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ms.logger.InfoContext(context.WithoutCancel(ctx), "attempt bucket cleanup stopped")
			return ctx.Err()
		case <-ticker.C:
			ms.sweeps.Add(1)
			if n := ms.RemoveStale(); n > 0 {
				ms.logger.DebugContext(ctx, "stale attempt buckets evicted", slog.Int("count", n))
			}
			ms.sweeps.Done()
		}
	}
}

// Stop ends the cleanup loop and waits, up to the shutdown timeout, for a
// sweep in progress.
func (ms *MemoryStore) Stop() error {
	ms.mu.Lock()
	cancel := ms.cancel
	ms.cancel = nil
	ms.mu.Unlock()
	if cancel == nil {
		return ErrCleanupNotRunning
	}

	cancel()

	done := make(chan struct{})
	go func() {
		ms.sweeps.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(ms.shutdownTimeout):
		ms.logger.Warn("attempt bucket cleanup did not stop in time",
			slog.Duration("timeout", ms.shutdownTimeout))
		return fmt.Errorf("%w: after %s", ErrShutdownTimeout, ms.shutdownTimeout)
	}
}

// Run adapts Start and Stop to errgroup.Go. Cancellation is a clean exit.
func (ms *MemoryStore) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- ms.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = ms.Stop()
			<-errCh
			return nil
		case err := <-errCh:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// RemoveStale evicts buckets untouched for longer than the stale threshold
// and returns the number evicted.
func (ms *MemoryStore) RemoveStale() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	removed := 0
	for key, b := range ms.buckets {
		if now.Sub(b.touched) > ms.staleAfter {
			delete(ms.buckets, key)
			removed++
		}
	}
	ms.evicted.Add(int64(removed))
	return removed
}

func (ms *MemoryStore) Stats() MemoryStoreStats {
	ms.mu.RLock()
	active := len(ms.buckets)
	ms.mu.RUnlock()

	return MemoryStoreStats{
		BucketsCreated: ms.created.Load(),
		BucketsRemoved: ms.evicted.Load(),
		ActiveBuckets:  active,
		IsRunning:      ms.running.Load(),
	}
}
