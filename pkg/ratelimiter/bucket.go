package ratelimiter

import (
	"context"
	"time"
)

// Config defines token bucket parameters.
type Config struct {
	Capacity       int           // Maximum tokens (burst size)
	RefillRate     int           // Tokens added per RefillInterval
	RefillInterval time.Duration // How often RefillRate tokens are added
}

// Validate checks that all parameters are positive.
func (c Config) Validate() error {
	if c.Capacity <= 0 || c.RefillRate <= 0 || c.RefillInterval <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// Store persists bucket state. ConsumeTokens with tokens == 0 must only refill and report.
type Store interface {
	ConsumeTokens(ctx context.Context, key string, tokens int, config Config) (remaining int, resetAt time.Time, err error)
	Reset(ctx context.Context, key string) error
}

// RateLimiter is the consumer-facing contract.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (*Result, error)
	AllowN(ctx context.Context, key string, n int) (*Result, error)
}

// Result reports the bucket state after an operation.
type Result struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Allowed reports whether the consumed tokens were available.
func (r *Result) Allowed() bool {
	return r.Remaining >= 0
}

// Exhausted reports whether no further tokens can be consumed right now.
func (r *Result) Exhausted() bool {
	return r.Remaining <= 0
}

// RetryAfter returns how long to wait until the next refill, or 0 when tokens remain.
func (r *Result) RetryAfter() time.Duration {
	if !r.Exhausted() {
		return 0
	}
	return max(time.Until(r.ResetAt), 0)
}

// Bucket implements RateLimiter on top of a Store.
type Bucket struct {
	store  Store
	config Config
}

// NewBucket validates config and returns a bucket backed by store.
func NewBucket(store Store, config Config) (*Bucket, error) {
	if store == nil {
		return nil, ErrInvalidConfig
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Bucket{store: store, config: config}, nil
}

// Allow consumes one token.
func (b *Bucket) Allow(ctx context.Context, key string) (*Result, error) {
	return b.AllowN(ctx, key, 1)
}

// AllowN consumes n tokens.
func (b *Bucket) AllowN(ctx context.Context, key string, n int) (*Result, error) {
	if n <= 0 {
		return nil, ErrInvalidTokenCount
	}
	return b.consume(ctx, key, n)
}

// Status reports the bucket state without consuming tokens.
func (b *Bucket) Status(ctx context.Context, key string) (*Result, error) {
	return b.consume(ctx, key, 0)
}

// Reset restores the bucket for key to full capacity.
func (b *Bucket) Reset(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return ErrContextCancelled
	}
	return b.store.Reset(ctx, key)
}

// Config returns the bucket configuration.
func (b *Bucket) Config() Config {
	return b.config
}

func (b *Bucket) consume(ctx context.Context, key string, n int) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrContextCancelled
	}
	remaining, resetAt, err := b.store.ConsumeTokens(ctx, key, n, b.config)
	if err != nil {
		return nil, err
	}
	return &Result{
		Limit:     b.config.Capacity,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
