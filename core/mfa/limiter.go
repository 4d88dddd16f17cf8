package mfa

import (
	"context"
	"time"

	"github.com/dmitrymomot/mfa/pkg/ratelimiter"
)

// AttemptLimiter budgets failed verifications per user. *ratelimiter.Bucket satisfies it.
type AttemptLimiter interface {
	Status(ctx context.Context, key string) (*ratelimiter.Result, error)
	Allow(ctx context.Context, key string) (*ratelimiter.Result, error)
	Reset(ctx context.Context, key string) error
}

// NewAttemptLimiter builds a token bucket allowing cfg.MaxAttempts failures
// that refills completely over cfg.AttemptWindow. It returns nil when
// cfg.MaxAttempts is zero.
func NewAttemptLimiter(store ratelimiter.Store, cfg Config) (AttemptLimiter, error) {
	if cfg.MaxAttempts <= 0 {
		return nil, nil
	}
	if cfg.AttemptWindow <= 0 {
		return nil, ErrInvalidConfig
	}
	interval := cfg.AttemptWindow / time.Duration(cfg.MaxAttempts)
	if interval <= 0 {
		return nil, ErrInvalidConfig
	}
	b, err := ratelimiter.NewBucket(store, ratelimiter.Config{
		Capacity:       cfg.MaxAttempts,
		RefillRate:     1,
		RefillInterval: interval,
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func attemptKey(userID string) string {
	return "mfa:attempts:" + userID
}
