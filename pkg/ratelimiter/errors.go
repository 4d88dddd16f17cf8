package ratelimiter

import "errors"

var (
	ErrInvalidConfig     = errors.New("ratelimiter: capacity, refill rate and interval must be positive")
	ErrInvalidTokenCount = errors.New("ratelimiter: token count must be positive")
	ErrContextCancelled  = errors.New("ratelimiter: context done before the store was consulted")
	ErrStoreUnavailable  = errors.New("ratelimiter: bucket store unavailable")

	ErrCleanupRunning         = errors.New("ratelimiter: memory store cleanup already running")
	ErrCleanupNotRunning      = errors.New("ratelimiter: memory store cleanup not running")
	ErrInvalidCleanupInterval = errors.New("ratelimiter: cleanup interval must be positive")
	ErrShutdownTimeout        = errors.New("ratelimiter: cleanup did not stop in time")
)
