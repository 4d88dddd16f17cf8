package redis

import "errors"

// Causes reported by go-redis are joined to these.
var (
	ErrEmptyURL   = errors.New("redis: REDIS_URL is empty")
	ErrInvalidURL = errors.New("redis: cannot parse REDIS_URL")
	ErrNotReady   = errors.New("redis: server did not answer PING within the retry budget")
	ErrUnhealthy  = errors.New("redis: healthcheck failed")
)
