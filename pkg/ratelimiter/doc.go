// Package ratelimiter provides token bucket rate limiting with pluggable storage backends.
//
// The MFA service uses it to cap failed code submissions per user: each failed
// verification consumes a token, a successful one resets the bucket, and once the
// bucket is exhausted further attempts are rejected until tokens refill.
//
// # Token Bucket Algorithm
//
// A bucket starts at Capacity tokens. Every RefillInterval, RefillRate tokens are
// added back, never exceeding Capacity. A request consuming more tokens than remain
// drives Remaining negative, which Result.Allowed reports as denied.
//
// # Usage
//
//	store := ratelimiter.NewMemoryStore()
//	limiter, err := ratelimiter.NewBucket(store, ratelimiter.Config{
//		Capacity:       5,
//		RefillRate:     1,
//		RefillInterval: 3 * time.Minute,
//	})
//	if err != nil {
//		return err
//	}
//
//	status, err := limiter.Status(ctx, "mfa:"+userID)
//	if err == nil && status.Exhausted() {
//		// reject, tell the client to retry after status.RetryAfter()
//	}
//
// # Storage Backends
//
// MemoryStore keeps buckets in a mutex-protected map and evicts buckets that have
// not been touched for a while. Run it under an errgroup:
//
//	g.Go(store.Run(ctx))
//
// RedisStore keeps bucket state in a Redis hash updated by a Lua script, so several
// service instances share one attempt budget per user.
//
// # Errors
//
//   - ErrInvalidConfig: non-positive capacity, refill rate or interval, or nil store
//   - ErrInvalidTokenCount: AllowN called with n <= 0
//   - ErrContextCancelled: context was done before the store was consulted
//   - ErrStoreUnavailable: the backing store failed
package ratelimiter
