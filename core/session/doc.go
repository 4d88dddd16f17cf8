// Package session provides the in-memory registry of verified MFA sessions.
//
// A Session is created only after a successful second-factor verification and
// lives for a sliding TTL (15 minutes by default). The Registry is the single
// source of truth for "this user passed MFA": route guards must look the user
// or token up on every protected request and must never substitute a cached or
// client-supplied flag for that lookup.
//
// Sessions are process-local and never persisted. A restart logs every user
// out of MFA, which is the intended behaviour for PHI access.
//
// # Usage
//
//	reg := session.NewRegistry(
//		session.WithTTL(15*time.Minute),
//		session.WithSweepInterval(time.Minute),
//		session.WithLogger(log),
//	)
//	g.Go(reg.Run(ctx)) // periodic eviction of expired entries
//
//	s, err := reg.Create(userID, session.MethodTOTP)
//
//	if s, ok := reg.LookupToken(token); ok && s.UserID == userID {
//		// verified
//	}
//
//	reg.Extend(token)        // slide expiry on activity
//	reg.Invalidate(token)    // logout
//	reg.InvalidateUser(uid)  // MFA disabled or administrative action
//
// # Expiry
//
// A session is valid while now <= ExpiresAt. Expired entries are inert: every
// read treats them as absent and evicts them. Extend never revives an expired
// session.
//
// # Concurrency
//
// All methods are safe for concurrent use. Entries are keyed by token with a
// secondary per-user index, both guarded by one RWMutex; reads take the read
// lock and only upgrade to evict expired entries.
package session
