package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Registry is the in-memory table of verified MFA sessions. It is the only
// authority on whether a user is MFA-verified: callers get copies and can
// change state only through its methods.
//
// Expired sessions are never returned. They are evicted when touched by a
// lookup and by Sweep, which Start runs periodically.
type Registry struct {
	mu      sync.RWMutex
	byToken map[string]Session
	byUser  map[string]map[string]struct{}

	opts options

	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup

	created     atomic.Int64
	invalidated atomic.Int64
	expired     atomic.Int64
}

// RegistryStats provides observability metrics.
type RegistryStats struct {
	Active      int
	Users       int
	Created     int64
	Invalidated int64
	Expired     int64
	IsRunning   bool
}

// NewRegistry creates an empty registry. Call Start or Run to enable the periodic sweep.
func NewRegistry(opts ...Option) *Registry {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Registry{
		byToken: make(map[string]Session),
		byUser:  make(map[string]map[string]struct{}),
		opts:    o,
	}
}

// TTL returns the configured session lifetime.
func (r *Registry) TTL() time.Duration {
	return r.opts.ttl
}

// Create issues a new session for userID. It must only be called after a
// successful verification.
func (r *Registry) Create(userID string, method Method) (Session, error) {
	if userID == "" {
		return Session{}, ErrInvalidUserID
	}

	token, err := generateToken()
	if err != nil {
		return Session{}, errors.Join(ErrTokenGeneration, err)
	}

	now := r.opts.now()
	s := Session{
		ID:               uuid.New(),
		Token:            token,
		UserID:           userID,
		Method:           method,
		PHIAccessEnabled: true,
		VerifiedAt:       now,
		ExpiresAt:        now.Add(r.opts.ttl),
	}

	r.mu.Lock()
	r.byToken[token] = s
	tokens, ok := r.byUser[userID]
	if !ok {
		tokens = make(map[string]struct{})
		r.byUser[userID] = tokens
	}
	tokens[token] = struct{}{}
	r.mu.Unlock()

	r.created.Add(1)
	return s, nil
}

// Lookup returns the newest live session of userID.
func (r *Registry) Lookup(userID string) (Session, bool) {
	if userID == "" {
		return Session{}, false
	}

	now := r.opts.now()

	r.mu.RLock()
	var (
		best  Session
		found bool
		stale []string
	)
	for token := range r.byUser[userID] {
		s := r.byToken[token]
		if !s.ValidAt(now) {
			stale = append(stale, token)
			continue
		}
		if !found || s.VerifiedAt.After(best.VerifiedAt) {
			best, found = s, true
		}
	}
	r.mu.RUnlock()

	if len(stale) > 0 {
		r.evict(stale, now)
	}
	return best, found
}

// LookupToken returns the live session identified by token.
func (r *Registry) LookupToken(token string) (Session, bool) {
	if token == "" {
		return Session{}, false
	}

	now := r.opts.now()

	r.mu.RLock()
	s, ok := r.byToken[token]
	r.mu.RUnlock()

	if !ok {
		return Session{}, false
	}
	if !s.ValidAt(now) {
		r.evict([]string{token}, now)
		return Session{}, false
	}
	return s, true
}

// Extend slides the expiry of a live session to now+TTL.
// Expired or unknown tokens return ErrNotFound; an expired session is never revived.
func (r *Registry) Extend(token string) (Session, error) {
	now := r.opts.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byToken[token]
	if !ok {
		return Session{}, ErrNotFound
	}
	if !s.ValidAt(now) {
		r.removeLocked(token)
		r.expired.Add(1)
		return Session{}, ErrNotFound
	}

	s.ExpiresAt = now.Add(r.opts.ttl)
	r.byToken[token] = s
	return s, nil
}

// Invalidate removes the session identified by token. Unknown tokens are ignored.
func (r *Registry) Invalidate(token string) (Session, bool) {
	r.mu.Lock()
	s, ok := r.byToken[token]
	if ok {
		r.removeLocked(token)
	}
	r.mu.Unlock()

	if ok {
		r.invalidated.Add(1)
	}
	return s, ok
}

// InvalidateUser removes every session of userID and returns the removed sessions.
func (r *Registry) InvalidateUser(userID string) []Session {
	r.mu.Lock()
	tokens := r.byUser[userID]
	removed := make([]Session, 0, len(tokens))
	for token := range tokens {
		if s, ok := r.byToken[token]; ok {
			removed = append(removed, s)
		}
		delete(r.byToken, token)
	}
	delete(r.byUser, userID)
	r.mu.Unlock()

	r.invalidated.Add(int64(len(removed)))
	return removed
}

// Sweep evicts all expired sessions and returns how many were removed.
func (r *Registry) Sweep() int {
	now := r.opts.now()

	r.mu.Lock()
	removed := 0
	for token, s := range r.byToken {
		if !s.ValidAt(now) {
			r.removeLocked(token)
			removed++
		}
	}
	r.mu.Unlock()

	r.expired.Add(int64(removed))
	return removed
}

// Start runs the periodic sweep until ctx is cancelled or Stop is called.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return ErrRegistryAlreadyStarted
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	r.mu.Unlock()
	defer r.wg.Done()

	r.running.Store(true)
	defer r.running.Store(false)

	r.opts.logger.InfoContext(ctx, "session sweeper started",
		slog.Duration("interval", r.opts.sweepInterval),
		slog.Duration("ttl", r.opts.ttl))

	ticker := time.NewTicker(r.opts.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.opts.logger.InfoContext(context.Background(), "session sweeper stopping")
			return ctx.Err()
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.opts.logger.DebugContext(ctx, "expired sessions evicted", slog.Int("count", n))
			}
		}
	}
}

// Stop cancels the sweeper and waits for it to exit.
func (r *Registry) Stop() error {
	r.mu.Lock()
	if r.cancel == nil {
		r.mu.Unlock()
		return ErrRegistryNotStarted
	}
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(r.opts.shutdownTimeout):
		return fmt.Errorf("shutdown timeout exceeded after %s", r.opts.shutdownTimeout)
	}
}

// Run provides errgroup compatibility.
func (r *Registry) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- r.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = r.Stop()
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

// Stats returns current statistics. Active counts entries still held, which
// may include expired sessions not yet swept.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	active, users := len(r.byToken), len(r.byUser)
	r.mu.RUnlock()

	return RegistryStats{
		Active:      active,
		Users:       users,
		Created:     r.created.Load(),
		Invalidated: r.invalidated.Load(),
		Expired:     r.expired.Load(),
		IsRunning:   r.running.Load(),
	}
}

// evict removes the given tokens if they are still expired at now.
func (r *Registry) evict(tokens []string, now time.Time) {
	r.mu.Lock()
	removed := 0
	for _, token := range tokens {
		if s, ok := r.byToken[token]; ok && !s.ValidAt(now) {
			r.removeLocked(token)
			removed++
		}
	}
	r.mu.Unlock()
	r.expired.Add(int64(removed))
}

func (r *Registry) removeLocked(token string) {
	s, ok := r.byToken[token]
	if !ok {
		return
	}
	delete(r.byToken, token)
	if tokens, ok := r.byUser[s.UserID]; ok {
		delete(tokens, token)
		if len(tokens) == 0 {
			delete(r.byUser, s.UserID)
		}
	}
}
