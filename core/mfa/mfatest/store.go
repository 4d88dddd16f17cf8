// Package mfatest provides a conformance suite for mfa.Store implementations.
package mfatest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mfa/core/mfa"
)

// RunStoreSuite checks the behavior every mfa.Store must share. newStore is
// called once per subtest; user IDs are random so a shared backend is fine.
func RunStoreSuite(t *testing.T, newStore func(t *testing.T) mfa.Store) {
	t.Helper()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("missing credential", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		user := newUser()

		_, err := s.GetCredential(ctx, user)
		assert.ErrorIs(t, err, mfa.ErrCredentialNotFound)
		assert.ErrorIs(t, s.UpdateCredential(ctx, mfa.Credential{UserID: user}, mfa.CredentialVersion{}), mfa.ErrCredentialNotFound)
		assert.ErrorIs(t, s.ReplaceBackupCodes(ctx, user, codes(now, "a")), mfa.ErrCredentialNotFound)

		ok, err := s.ConsumeBackupCode(ctx, user, "a", now)
		require.NoError(t, err)
		assert.False(t, ok)

		n, err := s.CountUnusedBackupCodes(ctx, user)
		require.NoError(t, err)
		assert.Zero(t, n)

		assert.NoError(t, s.DeleteCredential(ctx, user))
	})

	t.Run("enrollment round trip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		user := newUser()

		want := mfa.Credential{
			UserID:          user,
			EncryptedSecret: []byte{0x00, 0xff, 0x10, 'x'},
			CreatedAt:       now,
		}
		require.NoError(t, s.SaveEnrollment(ctx, want, codes(now, "h1", "h2", "h3")))

		got, err := s.GetCredential(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, want.EncryptedSecret, got.EncryptedSecret)
		assert.False(t, got.Enabled)
		assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
		assert.True(t, got.LastVerifiedAt.IsZero())
		assert.Zero(t, got.LastUsedCounter)

		n, err := s.CountUnusedBackupCodes(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("update credential", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		user := newUser()

		require.NoError(t, s.SaveEnrollment(ctx, mfa.Credential{UserID: user, EncryptedSecret: []byte("s"), CreatedAt: now}, nil))
		stored, err := s.GetCredential(ctx, user)
		require.NoError(t, err)

		verified := now.Add(time.Minute)
		require.NoError(t, s.UpdateCredential(ctx, mfa.Credential{
			UserID:          user,
			Enabled:         true,
			LastVerifiedAt:  verified,
			LastUsedCounter: 59_000_000,
		}, stored.Version()))

		got, err := s.GetCredential(ctx, user)
		require.NoError(t, err)
		assert.True(t, got.Enabled)
		assert.True(t, verified.Equal(got.LastVerifiedAt))
		assert.Equal(t, uint64(59_000_000), got.LastUsedCounter)
		assert.Equal(t, []byte("s"), got.EncryptedSecret, "secret untouched")
	})

	t.Run("update from a stale counter is rejected", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		user := newUser()

		require.NoError(t, s.SaveEnrollment(ctx, mfa.Credential{UserID: user, EncryptedSecret: []byte("s"), CreatedAt: now}, nil))
		stored, err := s.GetCredential(ctx, user)
		require.NoError(t, err)

		first := stored
		first.Enabled = true
		first.LastVerifiedAt = now.Add(time.Minute)
		first.LastUsedCounter = 100
		require.NoError(t, s.UpdateCredential(ctx, first, stored.Version()))

		second := stored
		second.Enabled = true
		second.LastVerifiedAt = now.Add(2 * time.Minute)
		second.LastUsedCounter = 100
		assert.ErrorIs(t, s.UpdateCredential(ctx, second, stored.Version()), mfa.ErrCredentialConflict)

		got, err := s.GetCredential(ctx, user)
		require.NoError(t, err)
		assert.True(t, first.LastVerifiedAt.Equal(got.LastVerifiedAt), "first writer kept")
		assert.Equal(t, uint64(100), got.LastUsedCounter)
	})

	t.Run("update from a replaced enrollment is rejected", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		user := newUser()

		require.NoError(t, s.SaveEnrollment(ctx, mfa.Credential{UserID: user, EncryptedSecret: []byte("first"), CreatedAt: now}, nil))
		stale, err := s.GetCredential(ctx, user)
		require.NoError(t, err)

		require.NoError(t, s.SaveEnrollment(ctx, mfa.Credential{UserID: user, EncryptedSecret: []byte("second"), CreatedAt: now.Add(time.Second)}, nil))

		activate := stale
		activate.Enabled = true
		activate.LastVerifiedAt = now.Add(time.Minute)
		activate.LastUsedCounter = 7
		assert.ErrorIs(t, s.UpdateCredential(ctx, activate, stale.Version()), mfa.ErrCredentialConflict)

		got, err := s.GetCredential(ctx, user)
		require.NoError(t, err)
		assert.False(t, got.Enabled, "new secret must not be activated by the old one")
		assert.Equal(t, []byte("second"), got.EncryptedSecret)
	})

	t.Run("update with a different secret of the same age is rejected", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		user := newUser()

		require.NoError(t, s.SaveEnrollment(ctx, mfa.Credential{UserID: user, EncryptedSecret: []byte("first"), CreatedAt: now}, nil))
		stale, err := s.GetCredential(ctx, user)
		require.NoError(t, err)
		require.NoError(t, s.SaveEnrollment(ctx, mfa.Credential{UserID: user, EncryptedSecret: []byte("second"), CreatedAt: now}, nil))

		stale.Enabled = true
		assert.ErrorIs(t, s.UpdateCredential(ctx, stale, stale.Version()), mfa.ErrCredentialConflict)
	})

	t.Run("concurrent updates have one winner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		user := newUser()

		require.NoError(t, s.SaveEnrollment(ctx, mfa.Credential{UserID: user, EncryptedSecret: []byte("s"), CreatedAt: now}, nil))
		stored, err := s.GetCredential(ctx, user)
		require.NoError(t, err)

		var wins, conflicts atomic.Int32
		var wg sync.WaitGroup
		for i := range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				next := stored
				next.Enabled = true
				next.LastUsedCounter = uint64(1000 + i)
				err := s.UpdateCredential(ctx, next, stored.Version())
				switch {
				case err == nil:
					wins.Add(1)
				case assert.ErrorIs(t, err, mfa.ErrCredentialConflict):
					conflicts.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
		assert.Equal(t, int32(19), conflicts.Load())
	})

	t.Run("enrollment does not replace an active credential", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		user := newUser()

		require.NoError(t, s.SaveEnrollment(ctx, mfa.Credential{UserID: user, EncryptedSecret: []byte("active"), CreatedAt: now}, codes(now, "h1", "h2")))
		stored, err := s.GetCredential(ctx, user)
		require.NoError(t, err)
		active := stored
		active.Enabled = true
		active.LastUsedCounter = 5
		require.NoError(t, s.UpdateCredential(ctx, active, stored.Version()))

		err = s.SaveEnrollment(ctx, mfa.Credential{UserID: user, EncryptedSecret: []byte("other"), CreatedAt: now.Add(time.Second)}, codes(now, "x1"))
		assert.ErrorIs(t, err, mfa.ErrCredentialConflict)

		got, err := s.GetCredential(ctx, user)
		require.NoError(t, err)
		assert.True(t, got.Enabled)
		assert.Equal(t, []byte("active"), got.EncryptedSecret)

		n, err := s.CountUnusedBackupCodes(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, 2, n, "codes untouched")
	})

	t.Run("re-enrollment replaces everything", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		user := newUser()

		require.NoError(t, s.SaveEnrollment(ctx, mfa.Credential{UserID: user, EncryptedSecret: []byte("old"), CreatedAt: now}, codes(now, "o1", "o2")))
		require.NoError(t, s.SaveEnrollment(ctx, mfa.Credential{UserID: user, EncryptedSecret: []byte("new"), CreatedAt: now}, codes(now, "n1")))

		got, err := s.GetCredential(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, []byte("new"), got.EncryptedSecret)

		ok, err := s.ConsumeBackupCode(ctx, user, "o1", now)
		require.NoError(t, err)
		assert.False(t, ok)

		n, err := s.CountUnusedBackupCodes(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("consume and replace codes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		user, other := newUser(), newUser()

		require.NoError(t, s.SaveEnrollment(ctx, mfa.Credential{UserID: user, EncryptedSecret: []byte("s"), CreatedAt: now}, codes(now, "h1", "h2")))
		require.NoError(t, s.SaveEnrollment(ctx, mfa.Credential{UserID: other, EncryptedSecret: []byte("s"), CreatedAt: now}, codes(now, "h1")))

		ok, err := s.ConsumeBackupCode(ctx, user, "h1", now)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.ConsumeBackupCode(ctx, user, "h1", now)
		require.NoError(t, err)
		assert.False(t, ok, "single use")

		ok, err = s.ConsumeBackupCode(ctx, user, "nope", now)
		require.NoError(t, err)
		assert.False(t, ok)

		n, err := s.CountUnusedBackupCodes(ctx, other)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "other user's identical hash untouched")

		require.NoError(t, s.ReplaceBackupCodes(ctx, user, codes(now, "r1", "r2", "r3")))
		ok, err = s.ConsumeBackupCode(ctx, user, "h2", now)
		require.NoError(t, err)
		assert.False(t, ok, "previous set voided")

		n, err = s.CountUnusedBackupCodes(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("concurrent consume has one winner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		user := newUser()

		require.NoError(t, s.SaveEnrollment(ctx, mfa.Credential{UserID: user, EncryptedSecret: []byte("s"), CreatedAt: now}, codes(now, "h1")))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.ConsumeBackupCode(ctx, user, "h1", now)
				if assert.NoError(t, err) && ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		user := newUser()

		require.NoError(t, s.SaveEnrollment(ctx, mfa.Credential{UserID: user, EncryptedSecret: []byte("s"), CreatedAt: now}, codes(now, "h1")))
		require.NoError(t, s.DeleteCredential(ctx, user))

		_, err := s.GetCredential(ctx, user)
		assert.ErrorIs(t, err, mfa.ErrCredentialNotFound)

		n, err := s.CountUnusedBackupCodes(ctx, user)
		require.NoError(t, err)
		assert.Zero(t, n, "codes go with the credential")
	})
}

func newUser() string {
	return "user-" + uuid.NewString()
}

func codes(at time.Time, hashes ...string) []mfa.BackupCode {
	out := make([]mfa.BackupCode, 0, len(hashes))
	for _, h := range hashes {
		out = append(out, mfa.BackupCode{Hash: h, CreatedAt: at})
	}
	return out
}
