package mfa_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mfa/core/mfa"
	"github.com/dmitrymomot/mfa/core/mfa/mfatest"
)

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := mfa.NewMemoryStore()

	_, err := s.GetCredential(ctx, "u1")
	assert.ErrorIs(t, err, mfa.ErrCredentialNotFound)
	assert.ErrorIs(t, s.UpdateCredential(ctx, mfa.Credential{UserID: "u1"}, mfa.CredentialVersion{}), mfa.ErrCredentialNotFound)
	assert.ErrorIs(t, s.ReplaceBackupCodes(ctx, "u1", nil), mfa.ErrCredentialNotFound)

	secret := []byte{1, 2, 3}
	require.NoError(t, s.SaveEnrollment(ctx, mfa.Credential{UserID: "u1", EncryptedSecret: secret, CreatedAt: now},
		[]mfa.BackupCode{{Hash: "h1", CreatedAt: now}, {Hash: "h2", CreatedAt: now}}))

	// Stored values are copies.
	secret[0] = 9
	cred, err := s.GetCredential(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, cred.EncryptedSecret)

	expect := cred.Version()
	cred.Enabled = true
	cred.LastUsedCounter = 42
	cred.LastVerifiedAt = now
	cred.CreatedAt = now.Add(time.Hour)
	require.NoError(t, s.UpdateCredential(ctx, cred, expect))

	cred, err = s.GetCredential(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, cred.Enabled)
	assert.Equal(t, uint64(42), cred.LastUsedCounter)
	assert.Equal(t, now, cred.CreatedAt, "creation time is immutable")

	ok, err := s.ConsumeBackupCode(ctx, "u1", "h1", now)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.ConsumeBackupCode(ctx, "u1", "h1", now)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.ConsumeBackupCode(ctx, "u2", "h2", now)
	require.NoError(t, err)
	assert.False(t, ok, "codes are scoped to their owner")

	n, err := s.CountUnusedBackupCodes(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.ReplaceBackupCodes(ctx, "u1", []mfa.BackupCode{{Hash: "h3"}}))
	ok, err = s.ConsumeBackupCode(ctx, "u1", "h2", now)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.DeleteCredential(ctx, "u1"))
	require.NoError(t, s.DeleteCredential(ctx, "u1"), "idempotent")
	_, err = s.GetCredential(ctx, "u1")
	assert.ErrorIs(t, err, mfa.ErrCredentialNotFound)
	assert.Empty(t, s.BackupCodes("u1"))
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := mfa.NewMemoryStore()
	_, err := s.GetCredential(ctx, "u1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.SaveEnrollment(ctx, mfa.Credential{UserID: "u1"}, nil), context.Canceled)
}

func TestMemoryStore_Conformance(t *testing.T) {
	t.Parallel()

	mfatest.RunStoreSuite(t, func(*testing.T) mfa.Store {
		return mfa.NewMemoryStore()
	})
}
