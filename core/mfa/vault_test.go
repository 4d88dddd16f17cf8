package mfa_test

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mfa/core/mfa"
	"github.com/dmitrymomot/mfa/pkg/totp"
)

func newVault(t *testing.T) (*mfa.Vault, *mfa.MemoryStore) {
	t.Helper()

	store := mfa.NewMemoryStore()
	require.NoError(t, store.SaveEnrollment(context.Background(), mfa.Credential{UserID: "u1", Enabled: true}, nil))

	_, hasher := newCipher(t)
	v, err := mfa.NewVault(store, hasher, mfa.WithClock(newClock().Now))
	require.NoError(t, err)
	return v, store
}

func TestVault_Generate(t *testing.T) {
	t.Parallel()

	v, store := newVault(t)
	ctx := context.Background()

	codes, err := v.Generate(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, codes, totp.BackupCodeCount)

	seen := make(map[string]bool, len(codes))
	for _, c := range codes {
		assert.Len(t, c, totp.BackupCodeDigits)
		assert.False(t, seen[c], "codes are distinct")
		seen[c] = true
	}

	stored := store.BackupCodes("u1")
	require.Len(t, stored, len(codes))
	for _, bc := range stored {
		assert.False(t, bc.Used())
		assert.NotContains(t, codes, bc.Hash, "only hashes are stored")
	}

	n, err := v.Remaining(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, totp.BackupCodeCount, n)
}

func TestVault_GenerateWithoutCredential(t *testing.T) {
	t.Parallel()

	v, _ := newVault(t)
	_, err := v.Generate(context.Background(), "nobody")
	assert.ErrorIs(t, err, mfa.ErrNotEnrolled)

	_, err = v.Generate(context.Background(), "")
	assert.ErrorIs(t, err, mfa.ErrInvalidUserID)
}

func TestVault_Consume(t *testing.T) {
	t.Parallel()

	v, store := newVault(t)
	ctx := context.Background()

	codes, err := v.Generate(ctx, "u1")
	require.NoError(t, err)

	tests := []struct {
		name string
		code string
		want bool
	}{
		{name: "valid", code: codes[0], want: true},
		{name: "already used", code: codes[0], want: false},
		{name: "with separators", code: codes[1][:4] + "-" + codes[1][4:], want: true},
		{name: "unknown", code: "00000000", want: false},
		{name: "too short", code: "1234", want: false},
		{name: "letters", code: "abcdefgh", want: false},
		{name: "empty", code: "", want: false},
	}
	for _, tt := range tests {
		ok, err := v.Consume(ctx, "u1", tt.code)
		require.NoError(t, err, tt.name)
		if tt.name == "unknown" && ok {
			// 00000000 collided with a generated code.
			continue
		}
		assert.Equal(t, tt.want, ok, tt.name)
	}

	n, err := v.Remaining(ctx, "u1")
	require.NoError(t, err)
	assert.LessOrEqual(t, n, totp.BackupCodeCount-2)

	var used int
	for _, bc := range store.BackupCodes("u1") {
		if bc.Used() {
			used++
			assert.Equal(t, newClock().Now(), bc.UsedAt)
		}
	}
	assert.GreaterOrEqual(t, used, 2)
}

func TestVault_RegenerateVoidsPreviousSet(t *testing.T) {
	t.Parallel()

	v, _ := newVault(t)
	ctx := context.Background()

	old, err := v.Generate(ctx, "u1")
	require.NoError(t, err)
	fresh, err := v.Generate(ctx, "u1")
	require.NoError(t, err)

	for _, c := range old {
		if slices.Contains(fresh, c) {
			continue
		}
		ok, err := v.Consume(ctx, "u1", c)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestVault_ConcurrentConsume(t *testing.T) {
	t.Parallel()

	v, _ := newVault(t)
	codes, err := v.Generate(context.Background(), "u1")
	require.NoError(t, err)

	const callers = 50
	var wins atomic.Int32
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := v.Consume(context.Background(), "u1", codes[3])
			if assert.NoError(t, err) && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestVault_StoreTimeout(t *testing.T) {
	t.Parallel()

	store := &MockStore{}
	store.On("ConsumeBackupCode", mock.Anything, "u1", mock.Anything, mock.Anything).
		Return(false, context.DeadlineExceeded)

	_, hasher := newCipher(t)
	v, err := mfa.NewVault(store, hasher, mfa.WithStoreTimeout(10*time.Millisecond))
	require.NoError(t, err)

	ok, err := v.Consume(context.Background(), "u1", "12345678")
	assert.False(t, ok)
	assert.ErrorIs(t, err, mfa.ErrPersistenceUnavailable)
}

func TestNewVault_Invalid(t *testing.T) {
	t.Parallel()

	_, hasher := newCipher(t)
	_, err := mfa.NewVault(nil, hasher)
	assert.ErrorIs(t, err, mfa.ErrInvalidConfig)
	_, err = mfa.NewVault(mfa.NewMemoryStore(), nil)
	assert.ErrorIs(t, err, mfa.ErrInvalidConfig)
}
