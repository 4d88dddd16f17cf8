package mfa

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrymomot/mfa/pkg/totp"
)

// Vault manages single-use backup codes. Plaintext codes exist only in the
// return value of Generate; the store holds keyed hashes.
type Vault struct {
	store  Store
	hasher *totp.BackupCodeHasher
	opts   options
}

// NewVault creates a vault over store using hasher for code hashes.
func NewVault(store Store, hasher *totp.BackupCodeHasher, opts ...Option) (*Vault, error) {
	if store == nil || hasher == nil {
		return nil, ErrInvalidConfig
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Vault{store: store, hasher: hasher, opts: o}, nil
}

// Generate replaces the user's backup codes with a fresh set and returns the
// plaintext once. The user must have a credential.
func (v *Vault) Generate(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	codes, set, err := v.newSet(v.opts.now())
	if err != nil {
		return nil, err
	}

	ctx, cancel := bounded(ctx, v.opts.storeTimeout)
	defer cancel()

	if err := storeErr(v.store.ReplaceBackupCodes(ctx, userID, set)); err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return nil, ErrNotEnrolled
		}
		return nil, err
	}
	return codes, nil
}

// Consume spends the matching unused code. It reports false, with a nil error,
// for unknown, malformed or already used codes.
func (v *Vault) Consume(ctx context.Context, userID, code string) (bool, error) {
	if userID == "" {
		return false, ErrInvalidUserID
	}

	hash, ok := v.hasher.Hash(code)
	if !ok {
		return false, nil
	}

	ctx, cancel := bounded(ctx, v.opts.storeTimeout)
	defer cancel()

	consumed, err := v.store.ConsumeBackupCode(ctx, userID, hash, v.opts.now())
	if err != nil {
		return false, storeErr(err)
	}
	return consumed, nil
}

// Remaining returns the number of unused codes.
func (v *Vault) Remaining(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, ErrInvalidUserID
	}

	ctx, cancel := bounded(ctx, v.opts.storeTimeout)
	defer cancel()

	n, err := v.store.CountUnusedBackupCodes(ctx, userID)
	if err != nil {
		return 0, storeErr(err)
	}
	return n, nil
}

// newSet draws BackupCodeCount codes and hashes them.
func (v *Vault) newSet(now time.Time) ([]string, []BackupCode, error) {
	codes, err := totp.GenerateBackupCodesFrom(v.opts.entropy, totp.BackupCodeCount)
	if err != nil {
		return nil, nil, err
	}

	set := make([]BackupCode, 0, len(codes))
	for _, c := range codes {
		h, ok := v.hasher.Hash(c)
		if !ok {
			return nil, nil, totp.ErrBackupCodeGeneration
		}
		set = append(set, BackupCode{Hash: h, CreatedAt: now})
	}
	return codes, set, nil
}
