package mfa

import (
	"context"
	"errors"
	"time"
)

// Encryptor protects TOTP secrets at rest. *secrets.Cipher satisfies it.
// Decrypt must fail on tampered input or a key mismatch.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// bounded returns ctx limited to d.
func bounded(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// storeErr classifies a store error. A missing credential and a lost
// conditional write pass through; everything else, timeouts included, is
// ErrPersistenceUnavailable.
func storeErr(err error) error {
	if err == nil || errors.Is(err, ErrCredentialNotFound) || errors.Is(err, ErrCredentialConflict) {
		return err
	}
	return errors.Join(ErrPersistenceUnavailable, err)
}
