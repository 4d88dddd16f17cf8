package totp

import "errors"

var (
	// ErrMalformedSecret is returned when the shared secret is empty, not valid base32
	// or shorter than MinSecretBytes.
	ErrMalformedSecret = errors.New("totp: malformed secret")
	// ErrSecretGeneration is returned when the entropy source fails.
	ErrSecretGeneration = errors.New("totp: failed to generate secret")
	// ErrInvalidParams is returned when provisioning parameters are missing or contain
	// characters that would break the otpauth label.
	ErrInvalidParams = errors.New("totp: invalid provisioning parameters")
	// ErrBackupCodeGeneration is returned when backup codes cannot be generated.
	ErrBackupCodeGeneration = errors.New("totp: failed to generate backup codes")
	// ErrWeakHashKey is returned when the backup code hashing key is too short.
	ErrWeakHashKey = errors.New("totp: backup code hash key must be at least 16 bytes")
)
