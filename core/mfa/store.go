package mfa

import (
	"context"
	"time"
)

// Store persists credentials and backup codes.
//
// Implementations return ErrCredentialNotFound for a missing credential and a
// distinct error for infrastructure failures; the two must never be conflated.
// Multi-record writes are atomic: a reader sees either the old or the new state.
type Store interface {
	// GetCredential returns the user's credential.
	GetCredential(ctx context.Context, userID string) (Credential, error)

	// SaveEnrollment replaces the credential and the whole backup-code set in one step.
	// It returns ErrCredentialConflict and writes nothing when the stored
	// credential is enabled.
	SaveEnrollment(ctx context.Context, cred Credential, codes []BackupCode) error

	// UpdateCredential writes the mutable fields of cred (Enabled,
	// LastVerifiedAt, LastUsedCounter) only if the stored credential still
	// matches expect. A mismatch returns ErrCredentialConflict.
	UpdateCredential(ctx context.Context, cred Credential, expect CredentialVersion) error

	// ReplaceBackupCodes swaps the backup-code set of an existing credential.
	ReplaceBackupCodes(ctx context.Context, userID string, codes []BackupCode) error

	// ConsumeBackupCode marks the unused code with the given hash as used at t.
	// It reports false when no unused code matches. Concurrent calls for the
	// same code succeed at most once.
	ConsumeBackupCode(ctx context.Context, userID, hash string, t time.Time) (bool, error)

	// CountUnusedBackupCodes returns how many codes are still spendable.
	CountUnusedBackupCodes(ctx context.Context, userID string) (int, error)

	// DeleteCredential removes the credential and its backup codes. Missing users are not an error.
	DeleteCredential(ctx context.Context, userID string) error
}
