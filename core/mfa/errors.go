package mfa

import "errors"

var (
	// ErrInvalidCode is the taxonomy value for a wrong, expired or replayed code.
	// Verification methods report it through VerifyResult, not as an error.
	ErrInvalidCode = errors.New("mfa: invalid code")
	// ErrNotEnrolled is returned when the user has no credential, or when an
	// operation needs an active credential and the enrollment is still pending.
	ErrNotEnrolled = errors.New("mfa: not enrolled")
	// ErrAlreadyEnrolled is returned by GenerateSecret when MFA is already active.
	ErrAlreadyEnrolled = errors.New("mfa: already enrolled")
	// ErrNotVerified is returned when no live MFA session exists. Expired and
	// missing sessions are deliberately indistinguishable.
	ErrNotVerified = errors.New("mfa: not verified")
	// ErrPersistenceUnavailable is retryable: the store failed or timed out.
	ErrPersistenceUnavailable = errors.New("mfa: persistence unavailable")
	// ErrCorruptCredential means the stored secret cannot be decrypted or parsed.
	// The user has to re-enroll.
	ErrCorruptCredential = errors.New("mfa: corrupt credential")
	// ErrProvisioningFailed is returned when enrollment could not be completed.
	// Nothing is persisted in that case.
	ErrProvisioningFailed = errors.New("mfa: provisioning failed")
	// ErrTooManyAttempts is the taxonomy value for a rate limited verification.
	ErrTooManyAttempts = errors.New("mfa: too many attempts")
	// ErrInvalidUserID is returned for an empty user identifier.
	ErrInvalidUserID = errors.New("mfa: user ID is required")
	// ErrInvalidConfig is returned by NewService for missing collaborators.
	ErrInvalidConfig = errors.New("mfa: invalid configuration")

	// ErrCredentialNotFound is returned by Store implementations when the user has no credential.
	ErrCredentialNotFound = errors.New("mfa: credential not found")

	// ErrCredentialConflict is returned by Store implementations when a
	// conditional write finds the credential changed since it was read.
	ErrCredentialConflict = errors.New("mfa: credential changed concurrently")
)
