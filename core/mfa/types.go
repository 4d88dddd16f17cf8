package mfa

import (
	"bytes"
	"time"

	"github.com/dmitrymomot/mfa/core/session"
)

// Credential is a user's TOTP credential. The secret is held only in encrypted form.
type Credential struct {
	UserID          string
	EncryptedSecret []byte
	Enabled         bool
	CreatedAt       time.Time
	LastVerifiedAt  time.Time // zero until the first successful verification
	LastUsedCounter uint64    // last accepted TOTP time step; codes at or below it are replays
}

// CredentialVersion identifies the stored state a conditional update was
// computed from: the enrollment generation and the replay counter.
type CredentialVersion struct {
	EncryptedSecret []byte
	CreatedAt       time.Time
	LastUsedCounter uint64
}

// Version returns the fields UpdateCredential compares against.
func (c Credential) Version() CredentialVersion {
	return CredentialVersion{
		EncryptedSecret: c.EncryptedSecret,
		CreatedAt:       c.CreatedAt,
		LastUsedCounter: c.LastUsedCounter,
	}
}

// matches reports whether c is still at version v.
func (c Credential) matches(v CredentialVersion) bool {
	return c.CreatedAt.Equal(v.CreatedAt) &&
		c.LastUsedCounter == v.LastUsedCounter &&
		bytes.Equal(c.EncryptedSecret, v.EncryptedSecret)
}

// BackupCode is a stored single-use recovery code. Only the keyed hash is kept.
type BackupCode struct {
	Hash      string
	UsedAt    time.Time // zero while unused
	CreatedAt time.Time
}

// Used reports whether the code has been spent.
func (c BackupCode) Used() bool {
	return !c.UsedAt.IsZero()
}

// Enrollment is returned once by GenerateSecret. Neither the secret nor the
// backup codes can be retrieved again.
type Enrollment struct {
	Secret          string
	ProvisioningURI string
	BackupCodes     []string
}

// State is the position of a user in the enrollment state machine.
type State string

const (
	StateUnenrolled State = "unenrolled"
	StatePending    State = "pending"
	StateActive     State = "active"
)

// EnrollmentStatus summarizes a user's MFA state.
type EnrollmentStatus struct {
	State                State
	CreatedAt            time.Time
	LastVerifiedAt       time.Time
	RemainingBackupCodes int
}

// VerifyStatus tags the outcome of a verification attempt.
type VerifyStatus string

const (
	StatusVerified    VerifyStatus = "verified"
	StatusInvalidCode VerifyStatus = "invalid_code"
	StatusRateLimited VerifyStatus = "rate_limited"
)

// VerifyResult is the expected-outcome half of a verification. Infrastructure
// and state faults are reported through the accompanying error instead.
type VerifyResult struct {
	Status VerifyStatus

	// Set when Status is StatusVerified.
	SessionToken string
	ExpiresAt    time.Time

	// RemainingAttempts is the number of failures left before rate limiting.
	// It is -1 when attempt limiting is disabled.
	RemainingAttempts int
	// RetryAfter is set when Status is StatusRateLimited.
	RetryAfter time.Duration
}

// Verified reports whether a session was issued.
func (r VerifyResult) Verified() bool {
	return r.Status == StatusVerified
}

// Err maps the status to the error taxonomy: nil, ErrInvalidCode or ErrTooManyAttempts.
func (r VerifyResult) Err() error {
	switch r.Status {
	case StatusVerified:
		return nil
	case StatusRateLimited:
		return ErrTooManyAttempts
	default:
		return ErrInvalidCode
	}
}

// SessionStatus is what route guards consult.
type SessionStatus struct {
	Valid            bool
	ExpiresAt        time.Time
	Method           session.Method
	PHIAccessEnabled bool
}

func sessionStatus(s session.Session, ok bool) SessionStatus {
	if !ok {
		return SessionStatus{}
	}
	return SessionStatus{
		Valid:            true,
		ExpiresAt:        s.ExpiresAt,
		Method:           s.Method,
		PHIAccessEnabled: s.PHIAccessEnabled,
	}
}
