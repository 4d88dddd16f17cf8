package mfa

import (
	"context"
	"time"

	"github.com/dmitrymomot/mfa/core/session"
)

// Publisher delivers status-change events. *event.Bus satisfies it.
type Publisher interface {
	Publish(ctx context.Context, payload any) error
}

// MFAEnrolled is published when a secret is provisioned (state Pending).
type MFAEnrolled struct {
	UserID string    `json:"user_id"`
	At     time.Time `json:"at"`
}

// MFAActivated is published when the first successful verification enables MFA.
type MFAActivated struct {
	UserID string    `json:"user_id"`
	At     time.Time `json:"at"`
}

// MFADisabled is published after the credential is deleted and sessions are dropped.
type MFADisabled struct {
	UserID              string    `json:"user_id"`
	InvalidatedSessions int       `json:"invalidated_sessions"`
	At                  time.Time `json:"at"`
}

// SessionCreated is published when a verification issues a session.
type SessionCreated struct {
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id"`
	Method    session.Method `json:"method"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// SessionInvalidated is published on logout and for each session Disable drops.
type SessionInvalidated struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	At        time.Time `json:"at"`
}

// BackupCodesRegenerated is published when the backup-code set is replaced.
type BackupCodesRegenerated struct {
	UserID string    `json:"user_id"`
	At     time.Time `json:"at"`
}

// BackupCodeUsed is published when a backup code is spent.
type BackupCodeUsed struct {
	UserID    string    `json:"user_id"`
	Remaining int       `json:"remaining"`
	At        time.Time `json:"at"`
}
