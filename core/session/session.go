package session

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/google/uuid"
)

// Method records which factor produced a session.
type Method string

const (
	MethodTOTP       Method = "totp"
	MethodBackupCode Method = "backup_code"
)

// Session is a verified MFA session. Values are copies; mutating one has no
// effect on the registry.
type Session struct {
	// ID is stable for the session's lifetime and safe to log.
	ID uuid.UUID

	// Token is the bearer secret (32 random bytes, base64url without padding).
	Token string

	UserID string
	Method Method

	// PHIAccessEnabled gates access to protected health information separately
	// from mere verification.
	PHIAccessEnabled bool

	VerifiedAt time.Time
	ExpiresAt  time.Time
}

// ValidAt reports whether the session is live at t. A session is valid up to and including ExpiresAt.
func (s Session) ValidAt(t time.Time) bool {
	return !t.After(s.ExpiresAt)
}

// TTL returns the remaining lifetime at t, or 0 once expired.
func (s Session) TTL(t time.Time) time.Duration {
	return max(s.ExpiresAt.Sub(t), 0)
}

// generateToken creates a cryptographically secure random token using 32 bytes (256 bits)
// encoded as base64 URL-safe string without padding.
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
