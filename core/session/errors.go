package session

import "errors"

var (
	// ErrNotFound is returned when no live session matches. Expired sessions are reported the same way.
	ErrNotFound = errors.New("session not found")
	// ErrInvalidUserID is returned when creating a session without a user.
	ErrInvalidUserID = errors.New("user ID is required")
	// ErrTokenGeneration is returned when token generation fails.
	ErrTokenGeneration = errors.New("failed to generate token")
	// ErrRegistryAlreadyStarted is returned when Start is called twice.
	ErrRegistryAlreadyStarted = errors.New("session registry already started")
	// ErrRegistryNotStarted is returned when Stop is called before Start.
	ErrRegistryNotStarted = errors.New("session registry not started")
)
