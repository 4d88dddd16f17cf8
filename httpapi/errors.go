package httpapi

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/mfa/core/mfa"
)

// HTTPError is the JSON error body returned by every endpoint.
type HTTPError struct {
	Status  int            `json:"-"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e HTTPError) Error() string {
	return e.Message
}

// StatusCode returns the HTTP status for the error.
func (e HTTPError) StatusCode() int {
	return e.Status
}

// WithMessage returns a copy of the error with a custom message.
func (e HTTPError) WithMessage(message string) HTTPError {
	e.Message = message
	return e
}

// WithDetails returns a copy of the error with additional details.
func (e HTTPError) WithDetails(details map[string]any) HTTPError {
	e.Details = details
	return e
}

func newHTTPError(status int, code string) HTTPError {
	return HTTPError{Status: status, Code: code, Message: http.StatusText(status)}
}

var (
	ErrBadRequest         = newHTTPError(http.StatusBadRequest, "bad_request")
	ErrUnauthorized       = newHTTPError(http.StatusUnauthorized, "unauthorized")
	ErrNotFound           = newHTTPError(http.StatusNotFound, "not_found")
	ErrMethodNotAllowed   = newHTTPError(http.StatusMethodNotAllowed, "method_not_allowed")
	ErrRequestTooLarge    = newHTTPError(http.StatusRequestEntityTooLarge, "request_too_large")
	ErrInternalServer     = newHTTPError(http.StatusInternalServerError, "internal_server_error")
	ErrServiceUnavailable = newHTTPError(http.StatusServiceUnavailable, "service_unavailable")

	ErrMFARequired = HTTPError{
		Status:  http.StatusUnauthorized,
		Code:    "mfa_required",
		Message: "multi-factor verification required",
	}
	ErrInvalidCode = HTTPError{
		Status:  http.StatusUnauthorized,
		Code:    "invalid_code",
		Message: "the code is invalid or has already been used",
	}
	ErrTooManyAttempts = HTTPError{
		Status:  http.StatusTooManyRequests,
		Code:    "too_many_attempts",
		Message: "too many failed attempts, try again later",
	}
	ErrNotEnrolled = HTTPError{
		Status:  http.StatusNotFound,
		Code:    "not_enrolled",
		Message: "multi-factor authentication is not enabled",
	}
	ErrAlreadyEnrolled = HTTPError{
		Status:  http.StatusConflict,
		Code:    "already_enrolled",
		Message: "multi-factor authentication is already enabled",
	}
	ErrCorruptCredential = HTTPError{
		Status:  http.StatusConflict,
		Code:    "reenrollment_required",
		Message: "the stored credential is unusable, re-enrollment is required",
	}
	ErrTemporarilyUnavailable = HTTPError{
		Status:  http.StatusServiceUnavailable,
		Code:    "temporarily_unavailable",
		Message: "credential storage is unavailable, retry later",
	}
)

// toHTTPError maps service errors to responses. Causes are never exposed;
// they may carry store or crypto details.
func toHTTPError(err error) HTTPError {
	var httpErr HTTPError
	switch {
	case errors.As(err, &httpErr):
		return httpErr
	case errors.Is(err, mfa.ErrInvalidUserID):
		return ErrUnauthorized
	case errors.Is(err, mfa.ErrInvalidCode):
		return ErrInvalidCode
	case errors.Is(err, mfa.ErrTooManyAttempts):
		return ErrTooManyAttempts
	case errors.Is(err, mfa.ErrNotVerified):
		return ErrMFARequired
	case errors.Is(err, mfa.ErrNotEnrolled):
		return ErrNotEnrolled
	case errors.Is(err, mfa.ErrAlreadyEnrolled):
		return ErrAlreadyEnrolled
	case errors.Is(err, mfa.ErrCorruptCredential):
		return ErrCorruptCredential
	case errors.Is(err, mfa.ErrPersistenceUnavailable):
		return ErrTemporarilyUnavailable
	default:
		return ErrInternalServer
	}
}
