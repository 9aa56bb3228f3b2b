// Package errors defines the error taxonomy shared by the session layer,
// the API client and the auth server.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels for backend responses.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrConflict       = errors.New("conflict")
	ErrRateLimited    = errors.New("rate limited")
	ErrServiceUnavail = errors.New("service unavailable")
	ErrInternal       = errors.New("internal error")
)

// Session lifecycle errors. These are the only failures the session layer
// surfaces to callers.
var (
	// ErrInvalidCredentials is returned when login or signup is rejected by
	// the backend. The AppError message carries the backend text verbatim.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrSessionExpired is returned when the access token was rejected and
	// the refresh attempt failed as well. The session is already logged out.
	ErrSessionExpired = errors.New("session expired")

	// ErrNetwork is returned on transport failures. It never mutates
	// authentication state.
	ErrNetwork = errors.New("network error")
)

// statuses is consulted in order, so more specific sentinels come first.
var statuses = []struct {
	err    error
	status int
}{
	{ErrNotFound, http.StatusNotFound},
	{ErrConflict, http.StatusConflict},
	{ErrInvalidInput, http.StatusBadRequest},
	{ErrInvalidCredentials, http.StatusUnauthorized},
	{ErrSessionExpired, http.StatusUnauthorized},
	{ErrUnauthorized, http.StatusUnauthorized},
	{ErrForbidden, http.StatusForbidden},
	{ErrRateLimited, http.StatusTooManyRequests},
	{ErrNetwork, http.StatusServiceUnavailable},
	{ErrServiceUnavail, http.StatusServiceUnavailable},
}

// AppError is an error with a stable code, a user-facing message and the
// HTTP status it maps to.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *AppError) Unwrap() error { return e.Err }

func newError(code string, status int, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Status: status, Err: err}
}

// chain joins a sentinel with an optional cause so both match errors.Is.
func chain(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}

func NotFound(resource, id string) *AppError {
	return newError("NOT_FOUND", http.StatusNotFound,
		fmt.Sprintf("%s with id %s not found", resource, id), ErrNotFound)
}

func InvalidInput(message string) *AppError {
	return newError("INVALID_INPUT", http.StatusBadRequest, message, ErrInvalidInput)
}

func Conflict(message string) *AppError {
	return newError("CONFLICT", http.StatusConflict, message, ErrConflict)
}

// Internal hides err from the message; it is kept for logs only.
func Internal(err error) *AppError {
	return newError("INTERNAL_ERROR", http.StatusInternalServerError,
		"an internal error occurred", chain(ErrInternal, err))
}

// InvalidCredentials creates a login/signup rejection. status is the
// backend's 4xx status and message its text, passed through unchanged.
func InvalidCredentials(status int, message string) *AppError {
	if message == "" {
		message = "invalid email or password"
	}
	return newError("INVALID_CREDENTIALS", status, message, ErrInvalidCredentials)
}

// SessionExpired creates the forced-logout error. cause is kept for logs.
func SessionExpired(cause error) *AppError {
	return newError("SESSION_EXPIRED", http.StatusUnauthorized,
		"please sign in again", chain(ErrSessionExpired, cause))
}

// Network creates a transport failure error.
func Network(cause error) *AppError {
	return newError("NETWORK_ERROR", http.StatusServiceUnavailable,
		"the server could not be reached, try again", chain(ErrNetwork, cause))
}

// HTTPStatus returns the status for err. An AppError anywhere in the chain
// wins over sentinel matching; unknown errors map to 500.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	for _, s := range statuses {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}
