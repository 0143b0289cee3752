// Package common defines shared sentinel errors used across the repository,
// session, and service layers. Callers match these values with errors.Is.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound        = errors.New("not found")
	ErrAlreadyConsumed = errors.New("already consumed")

	// Code verification errors.
	ErrExpired         = errors.New("expired")
	ErrInvalidCode     = errors.New("invalid code")
	ErrTooManyAttempts = errors.New("too many attempts")

	// ErrInvalidOrExpired is the uniform outcome returned at the service
	// boundary for unknown ids, expired flows, and wrong codes alike, so a
	// caller cannot probe which pending ids exist.
	ErrInvalidOrExpired = errors.New("code is invalid or expired")

	// Uniqueness conflicts. These are safe to report precisely.
	ErrEmailTaken    = errors.New("email is already in use")
	ErrUsernameTaken = errors.New("username is already in use")

	// Two-factor flow control.
	ErrTwoFaRequired       = errors.New("two fa code required")
	ErrTwoFaMismatch       = errors.New("invalid two fa code")
	ErrTwoFaAlreadyEnabled = errors.New("two fa is already enabled")
	ErrTwoFaNotEnabled     = errors.New("two fa is not enabled")

	// Token / session errors.
	ErrInvalidToken     = errors.New("invalid token")
	ErrPermissionDenied = errors.New("permission denied")

	// Validation errors (rejected before any state mutation).
	ErrInvalidEmail    = errors.New("invalid email address")
	ErrInvalidUsername = errors.New("invalid username")
	ErrInvalidInput    = errors.New("invalid input")

	// ErrInternal wraps storage or codec failures.
	ErrInternal = errors.New("internal error")
)
