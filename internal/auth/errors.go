package auth

import "errors"

// Outcome errors returned by Manager. Callers match them with errors.Is.
var (
	ErrValidation             = errors.New("invalid input")
	ErrAlreadyRegistered      = errors.New("email already registered")
	ErrNoSuchUser             = errors.New("no such user")
	ErrBadCredentials         = errors.New("invalid email or password")
	ErrInvalidOrExpiredCode   = errors.New("invalid or expired code")
	ErrConcurrentModification = errors.New("record was modified concurrently")
	ErrNotificationFailure    = errors.New("notification failed")
	ErrStorageFailure         = errors.New("storage failure")
)

// Store-level errors returned by repositories.
var (
	ErrDuplicate = errors.New("duplicate key")
	ErrConflict  = errors.New("revision conflict")
	ErrNotFound  = errors.New("not found")
)
