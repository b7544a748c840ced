package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")
)

// Credential lifecycle errors. These are expected outcomes surfaced to callers.
var (
	ErrDuplicate          = errors.New("username or email already taken")
	ErrDuplicateGroup     = errors.New("group name already taken")
	ErrUnknownGroup       = errors.New("no group matches the identifier")
	ErrUnknownAccount     = errors.New("no account matches the identifier")
	ErrInvalidToken       = errors.New("token is invalid or already used")
	ErrExpiredToken       = errors.New("token has expired")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRateLimited        = errors.New("too many requests")
	ErrValidation         = errors.New("validation failed")
)

// State machine and storage errors
var (
	ErrInvalidTransition = errors.New("invalid account state transition")
	ErrStaleAccount      = errors.New("account was modified concurrently")
)
