package domain

import "errors"

// Error kinds. Every error surfaced by the core wraps exactly one of these so
// the boundary can map it with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidToken = errors.New("invalid token")
	ErrValidation   = errors.New("validation failed")
	ErrRepository   = errors.New("repository failure")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

var (
	ErrAccountNotFound    = kindError{msg: "account not found", kind: ErrNotFound}
	ErrEmailTaken         = kindError{msg: "email already registered", kind: ErrConflict}
	ErrInvalidCredentials = kindError{msg: "invalid credentials", kind: ErrUnauthorized}
	ErrAccountInactive    = kindError{msg: "account is inactive", kind: ErrForbidden}
	ErrInvalidTransition  = kindError{msg: "invalid status transition", kind: ErrConflict}
	ErrSessionRotated     = kindError{msg: "refresh token already used", kind: ErrInvalidToken}
)

// kindError is a specific error that also matches its broader kind.
type kindError struct {
	msg  string
	kind error
}

func (e kindError) Error() string { return e.msg }

func (e kindError) Unwrap() error { return e.kind }

// Validation builds an ErrValidation carrying a human-readable reason.
func Validation(msg string) error {
	return kindError{msg: msg, kind: ErrValidation}
}
