package auth

import (
	"errors"
	"fmt"
)

var (
	ErrAuthenticationRequired = errors.New("auth: authentication required")
	ErrInvalidToken           = fmt.Errorf("%w: invalid or expired token", ErrAuthenticationRequired)
	ErrTokenStale             = errors.New("auth: refresh token revoked or superseded")
	ErrInvalidCredentials     = errors.New("auth: invalid credentials")
	ErrAccountDisabled        = errors.New("auth: account disabled")
	ErrForbidden              = errors.New("auth: forbidden")
	ErrSystemEntity           = errors.New("auth: system entity is protected")
	ErrNotFound               = errors.New("auth: not found")
	ErrConflict               = errors.New("auth: conflict")
	ErrInvalidInput           = errors.New("auth: invalid input")
)

// Error is a domain error with a message safe to return to API callers.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Kind }

// PublicMessage returns the caller-facing message of err when it carries one.
func PublicMessage(err error) (string, bool) {
	var de *Error
	if errors.As(err, &de) && de.Message != "" {
		return de.Message, true
	}
	return "", false
}

func notFound(entity string) error {
	return &Error{Kind: ErrNotFound, Message: entity + " not found"}
}

func conflict(msg string) error {
	return &Error{Kind: ErrConflict, Message: msg}
}

func invalidInput(msg string) error {
	return &Error{Kind: ErrInvalidInput, Message: msg}
}

// NotFound reports a missing row of the given entity class ("User", "Role", ...).
func NotFound(entity string) error { return notFound(entity) }

// Conflict reports a duplicate unique field.
func Conflict(msg string) error { return conflict(msg) }
