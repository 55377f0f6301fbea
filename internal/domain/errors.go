package domain

import "errors"

var (
	ErrAuthentication    = errors.New("invalid or expired token")
	ErrForbidden         = errors.New("not authorized")
	ErrNotFound          = errors.New("not found")
	ErrNoAgentsAvailable = errors.New("no support agents available")
	ErrPersistence       = errors.New("failed to persist")
	ErrInvalidInput      = errors.New("invalid input")
)
