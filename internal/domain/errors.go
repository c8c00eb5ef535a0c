package domain

import "errors"

// Sentinel errors for the application. Services wrap them with context via
// fmt.Errorf("...: %w", ErrX); transports map them with errors.Is.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrUnauthorized = errors.New("unauthorized access")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("resource already exists")
	ErrInvalidInput = errors.New("invalid input")
)
