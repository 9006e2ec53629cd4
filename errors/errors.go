package errors

import "errors"

// Sentinel errors for common error conditions
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that input validation failed
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoModelClient indicates that no language-model client was configured.
	// This is the only failure class surfaced to callers; every other model or
	// backend failure degrades to a documented fallback value.
	ErrNoModelClient = errors.New("no model client configured")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")
)
