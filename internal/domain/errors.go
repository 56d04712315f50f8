package domain

import "errors"

// Validation errors. Returned before any state is mutated.
var (
	ErrInvalidLocator   = errors.New("invalid repository locator")
	ErrInvalidSessionID = errors.New("invalid session id")
	ErrInvalidFilePath  = errors.New("invalid file path")
	ErrEmptyMessage     = errors.New("message cannot be empty")
)

// Not-found errors.
var (
	ErrCodebaseNotFound = errors.New("codebase not found")
	ErrSessionNotFound  = errors.New("session not found")
)

// State errors.
var (
	ErrCodebaseNotReady  = errors.New("codebase is not ready")
	ErrInvalidTransition = errors.New("invalid status transition")
)
