package core

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("access denied")
	ErrUnauthenticated = errors.New("authentication required")
	ErrConflict        = errors.New("conflict")
	ErrEmailTaken      = fmt.Errorf("email already registered: %w", ErrConflict)
	ErrInvalidInput    = errors.New("invalid input")

	// ErrUpstream marks a failure of the durable store.
	ErrUpstream = errors.New("storage failure")
)
