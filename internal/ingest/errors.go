package ingest

import (
	"errors"
	"fmt"
)

// semantic error kinds, mapped to HTTP statuses by the server layer.
var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("already in use")
	ErrUnsupportedMedia   = errors.New("unsupported media")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrTrickleDisabled    = errors.New("trickle is disabled")
)

// BackendError wraps a failure reported by the media backend.
type BackendError struct {
	Err error
}

// Error implements the error interface.
func (e BackendError) Error() string {
	return fmt.Sprintf("backend error: %v", e.Err)
}

// Unwrap allows errors.Is / errors.As traversal.
func (e BackendError) Unwrap() error {
	return e.Err
}
