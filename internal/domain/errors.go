package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not a recognised tabular format.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrEmptyFile is returned when no data rows follow the header row.
	ErrEmptyFile = errors.New("file contains no data rows")
	// ErrRowLimitExceeded guards a single upload from monopolising the pipeline.
	ErrRowLimitExceeded = errors.New("row limit exceeded")
	// ErrInvalidStateTransition is returned when a session is moved out of order.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrSessionNotFound is returned when no session exists for an id.
	ErrSessionNotFound = errors.New("upload session not found")
	// ErrStoreUnavailable marks failures to reach the system of record or the staging store.
	ErrStoreUnavailable = errors.New("data store unavailable")
	// ErrCommitConflict marks a downstream constraint violation for a single record.
	ErrCommitConflict = errors.New("commit conflict")
	// ErrInvalidInput marks caller mistakes such as a missing approver.
	ErrInvalidInput = errors.New("invalid input")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", operation, kind)
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

// IsKind reports whether err carries the given sentinel.
func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
