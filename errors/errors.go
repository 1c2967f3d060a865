// Package errors provides error handling for grove.
//
// It re-exports github.com/cockroachdb/errors so every package gets stack
// traces, wrapping, hints and details from a single import:
//
//	if err := store.UpdateJob(ctx, job); err != nil {
//	    return errors.Wrapf(err, "failed to update job %s", job.ID)
//	}
//
// Validation failures and policy rejections in the scoring engine are values,
// not errors. Errors are reserved for storage, configuration and scheduling faults.
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// Operator-facing hints and details
var (
	WithHint      = crdb.WithHint
	WithHintf     = crdb.WithHintf
	WithDetail    = crdb.WithDetail
	WithDetailf   = crdb.WithDetailf
	GetAllHints   = crdb.GetAllHints
	GetAllDetails = crdb.GetAllDetails
	FlattenHints  = crdb.FlattenHints
)

// Inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
	GetStack  = crdb.GetReportableStackTrace
)

// Sentinel errors shared across packages. Wrap them to add context and
// check with errors.Is.
var (
	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates malformed input from a caller
	ErrInvalidRequest = New("invalid request")

	// ErrConflict indicates a uniqueness or state conflict
	ErrConflict = New("conflict")

	// ErrTimeout indicates an operation exceeded its deadline
	ErrTimeout = New("operation timed out")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// NewNotFoundError creates a not-found error with a formatted message.
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrapf(ErrNotFound, format, args...)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message.
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrapf(ErrInvalidRequest, format, args...)
}
