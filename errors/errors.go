// Package errors provides error handling for exportd.
//
// It re-exports github.com/cockroachdb/errors (stack traces, wrapping,
// details) and adds the failure taxonomy the engine reacts to. A failure is
// classified by marking it with one of the kind sentinels:
//
//	return errors.Mark(errors.Wrap(err, "run gate query"), errors.ErrGate)
//
// and inspected with errors.Is or errors.Kind.
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is            = crdb.Is
	IsAny         = crdb.IsAny
	As            = crdb.As
	Unwrap        = crdb.Unwrap
	UnwrapAll     = crdb.UnwrapAll
	GetAllHints   = crdb.GetAllHints
	GetAllDetails = crdb.GetAllDetails
)

// Failure kinds. Each decides how the scheduler reacts.
var (
	// ErrDefinition marks a malformed job or schedule entry. The item is skipped.
	ErrDefinition = New("definition error")

	// ErrGate marks a gate query failure. The occurrence is cancelled.
	ErrGate = New("gate error")

	// ErrExtraction marks a query or fetch failure. The run aborts without bookkeeping.
	ErrExtraction = New("extraction error")

	// ErrResourceExhausted marks a connection-limit refusal from the warehouse.
	// It is retried and never reported as a job failure.
	ErrResourceExhausted = New("resource exhausted")

	// ErrExport marks a filesystem or encoding failure while writing output.
	ErrExport = New("export error")

	// ErrNotReadOnly rejects a query that is not a pure read.
	ErrNotReadOnly = Mark(New("query is not read-only"), ErrExtraction)
)

// ErrNotFound indicates the requested record does not exist
var ErrNotFound = New("not found")

// Kind returns the taxonomy label of err for log fields, or "unknown".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case Is(err, ErrDefinition):
		return "definition"
	case Is(err, ErrGate):
		return "gate"
	case Is(err, ErrResourceExhausted):
		return "resource_exhausted"
	case Is(err, ErrExtraction):
		return "extraction"
	case Is(err, ErrExport):
		return "export"
	default:
		return "unknown"
	}
}

// NewDefinitionError creates a definition error with a formatted message
func NewDefinitionError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrDefinition)
}

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}
