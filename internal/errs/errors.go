// Package errs provides the kind-based error taxonomy shared across the
// yinx core pipeline, modeled on a single wrapped error carrying a
// semantic kind rather than a sprawl of sentinel values.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a semantic error classification. Kinds drive how callers react
// (retry, surface to the IPC client, quarantine a file, halt startup) and
// are deliberately coarse-grained: new failure modes should map onto one
// of these rather than grow the set.
type Kind string

const (
	// ConfigInvalid marks a fatal startup error: a regex failed to
	// compile, scoring weights didn't sum to 1, a dimension mismatch.
	ConfigInvalid Kind = "config_invalid"
	// Transient marks an I/O failure expected to clear on retry.
	Transient Kind = "transient"
	// Backpressure marks a rejection because a bounded channel is full.
	Backpressure Kind = "backpressure"
	// NotFound marks a lookup miss (blob, chunk, capture, session).
	NotFound Kind = "not_found"
	// Corruption marks on-disk data that failed an integrity check.
	Corruption Kind = "corruption"
	// DegradedSearch marks a search response served by a reduced
	// pipeline (vector, keyword, or reranker unavailable).
	DegradedSearch Kind = "degraded_search"
	// Cancelled marks work abandoned due to shutdown or a deadline.
	Cancelled Kind = "cancelled"
)

// Error is the concrete error type used throughout the core. Op names the
// failing operation ("blobstore.Put", "reducer.Tier2") for log grepping.
type Error struct {
	Kind   Kind
	Op     string
	Err    error
	Fields map[string]any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind of err, walking the Unwrap chain. Errors with
// no Kind attached are reported as "" so callers can default sensibly.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func newf(kind Kind, op string, err error, fields map[string]any) *Error {
	return &Error{Kind: kind, Op: op, Err: err, Fields: fields}
}

// Wrap attaches kind to err under op, preserving err for Unwrap.
func Wrap(kind Kind, op string, err error) *Error { return newf(kind, op, err, nil) }

// WrapFields is Wrap plus structured context fields for logging.
func WrapFields(kind Kind, op string, err error, fields map[string]any) *Error {
	return newf(kind, op, err, fields)
}

func ConfigInvalidf(op, format string, args ...any) *Error {
	return newf(ConfigInvalid, op, fmt.Errorf(format, args...), nil)
}

func NotFoundf(op, format string, args ...any) *Error {
	return newf(NotFound, op, fmt.Errorf(format, args...), nil)
}

func Backpressuref(op, format string, args ...any) *Error {
	return newf(Backpressure, op, fmt.Errorf(format, args...), nil)
}

func Corruptionf(op, format string, args ...any) *Error {
	return newf(Corruption, op, fmt.Errorf(format, args...), nil)
}

func Cancelledf(op, format string, args ...any) *Error {
	return newf(Cancelled, op, fmt.Errorf(format, args...), nil)
}
