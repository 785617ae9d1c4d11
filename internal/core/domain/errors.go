package domain

import (
	"context"
	"errors"
	"fmt"
)

// Domain errors represent the failure kinds every component reports.
// Adapters translate native failures into one of these before returning.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnsupportedType indicates an unknown source type.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrNotSupported indicates an adapter cannot perform an operation.
	ErrNotSupported = errors.New("operation not supported")

	// ErrAdapterClosed indicates the adapter has been closed.
	ErrAdapterClosed = errors.New("adapter closed")

	// ErrSyncInProgress indicates a sync is already running for the source.
	ErrSyncInProgress = errors.New("sync in progress")

	// Failure taxonomy.

	// ErrConfig indicates an invalid or missing configuration.
	// Fatal at startup, rejected on reload.
	ErrConfig = errors.New("configuration error")

	// ErrConnection indicates the source is unreachable or its pool is exhausted.
	ErrConnection = errors.New("connection error")

	// ErrAuth indicates the source rejected the credentials.
	ErrAuth = errors.New("authentication error")

	// ErrQueryTimeout indicates a call exceeded its deadline.
	ErrQueryTimeout = errors.New("query timeout")

	// ErrParse indicates the source returned data that could not be decoded.
	ErrParse = errors.New("parse error")

	// ErrSchemaDrift indicates the source schema changed since it was registered.
	// Advisory only.
	ErrSchemaDrift = errors.New("schema drift")

	// ErrConflict indicates a lost compare-and-advance race on a cursor.
	ErrConflict = errors.New("cursor conflict")

	// ErrAggregateFailure indicates every queried source failed.
	ErrAggregateFailure = errors.New("all sources failed")
)

// SourceError is a failure raised at an adapter boundary.
// It carries the taxonomy kind alongside the native cause so callers can
// match on either with errors.Is.
type SourceError struct {
	// Kind is one of the taxonomy sentinels above.
	Kind error

	// Source is the name of the source that failed.
	Source string

	// Op is the adapter operation (connect, query, fetch_changes...).
	Op string

	// Err is the underlying cause.
	Err error
}

// NewSourceError wraps cause as a failure of the given kind.
func NewSourceError(kind error, source, op string, cause error) *SourceError {
	return &SourceError{Kind: kind, Source: source, Op: op, Err: cause}
}

// Error implements the error interface.
func (e *SourceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.Source, e.Op, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Source, e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *SourceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// kinds lists the taxonomy in classification order.
var kinds = []error{
	ErrConfig, ErrConnection, ErrAuth, ErrQueryTimeout, ErrParse,
	ErrSchemaDrift, ErrConflict, ErrAggregateFailure,
}

// Classify returns the taxonomy kind of err.
// Context deadlines become ErrQueryTimeout; anything unrecognised is
// treated as ErrConnection since the source did not answer usefully.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrQueryTimeout
	}
	return ErrConnection
}

// Translate wraps err as a SourceError unless it already is one.
// Used by adapters at their boundary.
func Translate(source, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *SourceError
	if errors.As(err, &se) {
		return err
	}
	return NewSourceError(Classify(err), source, op, err)
}
