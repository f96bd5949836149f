// Package errors provides structured error handling for paragraf.
//
// Errors carry a classification that mirrors how the sync and retrieval
// layers react to them: transient errors are retried, per-item errors are
// logged and skipped, not-found is a normal result surfaced to the caller,
// invariant violations reject the offending document, and lock conflicts
// reject a concurrent sync attempt.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how callers should react to it.
type Kind string

const (
	// KindTransient indicates a retryable failure (network, store connectivity).
	KindTransient Kind = "TRANSIENT"
	// KindPermanentItem indicates a malformed single document or section.
	// The item is skipped and logged; the surrounding run continues.
	KindPermanentItem Kind = "PERMANENT_ITEM"
	// KindNotFound indicates a missing document, section, or alias.
	// Always a normal result value for tools, never an internal fault.
	KindNotFound Kind = "NOT_FOUND"
	// KindInvariant indicates corpus data violating a model invariant
	// (duplicate canonical ID, cyclic structure parent). Treated as
	// permanent-per-item at ingestion.
	KindInvariant Kind = "INVARIANT"
	// KindLockConflict indicates a sync attempt while another sync holds
	// the per-dataset lock. Rejected synchronously, never queued.
	KindLockConflict Kind = "LOCK_CONFLICT"
	// KindValidation indicates invalid caller input.
	KindValidation Kind = "VALIDATION"
	// KindInternal indicates an unexpected internal failure.
	KindInternal Kind = "INTERNAL"
)

// Error is the structured error type for paragraf.
type Error struct {
	// Kind is the error classification.
	Kind Kind

	// Message is the human-readable error message.
	Message string

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by Kind, enabling errors.Is against kind sentinels.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new Error with the given kind and message.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Newf creates a new Error with a formatted message and no cause.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Transient creates a retryable error.
func Transient(message string) *Error {
	return New(KindTransient, message, nil)
}

// PermanentItem creates a skip-and-log error for a single corpus item.
func PermanentItem(message string) *Error {
	return New(KindPermanentItem, message, nil)
}

// NotFound creates a not-found result error.
func NotFound(message string) *Error {
	return New(KindNotFound, message, nil)
}

// Invariant creates an invariant-violation error.
func Invariant(message string) *Error {
	return New(KindInvariant, message, nil)
}

// LockConflict creates a sync lock conflict error.
func LockConflict(message string) *Error {
	return New(KindLockConflict, message, nil)
}

// Validation creates an invalid-input error.
func Validation(message string) *Error {
	return New(KindValidation, message, nil)
}

// Internal creates an unexpected internal error.
func Internal(message string) *Error {
	return New(KindInternal, message, nil)
}

// IsRetryable reports whether err (anywhere in its chain) is transient.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}

// IsNotFound reports whether err is a not-found result.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// KindOf extracts the Kind from an error chain.
// Returns KindInternal for nil-safe unknown errors, empty Kind for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}
