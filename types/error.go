package types

import (
	"errors"
	"fmt"
)

// ErrorKind is a machine-readable classification of a failure.
type ErrorKind string

const (
	// KindTransient marks failures worth retrying (network, timeout,
	// upstream overload).
	KindTransient ErrorKind = "transient"

	// KindNonRetryable marks failures that retrying cannot fix (bad
	// arguments, permission denied).
	KindNonRetryable ErrorKind = "non_retryable"

	// KindInvalidResume marks a resume payload that does not match the
	// pending interrupt, or a resume with no interrupt pending.
	KindInvalidResume ErrorKind = "invalid_resume"

	// KindNeedsRepair marks a tool whose retries exhausted but whose
	// failure handler proposed corrective follow-up actions.
	KindNeedsRepair ErrorKind = "needs_repair"

	// KindEditLoopExceeded marks a session terminated because an
	// approve/reject/edit cycle hit its iteration cap.
	KindEditLoopExceeded ErrorKind = "edit_loop_exceeded"

	// KindCancelled marks a session cancelled by an external signal.
	KindCancelled ErrorKind = "cancelled"

	// KindInternal marks everything else.
	KindInternal ErrorKind = "internal"
)

// Error is the structured error used across the orchestration core.
// It carries a kind for machine dispatch and a human-readable message;
// every terminal error event is built from one of these.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates an Error with the given kind and message.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf creates an Error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithCause attaches a cause and returns the error for chaining.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// KindOf extracts the kind from err, walking wrapped errors.
// Unclassified errors report KindInternal.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// IsRetryable reports whether err should go through the retry policy.
// Only transient failures are retryable; unclassified errors are treated
// as transient so flaky collaborators get the benefit of the doubt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == KindTransient
	}
	return true
}
