package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass groups patch failures by what the caller can do about them.
type ErrorClass string

const (
	// ErrorClassPrecondition indicates the target is not in a state the hunk
	// set can be applied to at all. Example: a hunk removes lines from a
	// document that does not exist.
	ErrorClassPrecondition ErrorClass = "precondition"

	// ErrorClassConflict indicates the document holds neither the old nor the
	// new form of a hunk, so it was edited outside of this tool.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassWrite indicates the converged document could not be persisted
	// to one or more destinations.
	ErrorClassWrite ErrorClass = "write"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: invalid target descriptor, write denied by policy.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error codes.
const (
	ErrCodePreconditionViolation = "PRECONDITION_VIOLATION"
	ErrCodeUnreconcilableState   = "UNRECONCILABLE_STATE"
	ErrCodeWriteFailed           = "WRITE_FAILED"
	ErrCodePolicyDenied          = "POLICY_DENIED"
	ErrCodeInvalidTarget         = "INVALID_TARGET"
)

// Sentinels for errors.Is. They match any *Error of the same class and code.
var (
	ErrPreconditionViolation = &Error{Class: ErrorClassPrecondition, Code: ErrCodePreconditionViolation}
	ErrUnreconcilableState   = &Error{Class: ErrorClassConflict, Code: ErrCodeUnreconcilableState}
	ErrWriteFailure          = &Error{Class: ErrorClassWrite, Code: ErrCodeWriteFailed}
	ErrPolicyDenied          = &Error{Class: ErrorClassPermanent, Code: ErrCodePolicyDenied}
	ErrInvalidTarget         = &Error{Class: ErrorClassPermanent, Code: ErrCodeInvalidTarget}
)

// noHunk marks an error not tied to a particular hunk.
const noHunk = -1

// Error is a classified patch failure.
type Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Code identifies the failure for programmatic handling.
	Code string `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Target is the identity of the target being patched.
	Target string `json:"target,omitempty"`

	// HunkIndex is the zero-based position of the offending hunk, or -1.
	HunkIndex int `json:"hunk_index"`

	// Hunk is the raw text of the offending hunk.
	Hunk string `json:"hunk,omitempty"`

	// Destination is the host:path that failed, for single-destination
	// write failures.
	Destination string `json:"destination,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Class, e.Message)

	var ctx []string
	if e.Target != "" {
		ctx = append(ctx, "target="+e.Target)
	}
	if e.HunkIndex >= 0 && e.Hunk != "" {
		ctx = append(ctx, fmt.Sprintf("hunk=%d", e.HunkIndex))
	}
	if e.Destination != "" {
		ctx = append(ctx, "destination="+e.Destination)
	}
	if len(ctx) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(ctx, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewPreconditionError creates a precondition violation.
func NewPreconditionError(message string) *Error {
	return &Error{
		Class:     ErrorClassPrecondition,
		Code:      ErrCodePreconditionViolation,
		Message:   message,
		HunkIndex: noHunk,
	}
}

// NewUnreconcilableError reports a hunk whose before and after forms are
// both missing from the document.
func NewUnreconcilableError(index int, hunk string) *Error {
	return &Error{
		Class:     ErrorClassConflict,
		Code:      ErrCodeUnreconcilableState,
		Message:   "document matches neither the original nor the patched form of the hunk",
		HunkIndex: index,
		Hunk:      hunk,
	}
}

// NewWriteError creates a write failure.
func NewWriteError(message string, err error) *Error {
	return &Error{
		Class:     ErrorClassWrite,
		Code:      ErrCodeWriteFailed,
		Message:   message,
		HunkIndex: noHunk,
		Err:       err,
	}
}

// NewPolicyError reports a write refused by the policy gate.
func NewPolicyError(err error) *Error {
	return &Error{
		Class:     ErrorClassPermanent,
		Code:      ErrCodePolicyDenied,
		Message:   "write denied by policy",
		HunkIndex: noHunk,
		Err:       err,
	}
}

// NewTargetError reports a descriptor that cannot be resolved.
func NewTargetError(err error) *Error {
	return &Error{
		Class:     ErrorClassPermanent,
		Code:      ErrCodeInvalidTarget,
		Message:   "invalid target",
		HunkIndex: noHunk,
		Err:       err,
	}
}

// WithTarget adds the target identity to an error.
func (e *Error) WithTarget(identity string) *Error {
	e.Target = identity
	return e
}

// WithDestination adds the failing destination to an error.
func (e *Error) WithDestination(dest string) *Error {
	e.Destination = dest
	return e
}

// WithHunk adds the offending hunk to an error.
func (e *Error) WithHunk(index int, raw string) *Error {
	e.HunkIndex = index
	e.Hunk = raw
	return e
}

// IsPrecondition reports whether err is a precondition violation.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrPreconditionViolation)
}

// IsUnreconcilable reports whether err is an unreconcilable-state conflict.
func IsUnreconcilable(err error) bool {
	return errors.Is(err, ErrUnreconcilableState)
}

// IsWriteFailure reports whether err is a write failure.
func IsWriteFailure(err error) bool {
	return errors.Is(err, ErrWriteFailure)
}

// IsPolicyDenied reports whether err is a policy denial.
func IsPolicyDenied(err error) bool {
	return errors.Is(err, ErrPolicyDenied)
}

// ClassOf returns the class of err, or "" when err is not an *Error.
func ClassOf(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}
