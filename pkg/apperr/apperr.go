// Package apperr provides the error kinds shared by every component.
// This is a leaf package with no internal dependencies, designed to be
// imported by stores, the pipeline and both transports without causing
// circular imports. Transport adapters map kinds to status codes.
package apperr

import (
	"errors"
	"fmt"
)

// Kind represents the class of error that occurred.
type Kind int

const (
	// KindValidation indicates the input failed schema validation.
	KindValidation Kind = iota + 1

	// KindAuth indicates a missing, invalid or expired credential.
	KindAuth

	// KindPermissionDenied indicates the credential lacks the required role.
	KindPermissionDenied

	// KindNotFound indicates the referenced entity does not exist.
	KindNotFound

	// KindConflict indicates a compare-and-set loser or duplicate key.
	KindConflict

	// KindDependencyUnavailable indicates a database, cache or blob
	// backend failure. Handlers do not retry; callers retry.
	KindDependencyUnavailable

	// KindIntegrity indicates the reassembled payload hash does not match
	// the declared hash. The job stops for operator inspection.
	KindIntegrity

	// KindInternal covers everything else.
	KindInternal
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "Validation"
	case KindAuth:
		return "Auth"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	case KindDependencyUnavailable:
		return "DependencyUnavailable"
	case KindIntegrity:
		return "Integrity"
	case KindInternal:
		return "Internal"
	default:
		return fmt.Sprintf("Unknown(%d)", k)
	}
}

// Error is a typed error value carrying a kind and a human string.
// Response bodies surface Message only; Err stays in the logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Validation creates a Validation error. The message should be keyed by
// the offending field path.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Unauthenticated creates an Auth error.
func Unauthenticated(message string) *Error {
	return &Error{Kind: KindAuth, Message: message}
}

// PermissionDenied creates a PermissionDenied error.
func PermissionDenied(format string, args ...any) *Error {
	return &Error{Kind: KindPermissionDenied, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a NotFound error.
func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

// Conflict creates a Conflict error.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Dependency wraps a backend failure.
func Dependency(component string, err error) *Error {
	return &Error{Kind: KindDependencyUnavailable, Message: component + " unavailable", Err: err}
}

// Integrity creates an Integrity error.
func Integrity(format string, args ...any) *Error {
	return &Error{Kind: KindIntegrity, Message: fmt.Sprintf(format, args...)}
}

// Internal creates an Internal error.
func Internal(format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsNotFound returns true if the error is a NotFound error.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsConflict returns true if the error is a Conflict error.
func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}

// IsValidation returns true if the error is a Validation error.
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}

// IsIntegrity returns true if the error is an Integrity error.
func IsIntegrity(err error) bool {
	return KindOf(err) == KindIntegrity
}
