// Package apperr defines the single error taxonomy shared by every
// Layercake component: seven kinds, each with a stable wire code, an
// optional field path for validation failures, and a wrapped cause.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the seven stable error categories from the error
// handling design.
type Kind int

const (
	// KindInternal covers invariant violations and storage faults.
	KindInternal Kind = iota
	KindNotFound
	KindValidation
	KindConflict
	KindForbidden
	KindUnauthorized
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindValidation:
		return "Validation"
	case KindConflict:
		return "Conflict"
	case KindForbidden:
		return "Forbidden"
	case KindUnauthorized:
		return "Unauthorized"
	case KindUnavailable:
		return "Unavailable"
	default:
		return "Internal"
	}
}

// Code returns the stable wire code for the kind.
func (k Kind) Code() string {
	switch k {
	case KindNotFound:
		return "NOT_FOUND"
	case KindValidation:
		return "VALIDATION"
	case KindConflict:
		return "CONFLICT"
	case KindForbidden:
		return "FORBIDDEN"
	case KindUnauthorized:
		return "UNAUTHORIZED"
	case KindUnavailable:
		return "UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}

// Error is the single error type propagated across every package.
// It carries a Kind, a human-readable message, an optional field path
// for validation errors, and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Field   string
	Cause   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Code returns the stable wire code carried by this error.
func (e *Error) Code() string { return e.Kind.Code() }

// IsNotFound reports whether the error is a NotFound.
func (e *Error) IsNotFound() bool { return e.Kind == KindNotFound }

// IsClientError reports whether the caller, not the server, is
// responsible for the failure.
func (e *Error) IsClientError() bool {
	switch e.Kind {
	case KindNotFound, KindValidation, KindConflict, KindForbidden, KindUnauthorized:
		return true
	default:
		return false
	}
}

func newErr(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a NotFound error, e.g. apperr.NotFoundf("dataset %d not found", id).
func NotFoundf(format string, args ...any) *Error { return newErr(KindNotFound, format, args...) }

// Validationf builds a Validation error.
func Validationf(format string, args ...any) *Error { return newErr(KindValidation, format, args...) }

// ValidationField builds a Validation error scoped to a field path.
func ValidationField(field, format string, args ...any) *Error {
	e := newErr(KindValidation, format, args...)
	e.Field = field
	return e
}

// Conflictf builds a Conflict error (unique-key collision, stale version).
func Conflictf(format string, args ...any) *Error { return newErr(KindConflict, format, args...) }

// Forbiddenf builds a Forbidden error.
func Forbiddenf(format string, args ...any) *Error { return newErr(KindForbidden, format, args...) }

// Unauthorizedf builds an Unauthorized error.
func Unauthorizedf(format string, args ...any) *Error {
	return newErr(KindUnauthorized, format, args...)
}

// Unavailablef builds an Unavailable error (transient downstream failure).
func Unavailablef(format string, args ...any) *Error { return newErr(KindUnavailable, format, args...) }

// Internalf builds an Internal error, optionally wrapping a cause.
func Internalf(cause error, format string, args ...any) *Error {
	e := newErr(KindInternal, format, args...)
	e.Cause = cause
	return e
}

// Wrap classifies an arbitrary error as Internal unless it already is an
// *Error, matching the propagation policy: "executors catch only what
// they can classify; anything else surfaces as Internal with the
// original cause attached."
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internalf(err, "%s", err.Error())
}

// KindOf extracts the Kind of err, defaulting to KindInternal when err is
// not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
