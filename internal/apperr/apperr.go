// Package apperr defines the error kinds surfaced by Waxlog services.
//
// Services return *Error values carrying a Kind (what the caller should do about it)
// and a code in the form "operation.reason" (where it happened). Handlers switch on
// the Kind; logs carry the code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for callers.
type Kind string

const (
	KindValidation          Kind = "validation_error"
	KindNotFound            Kind = "not_found"
	KindForbidden           Kind = "forbidden"
	KindConflict            Kind = "conflict"
	KindCapacityExceeded    Kind = "capacity_exceeded"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindUnauthorized        Kind = "unauthorized"
	KindInternal            Kind = "internal"
)

// HTTPStatus maps the kind onto a response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict, KindCapacityExceeded:
		return http.StatusConflict
	case KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified service error.
type Error struct {
	kind    Kind
	code    string
	message string
	details map[string]string
	cause   error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.cause)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.code == "" && other.kind == e.kind
}

// Kind reports the error classification.
func (e *Error) Kind() Kind {
	return e.kind
}

// Code reports the "operation.reason" code.
func (e *Error) Code() string {
	return e.code
}

// Message returns the client-safe message.
func (e *Error) Message() string {
	if e.message != "" {
		return e.message
	}
	return string(e.kind)
}

// Details returns per-field messages, if any.
func (e *Error) Details() map[string]string {
	return e.details
}

// WithDetails returns a copy carrying per-field messages.
func (e *Error) WithDetails(details map[string]string) *Error {
	clone := *e
	clone.details = details
	return &clone
}

// WithMessage returns a copy with a client-safe message.
func (e *Error) WithMessage(message string) *Error {
	clone := *e
	clone.message = message
	return &clone
}

// Sentinels for errors.Is checks.
var (
	ErrValidation          = &Error{kind: KindValidation}
	ErrNotFound            = &Error{kind: KindNotFound}
	ErrForbidden           = &Error{kind: KindForbidden}
	ErrConflict            = &Error{kind: KindConflict}
	ErrCapacityExceeded    = &Error{kind: KindCapacityExceeded}
	ErrUpstreamUnavailable = &Error{kind: KindUpstreamUnavailable}
	ErrUnauthorized        = &Error{kind: KindUnauthorized}
	ErrInternal            = &Error{kind: KindInternal}
)

// New builds an error with code "operation.reason".
func New(kind Kind, operation, reason string, cause error) *Error {
	return &Error{
		kind:  kind,
		code:  fmt.Sprintf("%s.%s", operation, reason),
		cause: cause,
	}
}

func Validation(operation, reason, message string) *Error {
	return New(KindValidation, operation, reason, nil).WithMessage(message)
}

func NotFound(operation, reason, message string) *Error {
	return New(KindNotFound, operation, reason, nil).WithMessage(message)
}

func Forbidden(operation, reason, message string) *Error {
	return New(KindForbidden, operation, reason, nil).WithMessage(message)
}

func Conflict(operation, reason, message string) *Error {
	return New(KindConflict, operation, reason, nil).WithMessage(message)
}

// Internal wraps a store or programming failure. The cause is never shown to clients.
func Internal(operation, reason string, cause error) *Error {
	return New(KindInternal, operation, reason, cause)
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.kind
	}
	return KindInternal
}

// As extracts the *Error from err, wrapping unclassified errors as internal.
func As(err error) *Error {
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}
	return Internal("unknown", "unclassified", err)
}
