package errors

import (
	stdErrors "errors"
	"net/http"
)

// Code is the stable, client-visible error identifier.
type Code string

const (
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeNotFound     Code = "NOT_FOUND"
	CodeConflict     Code = "CONFLICT"
	CodeRateLimit    Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal     Code = "INTERNAL_ERROR"
	CodeDependency   Code = "DEPENDENCY_ERROR"

	// CodeProfileUnavailable marks a signed-in caller whose profile could not be reconciled.
	CodeProfileUnavailable Code = "PROFILE_UNAVAILABLE"
)

// Metadata is how a code is rendered on the wire.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:         {http.StatusBadRequest, false, "validation failed", true},
	CodeUnauthorized:       {http.StatusUnauthorized, false, "authentication required", false},
	CodeForbidden:          {http.StatusForbidden, false, "access denied", false},
	CodeNotFound:           {http.StatusNotFound, false, "resource not found", false},
	CodeConflict:           {http.StatusConflict, false, "conflict detected", false},
	CodeRateLimit:          {http.StatusTooManyRequests, true, "rate limit exceeded", false},
	CodeInternal:           {http.StatusInternalServerError, true, "internal server error", false},
	CodeDependency:         {http.StatusServiceUnavailable, true, "dependency unavailable", true},
	CodeProfileUnavailable: {http.StatusServiceUnavailable, true, "profile not available yet", false},
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error is a coded error with an internal message, optional client-safe
// details and an optional cause.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Wrap attaches code and message to err. A nil err behaves like New.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails sets details in place and returns e for chaining.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.code) + ": " + e.message
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches another *Error with the same code, so a bare New(code, "") can
// serve as a sentinel for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the outermost code in err's chain, CodeInternal when none.
func CodeOf(err error) Code {
	return As(err).Code()
}

// HasCode reports whether any *Error in err's chain carries code.
func HasCode(err error, code Code) bool {
	return stdErrors.Is(err, &Error{code: code})
}
