// Package dErrors defines coded domain errors. Services return these so the
// transport layer can translate outcomes into HTTP statuses without string
// matching, and so audit trails carry stable reason codes.
package dErrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, user-safe error classification.
type Code string

const (
	CodeBadRequest     Code = "bad_request"
	CodeInvalidInput   Code = "invalid_input"
	CodeUnauthorized   Code = "unauthorized"
	CodeNotFound       Code = "not_found"
	CodeConflict       Code = "conflict"
	CodeLinkExpired    Code = "link_expired"
	CodeLinkConsumed   Code = "link_consumed"
	CodeInvalidState   Code = "invalid_transition"
	CodeSessionClosed  Code = "session_not_active"
	CodeVerifyFailed   Code = "verification_failed"
	CodeUnavailable    Code = "unavailable"
	CodeInternal       Code = "internal_error"
)

// Error carries a code, a human-readable message, and an optional cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a domain error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds a domain error that preserves the underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// HasCode reports whether err (or anything it wraps) carries the code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from an error, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a code to the HTTP status the transport layer returns.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeInvalidState, CodeSessionClosed, CodeLinkConsumed:
		return http.StatusConflict
	case CodeLinkExpired:
		return http.StatusGone
	case CodeVerifyFailed:
		return http.StatusUnprocessableEntity
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
