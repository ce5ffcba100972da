// ABOUTME: Closed error taxonomy shared by HTTP and WebSocket paths
// ABOUTME: Error carries a code, an HTTP status and optional client details

package envelope

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeValidation             Code = "VALIDATION_ERROR"
	CodeUnauthorized           Code = "UNAUTHORIZED"
	CodeInvalidToken           Code = "INVALID_TOKEN"
	CodeTokenExpired           Code = "TOKEN_EXPIRED"
	CodeNotFound               Code = "NOT_FOUND"
	CodeBadRequest             Code = "BAD_REQUEST"
	CodeUnsupportedMessageType Code = "UNSUPPORTED_MESSAGE_TYPE"
	CodeHandlerError           Code = "HANDLER_ERROR"
	CodeInternal               Code = "INTERNAL_ERROR"
)

// Status returns the default HTTP status for the code.
func (c Code) Status() int {
	switch c {
	case CodeValidation, CodeBadRequest, CodeUnsupportedMessageType:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeInvalidToken, CodeTokenExpired:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error is a tagged error that knows how it should be rendered to clients.
type Error struct {
	Code    Code
	Status  int
	Message string
	Details any
	Cause   error
}

// New creates an Error with the code's default status.
func New(code Code, message string) *Error {
	return &Error{Code: code, Status: code.Status(), Message: message}
}

// Newf is New with a format string.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap tags cause with code, keeping it for Unwrap and stack output.
func Wrap(code Code, message string, cause error) *Error {
	e := New(code, message)
	e.Cause = cause
	return e
}

// WithStatus returns a copy of e using status instead of the code default.
func (e *Error) WithStatus(status int) *Error {
	cp := *e
	cp.Status = status
	return &cp
}

// WithDetails returns a copy of e carrying details.
func (e *Error) WithDetails(details any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Trace renders the unwrap chain, one error per line.
func (e *Error) Trace() string {
	var b strings.Builder
	b.WriteString(e.Error())
	for err := e.Cause; err != nil; err = errors.Unwrap(err) {
		b.WriteString("\n  caused by: ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// From converts any error into an *Error. Untagged errors become
// INTERNAL_ERROR with a generic message so internals never leak.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(CodeInternal, "internal server error", err)
}
