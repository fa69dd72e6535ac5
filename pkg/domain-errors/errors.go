// Package domainerrors carries coded errors across layers. Services return
// these so the transport can map them to status codes without string matching.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies the kind of failure independently of its message.
type Code string

const (
	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeTimeout      Code = "timeout"
	CodeInternal     Code = "internal_error"

	// CodeNoIdentityContext: a source ran with no acting user in context.
	CodeNoIdentityContext Code = "no_identity_context"
	// CodeNotTagged: a sink was handed a value that carries no label.
	CodeNotTagged Code = "not_tagged"
	// CodeMalformedLabel: a wire label could not be decoded or verified.
	CodeMalformedLabel Code = "malformed_label"
	// CodeLogWriteFailure: a provenance event could not be persisted.
	CodeLogWriteFailure Code = "log_write_failure"
	// CodePropagationFailure: a destination delete callback failed or timed out.
	CodePropagationFailure Code = "propagation_failure"
)

// Error is a coded error. Err holds the underlying cause when there is one.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a coded error without a cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to err. A nil err still yields an error.
func Wrap(err error, code Code, message string) error {
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether the outermost coded error in err's chain has code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Is is an alias of HasCode kept for call sites that read better with it.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the outermost code in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a code onto the status the HTTP layer should send.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeInvalidInput, CodeNotTagged, CodeMalformedLabel:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodePropagationFailure:
		return http.StatusBadGateway
	case CodeLogWriteFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
