package errors

import (
	"fmt"
	"net/http"
)

// Error is a structured error with a stable code, a human-readable message,
// and an optional wrapped cause.
//
// The Message may be returned to end users and must not contain internal
// detail (SQL text, file paths, upstream response bodies); put that in the
// Cause or in Details, which stay server-side.
//
// Error values are immutable after construction. Derive variants with
// [Error.WithDetail] / [Error.WithDetails].
type Error struct {
	// Code identifies the error condition (e.g., "AUTH_003").
	Code Code

	// Message is the human-readable, client-safe description.
	Message string

	// Cause is the underlying error, if any. Available via Unwrap for
	// errors.Is / errors.As traversal.
	Cause error

	// Details carries additional structured context for server-side
	// logging (field names, provider identifiers, request ids).
	Details map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, supporting errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error's code category to an HTTP status code. This is
// the only place the gateway derives transport status from error kinds.
func (e *Error) HTTPStatus() int {
	switch e.Code.Category() {
	case "VAL":
		return http.StatusBadRequest
	case "AUTH":
		return http.StatusUnauthorized
	case "AUTHZ":
		return http.StatusForbidden
	case "NF":
		return http.StatusNotFound
	case "CONF":
		return http.StatusConflict
	case "INT":
		return http.StatusInternalServerError
	case "UNAVAIL":
		return http.StatusServiceUnavailable
	case "TIMEOUT":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WithDetails returns a copy of the error with the given details merged in.
// The receiver is not modified.
func (e *Error) WithDetails(details map[string]any) *Error {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Cause:   e.Cause,
		Details: merged,
	}
}

// WithDetail returns a copy of the error with a single detail added.
// The receiver is not modified.
func (e *Error) WithDetail(key string, value any) *Error {
	return e.WithDetails(map[string]any{key: value})
}

// Format implements fmt.Formatter. %v prints the standard message; %+v adds
// details and the full cause chain for server-side logs.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "Error{Code: %q, Message: %q", e.Code, e.Message)
			if len(e.Details) > 0 {
				fmt.Fprintf(s, ", Details: %v", e.Details)
			}
			if e.Cause != nil {
				fmt.Fprintf(s, ", Cause: %+v", e.Cause)
			}
			fmt.Fprint(s, "}")
			return
		}
		fallthrough
	case 's':
		fmt.Fprint(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}
