package errors

import (
	"errors"
	"fmt"
)

// New creates an Error with the given code and message and no cause.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates an Error with the given code and a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with a code and message. The wrapped error
// becomes the Cause. Returns nil if err is nil.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with a code and formatted message.
// Returns nil if err is nil.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// Validation creates a CodeValidation error.
func Validation(message string) *Error {
	return New(CodeValidation, message)
}

// Validationf creates a CodeValidation error with a formatted message.
func Validationf(format string, args ...any) *Error {
	return Newf(CodeValidation, format, args...)
}

// NotFound creates a CodeNotFound error.
func NotFound(message string) *Error {
	return New(CodeNotFound, message)
}

// Unauthorized creates a CodeAuthentication error. Use when credentials are
// missing or invalid.
func Unauthorized(message string) *Error {
	return New(CodeAuthentication, message)
}

// Forbidden creates a CodeAuthorization error. Use when a valid identity is
// rejected by policy.
func Forbidden(message string) *Error {
	return New(CodeAuthorization, message)
}

// Conflict creates a CodeConflict error.
func Conflict(message string) *Error {
	return New(CodeConflict, message)
}

// Internal creates a CodeInternal error. The message must not expose
// implementation detail to clients.
func Internal(message string) *Error {
	return New(CodeInternal, message)
}

// Unavailable creates a CodeUnavailable error for temporarily unreachable
// dependencies.
func Unavailable(message string) *Error {
	return New(CodeUnavailable, message)
}

// Timeout creates a CodeTimeout error.
func Timeout(message string) *Error {
	return New(CodeTimeout, message)
}

// FromError converts any error to an *Error. If err already is (or wraps)
// an *Error, that error is returned unchanged; otherwise err is wrapped as
// a generic internal error so untyped failures never leak raw messages.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	return Wrap(err, CodeInternal, "an unexpected error occurred")
}
