package errors

import (
	"errors"
	"fmt"
)

// Error is a coded error carrying an ErrorCode alongside the message.
// It wraps an optional cause which remains reachable via errors.Is/As.
type Error struct {
	Code    ErrorCode
	Message string
	cause   error
}

// New creates a coded error without a cause.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an existing error.
// Returns nil if err is nil.
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// Wrapf attaches a code and formatted message to an existing error.
// Returns nil if err is nil.
func Wrapf(err error, code ErrorCode, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is/errors.As traversal.
func (e *Error) Unwrap() error {
	return e.cause
}

// CodeOf extracts the ErrorCode from an error chain.
// Returns CodeUnknown when no coded error is present.
func CodeOf(err error) ErrorCode {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeUnknown
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code ErrorCode) bool {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code == code
	}
	return false
}

// Is delegates to the standard library for sentinel checks.
func Is(err, target error) bool { return errors.Is(err, target) }

// As delegates to the standard library for typed checks.
func As(err error, target any) bool { return errors.As(err, target) }
