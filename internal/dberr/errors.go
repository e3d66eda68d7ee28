// Package dberr defines the closed error taxonomy every caller of the
// records engine sees, whichever backend or native exception is underneath.
package dberr

import (
	"errors"
	"fmt"
)

// Code categorizes engine errors. Codes are stable and safe to match on.
type Code string

const (
	// CodeInvalidQuery indicates malformed or empty DSL.
	CodeInvalidQuery Code = "INVALID_QUERY"

	// CodeQueryTooDeep indicates a filter tree nested beyond the depth limit.
	CodeQueryTooDeep Code = "QUERY_TOO_DEEP"

	// CodeUnsupportedQuery indicates an operation the routed backend cannot perform.
	CodeUnsupportedQuery Code = "UNSUPPORTED_QUERY"

	// CodeTypeMismatch indicates an update operator applied to an incompatible value.
	CodeTypeMismatch Code = "TYPE_MISMATCH"

	// CodeFieldNotFound indicates a rename of an absent field.
	CodeFieldNotFound Code = "FIELD_NOT_FOUND"

	// CodeDuplicateKey indicates a classified write conflict.
	CodeDuplicateKey Code = "DUPLICATE_KEY"

	// CodeDatabaseUnavailable indicates connectivity loss or a timeout.
	// Retryable by caller policy; never retried internally.
	CodeDatabaseUnavailable Code = "DATABASE_UNAVAILABLE"

	// CodeDatabaseProtocol indicates a malformed or unexpected backend response.
	CodeDatabaseProtocol Code = "DATABASE_PROTOCOL"
)

// Error is the single error type of the taxonomy.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Field is the document or query field involved, when there is one.
	Field string

	// Err is the native cause, if the error was translated from a backend.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Field != "" {
		msg = fmt.Sprintf("%s (field=%s)", msg, e.Field)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the native cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code, so errors.Is(err, &Error{Code: c}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Retryable reports whether a caller may retry the operation as-is.
func (e *Error) Retryable() bool {
	return e.Code == CodeDatabaseUnavailable
}

// IsRetryable reports whether err carries a retryable code.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable()
}

// CodeOf returns the taxonomy code of err, or "" if err is not an *Error.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func newf(code Code, field string, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Field:   field,
		Err:     cause,
	}
}

// InvalidQuery creates an INVALID_QUERY error.
func InvalidQuery(field, format string, args ...any) *Error {
	return newf(CodeInvalidQuery, field, nil, format, args...)
}

// QueryTooDeep creates a QUERY_TOO_DEEP error.
func QueryTooDeep(depth, limit int) *Error {
	return newf(CodeQueryTooDeep, "", nil, "query depth %d exceeds limit %d", depth, limit)
}

// UnsupportedQuery creates an UNSUPPORTED_QUERY error.
func UnsupportedQuery(field, format string, args ...any) *Error {
	return newf(CodeUnsupportedQuery, field, nil, format, args...)
}

// TypeMismatch creates a TYPE_MISMATCH error.
func TypeMismatch(field, format string, args ...any) *Error {
	return newf(CodeTypeMismatch, field, nil, format, args...)
}

// FieldNotFound creates a FIELD_NOT_FOUND error.
func FieldNotFound(field string) *Error {
	return newf(CodeFieldNotFound, field, nil, "field does not exist")
}

// DuplicateKey wraps a native write conflict.
func DuplicateKey(cause error) *Error {
	return newf(CodeDuplicateKey, "", cause, "duplicate key")
}

// Unavailable wraps a connectivity or timeout failure.
func Unavailable(cause error, format string, args ...any) *Error {
	return newf(CodeDatabaseUnavailable, "", cause, format, args...)
}

// Protocol wraps a malformed backend response.
func Protocol(cause error, format string, args ...any) *Error {
	return newf(CodeDatabaseProtocol, "", cause, format, args...)
}

// IsInvalidQuery returns true if err is an INVALID_QUERY error.
func IsInvalidQuery(err error) bool { return CodeOf(err) == CodeInvalidQuery }

// IsQueryTooDeep returns true if err is a QUERY_TOO_DEEP error.
func IsQueryTooDeep(err error) bool { return CodeOf(err) == CodeQueryTooDeep }

// IsUnsupportedQuery returns true if err is an UNSUPPORTED_QUERY error.
func IsUnsupportedQuery(err error) bool { return CodeOf(err) == CodeUnsupportedQuery }

// IsTypeMismatch returns true if err is a TYPE_MISMATCH error.
func IsTypeMismatch(err error) bool { return CodeOf(err) == CodeTypeMismatch }

// IsFieldNotFound returns true if err is a FIELD_NOT_FOUND error.
func IsFieldNotFound(err error) bool { return CodeOf(err) == CodeFieldNotFound }

// IsDuplicateKey returns true if err is a DUPLICATE_KEY error.
func IsDuplicateKey(err error) bool { return CodeOf(err) == CodeDuplicateKey }

// IsUnavailable returns true if err is a DATABASE_UNAVAILABLE error.
func IsUnavailable(err error) bool { return CodeOf(err) == CodeDatabaseUnavailable }

// IsProtocol returns true if err is a DATABASE_PROTOCOL error.
func IsProtocol(err error) bool { return CodeOf(err) == CodeDatabaseProtocol }

// Wrap attaches a native cause under any code. Adapters use it when a
// backend reports a condition of the taxonomy in its own terms.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return newf(code, "", cause, format, args...)
}
