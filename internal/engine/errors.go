package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/recordsdb/internal/dberr"
	"github.com/roach88/recordsdb/internal/dsl"
)

// RequestError attaches request correlation to a failure. The dberr code
// of the cause stays reachable through errors.As.
type RequestError struct {
	// RequestID correlates the failure with log lines of the request.
	RequestID string

	// Kind is the request kind.
	Kind dsl.Kind

	// Backend is empty when the request failed before routing.
	Backend Backend

	Err error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("%s failed (request=%s, backend=%s): %v", e.Kind, e.RequestID, e.Backend, e.Err)
	}
	return fmt.Sprintf("%s failed (request=%s): %v", e.Kind, e.RequestID, e.Err)
}

// Unwrap returns the cause.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// RequestIDOf returns the request id carried by err, if any.
func RequestIDOf(err error) string {
	var re *RequestError
	if errors.As(err, &re) {
		return re.RequestID
	}
	return ""
}

// translate maps errors that escaped adapter translation onto the taxonomy.
// Deadline and cancellation are connectivity failures from the caller's
// point of view.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if dberr.CodeOf(err) != "" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return dberr.Unavailable(err, "deadline exceeded")
	}
	if errors.Is(err, context.Canceled) {
		return dberr.Unavailable(err, "request canceled")
	}
	return err
}
