package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/recordsdb/internal/dberr"
	"github.com/roach88/recordsdb/internal/engine"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Rejected request, failed scenario, failed sync
	ExitCommandError = 2 // Bad arguments, unreadable files, invalid config
)

// Error codes for failures that carry no dberr code.
const (
	CodeCommandError   = "COMMAND_ERROR"
	CodeScenarioFailed = "SCENARIO_FAILED"
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code    int    // ExitFailure or ExitCommandError
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError describes a failure in the JSON envelope.
type CLIError struct {
	Code      string `json:"code"` // dberr code, or CodeCommandError
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// errorDetails maps err onto the envelope error.
func errorDetails(err error) *CLIError {
	out := &CLIError{Code: CodeCommandError, Message: err.Error()}
	var de *dberr.Error
	if errors.As(err, &de) {
		out.Code = string(de.Code)
		out.Field = de.Field
	}
	out.RequestID = engine.RequestIDOf(err)
	return out
}

// OutputFormatter writes command results as text or as a CLIResponse.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

func (f *OutputFormatter) json() bool {
	return f.Format == "json"
}

// Success writes data. In text mode text renders it; a nil text prints
// data with %v.
func (f *OutputFormatter) Success(data any, text func(w io.Writer) error) error {
	if f.json() {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}
	if text == nil {
		_, err := fmt.Fprintln(f.Writer, data)
		return err
	}
	return text(f.Writer)
}

// Fail reports err and returns it as an ExitError carrying code. In text
// mode nothing is written here; main prints the returned error.
func (f *OutputFormatter) Fail(code int, message string, err error) error {
	if f.json() {
		details := errorDetails(err)
		details.Message = message + ": " + details.Message
		if encErr := f.encode(CLIResponse{Status: "error", Error: details}); encErr != nil {
			return encErr
		}
	}
	return WrapExitError(code, message, err)
}

// FailWith reports a failure that also carries a payload, such as a
// scenario run with failing scenarios.
func (f *OutputFormatter) FailWith(code int, cliErr *CLIError, data any, text func(w io.Writer) error) error {
	if f.json() {
		if err := f.encode(CLIResponse{Status: "error", Data: data, Error: cliErr}); err != nil {
			return err
		}
	} else if text != nil {
		if err := text(f.Writer); err != nil {
			return err
		}
	}
	return NewExitError(code, cliErr.Message)
}

func (f *OutputFormatter) encode(resp CLIResponse) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
