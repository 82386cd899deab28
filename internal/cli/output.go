package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Mlorras/lightwave/internal/repl"
)

// Process exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // a change failed fatally or a scenario did not converge
	ExitCommandError = 2 // bad flags, unreadable files, missing database
)

// ExitError carries the process exit code for a command failure.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError returns an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError returns an ExitError wrapping err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps err to a process exit code. Errors that are not
// ExitErrors count as failures.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ee *ExitError
	if !errors.As(err, &ee) {
		return ExitFailure
	}
	return ee.Code
}

// Envelope is the JSON document every command writes with --format json.
type Envelope struct {
	Status string         `json:"status"` // ok | error
	Data   any            `json:"data,omitempty"`
	Error  *EnvelopeError `json:"error,omitempty"`
}

// EnvelopeError describes a failed command. Code is the apply error code
// when a change failed, COMMAND_ERROR or FAILED otherwise.
type EnvelopeError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	ExitCode int    `json:"exit_code"`
}

// Reporter writes command results as text or as a JSON envelope.
type Reporter struct {
	Format string
	Out    io.Writer
}

// Report writes data. In text mode text renders it instead.
func (r *Reporter) Report(data any, text func(w io.Writer)) error {
	if r.Format != "json" {
		text(r.Out)
		return nil
	}
	return json.NewEncoder(r.Out).Encode(Envelope{Status: "ok", Data: data})
}

// Fail writes err and returns its exit code.
func (r *Reporter) Fail(err error) int {
	code := GetExitCode(err)
	if r.Format != "json" {
		fmt.Fprintln(r.Out, "Error:", err)
		return code
	}

	ee := &EnvelopeError{Code: "FAILED", Message: err.Error(), ExitCode: code}
	var ae *repl.ApplyError
	switch {
	case errors.As(err, &ae):
		ee.Code = string(ae.Code)
	case code == ExitCommandError:
		ee.Code = "COMMAND_ERROR"
	}
	if encErr := json.NewEncoder(r.Out).Encode(Envelope{Status: "error", Error: ee}); encErr != nil {
		fmt.Fprintln(r.Out, "Error:", err)
	}
	return code
}
