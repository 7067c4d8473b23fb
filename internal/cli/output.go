package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes.
const (
	ExitSuccess      = 0 // successful execution
	ExitFailure      = 1 // operation ran but reported failure
	ExitCommandError = 2 // bad invocation: config, paths, flags
)

// Error codes surfaced in JSON output.
const (
	ErrCodeConfig  = "config"
	ErrCodeStore   = "store"
	ErrCodeNetwork = "network"
	ErrCodeInput   = "input"
)

// ExitError carries a process exit code alongside the error.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

// WrapExitError attaches an exit code to an existing error.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error, defaulting to
// ExitFailure for plain errors.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter renders command results as JSON or text.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// Response is the JSON envelope for command output.
type Response struct {
	Status string         `json:"status"` // "ok" or "error"
	Data   any            `json:"data,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

// ResponseError is the error half of the JSON envelope.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Success renders data. Text mode prints each line of lines; JSON mode
// emits the structured payload.
func (f *OutputFormatter) Success(data any, lines ...string) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(Response{Status: "ok", Data: data})
	}
	for _, line := range lines {
		fmt.Fprintln(f.Writer, line)
	}
	return nil
}

// Error renders an error in the configured format.
func (f *OutputFormatter) Error(code, message string) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(Response{
			Status: "error",
			Error:  &ResponseError{Code: code, Message: message},
		})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	return nil
}
