package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/atsguard/internal/fsm"
	"github.com/roach88/atsguard/internal/service"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Command succeeded
	ExitFailure      = 1 // Request refused (auth, not found, conflict, rejected) or audit chain broken
	ExitCommandError = 2 // Command error (bad config, unreachable database, etc.)
)

// Error codes reported in CLIError.Code.
const (
	ErrCodeGeneric     = "E001" // Generic/internal error
	ErrCodeAuth        = "E002" // Token missing, unknown, expired or inactive
	ErrCodeNotFound    = "E003" // Entity absent from the caller's tenant
	ErrCodeConflict    = "E004" // Stale state or duplicate; retry after re-reading
	ErrCodeRejected    = "E005" // Transition or input refused by a rule
	ErrCodeBadInput    = "E006" // Unreadable payload or flags
	ErrCodeChainBroken = "E007" // Audit chain verification failed
)

// ExitError carries the process exit code for a failed command.
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
// Returns ExitSuccess for nil and ExitFailure for errors that are not an
// ExitError.
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

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // diagnostics; falls back to Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error half of CLIResponse.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success writes data. Text output prints text when given, else data.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error writes an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled. It writes to
// ErrWriter so JSON on Writer stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// Fail reports a service error and returns the matching ExitError.
// Refusals exit with ExitFailure; internal errors with ExitCommandError.
func (f *OutputFormatter) Fail(op string, err error) error {
	outcome := service.Classify(err)
	code, exit := ErrCodeGeneric, ExitCommandError
	switch outcome {
	case service.OutcomeAuthFailed:
		code, exit = ErrCodeAuth, ExitFailure
	case service.OutcomeNotFound:
		code, exit = ErrCodeNotFound, ExitFailure
	case service.OutcomeConflict:
		code, exit = ErrCodeConflict, ExitFailure
	case service.OutcomeRejected:
		code, exit = ErrCodeRejected, ExitFailure
	}

	var details any
	var te *fsm.TransitionError
	if errors.As(err, &te) {
		details = map[string]string{
			"code":    string(te.Code),
			"rule":    te.Rule,
			"from":    te.From,
			"to":      te.To,
			"current": te.Current,
		}
	}

	_ = f.Error(code, err.Error(), details)
	return WrapExitError(exit, op+" failed", err)
}
