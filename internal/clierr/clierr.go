// Package clierr defines structured error types for engine callers and CLI commands.
// Errors carry a machine-readable code, a human-readable message,
// and optional details for script consumption.
package clierr

import (
	"errors"
	"fmt"
	"strconv"
)

// Error code constants. Uppercase, underscore-separated, stable across minor versions.
const (
	TaskNotFound      = "TASK_NOT_FOUND"
	VaultNotFound     = "VAULT_NOT_FOUND"
	VaultExists       = "VAULT_ALREADY_EXISTS"
	ProfileNotFound   = "PROFILE_NOT_FOUND"
	InvalidInput      = "INVALID_INPUT"
	InvalidDate       = "INVALID_DATE"
	InvalidStatus     = "INVALID_STATUS"
	FilterUnavailable = "FILTER_UNAVAILABLE"
	InvalidSort       = "INVALID_SORT"
	InvalidGroupBy    = "INVALID_GROUP_BY"
	NotRecurring      = "NOT_RECURRING"
	TimerRunning      = "TIMER_RUNNING"
	TimerNotRunning   = "TIMER_NOT_RUNNING"
	EngineStopped     = "ENGINE_STOPPED"
	InternalError     = "INTERNAL_ERROR"
)

// Error represents a structured error with a machine-readable code.
type Error struct {
	Code    string
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string { return e.Message }

// New creates an Error with the given code and message.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails returns the error with the given details map attached.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// ExitCode returns 2 for InternalError, 1 for all others.
func (e *Error) ExitCode() int {
	if e.Code == InternalError {
		return 2 //nolint:mnd // exit code 2 for internal errors
	}
	return 1
}

// Is reports whether err is a *Error carrying the given code.
func Is(err error, code string) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Code == code
}

// SilentError signals an exit code without additional output.
// Used by commands whose results are already written to stdout.
type SilentError struct {
	Code int
}

// Error implements the error interface.
func (e *SilentError) Error() string { return "exit " + strconv.Itoa(e.Code) }
