// Package fdwerr defines the error classes shared by the scan and planning
// paths. Value level problems are reported as diagnostics, never as errors;
// everything in this package aborts the operation that returned it.
package fdwerr

import (
	"errors"
	"fmt"
)

// Error classes. Use errors.Is to test an error against a class.
var (
	// ErrConfig marks problems in the declared schema or options.
	// They are reported before any row is fetched.
	ErrConfig = errors.New("configuration error")

	// ErrProtocol marks failures reported by the remote session.
	ErrProtocol = errors.New("protocol error")

	// ErrDecode marks a value that could not be parsed into its target type.
	ErrDecode = errors.New("decode error")

	// ErrInternal marks planner and decoder disagreement. It never
	// indicates a user error.
	ErrInternal = errors.New("internal consistency error")
)

// ConfigError is a schema or option problem detected before scanning.
type ConfigError struct {
	Msg  string
	Hint string
	Err  error
}

// NewConfigError creates a ConfigError with a formatted message.
func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// WithHint attaches a hint shown alongside the message.
func (e *ConfigError) WithHint(format string, args ...any) *ConfigError {
	e.Hint = fmt.Sprintf(format, args...)
	return e
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ConfigError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrConfig, e.Err}
	}
	return []error{ErrConfig}
}

// ProtocolError is a failure of one remote session operation.
type ProtocolError struct {
	Op  string
	Msg string
	Err error
}

// NewProtocolError wraps err as a failure of op.
func NewProtocolError(op string, err error) *ProtocolError {
	return &ProtocolError{Op: op, Err: err}
}

// Protocolf creates a ProtocolError for op that has no underlying cause.
func Protocolf(op, format string, args ...any) *ProtocolError {
	return &ProtocolError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

func (e *ProtocolError) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	default:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
}

func (e *ProtocolError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrProtocol, e.Err}
	}
	return []error{ErrProtocol}
}

// InternalError reports a code path that correct planning never reaches.
type InternalError struct {
	Msg string
}

// NewInternalError creates an InternalError with a formatted message.
func NewInternalError(format string, args ...any) *InternalError {
	return &InternalError{Msg: fmt.Sprintf(format, args...)}
}

func (e *InternalError) Error() string {
	return e.Msg
}

func (e *InternalError) Unwrap() error {
	return ErrInternal
}

// Class names the error class of err, or returns "" for unclassified errors.
func Class(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfig):
		return "config"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrInternal):
		return "internal"
	default:
		return ""
	}
}
