// Package errors provides structured error handling for qubo operations.
// It defines error codes and the error types that cross package boundaries:
// configuration failures that abort a run before it starts, per-probe
// failures that are absorbed by the scan engine, and engine misuse.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeCanceled      ErrorCode = "CANCELED"
	CodeInvalidState  ErrorCode = "INVALID_STATE"

	// Probe errors.
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeConnection    ErrorCode = "CONNECTION"
	CodeProtocol      ErrorCode = "PROTOCOL"
	CodeTargetInvalid ErrorCode = "TARGET_INVALID"

	// Name resolution errors.
	CodeResolution ErrorCode = "RESOLUTION"

	// Aggregation errors indicate a bookkeeping bug, never a runtime condition.
	CodeAggregation ErrorCode = "AGGREGATION"
)

// ConfigurationError reports an invalid or malformed configuration value.
// It is the only error the scan engine propagates to its caller during
// normal operation, so the CLI can tell it apart and show usage help.
type ConfigurationError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Field != "" {
		msg = fmt.Sprintf("%s (field: %s)", msg, e.Field)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(code ErrorCode, message string) *ConfigurationError {
	return &ConfigurationError{
		Code:    code,
		Message: message,
	}
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigurationError {
	return &ConfigurationError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigurationError wraps an existing error as a configuration error.
func WrapConfigurationError(code ErrorCode, message string, err error) *ConfigurationError {
	return &ConfigurationError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WithField sets the offending field name.
func (e *ConfigurationError) WithField(field string, value interface{}) *ConfigurationError {
	e.Field = field
	e.Value = value
	return e
}

// ProbeError describes why a single probe did not produce a decoded response.
type ProbeError struct {
	Code   ErrorCode
	Target string
	Op     string
	Cause  error
}

// Error implements the error interface.
func (e *ProbeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s %s: %v", e.Code, e.Op, e.Target, e.Cause)
	}
	return fmt.Sprintf("[%s] %s %s", e.Code, e.Op, e.Target)
}

// Unwrap returns the underlying error.
func (e *ProbeError) Unwrap() error {
	return e.Cause
}

// NewProbeError creates a probe error for the given target and operation.
func NewProbeError(code ErrorCode, target, op string, cause error) *ProbeError {
	return &ProbeError{
		Code:   code,
		Target: target,
		Op:     op,
		Cause:  cause,
	}
}

// ScanError represents an error raised by the scan engine itself.
type ScanError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// NewScanError creates a new scan error with the specified code and message.
func NewScanError(code ErrorCode, message string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
	}
}

// Utility functions for common error operations

// IsConfigurationError reports whether err, or anything it wraps, is a
// ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return stderrors.As(err, &cfgErr)
}

// GetCode extracts the error code from an error if it has one.
func GetCode(err error) ErrorCode {
	var cfgErr *ConfigurationError
	if stderrors.As(err, &cfgErr) {
		return cfgErr.Code
	}
	var probeErr *ProbeError
	if stderrors.As(err, &probeErr) {
		return probeErr.Code
	}
	var scanErr *ScanError
	if stderrors.As(err, &scanErr) {
		return scanErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

// Common error creation functions

// ErrConfigInvalid creates an error for an invalid configuration value.
func ErrConfigInvalid(field string, value interface{}) *ConfigurationError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigurationError {
	return NewConfigFieldError(CodeConfiguration, "Required configuration field missing", field, nil)
}

// ErrInvalidTarget creates an error for a target specification that cannot be parsed.
func ErrInvalidTarget(spec string, cause error) *ConfigurationError {
	return &ConfigurationError{
		Code:    CodeTargetInvalid,
		Message: "Invalid target specification",
		Field:   "ranges",
		Value:   spec,
		Cause:   cause,
	}
}

// ErrEngineUsed is returned when a scan engine is run more than once.
func ErrEngineUsed() *ScanError {
	return NewScanError(CodeInvalidState, "Scan engine has already been run")
}
