// Package errors provides the error taxonomy for invsync.
//
// This file provides:
//   - Sentinel errors for all error conditions
//   - Error category checking functions
//   - Captured, the serializable form of a job failure
//   - Error wrapping utilities
package errors

import (
	"context"
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Transport errors
	ErrConnection = errors.New("connection failed")
	ErrExecution  = errors.New("command execution failed")
	ErrPoll       = errors.New("poll failed")
	ErrTimeout    = errors.New("timeout")

	// Admission and lifecycle errors
	ErrConcurrentJobRejected = errors.New("concurrent job rejected")
	ErrInvalidTransition     = errors.New("invalid state transition")
	ErrQueueFull             = errors.New("execution queue full")
	ErrSubstrateStopped      = errors.New("execution substrate stopped")
	ErrUnknownJobTag         = errors.New("unknown job tag")
	ErrJobNotFound           = errors.New("job not found")
	ErrNotPausable           = errors.New("job does not support pause")

	// Provider and group errors
	ErrUnknownProvider      = errors.New("unknown sync provider")
	ErrIncompatibleProvider = errors.New("incompatible sync provider")
	ErrGroupNotFound        = errors.New("synchronization group not found")
	ErrSourceNotFound       = errors.New("data source not found")
	ErrEmptyGroup           = errors.New("synchronization group has no data sources")

	// Entity model errors
	ErrDuplicateChild = errors.New("duplicate child entity")
	ErrAlreadyOwned   = errors.New("entity already has an owner")
	ErrCycle          = errors.New("entity graph cycle")

	// Inventory errors
	ErrInventory = errors.New("inventory store error")

	// Validation errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingField  = errors.New("missing required field")
	ErrInvalidParam  = errors.New("invalid job parameter")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// IsTransport returns true if err originated in the transport layer.
func IsTransport(err error) bool {
	return errors.Is(err, ErrConnection) ||
		errors.Is(err, ErrExecution) ||
		errors.Is(err, ErrTimeout)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidParam)
}

// IsRetriable returns true if the error is potentially retriable without
// operator input.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrConnection) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentJobRejected) ||
		errors.Is(err, ErrQueueFull)
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// ============================================================================
// Connection errors
// ============================================================================

// Connection wraps a transport failure as a connection error. Deadline
// expiry is additionally marked as a timeout.
func Connection(host string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("connect %s: %w: %w: %v", host, ErrConnection, ErrTimeout, err)
	}
	return fmt.Errorf("connect %s: %w: %v", host, ErrConnection, err)
}

// Execution wraps a failed command as an execution error.
func Execution(command string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("execute %q: %w: %w: %v", command, ErrExecution, ErrTimeout, err)
	}
	return fmt.Errorf("execute %q: %w: %v", command, ErrExecution, err)
}

// ============================================================================
// Parse anomalies
// ============================================================================

// ParseAnomaly records a line the parser could not classify. It is never
// returned as a failure; the parser keeps the line as an unknown entity.
type ParseAnomaly struct {
	Family string
	LineNo int
	Line   string
	Reason string
}

// Error implements the error interface.
func (a *ParseAnomaly) Error() string {
	return fmt.Sprintf("%s line %d: %s: %q", a.Family, a.LineNo, a.Reason, a.Line)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the collected errors for errors.Is/As support.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}
