// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrRiskRejected       = errors.New("signal rejected by risk check")
	ErrQueueFull          = errors.New("execution queue is full")
	ErrExecutorClosed     = errors.New("executor is closed")
	ErrTaskNotFound       = errors.New("task not found")
	ErrBackendFailure     = errors.New("execution backend failure")
	ErrBackendTimeout     = errors.New("execution backend timed out")
	ErrPersistenceFailure = errors.New("persistence failure")
	ErrMarketClosed       = errors.New("market is closed")
	ErrNoSnapshot         = errors.New("no trading day snapshot available")
	ErrDataNotFound       = errors.New("data not found")
	ErrConfigInvalid      = errors.New("invalid configuration")
)

// ValidationError represents a validation error on caller-supplied input.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// Unwrap lets callers match validation errors against ErrInvalidInput.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// RiskError represents a named risk rule violation.
type RiskError struct {
	Rule    string
	Current float64
	Limit   float64
	Message string
}

func (e *RiskError) Error() string {
	return fmt.Sprintf("risk violation [%s]: %s (current: %.2f, limit: %.2f)", e.Rule, e.Message, e.Current, e.Limit)
}

// NewRiskError creates a new RiskError.
func NewRiskError(rule string, current, limit float64, message string) *RiskError {
	return &RiskError{
		Rule:    rule,
		Current: current,
		Limit:   limit,
		Message: message,
	}
}

// BackendError represents an error from the trade execution backend.
type BackendError struct {
	Mode    string // coordinate, image, dryrun
	Op      string
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backend error [%s] %s: %s: %v", e.Mode, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("backend error [%s] %s: %s", e.Mode, e.Op, e.Message)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// NewBackendError creates a new BackendError.
func NewBackendError(mode, op, message string, err error) *BackendError {
	return &BackendError{
		Mode:    mode,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// TaskError represents an error tied to a specific execution task.
type TaskError struct {
	TaskID string
	Code   string
	Op     string
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task error [%s] %s %s: %v", e.TaskID, e.Op, e.Code, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// NewTaskError creates a new TaskError.
func NewTaskError(taskID, code, op string, err error) *TaskError {
	return &TaskError{
		TaskID: taskID,
		Code:   code,
		Op:     op,
		Err:    err,
	}
}

// DataError represents an error while fetching or decoding market data.
type DataError struct {
	Source  string // quote, score, position, cache
	Code    string
	Message string
	Err     error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s] %s: %s: %v", e.Source, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s] %s: %s", e.Source, e.Code, e.Message)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a new DataError.
func NewDataError(source, code, message string, err error) *DataError {
	return &DataError{
		Source:  source,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

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

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
