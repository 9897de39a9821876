// Package services exposes the rule, workflow, execution and automation use
// cases to the host API and the CLI.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/orgflow/pkg/models"
	"github.com/dukex/orgflow/pkg/workflow"
)

// Client errors (4xx).
var (
	// 400 Bad Request.
	ErrInvalidRequest    = errors.New("invalid request")
	ErrRuleNil           = errors.New("rule cannot be nil")
	ErrWorkflowNil       = errors.New("workflow cannot be nil")
	ErrEventNameRequired = errors.New("event name is required")

	// 409 Conflict.
	ErrExecutionFinished = workflow.ErrExecutionFinished
	ErrNotSuspended      = workflow.ErrNotSuspended
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	if _, ok := models.AsValidationErrors(err); ok {
		return true
	}

	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrRuleNil) ||
		errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, ErrEventNameRequired) ||
		errors.Is(err, workflow.ErrNoTrigger)
}

// IsConflictError checks if an error is a state conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrExecutionFinished) ||
		errors.Is(err, ErrNotSuspended)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// invalid wraps a list of field errors so callers can both detect the
// failure class and read the individual fields.
func invalid(op, code string, errs models.ValidationErrors) *ServiceError {
	return NewValidationError(op, code, errs.Error(), errors.Join(ErrInvalidRequest, errs))
}
