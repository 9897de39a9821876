package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownActionType = errors.New("unknown action type")
	ErrUnknownNodeType   = errors.New("unknown node type")
	ErrCallTimeout       = errors.New("external call timed out")
	ErrCancelled         = errors.New("execution cancelled")
)

// NodeErrorKind classifies why a node failed.
type NodeErrorKind string

const (
	NodeErrorValidation NodeErrorKind = "validation"
	NodeErrorExecution  NodeErrorKind = "execution"
	NodeErrorTimeout    NodeErrorKind = "timeout"
	NodeErrorStepLimit  NodeErrorKind = "step_limit"
	NodeErrorNotFound   NodeErrorKind = "not_found"
)

// ValidationError reports a single invalid field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}

	return e.Field + ": " + e.Message
}

// ValidationErrors is the full list of problems found in one document.
type ValidationErrors []*ValidationError

func (v ValidationErrors) Error() string {
	messages := make([]string, 0, len(v))
	for _, e := range v {
		messages = append(messages, e.Error())
	}

	return strings.Join(messages, "; ")
}

// Add appends a new field error.
func (v *ValidationErrors) Add(field, format string, args ...any) {
	*v = append(*v, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Merge appends errors from other with their fields nested under prefix.
func (v *ValidationErrors) Merge(prefix string, other ValidationErrors) {
	for _, e := range other {
		field := e.Field

		switch {
		case prefix == "":
		case field == "":
			field = prefix
		default:
			field = prefix + "." + field
		}

		*v = append(*v, &ValidationError{Field: field, Message: e.Message})
	}
}

// Err returns nil for an empty list so callers can return it as an error.
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}

	return v
}

// EvaluationError is a runtime failure to compare a resolved value.
// The condition evaluates as a non-match.
type EvaluationError struct {
	ConditionID string
	Field       string
	Message     string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate condition %s on %q: %s", e.ConditionID, e.Field, e.Message)
}

// ActionDispatchError is the failure of one rule action. Sibling actions still run.
type ActionDispatchError struct {
	ActionID   string
	ActionType ActionType
	Err        error
}

func (e *ActionDispatchError) Error() string {
	return fmt.Sprintf("dispatch action %s (%s): %v", e.ActionID, e.ActionType, e.Err)
}

func (e *ActionDispatchError) Unwrap() error {
	return e.Err
}

// NodeExecutionError is the failure of a workflow node. It halts the execution.
type NodeExecutionError struct {
	NodeID   string
	NodeType NodeType
	Kind     NodeErrorKind
	Err      error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s (%s) failed [%s]: %v", e.NodeID, e.NodeType, e.Kind, e.Err)
}

func (e *NodeExecutionError) Unwrap() error {
	return e.Err
}

// TimeoutError is an external call that exceeded its bound.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: exceeded %s", e.Op, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrCallTimeout
}

// CancellationError marks an execution stopped by a cancel request.
type CancellationError struct {
	ExecutionID string
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("execution %s cancelled", e.ExecutionID)
}

func (e *CancellationError) Is(target error) bool {
	return target == ErrCancelled
}

// IsTimeout checks if an error is a bounded call timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrCallTimeout)
}

// AsValidationErrors extracts a validation error list from err.
func AsValidationErrors(err error) (ValidationErrors, bool) {
	var list ValidationErrors
	if errors.As(err, &list) {
		return list, true
	}

	var single *ValidationError
	if errors.As(err, &single) {
		return ValidationErrors{single}, true
	}

	return nil, false
}
