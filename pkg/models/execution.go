package models

import "time"

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusSuccess   ExecutionStatus = "success"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusSuccess || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// NodeExecutionStatus is the outcome of a single node step.
type NodeExecutionStatus string

const (
	NodeExecutionSuccess NodeExecutionStatus = "success"
	NodeExecutionFailed  NodeExecutionStatus = "failed"
)

// WaitKind names what a suspended execution waits for.
type WaitKind string

const (
	WaitDelay    WaitKind = "delay"
	WaitApproval WaitKind = "approval"
	// WaitResume marks a run parked before Cursor because its context ended
	// without a cancel request. It resumes by executing Cursor.
	WaitResume WaitKind = "resume"
)

// ExecutionError describes the node failure that halted an execution.
type ExecutionError struct {
	NodeID   string        `json:"node_id"`
	NodeType NodeType      `json:"node_type"`
	Kind     NodeErrorKind `json:"kind"`
	Message  string        `json:"message"`
}

// LoopFrame tracks one active loop while its body runs.
type LoopFrame struct {
	NodeID       string `json:"node_id"`
	ItemVariable string `json:"item_variable"`
	Items        []any  `json:"items"`
	Index        int    `json:"index"`
}

// Item returns the element bound for the current iteration.
func (f LoopFrame) Item() any {
	if f.Index < 0 || f.Index >= len(f.Items) {
		return nil
	}

	return f.Items[f.Index]
}

// Continuation is the persisted pointer a suspended execution resumes from.
// Cursor is the node that suspended; traversal resumes at its next edge.
type Continuation struct {
	Cursor     string      `json:"cursor"`
	WaitKind   WaitKind    `json:"wait_kind"`
	ApprovalID string      `json:"approval_id,omitempty"`
	ResumeAt   *time.Time  `json:"resume_at,omitempty"`
	Loops      []LoopFrame `json:"loops,omitempty"`
}

// WorkflowExecution is one run of a workflow. NodeExecutions is append-only and
// the record is immutable once Status is terminal.
type WorkflowExecution struct {
	ID              string           `json:"id"`
	WorkflowID      string           `json:"workflow_id"`
	Status          ExecutionStatus  `json:"status"`
	StartedAt       time.Time        `json:"started_at"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	TriggerData     map[string]any   `json:"trigger_data"`
	NodeExecutions  []*NodeExecution `json:"node_executions"`
	Error           *ExecutionError  `json:"error,omitempty"`
	DurationMs      int64            `json:"duration_ms"`
	Continuation    *Continuation    `json:"continuation,omitempty"`
	CancelRequested bool             `json:"cancel_requested"`
}

// Suspended reports whether the execution is parked on a delay or approval.
func (e *WorkflowExecution) Suspended() bool {
	return e.Status == ExecutionStatusRunning && e.Continuation != nil
}

// TotalDurationMs sums the durations of all recorded node executions.
func (e *WorkflowExecution) TotalDurationMs() int64 {
	var total int64

	for _, ne := range e.NodeExecutions {
		total += ne.DurationMs
	}

	return total
}

// NodeExecution is the trace of one node step.
type NodeExecution struct {
	ID         string              `json:"id"`
	NodeID     string              `json:"node_id"`
	NodeType   NodeType            `json:"node_type"`
	Status     NodeExecutionStatus `json:"status"`
	Input      map[string]any      `json:"input,omitempty"`
	Output     map[string]any      `json:"output,omitempty"`
	DurationMs int64               `json:"duration_ms"`
	Error      string              `json:"error,omitempty"`
	StartedAt  time.Time           `json:"started_at"`
}

// EventContext is the nested, read-only data an event carries
// (member.*, event.*, project.*, transaction.*).
type EventContext map[string]any
