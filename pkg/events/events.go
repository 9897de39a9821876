// Package events defines the inbound domain event and the lifecycle events
// published while rules dispatch and workflows execute.
package events

import (
	"time"

	"github.com/dukex/orgflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every orgflow event.
const Topic = "orgflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Inbound domain events that drive rules and workflow triggers.
	DomainEventReceivedEvent EventType = "domain.event.received"

	// Rule engine events.
	RuleDispatchedEvent EventType = "rule.dispatched"

	// Workflow execution lifecycle events.
	WorkflowExecutionStartedEvent   EventType = "workflow.execution.started"
	WorkflowExecutionSuspendedEvent EventType = "workflow.execution.suspended"
	WorkflowExecutionResumedEvent   EventType = "workflow.execution.resumed"
	WorkflowExecutionCompletedEvent EventType = "workflow.execution.completed"
	WorkflowExecutionFailedEvent    EventType = "workflow.execution.failed"
	WorkflowExecutionCancelledEvent EventType = "workflow.execution.cancelled"

	// Node events.
	NodeExecutionFinishedEvent EventType = "node.execution.finished"
	NodeExecutionFailedEvent   EventType = "node.execution.failed"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewBaseEvent stamps a new event id and timestamp.
func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}

// DomainEventReceived is an organizational event (member joined, payment
// received, ...) carrying the context rules and workflow triggers match on.
type DomainEventReceived struct {
	BaseEvent

	EventName string         `json:"event_name"`
	Data      map[string]any `json:"data"`
}

func (e DomainEventReceived) GetType() EventType {
	return DomainEventReceivedEvent
}

type RuleDispatched struct {
	BaseEvent

	RuleID    string `json:"rule_id"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
}

func (e RuleDispatched) GetType() EventType {
	return RuleDispatchedEvent
}

type WorkflowExecutionStarted struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
}

func (e WorkflowExecutionStarted) GetType() EventType {
	return WorkflowExecutionStartedEvent
}

type WorkflowExecutionSuspended struct {
	BaseEvent

	ExecutionID string          `json:"execution_id"`
	NodeID      string          `json:"node_id"`
	WaitKind    models.WaitKind `json:"wait_kind"`
	ApprovalID  string          `json:"approval_id,omitempty"`
	ResumeAt    *time.Time      `json:"resume_at,omitempty"`
}

func (e WorkflowExecutionSuspended) GetType() EventType {
	return WorkflowExecutionSuspendedEvent
}

type WorkflowExecutionResumed struct {
	BaseEvent

	ExecutionID string          `json:"execution_id"`
	NodeID      string          `json:"node_id"`
	WaitKind    models.WaitKind `json:"wait_kind"`
}

func (e WorkflowExecutionResumed) GetType() EventType {
	return WorkflowExecutionResumedEvent
}

type WorkflowExecutionCompleted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	DurationMs  int64  `json:"duration_ms"`
}

func (e WorkflowExecutionCompleted) GetType() EventType {
	return WorkflowExecutionCompletedEvent
}

type WorkflowExecutionFailed struct {
	BaseEvent

	ExecutionID string                 `json:"execution_id"`
	Error       *models.ExecutionError `json:"error"`
	DurationMs  int64                  `json:"duration_ms"`
}

func (e WorkflowExecutionFailed) GetType() EventType {
	return WorkflowExecutionFailedEvent
}

type WorkflowExecutionCancelled struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	DurationMs  int64  `json:"duration_ms"`
}

func (e WorkflowExecutionCancelled) GetType() EventType {
	return WorkflowExecutionCancelledEvent
}

type NodeExecutionFinished struct {
	BaseEvent

	ExecutionID string          `json:"execution_id"`
	NodeID      string          `json:"node_id"`
	NodeType    models.NodeType `json:"node_type"`
	DurationMs  int64           `json:"duration_ms"`
}

func (e NodeExecutionFinished) GetType() EventType {
	return NodeExecutionFinishedEvent
}

type NodeExecutionFailed struct {
	BaseEvent

	ExecutionID string          `json:"execution_id"`
	NodeID      string          `json:"node_id"`
	NodeType    models.NodeType `json:"node_type"`
	DurationMs  int64           `json:"duration_ms"`
	Error       string          `json:"error"`
}

func (e NodeExecutionFailed) GetType() EventType {
	return NodeExecutionFailedEvent
}

// New returns an empty event of the given type for decoding, or false when
// the type is unknown.
func New(eventType EventType) (any, bool) {
	switch eventType {
	case DomainEventReceivedEvent:
		return &DomainEventReceived{}, true
	case RuleDispatchedEvent:
		return &RuleDispatched{}, true
	case WorkflowExecutionStartedEvent:
		return &WorkflowExecutionStarted{}, true
	case WorkflowExecutionSuspendedEvent:
		return &WorkflowExecutionSuspended{}, true
	case WorkflowExecutionResumedEvent:
		return &WorkflowExecutionResumed{}, true
	case WorkflowExecutionCompletedEvent:
		return &WorkflowExecutionCompleted{}, true
	case WorkflowExecutionFailedEvent:
		return &WorkflowExecutionFailed{}, true
	case WorkflowExecutionCancelledEvent:
		return &WorkflowExecutionCancelled{}, true
	case NodeExecutionFinishedEvent:
		return &NodeExecutionFinished{}, true
	case NodeExecutionFailedEvent:
		return &NodeExecutionFailed{}, true
	default:
		return nil, false
	}
}
