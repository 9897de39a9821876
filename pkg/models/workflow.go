package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// NodeType identifies the behaviour of a workflow node.
type NodeType string

const (
	NodeTypeTrigger      NodeType = "trigger"
	NodeTypeCondition    NodeType = "condition"
	NodeTypeDelay        NodeType = "delay"
	NodeTypeEmail        NodeType = "email"
	NodeTypeNotification NodeType = "notification"
	NodeTypeDataUpdate   NodeType = "data_update"
	NodeTypeTaskCreate   NodeType = "task_create"
	NodeTypeWebhook      NodeType = "webhook"
	NodeTypeApproval     NodeType = "approval"
	NodeTypeLoop         NodeType = "loop"
	NodeTypeAction       NodeType = "action"
	NodeTypeEnd          NodeType = "end"
)

// NodeTypes lists every supported node type in a stable order.
var NodeTypes = []NodeType{
	NodeTypeTrigger,
	NodeTypeCondition,
	NodeTypeDelay,
	NodeTypeEmail,
	NodeTypeNotification,
	NodeTypeDataUpdate,
	NodeTypeTaskCreate,
	NodeTypeWebhook,
	NodeTypeApproval,
	NodeTypeLoop,
	NodeTypeAction,
	NodeTypeEnd,
}

// EdgeLabel selects an outgoing branch of a node.
type EdgeLabel string

const (
	EdgeTrue     EdgeLabel = "true"
	EdgeFalse    EdgeLabel = "false"
	EdgeLoopBody EdgeLabel = "loop-body"
	EdgeLoopDone EdgeLabel = "loop-done"
	EdgeApproved EdgeLabel = "approved"
	EdgeRejected EdgeLabel = "rejected"
)

// DelayUnit is the unit a delay duration is expressed in.
type DelayUnit string

const (
	DelaySeconds DelayUnit = "seconds"
	DelayMinutes DelayUnit = "minutes"
	DelayHours   DelayUnit = "hours"
	DelayDays    DelayUnit = "days"
)

// DefaultMaxIterations caps loops that do not set max_iterations.
const DefaultMaxIterations = 1000

// NodeConfig is the typed configuration of one node kind.
type NodeConfig interface {
	NodeType() NodeType
}

type TriggerConfig struct {
	Event    string `json:"event,omitempty"`
	Schedule string `json:"schedule,omitempty"`
}

type ConditionConfig struct {
	Conditions []RuleCondition `json:"conditions" validate:"required,min=1"`
}

// MaxWait bounds delays and approval timeouts so deadlines stay representable.
const MaxWait = 100 * 365 * 24 * time.Hour

// MaxTimeoutHours is MaxWait in hours.
const MaxTimeoutHours = int(MaxWait / time.Hour)

type DelayConfig struct {
	Duration int       `json:"duration" validate:"gt=0"`
	Unit     DelayUnit `json:"unit"     validate:"required,oneof=seconds minutes hours days"`
}

// UnitDuration returns the length of one Unit. Unknown units count as seconds.
func (c DelayConfig) UnitDuration() time.Duration {
	switch c.Unit {
	case DelayMinutes:
		return time.Minute
	case DelayHours:
		return time.Hour
	case DelayDays:
		return 24 * time.Hour
	case DelaySeconds:
	}

	return time.Second
}

// MaxDuration is the largest Duration allowed for Unit.
func (c DelayConfig) MaxDuration() int {
	return int(MaxWait / c.UnitDuration())
}

// Interval converts the configured duration to a time.Duration, capped at MaxWait.
func (c DelayConfig) Interval() time.Duration {
	if c.Duration > c.MaxDuration() {
		return MaxWait
	}

	return time.Duration(c.Duration) * c.UnitDuration()
}

// ApprovalConfig requests a human decision. A nil TimeoutHours never times out.
type ApprovalConfig struct {
	Approvers    []string `json:"approvers"               validate:"required,min=1,dive,required"`
	Title        string   `json:"title"                   validate:"required"`
	Description  string   `json:"description,omitempty"`
	TimeoutHours *int     `json:"timeout_hours,omitempty" validate:"omitempty,gt=0,lte=876000"`
}

// Timeout returns how long the approval may stay open, capped at MaxWait.
// The second result is false when the approval never times out.
func (c ApprovalConfig) Timeout() (time.Duration, bool) {
	if c.TimeoutHours == nil {
		return 0, false
	}

	if *c.TimeoutHours > MaxTimeoutHours {
		return MaxWait, true
	}

	return time.Duration(*c.TimeoutHours) * time.Hour, true
}

type LoopConfig struct {
	Collection    string `json:"collection"               validate:"required"`
	ItemVariable  string `json:"item_variable"            validate:"required"`
	MaxIterations *int   `json:"max_iterations,omitempty" validate:"omitempty,gt=0,lte=1000"`
}

// Limit returns the effective iteration cap.
func (c LoopConfig) Limit() int {
	if c.MaxIterations == nil {
		return DefaultMaxIterations
	}

	return *c.MaxIterations
}

type ActionNodeConfig struct {
	Action RuleAction `json:"action"`
}

type EndConfig struct{}

func (TriggerConfig) NodeType() NodeType          { return NodeTypeTrigger }
func (ConditionConfig) NodeType() NodeType        { return NodeTypeCondition }
func (DelayConfig) NodeType() NodeType            { return NodeTypeDelay }
func (ApprovalConfig) NodeType() NodeType         { return NodeTypeApproval }
func (LoopConfig) NodeType() NodeType             { return NodeTypeLoop }
func (ActionNodeConfig) NodeType() NodeType       { return NodeTypeAction }
func (EndConfig) NodeType() NodeType              { return NodeTypeEnd }
func (SendEmailConfig) NodeType() NodeType        { return NodeTypeEmail }
func (SendNotificationConfig) NodeType() NodeType { return NodeTypeNotification }
func (UpdateMemberConfig) NodeType() NodeType     { return NodeTypeDataUpdate }
func (CreateTaskConfig) NodeType() NodeType       { return NodeTypeTaskCreate }
func (SendWebhookConfig) NodeType() NodeType      { return NodeTypeWebhook }

// WorkflowNode is a single typed step in a workflow graph.
type WorkflowNode struct {
	ID     string     `json:"id"     validate:"required"`
	Name   string     `json:"name"`
	Type   NodeType   `json:"type"   validate:"required"`
	Config NodeConfig `json:"config"`
}

// UnmarshalJSON decodes the config into the concrete struct for the node type.
func (n *WorkflowNode) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID     string          `json:"id"`
		Name   string          `json:"name"`
		Type   NodeType        `json:"type"`
		Config json.RawMessage `json:"config"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	config, err := DecodeNodeConfig(raw.Type, raw.Config)
	if err != nil {
		return fmt.Errorf("node %s: %w", raw.ID, err)
	}

	*n = WorkflowNode{
		ID:     raw.ID,
		Name:   raw.Name,
		Type:   raw.Type,
		Config: config,
	}

	return nil
}

// DecodeNodeConfig decodes raw JSON into the config struct registered for nodeType.
func DecodeNodeConfig(nodeType NodeType, raw json.RawMessage) (NodeConfig, error) {
	switch nodeType {
	case NodeTypeTrigger:
		return unmarshalConfig[NodeConfig](raw, &TriggerConfig{})
	case NodeTypeCondition:
		return unmarshalConfig[NodeConfig](raw, &ConditionConfig{})
	case NodeTypeDelay:
		return unmarshalConfig[NodeConfig](raw, &DelayConfig{})
	case NodeTypeApproval:
		return unmarshalConfig[NodeConfig](raw, &ApprovalConfig{})
	case NodeTypeLoop:
		return unmarshalConfig[NodeConfig](raw, &LoopConfig{})
	case NodeTypeAction:
		return unmarshalConfig[NodeConfig](raw, &ActionNodeConfig{})
	case NodeTypeEnd:
		return unmarshalConfig[NodeConfig](raw, &EndConfig{})
	case NodeTypeEmail:
		return unmarshalConfig[NodeConfig](raw, &SendEmailConfig{})
	case NodeTypeNotification:
		return unmarshalConfig[NodeConfig](raw, &SendNotificationConfig{})
	case NodeTypeDataUpdate:
		return unmarshalConfig[NodeConfig](raw, &UpdateMemberConfig{})
	case NodeTypeTaskCreate:
		return unmarshalConfig[NodeConfig](raw, &CreateTaskConfig{})
	case NodeTypeWebhook:
		return unmarshalConfig[NodeConfig](raw, &SendWebhookConfig{})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNodeType, nodeType)
	}
}

// Edge connects two nodes, optionally naming the branch it belongs to.
type Edge struct {
	Source string    `json:"source"          validate:"required"`
	Target string    `json:"target"          validate:"required"`
	Label  EdgeLabel `json:"label,omitempty"`
}

// Workflow is a graph of typed nodes. Without edges, nodes run in declaration order.
type Workflow struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"        validate:"required"`
	Description string          `json:"description"`
	Nodes       []*WorkflowNode `json:"nodes"       validate:"required,min=1,dive"`
	Edges       []*Edge         `json:"edges"       validate:"dive"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Node returns the node with the given id, or nil.
func (w *Workflow) Node(id string) *WorkflowNode {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// TriggerNode returns the first trigger node, or nil.
func (w *Workflow) TriggerNode() *WorkflowNode {
	for _, node := range w.Nodes {
		if node.Type == NodeTypeTrigger {
			return node
		}
	}

	return nil
}

// TriggerConfig returns the config of the trigger node, or nil.
func (w *Workflow) TriggerConfig() *TriggerConfig {
	node := w.TriggerNode()
	if node == nil {
		return nil
	}

	config, _ := node.Config.(*TriggerConfig)

	return config
}

// Outgoing returns the edges leaving the node, in declaration order.
func (w *Workflow) Outgoing(nodeID string) []*Edge {
	edges := make([]*Edge, 0)

	for _, edge := range w.Edges {
		if edge.Source == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}
