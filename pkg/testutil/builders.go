// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/dukex/orgflow/pkg/models"
	"github.com/google/uuid"
)

// Epoch is the fixed creation time of built records.
var Epoch = time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC)

// CreateTestRule creates an enabled rule matching member.tier == gold that
// awards 10 points. Overrides run in order.
func CreateTestRule(overrides ...func(*models.Rule)) *models.Rule {
	rule := &models.Rule{
		ID:       uuid.New().String(),
		Name:     "Test Rule",
		Priority: 0,
		Enabled:  true,
		Conditions: []models.RuleCondition{
			{ID: "c1", Field: "member.tier", Operator: models.OperatorEquals, Value: "gold", DataType: models.DataTypeString},
		},
		Actions: []models.RuleAction{
			{ID: "a1", Type: models.ActionAwardPoints, Config: &models.AwardPointsConfig{Points: 10, Reason: "test"}, Enabled: true},
		},
		CreatedBy: "tester",
		CreatedAt: Epoch,
		UpdatedAt: Epoch,
	}

	for _, override := range overrides {
		override(rule)
	}

	return rule
}

func WithRuleID(id string) func(*models.Rule) {
	return func(r *models.Rule) {
		r.ID = id
	}
}

func WithPriority(priority int) func(*models.Rule) {
	return func(r *models.Rule) {
		r.Priority = priority
	}
}

func WithDisabled() func(*models.Rule) {
	return func(r *models.Rule) {
		r.Enabled = false
	}
}

// WithConditions replaces the rule conditions.
func WithConditions(conditions ...models.RuleCondition) func(*models.Rule) {
	return func(r *models.Rule) {
		r.Conditions = conditions
	}
}

// WithActions replaces the rule actions.
func WithActions(actions ...models.RuleAction) func(*models.Rule) {
	return func(r *models.Rule) {
		r.Actions = actions
	}
}

// CreatedAfter shifts the creation time by offset minutes.
func CreatedAfter(offset int) func(*models.Rule) {
	return func(r *models.Rule) {
		r.CreatedAt = Epoch.Add(time.Duration(offset) * time.Minute)
		r.UpdatedAt = r.CreatedAt
	}
}

// Action builds an enabled rule action.
func Action(id string, order int, config models.ActionConfig) models.RuleAction {
	return models.RuleAction{ID: id, Type: config.ActionType(), Config: config, Enabled: true, Order: order}
}

// Condition builds a condition with its data type left to inference.
func Condition(field string, operator models.Operator, value any) models.RuleCondition {
	return models.RuleCondition{ID: field, Field: field, Operator: operator, Value: value}
}

// Or marks a condition as joined with OR.
func Or(condition models.RuleCondition) models.RuleCondition {
	condition.LogicalOperator = models.LogicalOr

	return condition
}

// CreateTestWorkflow creates a workflow from nodes and edges.
func CreateTestWorkflow(id string, nodes []*models.WorkflowNode, edges ...*models.Edge) *models.Workflow {
	return &models.Workflow{
		ID:        id,
		Name:      "Test Workflow " + id,
		Nodes:     nodes,
		Edges:     edges,
		CreatedAt: Epoch,
		UpdatedAt: Epoch,
	}
}

// Node builds a workflow node named after its id.
func Node(id string, config models.NodeConfig) *models.WorkflowNode {
	return &models.WorkflowNode{ID: id, Name: id, Type: config.NodeType(), Config: config}
}

// Trigger builds an event trigger node.
func Trigger(id, event string) *models.WorkflowNode {
	return Node(id, &models.TriggerConfig{Event: event})
}

// End builds an end node.
func End(id string) *models.WorkflowNode {
	return Node(id, &models.EndConfig{})
}

// Link builds an edge, with an optional label.
func Link(source, target string, label ...models.EdgeLabel) *models.Edge {
	edge := &models.Edge{Source: source, Target: target}
	if len(label) > 0 {
		edge.Label = label[0]
	}

	return edge
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}
