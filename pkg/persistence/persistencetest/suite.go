// Package persistencetest holds the behaviour every persistence implementation must share.
package persistencetest

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/dukex/orgflow/pkg/models"
	"github.com/dukex/orgflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) persistence.Persistence

var base = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

// Rule builds a valid, enabled rule created at base+offset minutes.
func Rule(id string, offset int) *models.Rule {
	return &models.Rule{
		ID:          id,
		Name:        "Rule " + id,
		Description: "awards points to gold members",
		Priority:    offset,
		Enabled:     true,
		Conditions: []models.RuleCondition{
			{ID: "c1", Field: "member.tier", Operator: models.OperatorEquals, Value: "gold", DataType: models.DataTypeString},
			{ID: "c2", Field: "member.age", Operator: models.OperatorGreaterThan, Value: float64(18), LogicalOperator: models.LogicalOr},
		},
		Actions: []models.RuleAction{
			{ID: "a1", Type: models.ActionAwardPoints, Enabled: true, Order: 1, Config: &models.AwardPointsConfig{Points: 10, Reason: "gold"}},
			{ID: "a2", Type: models.ActionSendWebhook, Enabled: true, Order: 2, Config: &models.SendWebhookConfig{
				URL: "https://hooks.example.org/points", Method: "POST", Headers: map[string]string{"X-Source": "orgflow"},
				Body: map[string]any{"member": "{{.member.id}}"},
			}},
		},
		CreatedBy: "admin",
		CreatedAt: base.Add(time.Duration(offset) * time.Minute),
		UpdatedAt: base.Add(time.Duration(offset) * time.Minute),
	}
}

// Workflow builds a valid workflow with a loop and an approval.
func Workflow(id string) *models.Workflow {
	timeout := 24
	limit := 10

	return &models.Workflow{
		ID:          id,
		Name:        "Workflow " + id,
		Description: "onboarding",
		Nodes: []*models.WorkflowNode{
			{ID: "start", Name: "Member joined", Type: models.NodeTypeTrigger, Config: &models.TriggerConfig{Event: "member.joined"}},
			{ID: "each", Name: "Each tag", Type: models.NodeTypeLoop, Config: &models.LoopConfig{Collection: "member.tags", ItemVariable: "tag", MaxIterations: &limit}},
			{ID: "task", Name: "Task", Type: models.NodeTypeTaskCreate, Config: &models.CreateTaskConfig{Title: "Tag {{.tag}}"}},
			{ID: "ok", Name: "Approve", Type: models.NodeTypeApproval, Config: &models.ApprovalConfig{Approvers: []string{"board"}, Title: "Welcome?", TimeoutHours: &timeout}},
			{ID: "end", Name: "Done", Type: models.NodeTypeEnd, Config: &models.EndConfig{}},
		},
		Edges: []*models.Edge{
			{Source: "start", Target: "each"},
			{Source: "each", Target: "task", Label: models.EdgeLoopBody},
			{Source: "each", Target: "ok", Label: models.EdgeLoopDone},
			{Source: "ok", Target: "end", Label: models.EdgeApproved},
		},
		CreatedAt: base,
		UpdatedAt: base,
	}
}

// Execution builds a running execution suspended on an approval.
func Execution(id, workflowID, approvalID string) *models.WorkflowExecution {
	return &models.WorkflowExecution{
		ID:          id,
		WorkflowID:  workflowID,
		Status:      models.ExecutionStatusRunning,
		StartedAt:   base,
		TriggerData: map[string]any{"member": map[string]any{"id": "m-1"}},
		Continuation: &models.Continuation{
			Cursor:     "ok",
			WaitKind:   models.WaitApproval,
			ApprovalID: approvalID,
		},
	}
}

// NodeExecution builds a successful node trace entry.
func NodeExecution(id, nodeID string, offset int) *models.NodeExecution {
	return &models.NodeExecution{
		ID:         id,
		NodeID:     nodeID,
		NodeType:   models.NodeTypeTaskCreate,
		Status:     models.NodeExecutionSuccess,
		Input:      map[string]any{"title": "Tag a"},
		Output:     map[string]any{"task_id": "t-1"},
		DurationMs: 12,
		StartedAt:  base.Add(time.Duration(offset) * time.Second),
	}
}

func canonical(t *testing.T, value any) string {
	t.Helper()

	data, err := json.Marshal(value)
	require.NoError(t, err)

	var normalized any
	require.NoError(t, json.Unmarshal(data, &normalized))

	data, err = json.Marshal(normalized)
	require.NoError(t, err)

	return string(data)
}

// Run exercises a persistence implementation.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("rules round trip", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()
		rule := Rule("rule-1", 0)

		require.NoError(t, store.Rules().Save(ctx, rule))

		loaded, err := store.Rules().GetByID(ctx, "rule-1")
		require.NoError(t, err)
		assert.Equal(t, canonical(t, rule), canonical(t, loaded))

		require.NoError(t, store.Rules().Save(ctx, loaded))

		reloaded, err := store.Rules().GetByID(ctx, "rule-1")
		require.NoError(t, err)
		assert.Equal(t, canonical(t, loaded), canonical(t, reloaded))
	})

	t.Run("rules list in stored order", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()

		require.NoError(t, store.Rules().Save(ctx, Rule("rule-c", 2)))
		require.NoError(t, store.Rules().Save(ctx, Rule("rule-b", 1)))
		require.NoError(t, store.Rules().Save(ctx, Rule("rule-a", 1)))

		rules, err := store.Rules().List(ctx)
		require.NoError(t, err)

		ids := make([]string, 0, len(rules))
		for _, rule := range rules {
			ids = append(ids, rule.ID)
		}

		assert.Equal(t, []string{"rule-a", "rule-b", "rule-c"}, ids)
	})

	t.Run("rule not found", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()

		_, err := store.Rules().GetByID(ctx, "missing")
		assert.True(t, persistence.IsRuleNotFound(err))

		assert.True(t, persistence.IsRuleNotFound(store.Rules().Delete(ctx, "missing")))

		_, err = store.Rules().IncrementExecutionCount(ctx, "missing")
		assert.True(t, persistence.IsRuleNotFound(err))
	})

	t.Run("rule delete", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()

		require.NoError(t, store.Rules().Save(ctx, Rule("rule-1", 0)))
		require.NoError(t, store.Rules().Delete(ctx, "rule-1"))

		_, err := store.Rules().GetByID(ctx, "rule-1")
		assert.True(t, persistence.IsRuleNotFound(err))
	})

	t.Run("execution count increments", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()

		require.NoError(t, store.Rules().Save(ctx, Rule("rule-1", 0)))

		for i := 1; i <= 3; i++ {
			count, err := store.Rules().IncrementExecutionCount(ctx, "rule-1")
			require.NoError(t, err)
			assert.Equal(t, int64(i), count)
		}

		rule, err := store.Rules().GetByID(ctx, "rule-1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), rule.ExecutionCount)
	})

	t.Run("workflows round trip", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()
		workflow := Workflow("wf-1")

		require.NoError(t, store.Workflows().Save(ctx, workflow))

		loaded, err := store.Workflows().GetByID(ctx, "wf-1")
		require.NoError(t, err)
		assert.Equal(t, canonical(t, workflow), canonical(t, loaded))
		assert.IsType(t, &models.LoopConfig{}, loaded.Nodes[1].Config)

		workflows, err := store.Workflows().List(ctx)
		require.NoError(t, err)
		assert.Len(t, workflows, 1)

		require.NoError(t, store.Workflows().Delete(ctx, "wf-1"))

		_, err = store.Workflows().GetByID(ctx, "wf-1")
		assert.True(t, persistence.IsWorkflowNotFound(err))
		assert.True(t, persistence.IsWorkflowNotFound(store.Workflows().Delete(ctx, "wf-1")))
	})

	t.Run("rejects unsafe ids", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()

		err := store.Workflows().Save(ctx, Workflow("../escape"))
		assert.ErrorIs(t, err, persistence.ErrInvalidID)
	})

	t.Run("executions append node traces in order", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()

		require.NoError(t, store.Workflows().Save(ctx, Workflow("wf-1")))
		require.NoError(t, store.Executions().Create(ctx, Execution("exec-1", "wf-1", "apr-1")))

		for i := range 3 {
			ne := NodeExecution(fmt.Sprintf("ne-%d", i), fmt.Sprintf("node-%d", i), i)
			require.NoError(t, store.Executions().AppendNodeExecution(ctx, "exec-1", ne))
		}

		execution, err := store.Executions().GetByID(ctx, "exec-1")
		require.NoError(t, err)
		require.Len(t, execution.NodeExecutions, 3)

		for i, ne := range execution.NodeExecutions {
			assert.Equal(t, fmt.Sprintf("node-%d", i), ne.NodeID)
		}

		assert.Equal(t, canonical(t, NodeExecution("ne-0", "node-0", 0)), canonical(t, execution.NodeExecutions[0]))
	})

	t.Run("update keeps node traces", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()

		require.NoError(t, store.Workflows().Save(ctx, Workflow("wf-1")))

		execution := Execution("exec-1", "wf-1", "apr-1")
		require.NoError(t, store.Executions().Create(ctx, execution))
		require.NoError(t, store.Executions().AppendNodeExecution(ctx, "exec-1", NodeExecution("ne-1", "task", 0)))

		completed := base.Add(time.Minute)
		execution.Status = models.ExecutionStatusFailed
		execution.Continuation = nil
		execution.CompletedAt = &completed
		execution.DurationMs = 12
		execution.Error = &models.ExecutionError{NodeID: "task", NodeType: models.NodeTypeTaskCreate, Kind: models.NodeErrorExecution, Message: "boom"}

		require.NoError(t, store.Executions().Update(ctx, execution))

		loaded, err := store.Executions().GetByID(ctx, "exec-1")
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusFailed, loaded.Status)
		assert.Nil(t, loaded.Continuation)
		require.NotNil(t, loaded.CompletedAt)
		assert.True(t, completed.Equal(*loaded.CompletedAt))
		assert.Equal(t, execution.Error, loaded.Error)
		assert.Len(t, loaded.NodeExecutions, 1)

		_, err = store.Executions().GetByApprovalID(ctx, "apr-1")
		assert.True(t, persistence.IsExecutionNotFound(err))
	})

	t.Run("find by approval and workflow", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()

		require.NoError(t, store.Workflows().Save(ctx, Workflow("wf-1")))
		require.NoError(t, store.Workflows().Save(ctx, Workflow("wf-2")))
		require.NoError(t, store.Executions().Create(ctx, Execution("exec-1", "wf-1", "apr-1")))
		require.NoError(t, store.Executions().Create(ctx, Execution("exec-2", "wf-1", "apr-2")))
		require.NoError(t, store.Executions().Create(ctx, Execution("exec-3", "wf-2", "apr-3")))

		execution, err := store.Executions().GetByApprovalID(ctx, "apr-2")
		require.NoError(t, err)
		assert.Equal(t, "exec-2", execution.ID)

		executions, err := store.Executions().ListByWorkflow(ctx, "wf-1")
		require.NoError(t, err)
		assert.Len(t, executions, 2)
	})

	t.Run("execution not found", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()

		_, err := store.Executions().GetByID(ctx, "missing")
		assert.True(t, persistence.IsExecutionNotFound(err))

		err = store.Executions().Update(ctx, Execution("missing", "wf", ""))
		assert.True(t, persistence.IsExecutionNotFound(err))

		err = store.Executions().AppendNodeExecution(ctx, "missing", NodeExecution("ne", "n", 0))
		assert.True(t, persistence.IsExecutionNotFound(err))
	})

	t.Run("duplicate execution", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()

		require.NoError(t, store.Workflows().Save(ctx, Workflow("wf-1")))
		require.NoError(t, store.Executions().Create(ctx, Execution("exec-1", "wf-1", "")))

		err := store.Executions().Create(ctx, Execution("exec-1", "wf-1", ""))
		assert.ErrorIs(t, err, persistence.ErrExecutionAlreadyExists)
	})

	t.Run("health check", func(t *testing.T) {
		store := factory(t)

		assert.NoError(t, store.HealthCheck(t.Context()))
	})
}
