package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/orgflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const budgetWorkflowYAML = `
name: Budget approval
nodes:
  - id: start
    type: trigger
    config:
      event: budget.requested
  - id: approve
    type: approval
    config:
      approvers: [treasurer]
      title: "Approve {{.amount}}"
  - id: accepted
    type: notification
    config:
      recipients: [requester]
      title: Approved
      message: Go ahead
  - id: declined
    type: notification
    config:
      recipients: [requester]
      title: Rejected
      message: Sorry
edges:
  - {source: start, target: approve}
  - {source: approve, target: accepted, label: approved}
  - {source: approve, target: declined, label: rejected}
`

const pointsRuleJSON = `{
	"name": "Welcome points",
	"enabled": true,
	"conditions": [
		{"id": "c1", "field": "event.type", "operator": "equals", "value": "member.joined", "data_type": "string"}
	],
	"actions": [
		{"id": "a1", "type": "award_points", "config": {"points": 10}, "enabled": true, "order": 1}
	]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	app := NewApp()
	app.Writer = &out
	app.ErrWriter = &out

	err := app.Run(t.Context(), append([]string{"orgflow"}, args...))

	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	workflow := writeFile(t, "budget.yaml", budgetWorkflowYAML)
	rule := writeFile(t, "points.json", pointsRuleJSON)

	out, err := run(t, "validate", workflow, rule)

	require.NoError(t, err)
	assert.Contains(t, out, `valid workflow "Budget approval"`)
	assert.Contains(t, out, `valid rule "Welcome points"`)
}

func TestValidateCommand_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{
			name:    "rule without actions",
			file:    "rule.json",
			content: `{"name": "Empty", "enabled": true}`,
			want:    "enabled",
		},
		{
			name: "loop above the iteration cap",
			file: "loop.yaml",
			content: `
name: Loop
nodes:
  - {id: start, type: trigger}
  - {id: each, type: loop, config: {collection: members, item_variable: m, max_iterations: 5000}}
`,
			want: "max_iterations",
		},
		{
			name:    "malformed document",
			file:    "broken.json",
			content: `{"name":`,
			want:    "broken.json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, "validate", writeFile(t, tt.file, tt.content))

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateCommand_NoArguments(t *testing.T) {
	_, err := run(t, "validate")

	require.ErrorIs(t, err, ErrMissingDocument)
}

func TestDryRunCommand(t *testing.T) {
	workflow := writeFile(t, "budget.yaml", budgetWorkflowYAML)
	data := writeFile(t, "data.json", `{"amount": 300}`)

	out, err := run(t, "dry-run", "--data", data, "--decision", "approve=reject", workflow)
	require.NoError(t, err)

	var trace Trace
	require.NoError(t, json.Unmarshal([]byte(out), &trace), out)

	assert.Equal(t, "dry-run", trace.Execution.WorkflowID)
	assert.Equal(t, models.ExecutionStatusSuccess, trace.Execution.Status)

	ops := make([]string, 0, len(trace.Calls))
	for _, call := range trace.Calls {
		ops = append(ops, call.Op)
	}

	assert.Equal(t, []string{"approval.request", "notification.send"}, ops)
	assert.Equal(t, "Approve 300", trace.Calls[0].Args[1])
	assert.Equal(t, "Rejected", trace.Calls[1].Args[1])
}

func TestDryRunCommand_InvalidDecision(t *testing.T) {
	workflow := writeFile(t, "budget.yaml", budgetWorkflowYAML)

	_, err := run(t, "dry-run", "--decision", "approve", workflow)
	require.ErrorIs(t, err, ErrInvalidDecision)

	_, err = run(t, "dry-run", "--default-decision", "maybe", workflow)
	require.ErrorIs(t, err, ErrInvalidDecision)

	_, err = run(t, "dry-run", "--failure-rate", "2", workflow)
	require.Error(t, err)
}

func TestServeCommand_RejectsInvalidConfig(t *testing.T) {
	_, err := run(t, "serve", "--event-bus", "nats", "--database-url", "mysql://db", "--max-steps", "0")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid event-bus")
	assert.Contains(t, err.Error(), "invalid database-url")
	assert.Contains(t, err.Error(), "invalid max-steps")
}
