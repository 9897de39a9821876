package workflow_test

import (
	"log/slog"
	"testing"

	"github.com/dukex/orgflow/pkg/models"
	"github.com/dukex/orgflow/pkg/testutil"
	"github.com/dukex/orgflow/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func triggered(id, event string) *models.Workflow {
	return testutil.CreateTestWorkflow(id, []*models.WorkflowNode{testutil.Trigger("start", event)})
}

func TestTriggerMatcher_MatchWorkflows(t *testing.T) {
	scheduled := testutil.CreateTestWorkflow("cron", []*models.WorkflowNode{
		testutil.Node("start", &models.TriggerConfig{Schedule: "0 9 * * *"}),
	})
	noTrigger := testutil.CreateTestWorkflow("none", []*models.WorkflowNode{testutil.End("done")})

	workflows := []*models.Workflow{
		triggered("exact", "member.joined"),
		triggered("other", "project.created"),
		triggered("prefix", "member.*"),
		triggered("all", "*"),
		scheduled,
		noTrigger,
	}

	matcher := workflow.NewTriggerMatcher(slog.Default())

	results := matcher.MatchWorkflows("member.joined", workflows)
	require.Len(t, results, 3)

	assert.Equal(t, "exact", results[0].Workflow.ID)
	assert.Equal(t, 2, results[0].Score)
	assert.Equal(t, "prefix", results[1].Workflow.ID)
	assert.Equal(t, 1, results[1].Score)
	assert.Equal(t, "all", results[2].Workflow.ID)
	assert.Equal(t, "member.*", results[1].Trigger.Event)
}

func TestTriggerMatcher_PrefixNeedsSeparator(t *testing.T) {
	matcher := workflow.NewTriggerMatcher(slog.Default())

	results := matcher.MatchWorkflows("membership.renewed", []*models.Workflow{triggered("prefix", "member.*")})

	assert.Empty(t, results)
}
