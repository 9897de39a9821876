package persistence_test

import (
	"errors"
	"testing"

	"github.com/dukex/orgflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		ruleErr := persistence.NewRuleError("GetByID", "rule-1", persistence.ErrRuleNotFound)
		workflowErr := persistence.NewWorkflowError("GetByID", "workflow-123", persistence.ErrWorkflowNotFound)
		executionErr := persistence.NewExecutionError("Update", "exec-9", persistence.ErrExecutionNotFound)

		assert.True(t, persistence.IsRuleNotFound(ruleErr))
		assert.True(t, persistence.IsWorkflowNotFound(workflowErr))
		assert.True(t, persistence.IsExecutionNotFound(executionErr))
		assert.False(t, persistence.IsWorkflowNotFound(ruleErr))

		for _, err := range []error{ruleErr, workflowErr, executionErr} {
			assert.True(t, persistence.IsNotFound(err))
		}

		assert.True(t, errors.Is(workflowErr, persistence.ErrWorkflowNotFound))
	})

	t.Run("workflow error contains context", func(t *testing.T) {
		err := persistence.NewWorkflowError("Delete", "workflow-123", persistence.ErrWorkflowNotFound)

		assert.Contains(t, err.Error(), "Delete")
		assert.Contains(t, err.Error(), "workflow-123")
		assert.Contains(t, err.Error(), "workflow not found")
	})

	t.Run("wrapped errors keep their sentinel", func(t *testing.T) {
		err := persistence.NewRuleError("Save", "rule-1", errors.Join(errors.New("disk full"), persistence.ErrInvalidID))

		assert.ErrorIs(t, err, persistence.ErrInvalidID)
		assert.False(t, persistence.IsNotFound(err))
	})
}

func TestValidateID(t *testing.T) {
	t.Parallel()

	for _, id := range []string{"rule-1", "0195f4c2-7e1b-7c3a-9d1e-2f4a5b6c7d8e", "a.b"} {
		assert.NoError(t, persistence.ValidateID(id), id)
	}

	for _, id := range []string{"", ".", "..", "../etc/passwd", `a\b`, "a/b"} {
		assert.ErrorIs(t, persistence.ValidateID(id), persistence.ErrInvalidID, id)
	}
}
