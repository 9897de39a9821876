package file

import (
	"context"
	"errors"
	"io/fs"
	"sort"

	"github.com/dukex/orgflow/pkg/models"
	"github.com/dukex/orgflow/pkg/persistence"
)

// ExecutionRepository stores each execution, with its node trace, in one file.
type ExecutionRepository struct {
	executions *collection[models.WorkflowExecution]
}

// NewExecutionRepository creates a new execution repository rooted at root/executions.
func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{executions: newCollection[models.WorkflowExecution](root, "executions")}
}

func (er *ExecutionRepository) Create(_ context.Context, execution *models.WorkflowExecution) error {
	er.executions.mu.Lock()
	defer er.executions.mu.Unlock()

	_, err := er.executions.read(execution.ID)

	switch {
	case err == nil:
		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
	case !errors.Is(err, fs.ErrNotExist):
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	err = er.executions.write(execution.ID, execution)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

func (er *ExecutionRepository) Update(_ context.Context, execution *models.WorkflowExecution) error {
	er.executions.mu.Lock()
	defer er.executions.mu.Unlock()

	current, err := er.executions.read(execution.ID)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, notFound(err, persistence.ErrExecutionNotFound))
	}

	updated := *execution
	updated.NodeExecutions = current.NodeExecutions

	err = er.executions.write(execution.ID, &updated)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	return nil
}

func (er *ExecutionRepository) AppendNodeExecution(_ context.Context, executionID string, nodeExecution *models.NodeExecution) error {
	er.executions.mu.Lock()
	defer er.executions.mu.Unlock()

	current, err := er.executions.read(executionID)
	if err != nil {
		return persistence.NewExecutionError("AppendNodeExecution", executionID, notFound(err, persistence.ErrExecutionNotFound))
	}

	current.NodeExecutions = append(current.NodeExecutions, nodeExecution)

	err = er.executions.write(executionID, current)
	if err != nil {
		return persistence.NewExecutionError("AppendNodeExecution", executionID, err)
	}

	return nil
}

func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	er.executions.mu.RLock()
	defer er.executions.mu.RUnlock()

	execution, err := er.executions.read(id)
	if err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, notFound(err, persistence.ErrExecutionNotFound))
	}

	return execution, nil
}

func (er *ExecutionRepository) GetByApprovalID(_ context.Context, approvalID string) (*models.WorkflowExecution, error) {
	executions, err := er.sorted()
	if err != nil {
		return nil, persistence.NewExecutionError("GetByApprovalID", approvalID, err)
	}

	for _, execution := range executions {
		if execution.Continuation != nil && execution.Continuation.ApprovalID == approvalID {
			return execution, nil
		}
	}

	return nil, persistence.NewExecutionError("GetByApprovalID", approvalID, persistence.ErrExecutionNotFound)
}

func (er *ExecutionRepository) ListByWorkflow(_ context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	executions, err := er.sorted()
	if err != nil {
		return nil, persistence.NewExecutionError("ListByWorkflow", workflowID, err)
	}

	result := make([]*models.WorkflowExecution, 0)

	for _, execution := range executions {
		if execution.WorkflowID == workflowID {
			result = append(result, execution)
		}
	}

	return result, nil
}

func (er *ExecutionRepository) sorted() ([]*models.WorkflowExecution, error) {
	er.executions.mu.RLock()
	defer er.executions.mu.RUnlock()

	executions, err := er.executions.all()
	if err != nil {
		return nil, err
	}

	sort.Slice(executions, func(i, j int) bool {
		if !executions[i].StartedAt.Equal(executions[j].StartedAt) {
			return executions[i].StartedAt.Before(executions[j].StartedAt)
		}

		return executions[i].ID < executions[j].ID
	})

	return executions, nil
}
