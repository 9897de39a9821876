package services

import (
	"context"
	"log/slog"

	"github.com/dukex/orgflow/pkg/harness"
	"github.com/dukex/orgflow/pkg/models"
	"github.com/dukex/orgflow/pkg/persistence"
	"github.com/dukex/orgflow/pkg/schema"
	"github.com/dukex/orgflow/pkg/workflow"
)

var (
	// ErrExecutionNotFound is returned when an execution is not found.
	ErrExecutionNotFound = persistence.ErrExecutionNotFound
)

// Execution starts, inspects, cancels and resumes workflow executions.
type Execution struct {
	executions persistence.ExecutionRepository
	executor   *workflow.Executor
	validator  *schema.Validator
	logger     *slog.Logger
}

func NewExecution(
	executions persistence.ExecutionRepository,
	executor *workflow.Executor,
	validator *schema.Validator,
	logger *slog.Logger,
) *Execution {
	return &Execution{
		executions: executions,
		executor:   executor,
		validator:  validator,
		logger:     logger,
	}
}

// Start runs a stored workflow with the given trigger data.
func (e *Execution) Start(ctx context.Context, workflowID string, triggerData map[string]any) (*models.WorkflowExecution, error) {
	return e.executor.Start(ctx, workflowID, triggerData)
}

func (e *Execution) FetchByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	return e.executions.GetByID(ctx, id)
}

func (e *Execution) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	return e.executions.ListByWorkflow(ctx, workflowID)
}

// Cancel stops an execution. See workflow.Executor.Cancel.
func (e *Execution) Cancel(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	return e.executor.Cancel(ctx, executionID)
}

// Decide answers an approval and resumes the execution waiting on it.
func (e *Execution) Decide(ctx context.Context, approvalID string, approved bool) (*models.WorkflowExecution, error) {
	execution, err := e.executor.OnDecision(ctx, approvalID, approved)
	if err != nil {
		return nil, err
	}

	return e.executions.GetByID(ctx, execution.ID)
}

// DryRun validates a workflow and runs it in the harness. Nothing is stored
// and no collaborator is called.
func (e *Execution) DryRun(ctx context.Context, wf *models.Workflow, triggerData map[string]any, opts ...harness.Option) (*models.WorkflowExecution, error) {
	if wf == nil {
		return nil, ErrWorkflowNil
	}

	if errs := e.validator.ValidateWorkflow(wf); len(errs) > 0 {
		return nil, invalid("DryRun", "INVALID_WORKFLOW", errs)
	}

	if wf.ID == "" {
		named := *wf
		named.ID = "dry-run"
		wf = &named
	}

	return harness.New(e.logger, opts...).Run(ctx, wf, triggerData)
}
