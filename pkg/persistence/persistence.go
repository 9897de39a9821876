// Package persistence provides the storage abstraction for rules, workflows and executions.
package persistence

import (
	"context"

	"github.com/dukex/orgflow/pkg/models"
)

// RuleRepository stores rule definitions. List returns rules in stored order
// (created_at, then id), which is the tie-break for equal priorities.
type RuleRepository interface {
	List(ctx context.Context) ([]*models.Rule, error)
	GetByID(ctx context.Context, id string) (*models.Rule, error)
	Save(ctx context.Context, rule *models.Rule) error
	Delete(ctx context.Context, id string) error
	// IncrementExecutionCount adds one to the rule's counter atomically and
	// returns the new value.
	IncrementExecutionCount(ctx context.Context, id string) (int64, error)
}

// WorkflowRepository stores workflow definitions.
type WorkflowRepository interface {
	List(ctx context.Context) ([]*models.Workflow, error)
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error
}

// ExecutionRepository stores workflow executions and their node traces.
// Update writes the execution header; node executions are only ever added
// through AppendNodeExecution and are kept in append order.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.WorkflowExecution) error
	Update(ctx context.Context, execution *models.WorkflowExecution) error
	AppendNodeExecution(ctx context.Context, executionID string, nodeExecution *models.NodeExecution) error
	GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	GetByApprovalID(ctx context.Context, approvalID string) (*models.WorkflowExecution, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error)
}

type Persistence interface {
	Rules() RuleRepository
	Workflows() WorkflowRepository
	Executions() ExecutionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
