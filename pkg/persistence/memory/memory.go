// Package memory provides an in-process persistence implementation used by
// the test harness, dry runs and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/dukex/orgflow/pkg/models"
	"github.com/dukex/orgflow/pkg/persistence"
)

// Persistence keeps every record in memory. Records are copied on the way
// in and out so callers never share state with the store.
type Persistence struct {
	rules      *RuleRepository
	workflows  *WorkflowRepository
	executions *ExecutionRepository
}

// NewPersistence creates an empty in-memory store.
func NewPersistence() *Persistence {
	return &Persistence{
		rules:      &RuleRepository{items: make(map[string]*models.Rule)},
		workflows:  &WorkflowRepository{items: make(map[string]*models.Workflow)},
		executions: &ExecutionRepository{items: make(map[string]*models.WorkflowExecution)},
	}
}

func (p *Persistence) Rules() persistence.RuleRepository           { return p.rules }
func (p *Persistence) Workflows() persistence.WorkflowRepository   { return p.workflows }
func (p *Persistence) Executions() persistence.ExecutionRepository { return p.executions }

func (p *Persistence) HealthCheck(_ context.Context) error { return nil }
func (p *Persistence) Close(_ context.Context) error       { return nil }

func clone[T any](value *T) (*T, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to copy record: %w", err)
	}

	var out T

	err = json.Unmarshal(data, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to copy record: %w", err)
	}

	return &out, nil
}

// RuleRepository is the in-memory rule store.
type RuleRepository struct {
	mu    sync.RWMutex
	items map[string]*models.Rule
}

func (r *RuleRepository) List(_ context.Context) ([]*models.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rules := make([]*models.Rule, 0, len(r.items))

	for _, item := range r.items {
		rule, err := clone(item)
		if err != nil {
			return nil, err
		}

		rules = append(rules, rule)
	}

	sort.Slice(rules, func(i, j int) bool {
		if !rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].CreatedAt.Before(rules[j].CreatedAt)
		}

		return rules[i].ID < rules[j].ID
	})

	return rules, nil
}

func (r *RuleRepository) GetByID(_ context.Context, id string) (*models.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[id]
	if !ok {
		return nil, persistence.NewRuleError("GetByID", id, persistence.ErrRuleNotFound)
	}

	return clone(item)
}

func (r *RuleRepository) Save(_ context.Context, rule *models.Rule) error {
	if err := persistence.ValidateID(rule.ID); err != nil {
		return persistence.NewRuleError("Save", rule.ID, err)
	}

	stored, err := clone(rule)
	if err != nil {
		return persistence.NewRuleError("Save", rule.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[rule.ID] = stored

	return nil
}

func (r *RuleRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return persistence.NewRuleError("Delete", id, persistence.ErrRuleNotFound)
	}

	delete(r.items, id)

	return nil
}

func (r *RuleRepository) IncrementExecutionCount(_ context.Context, id string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok {
		return 0, persistence.NewRuleError("IncrementExecutionCount", id, persistence.ErrRuleNotFound)
	}

	item.ExecutionCount++

	return item.ExecutionCount, nil
}

// WorkflowRepository is the in-memory workflow store.
type WorkflowRepository struct {
	mu    sync.RWMutex
	items map[string]*models.Workflow
}

func (r *WorkflowRepository) List(_ context.Context) ([]*models.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workflows := make([]*models.Workflow, 0, len(r.items))

	for _, item := range r.items {
		workflow, err := clone(item)
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	sort.Slice(workflows, func(i, j int) bool {
		if !workflows[i].CreatedAt.Equal(workflows[j].CreatedAt) {
			return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
		}

		return workflows[i].ID < workflows[j].ID
	})

	return workflows, nil
}

func (r *WorkflowRepository) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[id]
	if !ok {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	return clone(item)
}

func (r *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	if err := persistence.ValidateID(workflow.ID); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	stored, err := clone(workflow)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[workflow.ID] = stored

	return nil
}

func (r *WorkflowRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	delete(r.items, id)

	return nil
}

// ExecutionRepository is the in-memory execution store.
type ExecutionRepository struct {
	mu    sync.RWMutex
	items map[string]*models.WorkflowExecution
	order []string
}

func (r *ExecutionRepository) Create(_ context.Context, execution *models.WorkflowExecution) error {
	if err := persistence.ValidateID(execution.ID); err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	stored, err := clone(execution)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[execution.ID]; ok {
		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
	}

	r.items[execution.ID] = stored
	r.order = append(r.order, execution.ID)

	return nil
}

func (r *ExecutionRepository) Update(_ context.Context, execution *models.WorkflowExecution) error {
	stored, err := clone(execution)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[execution.ID]
	if !ok {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
	}

	stored.NodeExecutions = current.NodeExecutions
	r.items[execution.ID] = stored

	return nil
}

func (r *ExecutionRepository) AppendNodeExecution(_ context.Context, executionID string, nodeExecution *models.NodeExecution) error {
	stored, err := clone(nodeExecution)
	if err != nil {
		return persistence.NewExecutionError("AppendNodeExecution", executionID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[executionID]
	if !ok {
		return persistence.NewExecutionError("AppendNodeExecution", executionID, persistence.ErrExecutionNotFound)
	}

	current.NodeExecutions = append(current.NodeExecutions, stored)

	return nil
}

func (r *ExecutionRepository) GetByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[id]
	if !ok {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	return clone(item)
}

func (r *ExecutionRepository) GetByApprovalID(_ context.Context, approvalID string) (*models.WorkflowExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		item := r.items[id]
		if item.Continuation != nil && item.Continuation.ApprovalID == approvalID {
			return clone(item)
		}
	}

	return nil, persistence.NewExecutionError("GetByApprovalID", approvalID, persistence.ErrExecutionNotFound)
}

func (r *ExecutionRepository) ListByWorkflow(_ context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executions := make([]*models.WorkflowExecution, 0)

	for _, id := range r.order {
		item := r.items[id]
		if item.WorkflowID != workflowID {
			continue
		}

		execution, err := clone(item)
		if err != nil {
			return nil, err
		}

		executions = append(executions, execution)
	}

	return executions, nil
}
