package mocks

import (
	"context"

	"github.com/dukex/orgflow/pkg/models"
	"github.com/dukex/orgflow/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockRuleRepository is a mock implementation of persistence.RuleRepository interface.
type MockRuleRepository struct {
	mock.Mock
}

func (m *MockRuleRepository) List(ctx context.Context) ([]*models.Rule, error) {
	args := m.Called(ctx)

	if rules, ok := args.Get(0).([]*models.Rule); ok {
		return rules, args.Error(1)
	}

	return nil, args.Error(1)
}

func (m *MockRuleRepository) GetByID(ctx context.Context, id string) (*models.Rule, error) {
	args := m.Called(ctx, id)

	if rule, ok := args.Get(0).(*models.Rule); ok {
		return rule, args.Error(1)
	}

	return nil, args.Error(1)
}

func (m *MockRuleRepository) Save(ctx context.Context, rule *models.Rule) error {
	args := m.Called(ctx, rule)

	return args.Error(0)
}

func (m *MockRuleRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

func (m *MockRuleRepository) IncrementExecutionCount(ctx context.Context, id string) (int64, error) {
	args := m.Called(ctx, id)

	return args.Get(0).(int64), args.Error(1)
}

// MockWorkflowRepository is a mock implementation of persistence.WorkflowRepository interface.
type MockWorkflowRepository struct {
	mock.Mock
}

func (m *MockWorkflowRepository) List(ctx context.Context) ([]*models.Workflow, error) {
	args := m.Called(ctx)

	if workflows, ok := args.Get(0).([]*models.Workflow); ok {
		return workflows, args.Error(1)
	}

	return nil, args.Error(1)
}

func (m *MockWorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	args := m.Called(ctx, id)

	if workflow, ok := args.Get(0).(*models.Workflow); ok {
		return workflow, args.Error(1)
	}

	return nil, args.Error(1)
}

func (m *MockWorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

func (m *MockWorkflowRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

// MockExecutionRepository is a mock implementation of persistence.ExecutionRepository interface.
type MockExecutionRepository struct {
	mock.Mock
}

func (m *MockExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockExecutionRepository) Update(ctx context.Context, execution *models.WorkflowExecution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockExecutionRepository) AppendNodeExecution(ctx context.Context, executionID string, nodeExecution *models.NodeExecution) error {
	args := m.Called(ctx, executionID, nodeExecution)

	return args.Error(0)
}

func (m *MockExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	args := m.Called(ctx, id)

	if execution, ok := args.Get(0).(*models.WorkflowExecution); ok {
		return execution, args.Error(1)
	}

	return nil, args.Error(1)
}

func (m *MockExecutionRepository) GetByApprovalID(ctx context.Context, approvalID string) (*models.WorkflowExecution, error) {
	args := m.Called(ctx, approvalID)

	if execution, ok := args.Get(0).(*models.WorkflowExecution); ok {
		return execution, args.Error(1)
	}

	return nil, args.Error(1)
}

func (m *MockExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	args := m.Called(ctx, workflowID)

	if executions, ok := args.Get(0).([]*models.WorkflowExecution); ok {
		return executions, args.Error(1)
	}

	return nil, args.Error(1)
}

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock

	RuleRepository      *MockRuleRepository
	WorkflowRepository  *MockWorkflowRepository
	ExecutionRepository *MockExecutionRepository
}

func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		RuleRepository:      &MockRuleRepository{},
		WorkflowRepository:  &MockWorkflowRepository{},
		ExecutionRepository: &MockExecutionRepository{},
	}
}

func (m *MockPersistence) Rules() persistence.RuleRepository {
	return m.RuleRepository
}

func (m *MockPersistence) Workflows() persistence.WorkflowRepository {
	return m.WorkflowRepository
}

func (m *MockPersistence) Executions() persistence.ExecutionRepository {
	return m.ExecutionRepository
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
