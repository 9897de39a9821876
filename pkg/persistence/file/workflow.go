package file

import (
	"context"
	"sort"

	"github.com/dukex/orgflow/pkg/models"
	"github.com/dukex/orgflow/pkg/persistence"
)

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	workflows *collection[models.Workflow]
}

// NewWorkflowRepository creates a new workflow repository rooted at root/workflows.
func NewWorkflowRepository(root string) *WorkflowRepository {
	return &WorkflowRepository{workflows: newCollection[models.Workflow](root, "workflows")}
}

func (wr *WorkflowRepository) List(_ context.Context) ([]*models.Workflow, error) {
	wr.workflows.mu.RLock()
	defer wr.workflows.mu.RUnlock()

	workflows, err := wr.workflows.all()
	if err != nil {
		return nil, persistence.NewWorkflowError("List", "", err)
	}

	sort.Slice(workflows, func(i, j int) bool {
		if !workflows[i].CreatedAt.Equal(workflows[j].CreatedAt) {
			return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
		}

		return workflows[i].ID < workflows[j].ID
	})

	return workflows, nil
}

// GetByID retrieves a workflow by its ID from the file system.
func (wr *WorkflowRepository) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	wr.workflows.mu.RLock()
	defer wr.workflows.mu.RUnlock()

	workflow, err := wr.workflows.read(id)
	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, notFound(err, persistence.ErrWorkflowNotFound))
	}

	return workflow, nil
}

// Save saves a workflow to the file system.
func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	wr.workflows.mu.Lock()
	defer wr.workflows.mu.Unlock()

	err := wr.workflows.write(workflow.ID, workflow)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

// Delete removes a workflow file.
func (wr *WorkflowRepository) Delete(_ context.Context, id string) error {
	wr.workflows.mu.Lock()
	defer wr.workflows.mu.Unlock()

	err := wr.workflows.remove(id)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, notFound(err, persistence.ErrWorkflowNotFound))
	}

	return nil
}
