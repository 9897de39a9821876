package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/orgflow/pkg/models"
	"github.com/dukex/orgflow/pkg/persistence"
	"github.com/dukex/orgflow/pkg/schema"
	"github.com/google/uuid"
)

var (
	// ErrWorkflowNotFound is returned when a workflow is not found.
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound
)

// SyncFunc receives the full workflow list after every change, for
// registries such as the cron triggers.
type SyncFunc func(workflows []*models.Workflow) error

type Workflow struct {
	persistence persistence.Persistence
	validator   *schema.Validator
	sync        SyncFunc
	logger      *slog.Logger
}

// NewWorkflow creates a new workflow service. sync may be nil.
func NewWorkflow(persistence persistence.Persistence, validator *schema.Validator, sync SyncFunc, logger *slog.Logger) *Workflow {
	return &Workflow{
		persistence: persistence,
		validator:   validator,
		sync:        sync,
		logger:      logger.With("module", "workflow_service"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

func (w *Workflow) List(ctx context.Context) ([]*models.Workflow, error) {
	return w.persistence.Workflows().List(ctx)
}

// FetchByID retrieves a workflow by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	return w.persistence.Workflows().GetByID(ctx, id)
}

// Validate checks a workflow graph without storing it.
func (w *Workflow) Validate(workflow *models.Workflow) error {
	if workflow == nil {
		return ErrWorkflowNil
	}

	if errs := w.validator.ValidateWorkflow(workflow); len(errs) > 0 {
		return invalid("ValidateWorkflow", "INVALID_WORKFLOW", errs)
	}

	return nil
}

// Create validates and stores a new workflow. An empty ID is generated.
func (w *Workflow) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	err := w.Validate(workflow)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	err = w.persistence.Workflows().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow created", "workflow_id", workflow.ID)
	w.resync(ctx)

	return workflow, nil
}

// Update modifies an existing workflow by its ID.
func (w *Workflow) Update(ctx context.Context, workflowID string, workflow *models.Workflow) (*models.Workflow, error) {
	existing, err := w.persistence.Workflows().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	err = w.Validate(workflow)
	if err != nil {
		return nil, err
	}

	workflow.ID = workflowID
	workflow.CreatedAt = existing.CreatedAt
	workflow.UpdatedAt = time.Now().UTC()

	err = w.persistence.Workflows().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	w.resync(ctx)

	return workflow, nil
}

// Delete removes a workflow by its ID.
func (w *Workflow) Delete(ctx context.Context, workflowID string) error {
	err := w.persistence.Workflows().Delete(ctx, workflowID)
	if err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Workflow deleted", "workflow_id", workflowID)
	w.resync(ctx)

	return nil
}

// Resync pushes the stored workflows to the sync hook.
func (w *Workflow) Resync(ctx context.Context) error {
	if w.sync == nil {
		return nil
	}

	workflows, err := w.persistence.Workflows().List(ctx)
	if err != nil {
		return err
	}

	return w.sync(workflows)
}

func (w *Workflow) resync(ctx context.Context) {
	err := w.Resync(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to sync workflow schedules", "error", err)
	}
}
