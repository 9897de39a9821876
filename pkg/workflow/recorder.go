package workflow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dukex/orgflow/pkg/models"
	"github.com/dukex/orgflow/pkg/persistence"
)

// Recorder persists an execution and its node trace as the run progresses and
// owns the cooperative cancellation flags of the runs active in this process.
type Recorder struct {
	executions persistence.ExecutionRepository

	mu     sync.Mutex
	active map[string]*atomic.Bool
}

func NewRecorder(executions persistence.ExecutionRepository) *Recorder {
	return &Recorder{
		executions: executions,
		active:     make(map[string]*atomic.Bool),
	}
}

// Begin stores a new execution.
func (r *Recorder) Begin(ctx context.Context, execution *models.WorkflowExecution) error {
	err := r.executions.Create(ctx, execution)
	if err != nil {
		return fmt.Errorf("failed to create execution %s: %w", execution.ID, err)
	}

	return nil
}

// Append persists a completed node step and adds it to the in-memory trace.
func (r *Recorder) Append(ctx context.Context, execution *models.WorkflowExecution, nodeExecution *models.NodeExecution) error {
	err := r.executions.AppendNodeExecution(ctx, execution.ID, nodeExecution)
	if err != nil {
		return fmt.Errorf("failed to record node %s: %w", nodeExecution.NodeID, err)
	}

	execution.NodeExecutions = append(execution.NodeExecutions, nodeExecution)

	return nil
}

// Save writes the execution header with its duration recomputed from the trace.
func (r *Recorder) Save(ctx context.Context, execution *models.WorkflowExecution) error {
	execution.DurationMs = execution.TotalDurationMs()

	err := r.executions.Update(ctx, execution)
	if err != nil {
		return fmt.Errorf("failed to update execution %s: %w", execution.ID, err)
	}

	return nil
}

func (r *Recorder) Load(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	return r.executions.GetByID(ctx, executionID)
}

func (r *Recorder) LoadByApproval(ctx context.Context, approvalID string) (*models.WorkflowExecution, error) {
	return r.executions.GetByApprovalID(ctx, approvalID)
}

// track marks an execution as running in this process. The returned func
// releases it.
func (r *Recorder) track(executionID string) (*atomic.Bool, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	flag := &atomic.Bool{}
	r.active[executionID] = flag

	return flag, func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		if r.active[executionID] == flag {
			delete(r.active, executionID)
		}
	}
}

// RequestCancel raises the cancellation flag of a run active in this process.
// It reports false when no such run exists.
func (r *Recorder) RequestCancel(executionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	flag, ok := r.active[executionID]
	if ok {
		flag.Store(true)
	}

	return ok
}

// Active reports whether the execution is currently running in this process.
func (r *Recorder) Active(executionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.active[executionID]

	return ok
}
