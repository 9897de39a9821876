// Package workflow executes workflow graphs into bounded, resumable execution traces.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dukex/orgflow/pkg/actions"
	"github.com/dukex/orgflow/pkg/condition"
	"github.com/dukex/orgflow/pkg/eventbus"
	"github.com/dukex/orgflow/pkg/events"
	"github.com/dukex/orgflow/pkg/models"
	"github.com/dukex/orgflow/pkg/otelhelper"
	"github.com/dukex/orgflow/pkg/persistence"
	"github.com/dukex/orgflow/pkg/protocol"
	"github.com/dukex/orgflow/pkg/scheduler"
	"github.com/dukex/orgflow/pkg/schema"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxSteps bounds the node steps of one execution.
const DefaultMaxSteps = 10000

var (
	ErrNoTrigger         = errors.New("workflow has no trigger node")
	ErrNotSuspended      = errors.New("execution is not waiting for this event")
	ErrExecutionFinished = errors.New("execution already finished")
)

// Executor walks workflow graphs. Steps of one execution run strictly in
// sequence; different executions may run concurrently. Delays and approvals
// suspend the execution with a persisted continuation instead of blocking.
type Executor struct {
	workflows  persistence.WorkflowRepository
	recorder   *Recorder
	timers     scheduler.Store
	approvals  protocol.ApprovalStore
	validator  *schema.Validator
	evaluator  *condition.Evaluator
	dispatcher *actions.Dispatcher

	clock       clockwork.Clock
	newID       func() string
	maxSteps    int
	callTimeout time.Duration
	publisher   eventbus.EventPublisher
	tracer      trace.Tracer
	logger      *slog.Logger

	locks executionLocks
}

type Option func(*Executor)

func WithClock(clock clockwork.Clock) Option {
	return func(e *Executor) {
		e.clock = clock
	}
}

// WithIDGenerator replaces the uuid generator used for executions, node
// executions and timers.
func WithIDGenerator(newID func() string) Option {
	return func(e *Executor) {
		e.newID = newID
	}
}

func WithMaxSteps(maxSteps int) Option {
	return func(e *Executor) {
		if maxSteps > 0 {
			e.maxSteps = maxSteps
		}
	}
}

// WithCallTimeout bounds every collaborator call. Zero keeps actions.DefaultCallTimeout.
func WithCallTimeout(timeout time.Duration) Option {
	return func(e *Executor) {
		e.callTimeout = timeout
	}
}

func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(e *Executor) {
		e.publisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

// NewExecutor creates an executor. A nil timer store keeps timers in memory.
func NewExecutor(
	workflows persistence.WorkflowRepository,
	executions persistence.ExecutionRepository,
	collaborators protocol.Collaborators,
	timers scheduler.Store,
	logger *slog.Logger,
	opts ...Option,
) *Executor {
	if timers == nil {
		timers = scheduler.NewMemoryStore()
	}

	executor := &Executor{
		workflows: workflows,
		recorder:  NewRecorder(executions),
		timers:    timers,
		approvals: collaborators.Approvals,
		validator: schema.New(),
		evaluator: condition.NewEvaluator(logger),
		clock:     clockwork.NewRealClock(),
		newID:     uuid.NewString,
		maxSteps:  DefaultMaxSteps,
		tracer:    otelhelper.DefaultTracer(),
		logger:    logger.With("module", "workflow_executor"),
	}

	for _, opt := range opts {
		opt(executor)
	}

	executor.dispatcher = actions.NewDispatcher(collaborators, executor.validator, executor.callTimeout, logger)
	executor.callTimeout = executor.dispatcher.Timeout()

	return executor
}

// Recorder returns the recorder persisting this executor's traces.
func (e *Executor) Recorder() *Recorder {
	return e.recorder
}

// Start loads a workflow and executes it with the given trigger data.
func (e *Executor) Start(ctx context.Context, workflowID string, triggerData map[string]any) (*models.WorkflowExecution, error) {
	workflow, err := e.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	return e.Execute(ctx, workflow, triggerData)
}

// Execute runs workflow from its trigger node until it finishes or suspends.
// Node failures are reported in the returned execution; the error is only set
// when the execution could not be run or persisted.
func (e *Executor) Execute(ctx context.Context, workflow *models.Workflow, triggerData map[string]any) (*models.WorkflowExecution, error) {
	trigger := workflow.TriggerNode()
	if trigger == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoTrigger, workflow.ID)
	}

	if triggerData == nil {
		triggerData = map[string]any{}
	}

	execution := &models.WorkflowExecution{
		ID:             e.newID(),
		WorkflowID:     workflow.ID,
		Status:         models.ExecutionStatusPending,
		StartedAt:      e.clock.Now().UTC(),
		TriggerData:    triggerData,
		NodeExecutions: []*models.NodeExecution{},
	}

	unlock := e.locks.lock(execution.ID)
	defer unlock()

	cancelled, release := e.recorder.track(execution.ID)
	defer release()

	persistCtx := context.WithoutCancel(ctx)

	err := e.recorder.Begin(persistCtx, execution)
	if err != nil {
		return nil, err
	}

	execution.Status = models.ExecutionStatusRunning

	err = e.recorder.Save(persistCtx, execution)
	if err != nil {
		return execution, err
	}

	e.logger.InfoContext(ctx, "Workflow execution started", "workflow_id", workflow.ID, "execution_id", execution.ID)
	e.publish(ctx, execution.ID, events.WorkflowExecutionStarted{
		BaseEvent:   events.NewBaseEvent(events.WorkflowExecutionStartedEvent, workflow.ID),
		ExecutionID: execution.ID,
		TriggerData: triggerData,
	})

	r := &run{workflow: workflow, execution: execution, cancelled: cancelled}

	return execution, e.drive(ctx, r, trigger.ID)
}

// HandleTimer resumes the execution a due timer belongs to. Timers that no
// longer match the execution's continuation are ignored.
func (e *Executor) HandleTimer(ctx context.Context, timer *scheduler.Timer) error {
	unlock := e.locks.lock(timer.ExecutionID)
	defer unlock()

	execution, err := e.recorder.Load(context.WithoutCancel(ctx), timer.ExecutionID)
	if err != nil {
		return err
	}

	continuation := execution.Continuation
	if !execution.Suspended() || continuation.Cursor != timer.NodeID {
		e.logger.DebugContext(ctx, "Ignoring stale timer", "timer_id", timer.ID, "execution_id", timer.ExecutionID)

		return nil
	}

	switch {
	case timer.Kind == scheduler.TimerDelay && continuation.WaitKind == models.WaitDelay,
		timer.Kind == scheduler.TimerResume && continuation.WaitKind == models.WaitResume:
		return e.resume(ctx, execution, "", nil)
	case timer.Kind == scheduler.TimerApprovalTimeout &&
		continuation.WaitKind == models.WaitApproval &&
		continuation.ApprovalID == timer.ApprovalID:
		return e.resume(ctx, execution, models.EdgeRejected, &decision{approvalID: timer.ApprovalID, timedOut: true})
	default:
		e.logger.DebugContext(ctx, "Ignoring stale timer", "timer_id", timer.ID, "execution_id", timer.ExecutionID)

		return nil
	}
}

// OnDecision resumes the execution waiting on approvalID along its approved
// or rejected branch.
func (e *Executor) OnDecision(ctx context.Context, approvalID string, approved bool) (*models.WorkflowExecution, error) {
	waiting, err := e.recorder.LoadByApproval(ctx, approvalID)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.lock(waiting.ID)
	defer unlock()

	execution, err := e.recorder.Load(ctx, waiting.ID)
	if err != nil {
		return nil, err
	}

	if !execution.Suspended() ||
		execution.Continuation.WaitKind != models.WaitApproval ||
		execution.Continuation.ApprovalID != approvalID {
		return execution, fmt.Errorf("%w: approval %s", ErrNotSuspended, approvalID)
	}

	err = e.timers.RemoveForExecution(ctx, execution.ID)
	if err != nil {
		return execution, fmt.Errorf("failed to drop timers of execution %s: %w", execution.ID, err)
	}

	label := models.EdgeRejected
	if approved {
		label = models.EdgeApproved
	}

	return execution, e.resume(ctx, execution, label, &decision{approvalID: approvalID, approved: approved})
}

// Cancel stops an execution. A run active in this process stops before its
// next step; a suspended execution is cancelled at once and its timers are
// dropped. Executions running elsewhere get a persisted cancel request that
// is honoured when they resume.
func (e *Executor) Cancel(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	if e.recorder.RequestCancel(executionID) {
		e.logger.InfoContext(ctx, "Cancellation requested", "execution_id", executionID)

		return e.recorder.Load(ctx, executionID)
	}

	unlock := e.locks.lock(executionID)
	defer unlock()

	execution, err := e.recorder.Load(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if execution.Status.IsTerminal() {
		return execution, fmt.Errorf("%w: %s is %s", ErrExecutionFinished, executionID, execution.Status)
	}

	persistCtx := context.WithoutCancel(ctx)

	if execution.Suspended() {
		err = e.timers.RemoveForExecution(persistCtx, executionID)
		if err != nil {
			return execution, fmt.Errorf("failed to drop timers of execution %s: %w", executionID, err)
		}

		return execution, e.finishCancelled(ctx, &run{execution: execution})
	}

	execution.CancelRequested = true

	return execution, e.recorder.Save(persistCtx, execution)
}

type decision struct {
	approvalID string
	approved   bool
	timedOut   bool
}

func (e *Executor) resume(ctx context.Context, execution *models.WorkflowExecution, label models.EdgeLabel, decided *decision) error {
	cancelled, release := e.recorder.track(execution.ID)
	defer release()

	continuation := execution.Continuation
	execution.Continuation = nil

	r := &run{execution: execution, cancelled: cancelled, loops: continuation.Loops}

	e.logger.InfoContext(ctx, "Workflow execution resumed",
		"workflow_id", execution.WorkflowID,
		"execution_id", execution.ID,
		"node_id", continuation.Cursor)
	e.publish(ctx, execution.ID, events.WorkflowExecutionResumed{
		BaseEvent:   events.NewBaseEvent(events.WorkflowExecutionResumedEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		NodeID:      continuation.Cursor,
		WaitKind:    continuation.WaitKind,
	})

	if execution.CancelRequested {
		return e.finishCancelled(ctx, r)
	}

	workflow, err := e.workflows.GetByID(context.WithoutCancel(ctx), execution.WorkflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return e.fail(ctx, r, &models.NodeExecutionError{NodeID: continuation.Cursor, Kind: models.NodeErrorNotFound, Err: err})
		}

		return err
	}

	r.workflow = workflow

	node := workflow.Node(continuation.Cursor)
	if node == nil {
		return e.fail(ctx, r, &models.NodeExecutionError{
			NodeID: continuation.Cursor,
			Kind:   models.NodeErrorNotFound,
			Err:    fmt.Errorf("node %q does not exist", continuation.Cursor),
		})
	}

	if decided != nil {
		err = e.recordDecision(ctx, r, node, decided)
		if err != nil {
			return err
		}
	}

	if continuation.WaitKind == models.WaitResume {
		return e.drive(ctx, r, node.ID)
	}

	return e.drive(ctx, r, e.advance(r, node.ID, label))
}

func (e *Executor) recordDecision(ctx context.Context, r *run, node *models.WorkflowNode, decided *decision) error {
	now := e.clock.Now().UTC()

	return e.recorder.Append(context.WithoutCancel(ctx), r.execution, &models.NodeExecution{
		ID:       e.newID(),
		NodeID:   node.ID,
		NodeType: node.Type,
		Status:   models.NodeExecutionSuccess,
		Input:    map[string]any{"approval_id": decided.approvalID},
		Output: map[string]any{
			"approval_id": decided.approvalID,
			"approved":    decided.approved,
			"timed_out":   decided.timedOut,
		},
		StartedAt: now,
	})
}

// drive executes nodes starting at next until the run ends or suspends.
func (e *Executor) drive(ctx context.Context, r *run, next string) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.execute",
		attribute.String(otelhelper.WorkflowIDKey, r.execution.WorkflowID),
		attribute.String(otelhelper.ExecutionIDKey, r.execution.ID))
	defer span.End()

	for next != "" {
		if r.cancelled.Load() {
			return e.finishCancelled(ctx, r)
		}

		if ctx.Err() != nil {
			return e.interrupt(ctx, r, next)
		}

		node := r.workflow.Node(next)
		if node == nil {
			return e.fail(ctx, r, &models.NodeExecutionError{
				NodeID: next,
				Kind:   models.NodeErrorNotFound,
				Err:    fmt.Errorf("node %q does not exist", next),
			})
		}

		if len(r.execution.NodeExecutions) >= e.maxSteps {
			return e.fail(ctx, r, &models.NodeExecutionError{
				NodeID:   node.ID,
				NodeType: node.Type,
				Kind:     models.NodeErrorStepLimit,
				Err:      fmt.Errorf("step limit of %d reached", e.maxSteps),
			})
		}

		result, err := e.step(ctx, r, node)
		if err != nil {
			var nodeErr *models.NodeExecutionError

			switch {
			case errors.As(err, &nodeErr):
				otelhelper.SetError(span, err)

				return e.fail(ctx, r, nodeErr)
			case errors.Is(err, errInterrupted):
				return e.interrupt(ctx, r, node.ID)
			default:
				otelhelper.SetError(span, err)

				return err
			}
		}

		if result.suspend != nil {
			return e.suspend(ctx, r, result.suspend)
		}

		if result.end {
			break
		}

		next = e.advance(r, node.ID, result.label)
	}

	return e.complete(ctx, r)
}

// advance picks the node after nodeID. When a loop body runs out of nodes the
// run returns to the innermost loop node for its next iteration.
func (e *Executor) advance(r *run, nodeID string, label models.EdgeLabel) string {
	next := successor(r.workflow, nodeID, label)
	if next == "" && len(r.loops) > 0 {
		return r.loops[len(r.loops)-1].NodeID
	}

	return next
}

func (e *Executor) suspend(ctx context.Context, r *run, continuation *models.Continuation) error {
	persistCtx := context.WithoutCancel(ctx)

	if len(r.loops) > 0 {
		continuation.Loops = append([]models.LoopFrame(nil), r.loops...)
	}

	r.execution.Continuation = continuation

	err := e.recorder.Save(persistCtx, r.execution)
	if err != nil {
		return err
	}

	if continuation.ResumeAt != nil {
		kind := scheduler.TimerDelay

		switch continuation.WaitKind {
		case models.WaitApproval:
			kind = scheduler.TimerApprovalTimeout
		case models.WaitResume:
			kind = scheduler.TimerResume
		case models.WaitDelay:
		}

		err = e.timers.Schedule(persistCtx, &scheduler.Timer{
			ID:          e.newID(),
			ExecutionID: r.execution.ID,
			NodeID:      continuation.Cursor,
			Kind:        kind,
			DueAt:       *continuation.ResumeAt,
			ApprovalID:  continuation.ApprovalID,
		})
		if err != nil {
			return fmt.Errorf("failed to schedule timer for execution %s: %w", r.execution.ID, err)
		}
	}

	e.logger.InfoContext(ctx, "Workflow execution suspended",
		"workflow_id", r.execution.WorkflowID,
		"execution_id", r.execution.ID,
		"node_id", continuation.Cursor,
		"wait_kind", continuation.WaitKind)
	e.publish(ctx, r.execution.ID, events.WorkflowExecutionSuspended{
		BaseEvent:   events.NewBaseEvent(events.WorkflowExecutionSuspendedEvent, r.execution.WorkflowID),
		ExecutionID: r.execution.ID,
		NodeID:      continuation.Cursor,
		WaitKind:    continuation.WaitKind,
		ApprovalID:  continuation.ApprovalID,
		ResumeAt:    continuation.ResumeAt,
	})

	return nil
}

// interrupt parks a run whose context ended before next could finish. Only an
// explicit cancel request makes the execution cancelled; otherwise a timer due
// now lets the poller run next again.
func (e *Executor) interrupt(ctx context.Context, r *run, next string) error {
	if r.cancelled.Load() {
		return e.finishCancelled(ctx, r)
	}

	resumeAt := e.clock.Now().UTC()

	e.logger.WarnContext(ctx, "Workflow execution interrupted",
		"workflow_id", r.execution.WorkflowID,
		"execution_id", r.execution.ID,
		"node_id", next,
		"error", context.Cause(ctx))

	return e.suspend(ctx, r, &models.Continuation{
		Cursor:   next,
		WaitKind: models.WaitResume,
		ResumeAt: &resumeAt,
	})
}

func (e *Executor) complete(ctx context.Context, r *run) error {
	e.finish(r, models.ExecutionStatusSuccess)

	err := e.recorder.Save(context.WithoutCancel(ctx), r.execution)
	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Workflow execution completed",
		"workflow_id", r.execution.WorkflowID,
		"execution_id", r.execution.ID,
		"duration_ms", r.execution.DurationMs)
	e.publish(ctx, r.execution.ID, events.WorkflowExecutionCompleted{
		BaseEvent:   events.NewBaseEvent(events.WorkflowExecutionCompletedEvent, r.execution.WorkflowID),
		ExecutionID: r.execution.ID,
		DurationMs:  r.execution.DurationMs,
	})

	return nil
}

func (e *Executor) fail(ctx context.Context, r *run, nodeErr *models.NodeExecutionError) error {
	e.finish(r, models.ExecutionStatusFailed)
	r.execution.Error = &models.ExecutionError{
		NodeID:   nodeErr.NodeID,
		NodeType: nodeErr.NodeType,
		Kind:     nodeErr.Kind,
		Message:  nodeErr.Err.Error(),
	}

	err := e.recorder.Save(context.WithoutCancel(ctx), r.execution)
	if err != nil {
		return err
	}

	e.logger.ErrorContext(ctx, "Workflow execution failed",
		"workflow_id", r.execution.WorkflowID,
		"execution_id", r.execution.ID,
		"node_id", nodeErr.NodeID,
		"kind", nodeErr.Kind,
		"error", nodeErr.Err)
	e.publish(ctx, r.execution.ID, events.WorkflowExecutionFailed{
		BaseEvent:   events.NewBaseEvent(events.WorkflowExecutionFailedEvent, r.execution.WorkflowID),
		ExecutionID: r.execution.ID,
		Error:       r.execution.Error,
		DurationMs:  r.execution.DurationMs,
	})

	return nil
}

func (e *Executor) finishCancelled(ctx context.Context, r *run) error {
	e.finish(r, models.ExecutionStatusCancelled)
	r.execution.CancelRequested = true

	err := e.recorder.Save(context.WithoutCancel(ctx), r.execution)
	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Workflow execution cancelled",
		"workflow_id", r.execution.WorkflowID,
		"execution_id", r.execution.ID,
		"completed_nodes", len(r.execution.NodeExecutions))
	e.publish(ctx, r.execution.ID, events.WorkflowExecutionCancelled{
		BaseEvent:   events.NewBaseEvent(events.WorkflowExecutionCancelledEvent, r.execution.WorkflowID),
		ExecutionID: r.execution.ID,
		DurationMs:  r.execution.DurationMs,
	})

	return nil
}

func (e *Executor) finish(r *run, status models.ExecutionStatus) {
	completedAt := e.clock.Now().UTC()

	r.execution.Status = status
	r.execution.CompletedAt = &completedAt
	r.execution.Continuation = nil
}

func (e *Executor) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	err := e.publisher.Publish(ctx, key, event)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

// executionLocks hands out one mutex per execution id, kept only while
// someone holds or waits for it.
type executionLocks struct {
	mu    sync.Mutex
	locks map[string]*executionLock
}

type executionLock struct {
	sync.Mutex
	refs int
}

// lock serializes work on one execution across its run, resumes and cancels.
func (l *executionLocks) lock(executionID string) func() {
	l.mu.Lock()

	if l.locks == nil {
		l.locks = make(map[string]*executionLock)
	}

	entry, ok := l.locks[executionID]
	if !ok {
		entry = &executionLock{}
		l.locks[executionID] = entry
	}

	entry.refs++
	l.mu.Unlock()

	entry.Lock()

	return func() {
		entry.Unlock()

		l.mu.Lock()
		defer l.mu.Unlock()

		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, executionID)
		}
	}
}

// run is the in-flight state of one execution segment.
type run struct {
	workflow  *models.Workflow
	execution *models.WorkflowExecution
	loops     []models.LoopFrame
	cancelled *atomic.Bool
}
