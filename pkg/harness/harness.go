// Package harness runs workflows against simulated collaborators, an
// in-memory store and a fake clock. Timers fire as soon as the run waits on
// them and approvals are answered from a script, so a whole execution,
// including its delays and approvals, completes in a single call.
package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dukex/orgflow/pkg/models"
	"github.com/dukex/orgflow/pkg/persistence/memory"
	"github.com/dukex/orgflow/pkg/protocol"
	"github.com/dukex/orgflow/pkg/scheduler"
	"github.com/dukex/orgflow/pkg/workflow"
	"github.com/jonboulle/clockwork"
)

// Decision is the scripted answer to an approval node.
type Decision string

const (
	Approve Decision = "approve"
	Reject  Decision = "reject"
	// Expire lets the approval time out. Without a timeout it counts as Reject.
	Expire Decision = "expire"
)

// ErrStalled is returned when a suspended run has no timer left to fire.
var ErrStalled = errors.New("execution is suspended with nothing left to resume it")

type Harness struct {
	executor  *workflow.Executor
	store     *memory.Persistence
	timers    *scheduler.MemoryStore
	poller    *scheduler.Poller
	clock     *clockwork.FakeClock
	simulator *Simulator
	decisions map[string]Decision
	fallback  Decision
	logger    *slog.Logger
}

type config struct {
	seed          uint64
	failureRate   float64
	maxLatency    time.Duration
	start         time.Time
	maxSteps      int
	decisions     map[string]Decision
	fallback      Decision
	collaborators *protocol.Collaborators
}

type Option func(*config)

// WithSeed fixes the random source of the simulated collaborators.
func WithSeed(seed uint64) Option {
	return func(c *config) {
		c.seed = seed
	}
}

// WithFailureRate makes each collaborator call fail with probability rate.
func WithFailureRate(rate float64) Option {
	return func(c *config) {
		c.failureRate = rate
	}
}

// WithLatency gives each collaborator call a simulated duration up to max.
func WithLatency(max time.Duration) Option {
	return func(c *config) {
		c.maxLatency = max
	}
}

// WithStartTime sets the fake clock's initial time.
func WithStartTime(start time.Time) Option {
	return func(c *config) {
		c.start = start
	}
}

func WithMaxSteps(maxSteps int) Option {
	return func(c *config) {
		c.maxSteps = maxSteps
	}
}

// WithDecision scripts the answer for the approval node nodeID.
func WithDecision(nodeID string, decision Decision) Option {
	return func(c *config) {
		c.decisions[nodeID] = decision
	}
}

// WithDefaultDecision answers approvals that have no scripted decision.
func WithDefaultDecision(decision Decision) Option {
	return func(c *config) {
		c.fallback = decision
	}
}

// WithCollaborators replaces the simulated collaborators.
func WithCollaborators(collaborators protocol.Collaborators) Option {
	return func(c *config) {
		c.collaborators = &collaborators
	}
}

func New(logger *slog.Logger, opts ...Option) *Harness {
	cfg := &config{
		start:     time.Now().UTC().Truncate(time.Second),
		decisions: make(map[string]Decision),
		fallback:  Approve,
		maxSteps:  workflow.DefaultMaxSteps,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	clock := clockwork.NewFakeClockAt(cfg.start)
	simulator := NewSimulator(clock, cfg.seed, cfg.failureRate, cfg.maxLatency)

	collaborators := simulator.Collaborators()
	if cfg.collaborators != nil {
		collaborators = *cfg.collaborators
	}

	store := memory.NewPersistence()
	timers := scheduler.NewMemoryStore()

	var ids atomic.Int64

	executor := workflow.NewExecutor(
		store.Workflows(),
		store.Executions(),
		collaborators,
		timers,
		logger,
		workflow.WithClock(clock),
		workflow.WithMaxSteps(cfg.maxSteps),
		workflow.WithIDGenerator(func() string {
			return fmt.Sprintf("sim-%d", ids.Add(1))
		}),
	)

	return &Harness{
		executor:  executor,
		store:     store,
		timers:    timers,
		poller:    scheduler.NewPoller(timers, executor.HandleTimer, logger, scheduler.WithClock(clock)),
		clock:     clock,
		simulator: simulator,
		decisions: cfg.decisions,
		fallback:  cfg.fallback,
		logger:    logger.With("module", "harness"),
	}
}

// Simulator returns the simulated collaborators and their recorded calls.
func (h *Harness) Simulator() *Simulator {
	return h.simulator
}

// Clock returns the fake clock the run is measured with.
func (h *Harness) Clock() *clockwork.FakeClock {
	return h.clock
}

// Run executes wf to completion and returns the final execution.
func (h *Harness) Run(ctx context.Context, wf *models.Workflow, triggerData map[string]any) (*models.WorkflowExecution, error) {
	err := h.store.Workflows().Save(ctx, wf)
	if err != nil {
		return nil, err
	}

	execution, err := h.executor.Execute(ctx, wf, triggerData)
	if err != nil {
		return execution, err
	}

	for execution.Suspended() {
		err = h.resume(ctx, execution.Continuation)
		if err != nil {
			return execution, err
		}

		execution, err = h.store.Executions().GetByID(ctx, execution.ID)
		if err != nil {
			return nil, err
		}
	}

	return execution, nil
}

func (h *Harness) resume(ctx context.Context, continuation *models.Continuation) error {
	if continuation.WaitKind == models.WaitApproval {
		decision, ok := h.decisions[continuation.Cursor]
		if !ok {
			decision = h.fallback
		}

		h.logger.DebugContext(ctx, "Answering approval", "node_id", continuation.Cursor, "decision", decision)

		if decision != Expire || continuation.ResumeAt == nil {
			_, err := h.executor.OnDecision(ctx, continuation.ApprovalID, decision == Approve)

			return err
		}
	}

	if continuation.ResumeAt == nil {
		return ErrStalled
	}

	if wait := continuation.ResumeAt.Sub(h.clock.Now()); wait > 0 {
		h.clock.Advance(wait)
	}

	handled, err := h.poller.Tick(ctx)
	if err != nil {
		return err
	}

	if handled == 0 {
		return ErrStalled
	}

	return nil
}
