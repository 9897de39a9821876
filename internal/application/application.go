// Package application assembles the engine, its services and the host API
// from configured infrastructure.
package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukex/orgflow/pkg/actions"
	"github.com/dukex/orgflow/pkg/condition"
	"github.com/dukex/orgflow/pkg/eventbus"
	"github.com/dukex/orgflow/pkg/persistence"
	"github.com/dukex/orgflow/pkg/protocol"
	"github.com/dukex/orgflow/pkg/rules"
	"github.com/dukex/orgflow/pkg/scheduler"
	"github.com/dukex/orgflow/pkg/schema"
	"github.com/dukex/orgflow/pkg/services"
	"github.com/dukex/orgflow/pkg/web"
	"github.com/dukex/orgflow/pkg/workflow"
	"github.com/gofiber/fiber/v3"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"
)

// Dependencies is the infrastructure an Application runs on. EventBus,
// Timers, Clock and Tracer are optional.
type Dependencies struct {
	Persistence   persistence.Persistence
	EventBus      eventbus.EventBus
	Timers        scheduler.Store
	Collaborators protocol.Collaborators
	Clock         clockwork.Clock
	Tracer        trace.Tracer
	CallTimeout   time.Duration
	MaxSteps      int
	PollInterval  time.Duration
}

// Application holds every assembled component.
type Application struct {
	Validator  *schema.Validator
	Engine     *rules.Engine
	Executor   *workflow.Executor
	Rules      *services.Rule
	Workflows  *services.Workflow
	Executions *services.Execution
	Automation *services.Automation
	Poller     *scheduler.Poller
	Cron       *scheduler.CronTriggers
	Handlers   *web.APIHandlers

	eventBus eventbus.EventBus
	logger   *slog.Logger
}

func New(deps Dependencies, logger *slog.Logger) *Application {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	if deps.Timers == nil {
		deps.Timers = scheduler.NewMemoryStore()
	}

	validator := schema.New()

	var engineOpts []rules.Option

	executorOpts := []workflow.Option{
		workflow.WithClock(deps.Clock),
		workflow.WithMaxSteps(deps.MaxSteps),
		workflow.WithCallTimeout(deps.CallTimeout),
	}

	if deps.EventBus != nil {
		engineOpts = append(engineOpts, rules.WithPublisher(deps.EventBus))
		executorOpts = append(executorOpts, workflow.WithPublisher(deps.EventBus))
	}

	if deps.Tracer != nil {
		engineOpts = append(engineOpts, rules.WithTracer(deps.Tracer))
		executorOpts = append(executorOpts, workflow.WithTracer(deps.Tracer))
	}

	engine := rules.NewEngine(
		deps.Persistence.Rules(),
		condition.NewEvaluator(logger),
		actions.NewDispatcher(deps.Collaborators, validator, deps.CallTimeout, logger),
		logger,
		engineOpts...,
	)

	executor := workflow.NewExecutor(
		deps.Persistence.Workflows(),
		deps.Persistence.Executions(),
		deps.Collaborators,
		deps.Timers,
		logger,
		executorOpts...,
	)

	cron := scheduler.NewCronTriggers(func(ctx context.Context, workflowID string, triggerData map[string]any) error {
		_, err := executor.Start(ctx, workflowID, triggerData)

		return err
	}, deps.Clock, logger)

	interval := deps.PollInterval
	if interval <= 0 {
		interval = scheduler.DefaultPollInterval
	}

	app := &Application{
		Validator:  validator,
		Engine:     engine,
		Executor:   executor,
		Rules:      services.NewRule(deps.Persistence.Rules(), validator, logger),
		Workflows:  services.NewWorkflow(deps.Persistence, validator, cron.Sync, logger),
		Executions: services.NewExecution(deps.Persistence.Executions(), executor, validator, logger),
		Automation: services.NewAutomation(engine, deps.Persistence.Workflows(), executor, logger),
		Poller: scheduler.NewPoller(deps.Timers, executor.HandleTimer, logger,
			scheduler.WithClock(deps.Clock),
			scheduler.WithInterval(interval)),
		Cron:     cron,
		eventBus: deps.EventBus,
		logger:   logger.With("module", "application"),
	}

	app.Handlers = web.NewAPIHandlers(app.Rules, app.Workflows, app.Executions, app.Automation, validator, logger)

	return app
}

// App returns the HTTP API.
func (a *Application) App() *fiber.App {
	return web.NewApp(a.Handlers, a.logger)
}

// Run loads the cron schedules, subscribes to domain events and polls timers
// until ctx is done.
func (a *Application) Run(ctx context.Context) error {
	err := a.Workflows.Resync(ctx)
	if err != nil {
		return err
	}

	if a.eventBus != nil {
		err = a.Automation.Subscribe(a.eventBus)
		if err != nil {
			return err
		}

		err = a.eventBus.Subscribe(ctx)
		if err != nil {
			return err
		}
	}

	a.Cron.Start()

	a.logger.InfoContext(ctx, "Automation started", "scheduled_workflows", len(a.Cron.Scheduled()))

	err = a.Poller.Run(ctx)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	return errors.Join(err, a.Cron.Stop(stopCtx))
}
