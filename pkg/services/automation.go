package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/dukex/orgflow/pkg/eventbus"
	"github.com/dukex/orgflow/pkg/events"
	"github.com/dukex/orgflow/pkg/models"
	"github.com/dukex/orgflow/pkg/persistence"
	"github.com/dukex/orgflow/pkg/rules"
	"github.com/dukex/orgflow/pkg/workflow"
)

// EventResult reports what one domain event set off.
type EventResult struct {
	EventName  string                      `json:"event_name"`
	Rules      []*rules.DispatchResult     `json:"rules"`
	Executions []*models.WorkflowExecution `json:"executions"`
}

// Automation routes inbound domain events to the rule engine and to every
// workflow whose trigger accepts the event.
type Automation struct {
	engine    *rules.Engine
	workflows persistence.WorkflowRepository
	executor  *workflow.Executor
	matcher   *workflow.TriggerMatcher
	logger    *slog.Logger
}

func NewAutomation(
	engine *rules.Engine,
	workflows persistence.WorkflowRepository,
	executor *workflow.Executor,
	logger *slog.Logger,
) *Automation {
	return &Automation{
		engine:    engine,
		workflows: workflows,
		executor:  executor,
		matcher:   workflow.NewTriggerMatcher(logger),
		logger:    logger.With("module", "automation_service"),
	}
}

// HandleEvent runs the rules and the triggered workflows for one event. The
// event name is exposed to conditions and templates as event.type unless the
// data already sets it. Rule action failures are reported in the result;
// the error covers storage failures and workflows that could not start.
func (a *Automation) HandleEvent(ctx context.Context, eventName string, data map[string]any) (*EventResult, error) {
	if eventName == "" {
		return nil, ErrEventNameRequired
	}

	data = withEventType(eventName, data)
	result := &EventResult{EventName: eventName, Executions: make([]*models.WorkflowExecution, 0)}

	var errs []error

	dispatched, err := a.engine.Process(ctx, data)
	if err != nil {
		errs = append(errs, err)
	}

	result.Rules = dispatched

	workflows, err := a.workflows.List(ctx)
	if err != nil {
		return result, errors.Join(append(errs, fmt.Errorf("failed to list workflows: %w", err))...)
	}

	for _, match := range a.matcher.MatchWorkflows(eventName, workflows) {
		execution, err := a.executor.Execute(ctx, match.Workflow, data)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to start workflow %s: %w", match.Workflow.ID, err))
		}

		if execution != nil {
			result.Executions = append(result.Executions, execution)
		}
	}

	a.logger.InfoContext(ctx, "Domain event handled",
		"event", eventName,
		"rules", len(result.Rules),
		"executions", len(result.Executions))

	return result, errors.Join(errs...)
}

// Subscribe handles domain events arriving on the event bus. Failures are
// logged and the message is acknowledged, so actions are never replayed.
func (a *Automation) Subscribe(subscriber eventbus.EventSubscriber) error {
	return subscriber.Handle(events.DomainEventReceivedEvent, func(ctx context.Context, event any) error {
		received, ok := event.(*events.DomainEventReceived)
		if !ok {
			return fmt.Errorf("unexpected event %T", event)
		}

		_, err := a.HandleEvent(ctx, received.EventName, received.Data)
		if err != nil {
			a.logger.ErrorContext(ctx, "Domain event handled with errors", "event", received.EventName, "error", err)
		}

		return nil
	})
}

func withEventType(eventName string, data map[string]any) map[string]any {
	out := make(map[string]any, len(data)+1)
	maps.Copy(out, data)

	switch event := out["event"].(type) {
	case map[string]any:
		if _, ok := event["type"]; !ok {
			merged := maps.Clone(event)
			merged["type"] = eventName
			out["event"] = merged
		}
	case nil:
		out["event"] = map[string]any{"type": eventName}
	}

	return out
}
