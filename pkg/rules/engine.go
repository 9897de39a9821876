// Package rules matches rules against event contexts and dispatches their actions.
package rules

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dukex/orgflow/pkg/actions"
	"github.com/dukex/orgflow/pkg/condition"
	"github.com/dukex/orgflow/pkg/eventbus"
	"github.com/dukex/orgflow/pkg/events"
	"github.com/dukex/orgflow/pkg/models"
	"github.com/dukex/orgflow/pkg/otelhelper"
	"github.com/dukex/orgflow/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ActionResult is the outcome of one rule action.
type ActionResult struct {
	ActionID   string            `json:"action_id"`
	ActionType models.ActionType `json:"action_type"`
	Output     map[string]any    `json:"output,omitempty"`
	Err        error             `json:"-"`
	Error      string            `json:"error,omitempty"`
}

// DispatchResult collects the outcome of every enabled action of a rule.
type DispatchResult struct {
	RuleID         string          `json:"rule_id"`
	RuleName       string          `json:"rule_name"`
	Actions        []*ActionResult `json:"actions"`
	Succeeded      int             `json:"succeeded"`
	Failed         int             `json:"failed"`
	ExecutionCount int64           `json:"execution_count"`
}

// Errors returns the ActionDispatchError of every failed action, in dispatch order.
func (r *DispatchResult) Errors() []error {
	errs := make([]error, 0, r.Failed)

	for _, action := range r.Actions {
		if action.Err != nil {
			errs = append(errs, action.Err)
		}
	}

	return errs
}

// Engine evaluates stored rules and dispatches the actions of the ones that match.
type Engine struct {
	rules      persistence.RuleRepository
	evaluator  *condition.Evaluator
	dispatcher *actions.Dispatcher
	publisher  eventbus.EventPublisher
	tracer     trace.Tracer
	logger     *slog.Logger
}

type Option func(*Engine)

// WithPublisher publishes a rule.dispatched event after every dispatch.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(e *Engine) {
		e.publisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

func NewEngine(
	rules persistence.RuleRepository,
	evaluator *condition.Evaluator,
	dispatcher *actions.Dispatcher,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	engine := &Engine{
		rules:      rules,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		tracer:     otelhelper.DefaultTracer(),
		logger:     logger.With("module", "rule_engine"),
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// Match returns the enabled rules whose conditions hold for data, highest
// priority first. Rules with equal priority keep their given order.
func (e *Engine) Match(ctx context.Context, rules []*models.Rule, data map[string]any) []*models.Rule {
	resolver := condition.MapResolver(data)
	matched := make([]*models.Rule, 0)

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}

		if e.evaluator.Match(ctx, rule.Conditions, resolver) {
			matched = append(matched, rule)
		}
	}

	slices.SortStableFunc(matched, func(a, b *models.Rule) int {
		return cmp.Compare(b.Priority, a.Priority)
	})

	return matched
}

// Evaluate loads every stored rule and returns the ones matching data.
func (e *Engine) Evaluate(ctx context.Context, data map[string]any) ([]*models.Rule, error) {
	rules, err := e.rules.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	matched := e.Match(ctx, rules, data)

	e.logger.DebugContext(ctx, "Rules evaluated", "total", len(rules), "matched", len(matched))

	return matched, nil
}

// Dispatch runs the enabled actions of rule in ascending order. A failing
// action is recorded as an ActionDispatchError and the remaining actions
// still run. The rule execution count grows by one when at least one action
// succeeds; the returned error only reports a failure to persist that count.
func (e *Engine) Dispatch(ctx context.Context, rule *models.Rule, data map[string]any) (*DispatchResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "rule.dispatch",
		attribute.String(otelhelper.RuleIDKey, rule.ID))
	defer span.End()

	result := &DispatchResult{
		RuleID:         rule.ID,
		RuleName:       rule.Name,
		Actions:        make([]*ActionResult, 0, len(rule.Actions)),
		ExecutionCount: rule.ExecutionCount,
	}

	for _, action := range orderedActions(rule.Actions) {
		actionResult := &ActionResult{ActionID: action.ID, ActionType: action.Type}

		output, err := e.dispatchAction(ctx, action, data)
		if err != nil {
			dispatchErr := &models.ActionDispatchError{ActionID: action.ID, ActionType: action.Type, Err: err}
			actionResult.Err = dispatchErr
			actionResult.Error = dispatchErr.Error()
			result.Failed++

			e.logger.WarnContext(ctx, "Rule action failed",
				"rule_id", rule.ID,
				"action_id", action.ID,
				"action_type", action.Type,
				"error", err)
		} else {
			actionResult.Output = output
			result.Succeeded++
		}

		result.Actions = append(result.Actions, actionResult)
	}

	var err error

	if result.Succeeded > 0 {
		result.ExecutionCount, err = e.rules.IncrementExecutionCount(ctx, rule.ID)
		if err != nil {
			err = fmt.Errorf("failed to record execution of rule %s: %w", rule.ID, err)
			otelhelper.SetError(span, err)
		} else {
			rule.ExecutionCount = result.ExecutionCount
		}
	}

	span.SetAttributes(
		attribute.Int("orgflow.rule.actions.succeeded", result.Succeeded),
		attribute.Int("orgflow.rule.actions.failed", result.Failed),
	)

	e.logger.InfoContext(ctx, "Rule dispatched",
		"rule_id", rule.ID,
		"succeeded", result.Succeeded,
		"failed", result.Failed)

	e.publish(ctx, result)

	return result, err
}

func (e *Engine) dispatchAction(ctx context.Context, action models.RuleAction, data map[string]any) (map[string]any, error) {
	if action.Config != nil && action.Config.ActionType() != action.Type {
		return nil, models.ValidationErrors{{
			Field:   "config",
			Message: fmt.Sprintf("config of type %s does not match action type %s", action.Config.ActionType(), action.Type),
		}}
	}

	_, span := otelhelper.StartSpan(ctx, e.tracer, "rule.action",
		attribute.String(otelhelper.ActionIDKey, action.ID),
		attribute.String(otelhelper.ActionTypeKey, string(action.Type)))
	defer span.End()

	output, err := e.dispatcher.Execute(ctx, action.Config, data)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return output, err
}

// Process evaluates data and dispatches every matched rule in priority order.
func (e *Engine) Process(ctx context.Context, data map[string]any) ([]*DispatchResult, error) {
	matched, err := e.Evaluate(ctx, data)
	if err != nil {
		return nil, err
	}

	results := make([]*DispatchResult, 0, len(matched))

	var errs []error

	for _, rule := range matched {
		result, err := e.Dispatch(ctx, rule, data)
		if err != nil {
			errs = append(errs, err)
		}

		results = append(results, result)
	}

	return results, errors.Join(errs...)
}

func (e *Engine) publish(ctx context.Context, result *DispatchResult) {
	if e.publisher == nil {
		return
	}

	err := e.publisher.Publish(ctx, result.RuleID, events.RuleDispatched{
		BaseEvent: events.NewBaseEvent(events.RuleDispatchedEvent, ""),
		RuleID:    result.RuleID,
		Succeeded: result.Succeeded,
		Failed:    result.Failed,
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish rule dispatched event", "rule_id", result.RuleID, "error", err)
	}
}

// orderedActions returns the enabled actions sorted by Order; ties keep their stored order.
func orderedActions(actions []models.RuleAction) []models.RuleAction {
	enabled := make([]models.RuleAction, 0, len(actions))

	for _, action := range actions {
		if action.Enabled {
			enabled = append(enabled, action)
		}
	}

	slices.SortStableFunc(enabled, func(a, b models.RuleAction) int {
		return cmp.Compare(a.Order, b.Order)
	})

	return enabled
}
