package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"time"

	"github.com/dukex/orgflow/pkg/actions"
	"github.com/dukex/orgflow/pkg/condition"
	"github.com/dukex/orgflow/pkg/events"
	"github.com/dukex/orgflow/pkg/models"
	"github.com/dukex/orgflow/pkg/otelhelper"
	"github.com/dukex/orgflow/pkg/template"
	"go.opentelemetry.io/otel/attribute"
)

// errInterrupted reports a node stopped by cancellation of the run's context.
var errInterrupted = errors.New("node interrupted")

// outcome tells the run loop where to go after a node.
type outcome struct {
	label   models.EdgeLabel
	suspend *models.Continuation
	end     bool
}

// step executes one node and appends its trace entry. A node failure is
// returned as *models.NodeExecutionError after it has been recorded.
func (e *Executor) step(ctx context.Context, r *run, node *models.WorkflowNode) (outcome, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.node",
		attribute.String(otelhelper.ExecutionIDKey, r.execution.ID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, string(node.Type)))
	defer span.End()

	startedAt := e.clock.Now()

	input, output, result, err := e.executeNode(ctx, r, node)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return outcome{}, errInterrupted
	}

	nodeExecution := &models.NodeExecution{
		ID:         e.newID(),
		NodeID:     node.ID,
		NodeType:   node.Type,
		Status:     models.NodeExecutionSuccess,
		Input:      input,
		Output:     output,
		DurationMs: e.clock.Since(startedAt).Milliseconds(),
		StartedAt:  startedAt.UTC(),
	}

	var nodeErr *models.NodeExecutionError
	if err != nil {
		nodeErr = classify(node, err)
		nodeExecution.Status = models.NodeExecutionFailed
		nodeExecution.Error = err.Error()
		otelhelper.SetError(span, err)
	}

	appendErr := e.recorder.Append(context.WithoutCancel(ctx), r.execution, nodeExecution)
	if appendErr != nil {
		return outcome{}, appendErr
	}

	if nodeErr != nil {
		e.publish(ctx, r.execution.ID, events.NodeExecutionFailed{
			BaseEvent:   events.NewBaseEvent(events.NodeExecutionFailedEvent, r.execution.WorkflowID),
			ExecutionID: r.execution.ID,
			NodeID:      node.ID,
			NodeType:    node.Type,
			DurationMs:  nodeExecution.DurationMs,
			Error:       nodeExecution.Error,
		})

		return outcome{}, nodeErr
	}

	e.publish(ctx, r.execution.ID, events.NodeExecutionFinished{
		BaseEvent:   events.NewBaseEvent(events.NodeExecutionFinishedEvent, r.execution.WorkflowID),
		ExecutionID: r.execution.ID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		DurationMs:  nodeExecution.DurationMs,
	})

	return result, nil
}

func (e *Executor) executeNode(ctx context.Context, r *run, node *models.WorkflowNode) (map[string]any, map[string]any, outcome, error) {
	if errs := e.validator.ValidateNode(node); len(errs) > 0 {
		return toMap(node.Config), nil, outcome{}, errs
	}

	if node.Type == models.NodeTypeEnd {
		return nil, nil, outcome{end: true}, nil
	}

	data := r.data()

	switch cfg := node.Config.(type) {
	case *models.TriggerConfig:
		return toMap(cfg), r.execution.TriggerData, outcome{}, nil
	case *models.ConditionConfig:
		matched := e.evaluator.Match(ctx, cfg.Conditions, condition.MapResolver(data))

		label := models.EdgeFalse
		if matched {
			label = models.EdgeTrue
		}

		return toMap(cfg), map[string]any{"result": matched}, outcome{label: label}, nil
	case *models.DelayConfig:
		return e.delay(node, cfg)
	case *models.ApprovalConfig:
		return e.approval(ctx, node, cfg, data)
	case *models.LoopConfig:
		return e.loop(r, node, cfg, data)
	case *models.ActionNodeConfig:
		if !cfg.Action.Enabled {
			return toMap(cfg.Action.Config), map[string]any{"skipped": true}, outcome{}, nil
		}

		return e.action(ctx, cfg.Action.Config, data)
	case models.ActionConfig:
		return e.action(ctx, cfg, data)
	default:
		return nil, nil, outcome{}, fmt.Errorf("%w: %s", models.ErrUnknownNodeType, node.Type)
	}
}

func (e *Executor) action(ctx context.Context, config models.ActionConfig, data map[string]any) (map[string]any, map[string]any, outcome, error) {
	rendered, err := actions.Render(config, data)
	if err != nil {
		return toMap(config), nil, outcome{}, err
	}

	output, err := e.dispatcher.Dispatch(ctx, rendered)

	return toMap(rendered), output, outcome{}, err
}

func (e *Executor) delay(node *models.WorkflowNode, cfg *models.DelayConfig) (map[string]any, map[string]any, outcome, error) {
	resumeAt := e.clock.Now().Add(cfg.Interval()).UTC()

	return toMap(cfg), map[string]any{"resume_at": resumeAt.Format(time.RFC3339Nano)}, outcome{
		suspend: &models.Continuation{
			Cursor:   node.ID,
			WaitKind: models.WaitDelay,
			ResumeAt: &resumeAt,
		},
	}, nil
}

func (e *Executor) approval(
	ctx context.Context,
	node *models.WorkflowNode,
	cfg *models.ApprovalConfig,
	data map[string]any,
) (map[string]any, map[string]any, outcome, error) {
	request := &models.ApprovalConfig{TimeoutHours: cfg.TimeoutHours}

	var errs models.ValidationErrors

	for i, approver := range cfg.Approvers {
		rendered, err := template.RenderString(approver, data)
		if err != nil {
			errs.Add(fmt.Sprintf("approvers[%d]", i), "%v", err)
		}

		request.Approvers = append(request.Approvers, rendered)
	}

	title, err := template.RenderString(cfg.Title, data)
	if err != nil {
		errs.Add("title", "%v", err)
	}

	description, err := template.RenderString(cfg.Description, data)
	if err != nil {
		errs.Add("description", "%v", err)
	}

	request.Title = title
	request.Description = description

	input := toMap(request)

	if len(errs) > 0 {
		return input, nil, outcome{}, errs
	}

	if e.approvals == nil {
		return input, nil, outcome{}, fmt.Errorf("%w: approval store", actions.ErrCollaboratorMissing)
	}

	approvalID, err := actions.Call(ctx, e.callTimeout, "request approval", func(ctx context.Context) (string, error) {
		return e.approvals.Request(ctx, request.Approvers, title, description, cfg.TimeoutHours)
	})
	if err != nil {
		return input, nil, outcome{}, err
	}

	continuation := &models.Continuation{
		Cursor:     node.ID,
		WaitKind:   models.WaitApproval,
		ApprovalID: approvalID,
	}

	if timeout, ok := cfg.Timeout(); ok {
		expiresAt := e.clock.Now().Add(timeout).UTC()
		continuation.ResumeAt = &expiresAt
	}

	return input, map[string]any{"approval_id": approvalID}, outcome{suspend: continuation}, nil
}

// loop binds the next element of the collection, or finishes the loop once
// every element has been visited.
func (e *Executor) loop(r *run, node *models.WorkflowNode, cfg *models.LoopConfig, data map[string]any) (map[string]any, map[string]any, outcome, error) {
	input := toMap(cfg)

	if top := r.topLoop(); top != nil && top.NodeID == node.ID {
		top.Index++
	} else {
		if successor(r.workflow, node.ID, models.EdgeLoopBody) == "" {
			return input, nil, outcome{}, models.ValidationErrors{{Field: "edges", Message: "loop has no loop-body edge"}}
		}

		value, found := condition.Resolve(data, cfg.Collection)
		if !found {
			return input, nil, outcome{}, fmt.Errorf("collection %q not found", cfg.Collection)
		}

		items, ok := toItems(value)
		if !ok {
			return input, nil, outcome{}, fmt.Errorf("collection %q is %T, not a list", cfg.Collection, value)
		}

		if limit := cfg.Limit(); len(items) > limit {
			e.logger.Warn("Loop collection truncated",
				"node_id", node.ID,
				"size", len(items),
				"max_iterations", limit)

			items = items[:limit]
		}

		r.loops = append(r.loops, models.LoopFrame{
			NodeID:       node.ID,
			ItemVariable: cfg.ItemVariable,
			Items:        items,
		})
	}

	top := r.topLoop()
	if top.Index >= len(top.Items) {
		iterations := len(top.Items)
		r.loops = r.loops[:len(r.loops)-1]

		return input, map[string]any{"iterations": iterations}, outcome{label: models.EdgeLoopDone}, nil
	}

	return input, map[string]any{"index": top.Index, "item": top.Item()}, outcome{label: models.EdgeLoopBody}, nil
}

func (r *run) topLoop() *models.LoopFrame {
	if len(r.loops) == 0 {
		return nil
	}

	return &r.loops[len(r.loops)-1]
}

// data is the context nodes render and evaluate against: the trigger data,
// the latest successful output of every node under "nodes", and the item
// variable of each active loop.
func (r *run) data() map[string]any {
	data := make(map[string]any, len(r.execution.TriggerData)+2)
	maps.Copy(data, r.execution.TriggerData)

	outputs := make(map[string]any)

	for _, nodeExecution := range r.execution.NodeExecutions {
		if nodeExecution.Status == models.NodeExecutionSuccess {
			outputs[nodeExecution.NodeID] = nodeExecution.Output
		}
	}

	data["nodes"] = outputs

	for _, frame := range r.loops {
		data[frame.ItemVariable] = frame.Item()
		data["loop"] = map[string]any{
			"node_id": frame.NodeID,
			"index":   frame.Index,
			"item":    frame.Item(),
		}
	}

	return data
}

func classify(node *models.WorkflowNode, err error) *models.NodeExecutionError {
	kind := models.NodeErrorExecution

	if _, ok := models.AsValidationErrors(err); ok {
		kind = models.NodeErrorValidation
	} else if models.IsTimeout(err) {
		kind = models.NodeErrorTimeout
	}

	return &models.NodeExecutionError{NodeID: node.ID, NodeType: node.Type, Kind: kind, Err: err}
}

func toItems(value any) ([]any, bool) {
	if items, ok := value.([]any); ok {
		return items, true
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}

	items := make([]any, rv.Len())
	for i := range rv.Len() {
		items[i] = rv.Index(i).Interface()
	}

	return items, true
}

// toMap flattens a config into the generic shape stored in the trace.
func toMap(value any) map[string]any {
	if value == nil {
		return nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}

	return out
}
