package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/orgflow/pkg/condition"
	"github.com/dukex/orgflow/pkg/models"
	"github.com/dukex/orgflow/pkg/protocol"
	"github.com/dukex/orgflow/pkg/schema"
	"github.com/dukex/orgflow/pkg/template"
)

// ErrCollaboratorMissing is returned when an action needs a collaborator that was not configured.
var ErrCollaboratorMissing = errors.New("collaborator not configured")

// Dispatcher executes a single action config: it renders templated fields
// against the event data, validates the rendered config and calls the
// matching collaborator under the call timeout.
type Dispatcher struct {
	collaborators protocol.Collaborators
	validator     *schema.Validator
	timeout       time.Duration
	logger        *slog.Logger
}

// NewDispatcher creates a dispatcher. A zero timeout uses DefaultCallTimeout.
func NewDispatcher(
	collaborators protocol.Collaborators,
	validator *schema.Validator,
	timeout time.Duration,
	logger *slog.Logger,
) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	return &Dispatcher{
		collaborators: collaborators,
		validator:     validator,
		timeout:       timeout,
		logger:        logger.With("module", "action_dispatcher"),
	}
}

// Timeout returns the bound applied to every collaborator call.
func (d *Dispatcher) Timeout() time.Duration {
	return d.timeout
}

// Execute runs one action and returns its output.
func (d *Dispatcher) Execute(ctx context.Context, config models.ActionConfig, data map[string]any) (map[string]any, error) {
	if config == nil {
		return nil, models.ValidationErrors{{Field: "config", Message: "is required"}}
	}

	rendered, err := Render(config, data)
	if err != nil {
		return nil, err
	}

	return d.Dispatch(ctx, rendered)
}

// Dispatch validates an already rendered config and calls its collaborator.
func (d *Dispatcher) Dispatch(ctx context.Context, rendered models.ActionConfig) (map[string]any, error) {
	if rendered == nil {
		return nil, models.ValidationErrors{{Field: "config", Message: "is required"}}
	}

	if errs := d.validator.ValidateAction(rendered); len(errs) > 0 {
		return nil, errs
	}

	d.logger.DebugContext(ctx, "Dispatching action", "action_type", rendered.ActionType())

	switch cfg := rendered.(type) {
	case *models.SendEmailConfig:
		return d.sendEmail(ctx, cfg)
	case *models.SendNotificationConfig:
		return d.sendNotification(ctx, cfg)
	case *models.UpdateMemberConfig:
		return d.updateMember(ctx, cfg)
	case *models.CreateTaskConfig:
		return d.createTask(ctx, cfg)
	case *models.AwardPointsConfig:
		return d.awardPoints(ctx, cfg)
	case *models.SendWebhookConfig:
		return d.sendWebhook(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: %T", models.ErrUnknownActionType, rendered)
	}
}

func (d *Dispatcher) sendEmail(ctx context.Context, cfg *models.SendEmailConfig) (map[string]any, error) {
	if d.collaborators.Email == nil {
		return nil, fmt.Errorf("%w: email sender", ErrCollaboratorMissing)
	}

	_, err := Call(ctx, d.timeout, "send email", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, d.collaborators.Email.Send(ctx, cfg.To, cfg.Subject, cfg.Body)
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{"sent": true, "to": cfg.To}, nil
}

func (d *Dispatcher) sendNotification(ctx context.Context, cfg *models.SendNotificationConfig) (map[string]any, error) {
	if d.collaborators.Notification == nil {
		return nil, fmt.Errorf("%w: notification sender", ErrCollaboratorMissing)
	}

	urgency := cfg.Urgency
	if urgency == "" {
		urgency = "normal"
	}

	_, err := Call(ctx, d.timeout, "send notification", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, d.collaborators.Notification.Send(ctx, cfg.Recipients, cfg.Title, cfg.Message, urgency)
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{"sent": true, "recipients": cfg.Recipients}, nil
}

func (d *Dispatcher) updateMember(ctx context.Context, cfg *models.UpdateMemberConfig) (map[string]any, error) {
	if d.collaborators.Members == nil {
		return nil, fmt.Errorf("%w: member store", ErrCollaboratorMissing)
	}

	_, err := Call(ctx, d.timeout, "update member", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, d.collaborators.Members.Update(ctx, cfg.RecordID, cfg.Field, cfg.Value)
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{"record_id": cfg.RecordID, "field": cfg.Field, "value": cfg.Value}, nil
}

func (d *Dispatcher) createTask(ctx context.Context, cfg *models.CreateTaskConfig) (map[string]any, error) {
	if d.collaborators.Tasks == nil {
		return nil, fmt.Errorf("%w: task store", ErrCollaboratorMissing)
	}

	taskID, err := Call(ctx, d.timeout, "create task", func(ctx context.Context) (string, error) {
		return d.collaborators.Tasks.Create(ctx, cfg.Title, cfg.Description, cfg.Assignee, cfg.DueDate, cfg.Priority)
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{"task_id": taskID}, nil
}

func (d *Dispatcher) awardPoints(ctx context.Context, cfg *models.AwardPointsConfig) (map[string]any, error) {
	if d.collaborators.Members == nil {
		return nil, fmt.Errorf("%w: member store", ErrCollaboratorMissing)
	}

	if cfg.RecordID == "" {
		return nil, models.ValidationErrors{{Field: "record_id", Message: "is required when member.id is absent"}}
	}

	_, err := Call(ctx, d.timeout, "award points", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, d.collaborators.Members.AwardPoints(ctx, cfg.RecordID, cfg.Points, cfg.Reason)
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{"points": cfg.Points, "record_id": cfg.RecordID}, nil
}

type webhookResponse struct {
	status int
	body   string
}

func (d *Dispatcher) sendWebhook(ctx context.Context, cfg *models.SendWebhookConfig) (map[string]any, error) {
	if d.collaborators.Webhooks == nil {
		return nil, fmt.Errorf("%w: webhook client", ErrCollaboratorMissing)
	}

	response, err := Call(ctx, d.timeout, "call webhook", func(ctx context.Context) (webhookResponse, error) {
		status, body, err := d.collaborators.Webhooks.Call(ctx, cfg.URL, cfg.Method, cfg.Headers, cfg.Body)

		return webhookResponse{status: status, body: body}, err
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{"status": response.status, "body": response.body}, nil
}

// Render returns a copy of config with its templated fields rendered against data.
// award_points without a record_id takes member.id from data.
func Render(config models.ActionConfig, data map[string]any) (models.ActionConfig, error) {
	var r renderer

	switch cfg := config.(type) {
	case *models.SendEmailConfig:
		return &models.SendEmailConfig{
			To:      r.str("to", cfg.To, data),
			Subject: r.str("subject", cfg.Subject, data),
			Body:    r.str("body", cfg.Body, data),
		}, r.err
	case *models.SendNotificationConfig:
		recipients := make([]string, 0, len(cfg.Recipients))
		for i, recipient := range cfg.Recipients {
			recipients = append(recipients, r.str(fmt.Sprintf("recipients[%d]", i), recipient, data))
		}

		return &models.SendNotificationConfig{
			Recipients: recipients,
			Title:      r.str("title", cfg.Title, data),
			Message:    r.str("message", cfg.Message, data),
			Urgency:    r.str("urgency", cfg.Urgency, data),
		}, r.err
	case *models.UpdateMemberConfig:
		return &models.UpdateMemberConfig{
			RecordID: r.str("record_id", cfg.RecordID, data),
			Field:    r.str("field", cfg.Field, data),
			Value:    r.value("value", cfg.Value, data),
		}, r.err
	case *models.CreateTaskConfig:
		return &models.CreateTaskConfig{
			Title:       r.str("title", cfg.Title, data),
			Description: r.str("description", cfg.Description, data),
			Assignee:    r.str("assignee", cfg.Assignee, data),
			DueDate:     r.str("due_date", cfg.DueDate, data),
			Priority:    r.str("priority", cfg.Priority, data),
		}, r.err
	case *models.AwardPointsConfig:
		recordID := r.str("record_id", cfg.RecordID, data)
		if recordID == "" {
			if memberID, ok := condition.Resolve(data, "member.id"); ok {
				recordID = fmt.Sprint(memberID)
			}
		}

		return &models.AwardPointsConfig{
			Points:   cfg.Points,
			RecordID: recordID,
			Reason:   r.str("reason", cfg.Reason, data),
		}, r.err
	case *models.SendWebhookConfig:
		headers := make(map[string]string, len(cfg.Headers))
		for key, value := range cfg.Headers {
			headers[key] = r.str("headers."+key, value, data)
		}

		return &models.SendWebhookConfig{
			URL:     r.str("url", cfg.URL, data),
			Method:  cfg.Method,
			Headers: headers,
			Body:    r.value("body", cfg.Body, data),
		}, r.err
	default:
		return nil, fmt.Errorf("%w: %T", models.ErrUnknownActionType, config)
	}
}

// renderer keeps the first template failure so a config renders in one pass.
type renderer struct {
	err error
}

func (r *renderer) str(field, input string, data map[string]any) string {
	if r.err != nil {
		return input
	}

	output, err := template.RenderString(input, data)
	if err != nil {
		r.err = models.ValidationErrors{{Field: field, Message: err.Error()}}

		return input
	}

	return output
}

func (r *renderer) value(field string, input any, data map[string]any) any {
	if r.err != nil {
		return input
	}

	output, err := template.RenderValue(input, data)
	if err != nil {
		r.err = models.ValidationErrors{{Field: field, Message: err.Error()}}

		return input
	}

	return output
}
