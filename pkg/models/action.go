package models

import (
	"encoding/json"
	"fmt"
)

// ActionType identifies the side effect a rule action performs.
type ActionType string

const (
	ActionSendEmail        ActionType = "send_email"
	ActionSendNotification ActionType = "send_notification"
	ActionUpdateMember     ActionType = "update_member"
	ActionCreateTask       ActionType = "create_task"
	ActionAwardPoints      ActionType = "award_points"
	ActionSendWebhook      ActionType = "send_webhook"
)

// ActionConfig is the typed configuration of one action kind.
// The set of implementations is closed; see DecodeActionConfig.
type ActionConfig interface {
	ActionType() ActionType
	actionConfig()
}

type SendEmailConfig struct {
	To      string `json:"to"      validate:"required"`
	Subject string `json:"subject" validate:"required"`
	Body    string `json:"body"    validate:"required"`
}

type SendNotificationConfig struct {
	Recipients []string `json:"recipients"        validate:"required,min=1,dive,required"`
	Title      string   `json:"title"             validate:"required"`
	Message    string   `json:"message"           validate:"required"`
	Urgency    string   `json:"urgency,omitempty" validate:"omitempty,oneof=low normal high urgent"`
}

// UpdateMemberConfig sets a single field on a member record. Value may be any
// JSON value, including false or zero, so its presence is checked separately.
type UpdateMemberConfig struct {
	RecordID string `json:"record_id" validate:"required"`
	Field    string `json:"field"     validate:"required"`
	Value    any    `json:"value"`
}

type CreateTaskConfig struct {
	Title       string `json:"title"                 validate:"required"`
	Description string `json:"description,omitempty"`
	Assignee    string `json:"assignee,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
	Priority    string `json:"priority,omitempty"    validate:"omitempty,oneof=low medium high urgent"`
}

// AwardPointsConfig credits points to a member. An empty RecordID resolves to
// member.id in the event context at dispatch time.
type AwardPointsConfig struct {
	Points   int    `json:"points"              validate:"gt=0"`
	RecordID string `json:"record_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type SendWebhookConfig struct {
	URL     string            `json:"url"               validate:"required,url"`
	Method  string            `json:"method"            validate:"required,oneof=GET POST PUT PATCH DELETE"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`
}

func (SendEmailConfig) ActionType() ActionType        { return ActionSendEmail }
func (SendNotificationConfig) ActionType() ActionType { return ActionSendNotification }
func (UpdateMemberConfig) ActionType() ActionType     { return ActionUpdateMember }
func (CreateTaskConfig) ActionType() ActionType       { return ActionCreateTask }
func (AwardPointsConfig) ActionType() ActionType      { return ActionAwardPoints }
func (SendWebhookConfig) ActionType() ActionType      { return ActionSendWebhook }

func (SendEmailConfig) actionConfig()        {}
func (SendNotificationConfig) actionConfig() {}
func (UpdateMemberConfig) actionConfig()     {}
func (CreateTaskConfig) actionConfig()       {}
func (AwardPointsConfig) actionConfig()      {}
func (SendWebhookConfig) actionConfig()      {}

// RuleAction is one ordered side effect of a rule.
type RuleAction struct {
	ID      string       `json:"id"`
	Type    ActionType   `json:"type"`
	Config  ActionConfig `json:"config"`
	Enabled bool         `json:"enabled"`
	Order   int          `json:"order"`
}

// UnmarshalJSON decodes the config into the concrete struct for the action type.
func (a *RuleAction) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID      string          `json:"id"`
		Type    ActionType      `json:"type"`
		Config  json.RawMessage `json:"config"`
		Enabled bool            `json:"enabled"`
		Order   int             `json:"order"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	config, err := DecodeActionConfig(raw.Type, raw.Config)
	if err != nil {
		return fmt.Errorf("action %s: %w", raw.ID, err)
	}

	*a = RuleAction{
		ID:      raw.ID,
		Type:    raw.Type,
		Config:  config,
		Enabled: raw.Enabled,
		Order:   raw.Order,
	}

	return nil
}

// DecodeActionConfig decodes raw JSON into the config struct registered for actionType.
// A missing or null payload yields the zero config so validation can report the missing fields.
func DecodeActionConfig(actionType ActionType, raw json.RawMessage) (ActionConfig, error) {
	switch actionType {
	case ActionSendEmail:
		return unmarshalConfig[ActionConfig](raw, &SendEmailConfig{})
	case ActionSendNotification:
		return unmarshalConfig[ActionConfig](raw, &SendNotificationConfig{})
	case ActionUpdateMember:
		return unmarshalConfig[ActionConfig](raw, &UpdateMemberConfig{})
	case ActionCreateTask:
		return unmarshalConfig[ActionConfig](raw, &CreateTaskConfig{})
	case ActionAwardPoints:
		return unmarshalConfig[ActionConfig](raw, &AwardPointsConfig{})
	case ActionSendWebhook:
		return unmarshalConfig[ActionConfig](raw, &SendWebhookConfig{})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownActionType, actionType)
	}
}

func unmarshalConfig[C any](raw json.RawMessage, config C) (C, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return config, nil
	}

	if err := json.Unmarshal(raw, config); err != nil {
		var zero C

		return zero, err
	}

	return config, nil
}
