// Package schema validates rule and workflow node configuration before it is stored or executed.
package schema

import "github.com/dukex/orgflow/pkg/models"

var operatorEnum = []any{
	"equals", "not_equals", "greater_than", "less_than", "greater_equal", "less_equal",
	"contains", "not_contains", "starts_with", "ends_with", "exists", "not_exists",
}

var conditionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"id":               map[string]any{"type": "string"},
		"field":            map[string]any{"type": "string", "minLength": 1},
		"operator":         map[string]any{"type": "string", "enum": operatorEnum},
		"value":            map[string]any{},
		"data_type":        map[string]any{"type": "string", "enum": []any{"string", "number", "boolean", "date", "array"}},
		"logical_operator": map[string]any{"type": "string", "enum": []any{"AND", "OR"}},
	},
	"required": []any{"field", "operator"},
}

var actionSchemas = map[models.ActionType]map[string]any{
	models.ActionSendEmail: {
		"type": "object",
		"properties": map[string]any{
			"to":      map[string]any{"type": "string", "minLength": 1},
			"subject": map[string]any{"type": "string", "minLength": 1},
			"body":    map[string]any{"type": "string", "minLength": 1},
		},
		"required": []any{"to", "subject", "body"},
	},
	models.ActionSendNotification: {
		"type": "object",
		"properties": map[string]any{
			"recipients": map[string]any{"type": "array", "minItems": 1, "items": map[string]any{"type": "string"}},
			"title":      map[string]any{"type": "string", "minLength": 1},
			"message":    map[string]any{"type": "string", "minLength": 1},
			"urgency":    map[string]any{"type": "string", "enum": []any{"low", "normal", "high", "urgent"}},
		},
		"required": []any{"recipients", "title", "message"},
	},
	models.ActionUpdateMember: {
		"type": "object",
		"properties": map[string]any{
			"record_id": map[string]any{"type": "string", "minLength": 1},
			"field":     map[string]any{"type": "string", "minLength": 1},
			"value":     map[string]any{},
		},
		"required": []any{"record_id", "field", "value"},
	},
	models.ActionCreateTask: {
		"type": "object",
		"properties": map[string]any{
			"title":       map[string]any{"type": "string", "minLength": 1},
			"description": map[string]any{"type": "string"},
			"assignee":    map[string]any{"type": "string"},
			"due_date":    map[string]any{"type": "string"},
			"priority":    map[string]any{"type": "string", "enum": []any{"low", "medium", "high", "urgent"}},
		},
		"required": []any{"title"},
	},
	models.ActionAwardPoints: {
		"type": "object",
		"properties": map[string]any{
			"points":    map[string]any{"type": "integer", "minimum": 1},
			"record_id": map[string]any{"type": "string"},
			"reason":    map[string]any{"type": "string"},
		},
		"required": []any{"points"},
	},
	models.ActionSendWebhook: {
		"type": "object",
		"properties": map[string]any{
			"url":     map[string]any{"type": "string", "format": "uri"},
			"method":  map[string]any{"type": "string", "enum": []any{"GET", "POST", "PUT", "PATCH", "DELETE"}},
			"headers": map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "string"}},
			"body":    map[string]any{},
		},
		"required": []any{"url", "method"},
	},
}

// NodeSchema returns the JSON schema describing the config of a node type.
func NodeSchema(nodeType models.NodeType) (map[string]any, bool) {
	switch nodeType {
	case models.NodeTypeTrigger:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"event":    map[string]any{"type": "string"},
				"schedule": map[string]any{"type": "string"},
			},
		}, true
	case models.NodeTypeCondition:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"conditions": map[string]any{"type": "array", "minItems": 1, "items": conditionSchema},
			},
			"required": []any{"conditions"},
		}, true
	case models.NodeTypeDelay:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"duration": map[string]any{"type": "integer", "minimum": 1},
				"unit":     map[string]any{"type": "string", "enum": []any{"seconds", "minutes", "hours", "days"}},
			},
			"required": []any{"duration", "unit"},
		}, true
	case models.NodeTypeApproval:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"approvers":     map[string]any{"type": "array", "minItems": 1, "items": map[string]any{"type": "string", "minLength": 1}},
				"title":         map[string]any{"type": "string", "minLength": 1},
				"description":   map[string]any{"type": "string"},
				"timeout_hours": map[string]any{"type": "integer", "minimum": 1, "maximum": models.MaxTimeoutHours},
			},
			"required": []any{"approvers", "title"},
		}, true
	case models.NodeTypeLoop:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"collection":     map[string]any{"type": "string", "minLength": 1},
				"item_variable":  map[string]any{"type": "string", "minLength": 1},
				"max_iterations": map[string]any{"type": "integer", "minimum": 1, "maximum": models.DefaultMaxIterations},
			},
			"required": []any{"collection", "item_variable"},
		}, true
	case models.NodeTypeAction:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":      map[string]any{"type": "string"},
						"type":    map[string]any{"type": "string", "enum": actionTypeEnum()},
						"config":  map[string]any{"type": "object"},
						"enabled": map[string]any{"type": "boolean"},
						"order":   map[string]any{"type": "integer"},
					},
					"required": []any{"type", "config"},
				},
			},
			"required": []any{"action"},
		}, true
	case models.NodeTypeEnd:
		return map[string]any{"type": "object"}, true
	case models.NodeTypeEmail:
		return actionSchemas[models.ActionSendEmail], true
	case models.NodeTypeNotification:
		return actionSchemas[models.ActionSendNotification], true
	case models.NodeTypeDataUpdate:
		return actionSchemas[models.ActionUpdateMember], true
	case models.NodeTypeTaskCreate:
		return actionSchemas[models.ActionCreateTask], true
	case models.NodeTypeWebhook:
		return actionSchemas[models.ActionSendWebhook], true
	default:
		return nil, false
	}
}

// ActionSchema returns the JSON schema describing the config of an action type.
func ActionSchema(actionType models.ActionType) (map[string]any, bool) {
	schema, ok := actionSchemas[actionType]

	return schema, ok
}

func actionTypeEnum() []any {
	return []any{
		string(models.ActionSendEmail),
		string(models.ActionSendNotification),
		string(models.ActionUpdateMember),
		string(models.ActionCreateTask),
		string(models.ActionAwardPoints),
		string(models.ActionSendWebhook),
	}
}
