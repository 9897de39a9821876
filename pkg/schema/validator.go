package schema

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/dukex/orgflow/pkg/condition"
	"github.com/dukex/orgflow/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/xeipuuv/gojsonschema"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validator checks rules, workflows and node configs. It is purely structural
// and never touches collaborators.
type Validator struct {
	validate *validator.Validate
	schemas  map[models.NodeType]*gojsonschema.Schema
}

// New builds a Validator and compiles the node JSON schemas. It panics if a
// built-in schema does not compile.
func New() *Validator {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}

		return name
	})

	schemas := make(map[models.NodeType]*gojsonschema.Schema, len(models.NodeTypes))

	for _, nodeType := range models.NodeTypes {
		definition, _ := NodeSchema(nodeType)

		compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(definition))
		if err != nil {
			panic(fmt.Errorf("compile %s schema: %w", nodeType, err))
		}

		schemas[nodeType] = compiled
	}

	return &Validator{validate: validate, schemas: schemas}
}

// Struct runs struct-tag validation and converts failures to field errors.
func (v *Validator) Struct(value any) models.ValidationErrors {
	err := v.validate.Struct(value)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return models.ValidationErrors{{Message: err.Error()}}
	}

	errs := make(models.ValidationErrors, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		errs = append(errs, &models.ValidationError{Field: fieldPath(fe), Message: message(fe)})
	}

	return errs
}

// ValidateAction checks a typed action config.
func (v *Validator) ValidateAction(config models.ActionConfig) models.ValidationErrors {
	if isNil(config) {
		return models.ValidationErrors{{Field: "config", Message: "is required"}}
	}

	errs := v.Struct(config)

	if update, ok := config.(*models.UpdateMemberConfig); ok && update.Value == nil {
		errs.Add("value", "is required")
	}

	return errs
}

// ValidateRuleAction checks an action's type, config and their agreement.
func (v *Validator) ValidateRuleAction(action models.RuleAction) models.ValidationErrors {
	var errs models.ValidationErrors

	if _, ok := actionSchemas[action.Type]; !ok {
		errs.Add("type", "unknown action type %q", action.Type)

		return errs
	}

	if action.Config != nil && action.Config.ActionType() != action.Type {
		errs.Add("config", "config for %s does not match action type %s", action.Config.ActionType(), action.Type)

		return errs
	}

	errs.Merge("config", v.ValidateAction(action.Config))

	return errs
}

// ValidateRule checks a rule before it is saved. An enabled rule needs at
// least one condition and one action.
func (v *Validator) ValidateRule(rule *models.Rule) models.ValidationErrors {
	var errs models.ValidationErrors

	if rule == nil {
		errs.Add("", "rule is required")

		return errs
	}

	if strings.TrimSpace(rule.Name) == "" {
		errs.Add("name", "is required")
	}

	if rule.Enabled && !rule.Activatable() {
		errs.Add("enabled", "an enabled rule needs at least one condition and one action")
	}

	errs.Merge("", condition.ValidateAll(rule.Conditions))

	for i, action := range rule.Actions {
		errs.Merge(fmt.Sprintf("actions[%d]", i), v.ValidateRuleAction(action))
	}

	return errs
}

// ValidateNode checks a node's config against the rules of its type.
func (v *Validator) ValidateNode(node *models.WorkflowNode) models.ValidationErrors {
	var errs models.ValidationErrors

	if node.ID == "" {
		errs.Add("id", "is required")
	}

	if _, ok := v.schemas[node.Type]; !ok {
		errs.Add("type", "unknown node type %q", node.Type)

		return errs
	}

	errs.Merge("config", v.ValidateConfig(node.Type, node.Config))

	return errs
}

// ValidateConfig checks a typed node config.
func (v *Validator) ValidateConfig(nodeType models.NodeType, config models.NodeConfig) models.ValidationErrors {
	var errs models.ValidationErrors

	if isNil(config) {
		if nodeType == models.NodeTypeEnd {
			return nil
		}

		errs.Add("", "is required")

		return errs
	}

	if config.NodeType() != nodeType {
		errs.Add("", "config for %s does not match node type %s", config.NodeType(), nodeType)

		return errs
	}

	switch cfg := config.(type) {
	case *models.TriggerConfig:
		if cfg.Schedule != "" {
			if _, err := cronParser.Parse(cfg.Schedule); err != nil {
				errs.Add("schedule", "invalid cron expression: %v", err)
			}
		}
	case *models.ConditionConfig:
		errs = append(errs, v.Struct(cfg)...)
		errs.Merge("", condition.ValidateAll(cfg.Conditions))
	case *models.DelayConfig:
		errs = append(errs, v.Struct(cfg)...)

		if cfg.Duration > cfg.MaxDuration() {
			errs.Add("duration", "must be at most %d %s", cfg.MaxDuration(), cfg.Unit)
		}
	case *models.ApprovalConfig:
		errs = append(errs, v.Struct(cfg)...)
	case *models.LoopConfig:
		errs = append(errs, v.Struct(cfg)...)
	case *models.ActionNodeConfig:
		errs.Merge("action", v.ValidateRuleAction(cfg.Action))
	case *models.EndConfig:
	case models.ActionConfig:
		errs = append(errs, v.ValidateAction(cfg)...)
	default:
		errs.Add("", "unsupported config %T", config)
	}

	return errs
}

// ValidateRaw checks raw JSON config against the node type's JSON schema and,
// when it conforms, decodes and validates the typed config.
func (v *Validator) ValidateRaw(nodeType models.NodeType, raw []byte) models.ValidationErrors {
	var errs models.ValidationErrors

	compiled, ok := v.schemas[nodeType]
	if !ok {
		errs.Add("type", "unknown node type %q", nodeType)

		return errs
	}

	if len(raw) == 0 {
		raw = []byte("{}")
	}

	result, err := compiled.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		errs.Add("", "invalid JSON: %v", err)

		return errs
	}

	if !result.Valid() {
		for _, desc := range result.Errors() {
			field := desc.Field()
			if field == "(root)" {
				field = ""
			}

			errs.Add(field, "%s", desc.Description())
		}

		return errs
	}

	config, err := models.DecodeNodeConfig(nodeType, raw)
	if err != nil {
		errs.Add("", "%v", err)

		return errs
	}

	return v.ValidateConfig(nodeType, config)
}

// ValidateWorkflow checks the whole graph: unique node ids, exactly one
// trigger, edges between existing nodes, loop wiring, and every node config.
func (v *Validator) ValidateWorkflow(workflow *models.Workflow) models.ValidationErrors {
	var errs models.ValidationErrors

	if workflow == nil {
		errs.Add("", "workflow is required")

		return errs
	}

	if strings.TrimSpace(workflow.Name) == "" {
		errs.Add("name", "is required")
	}

	if len(workflow.Nodes) == 0 {
		errs.Add("nodes", "at least one node is required")

		return errs
	}

	seen := make(map[string]bool, len(workflow.Nodes))
	triggers := 0

	for i, node := range workflow.Nodes {
		prefix := fmt.Sprintf("nodes[%d]", i)

		if node == nil {
			errs.Add(prefix, "is required")

			continue
		}

		if seen[node.ID] {
			errs.Add(prefix+".id", "duplicate node id %q", node.ID)
		}

		seen[node.ID] = true

		if node.Type == models.NodeTypeTrigger {
			triggers++
		}

		errs.Merge(prefix, v.ValidateNode(node))
	}

	if triggers != 1 {
		errs.Add("nodes", "exactly one trigger node is required, found %d", triggers)
	}

	for i, edge := range workflow.Edges {
		prefix := fmt.Sprintf("edges[%d]", i)

		if edge == nil {
			errs.Add(prefix, "is required")

			continue
		}

		if !seen[edge.Source] {
			errs.Add(prefix+".source", "unknown node %q", edge.Source)
		}

		if !seen[edge.Target] {
			errs.Add(prefix+".target", "unknown node %q", edge.Target)
		}

		switch edge.Label {
		case "", models.EdgeTrue, models.EdgeFalse, models.EdgeLoopBody, models.EdgeLoopDone, models.EdgeApproved, models.EdgeRejected:
		default:
			errs.Add(prefix+".label", "unknown edge label %q", edge.Label)
		}
	}

	for i, node := range workflow.Nodes {
		if node == nil || node.Type != models.NodeTypeLoop {
			continue
		}

		if !hasLabel(workflow.Outgoing(node.ID), models.EdgeLoopBody) {
			errs.Add(fmt.Sprintf("nodes[%d]", i), "loop node needs a %s edge", models.EdgeLoopBody)
		}
	}

	return errs
}

func isNil(value any) bool {
	if value == nil {
		return true
	}

	rv := reflect.ValueOf(value)

	return rv.Kind() == reflect.Ptr && rv.IsNil()
}

func hasLabel(edges []*models.Edge, label models.EdgeLabel) bool {
	for _, edge := range edges {
		if edge.Label == label {
			return true
		}
	}

	return false
}

func fieldPath(fe validator.FieldError) string {
	namespace := fe.Namespace()

	_, rest, found := strings.Cut(namespace, ".")
	if !found {
		return fe.Field()
	}

	return rest
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must contain at least " + fe.Param() + " item(s)"
	case "gt":
		return "must be greater than " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of [" + fe.Param() + "]"
	case "url":
		return "must be a valid absolute URL"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
