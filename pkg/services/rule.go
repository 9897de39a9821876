package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/orgflow/pkg/models"
	"github.com/dukex/orgflow/pkg/persistence"
	"github.com/dukex/orgflow/pkg/schema"
	"github.com/google/uuid"
)

var (
	// ErrRuleNotFound is returned when a rule is not found.
	ErrRuleNotFound = persistence.ErrRuleNotFound
)

type Rule struct {
	rules     persistence.RuleRepository
	validator *schema.Validator
	logger    *slog.Logger
}

// NewRule creates a new rule service.
func NewRule(rules persistence.RuleRepository, validator *schema.Validator, logger *slog.Logger) *Rule {
	return &Rule{
		rules:     rules,
		validator: validator,
		logger:    logger.With("module", "rule_service"),
	}
}

// List returns every rule in stored order.
func (r *Rule) List(ctx context.Context) ([]*models.Rule, error) {
	return r.rules.List(ctx)
}

// FetchByID retrieves a rule by its ID.
func (r *Rule) FetchByID(ctx context.Context, id string) (*models.Rule, error) {
	return r.rules.GetByID(ctx, id)
}

// Create validates and stores a new rule. An empty ID is generated.
func (r *Rule) Create(ctx context.Context, rule *models.Rule) (*models.Rule, error) {
	if rule == nil {
		return nil, ErrRuleNil
	}

	if errs := r.validator.ValidateRule(rule); len(errs) > 0 {
		return nil, invalid("CreateRule", "INVALID_RULE", errs)
	}

	now := time.Now().UTC()

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}

	rule.CreatedAt = now
	rule.UpdatedAt = now
	rule.ExecutionCount = 0

	err := r.rules.Save(ctx, rule)
	if err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}

	r.logger.InfoContext(ctx, "Rule created", "rule_id", rule.ID, "enabled", rule.Enabled)

	return rule, nil
}

// Update replaces a rule, keeping its creation time and execution count.
func (r *Rule) Update(ctx context.Context, ruleID string, rule *models.Rule) (*models.Rule, error) {
	if rule == nil {
		return nil, ErrRuleNil
	}

	existing, err := r.rules.GetByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	if errs := r.validator.ValidateRule(rule); len(errs) > 0 {
		return nil, invalid("UpdateRule", "INVALID_RULE", errs)
	}

	rule.ID = ruleID
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()
	rule.ExecutionCount = existing.ExecutionCount

	err = r.rules.Save(ctx, rule)
	if err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}

	return rule, nil
}

// SetEnabled activates or deactivates a rule. Activation requires at least
// one condition and one action.
func (r *Rule) SetEnabled(ctx context.Context, ruleID string, enabled bool) (*models.Rule, error) {
	rule, err := r.rules.GetByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	if enabled && !rule.Activatable() {
		return nil, invalid("SetEnabled", "RULE_NOT_ACTIVATABLE", models.ValidationErrors{
			{Field: "enabled", Message: "an enabled rule needs at least one condition and one action"},
		})
	}

	rule.Enabled = enabled
	rule.UpdatedAt = time.Now().UTC()

	err = r.rules.Save(ctx, rule)
	if err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}

	r.logger.InfoContext(ctx, "Rule toggled", "rule_id", rule.ID, "enabled", enabled)

	return rule, nil
}

// Delete removes a rule by its ID.
func (r *Rule) Delete(ctx context.Context, ruleID string) error {
	err := r.rules.Delete(ctx, ruleID)
	if err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "Rule deleted", "rule_id", ruleID)

	return nil
}
