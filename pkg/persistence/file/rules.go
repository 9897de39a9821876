package file

import (
	"context"
	"sort"

	"github.com/dukex/orgflow/pkg/models"
	"github.com/dukex/orgflow/pkg/persistence"
)

// RuleRepository handles rule-related file operations.
type RuleRepository struct {
	rules *collection[models.Rule]
}

// NewRuleRepository creates a new rule repository rooted at root/rules.
func NewRuleRepository(root string) *RuleRepository {
	return &RuleRepository{rules: newCollection[models.Rule](root, "rules")}
}

func (r *RuleRepository) List(_ context.Context) ([]*models.Rule, error) {
	r.rules.mu.RLock()
	defer r.rules.mu.RUnlock()

	rules, err := r.rules.all()
	if err != nil {
		return nil, persistence.NewRuleError("List", "", err)
	}

	sort.Slice(rules, func(i, j int) bool {
		if !rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].CreatedAt.Before(rules[j].CreatedAt)
		}

		return rules[i].ID < rules[j].ID
	})

	return rules, nil
}

func (r *RuleRepository) GetByID(_ context.Context, id string) (*models.Rule, error) {
	r.rules.mu.RLock()
	defer r.rules.mu.RUnlock()

	rule, err := r.rules.read(id)
	if err != nil {
		return nil, persistence.NewRuleError("GetByID", id, notFound(err, persistence.ErrRuleNotFound))
	}

	return rule, nil
}

func (r *RuleRepository) Save(_ context.Context, rule *models.Rule) error {
	r.rules.mu.Lock()
	defer r.rules.mu.Unlock()

	err := r.rules.write(rule.ID, rule)
	if err != nil {
		return persistence.NewRuleError("Save", rule.ID, err)
	}

	return nil
}

func (r *RuleRepository) Delete(_ context.Context, id string) error {
	r.rules.mu.Lock()
	defer r.rules.mu.Unlock()

	err := r.rules.remove(id)
	if err != nil {
		return persistence.NewRuleError("Delete", id, notFound(err, persistence.ErrRuleNotFound))
	}

	return nil
}

func (r *RuleRepository) IncrementExecutionCount(_ context.Context, id string) (int64, error) {
	r.rules.mu.Lock()
	defer r.rules.mu.Unlock()

	rule, err := r.rules.read(id)
	if err != nil {
		return 0, persistence.NewRuleError("IncrementExecutionCount", id, notFound(err, persistence.ErrRuleNotFound))
	}

	rule.ExecutionCount++

	err = r.rules.write(id, rule)
	if err != nil {
		return 0, persistence.NewRuleError("IncrementExecutionCount", id, err)
	}

	return rule.ExecutionCount, nil
}
