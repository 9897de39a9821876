package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/orgflow/pkg/models"
	"github.com/dukex/orgflow/pkg/persistence"
)

const ruleColumns = `
	id
  , name
  , description
  , priority
  , enabled
  , conditions
  , actions
  , created_by
  , created_at
  , updated_at
  , execution_count
`

// RuleRepository handles rule-related database operations.
type RuleRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRuleRepository creates a new rule repository.
func NewRuleRepository(db *sql.DB, logger *slog.Logger) *RuleRepository {
	return &RuleRepository{db: db, logger: logger}
}

// List returns every rule in stored order.
func (r *RuleRepository) List(ctx context.Context) ([]*models.Rule, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+ruleColumns+` FROM rules ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	rules := make([]*models.Rule, 0)

	for rows.Next() {
		rule, err := r.scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}

		rules = append(rules, rule)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return rules, nil
}

func (r *RuleRepository) GetByID(ctx context.Context, id string) (*models.Rule, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = $1`, id)

	rule, err := r.scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRuleError("GetByID", id, persistence.ErrRuleNotFound)
		}

		return nil, persistence.NewRuleError("GetByID", id, err)
	}

	return rule, nil
}

// Save inserts or replaces a rule.
func (r *RuleRepository) Save(ctx context.Context, rule *models.Rule) error {
	err := persistence.ValidateID(rule.ID)
	if err != nil {
		return persistence.NewRuleError("Save", rule.ID, err)
	}

	conditions, err := json.Marshal(nonNil(rule.Conditions))
	if err != nil {
		return persistence.NewRuleError("Save", rule.ID, fmt.Errorf("failed to marshal conditions: %w", err))
	}

	actions, err := json.Marshal(nonNil(rule.Actions))
	if err != nil {
		return persistence.NewRuleError("Save", rule.ID, fmt.Errorf("failed to marshal actions: %w", err))
	}

	query := `
		INSERT INTO rules (` + ruleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name
		  , description = EXCLUDED.description
		  , priority = EXCLUDED.priority
		  , enabled = EXCLUDED.enabled
		  , conditions = EXCLUDED.conditions
		  , actions = EXCLUDED.actions
		  , created_by = EXCLUDED.created_by
		  , updated_at = EXCLUDED.updated_at
		  , execution_count = EXCLUDED.execution_count
	`

	_, err = r.db.ExecContext(ctx, query,
		rule.ID,
		rule.Name,
		rule.Description,
		rule.Priority,
		rule.Enabled,
		conditions,
		actions,
		rule.CreatedBy,
		rule.CreatedAt,
		rule.UpdatedAt,
		rule.ExecutionCount,
	)
	if err != nil {
		return persistence.NewRuleError("Save", rule.ID, err)
	}

	return nil
}

func (r *RuleRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return persistence.NewRuleError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewRuleError("Delete", id, err)
	}

	if affected == 0 {
		return persistence.NewRuleError("Delete", id, persistence.ErrRuleNotFound)
	}

	return nil
}

// IncrementExecutionCount bumps the counter in a single statement.
func (r *RuleRepository) IncrementExecutionCount(ctx context.Context, id string) (int64, error) {
	var count int64

	err := r.db.QueryRowContext(ctx,
		`UPDATE rules SET execution_count = execution_count + 1 WHERE id = $1 RETURNING execution_count`,
		id,
	).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, persistence.NewRuleError("IncrementExecutionCount", id, persistence.ErrRuleNotFound)
		}

		return 0, persistence.NewRuleError("IncrementExecutionCount", id, err)
	}

	return count, nil
}

func (r *RuleRepository) scanRule(row scanner) (*models.Rule, error) {
	var (
		rule       models.Rule
		conditions []byte
		actions    []byte
	)

	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.Description,
		&rule.Priority,
		&rule.Enabled,
		&conditions,
		&actions,
		&rule.CreatedBy,
		&rule.CreatedAt,
		&rule.UpdatedAt,
		&rule.ExecutionCount,
	)
	if err != nil {
		return nil, err
	}

	err = decodeJSON(conditions, &rule.Conditions)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
	}

	err = decodeJSON(actions, &rule.Actions)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
	}

	rule.CreatedAt = rule.CreatedAt.UTC()
	rule.UpdatedAt = rule.UpdatedAt.UTC()

	return &rule, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}

	return items
}
