package condition

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/orgflow/pkg/models"
)

// Evaluator applies rule conditions to a resolver.
type Evaluator struct {
	logger *slog.Logger
}

func NewEvaluator(logger *slog.Logger) *Evaluator {
	return &Evaluator{logger: logger.With("module", "condition_evaluator")}
}

// Evaluate reports whether a single condition holds. Runtime coercion
// failures are logged and count as a non-match.
func (e *Evaluator) Evaluate(ctx context.Context, cond models.RuleCondition, resolver Resolver) bool {
	matched, err := Compare(cond, resolver)
	if err != nil {
		e.logger.DebugContext(ctx, "Condition evaluated as non-match", "condition_id", cond.ID, "error", err)

		return false
	}

	return matched
}

// Match folds the conditions left to right: an OR condition is joined with
// ||, anything else with &&. There is no precedence grouping.
// An empty list matches nothing.
func (e *Evaluator) Match(ctx context.Context, conditions []models.RuleCondition, resolver Resolver) bool {
	if len(conditions) == 0 {
		return false
	}

	result := e.Evaluate(ctx, conditions[0], resolver)

	for _, cond := range conditions[1:] {
		if cond.LogicalOperator == models.LogicalOr {
			result = result || e.Evaluate(ctx, cond, resolver)
		} else {
			result = result && e.Evaluate(ctx, cond, resolver)
		}
	}

	return result
}

// Compare evaluates one condition and returns an *models.EvaluationError
// when the resolved value cannot be coerced to the condition's data type.
func Compare(cond models.RuleCondition, resolver Resolver) (bool, error) {
	actual, found := resolver.Resolve(cond.Field)

	switch cond.Operator {
	case models.OperatorExists:
		return found, nil
	case models.OperatorNotExists:
		return !found, nil
	case models.OperatorNotEquals, models.OperatorNotContains:
		if !found {
			return true, nil
		}
	default:
		if !found {
			return false, nil
		}
	}

	dataType := EffectiveDataType(cond)

	fail := func(format string, args ...any) (bool, error) {
		return false, &models.EvaluationError{ConditionID: cond.ID, Field: cond.Field, Message: fmt.Sprintf(format, args...)}
	}

	switch cond.Operator {
	case models.OperatorEquals, models.OperatorNotEquals:
		equal, err := equals(actual, cond.Value, dataType)
		if err != nil {
			return fail("%v", err)
		}

		if cond.Operator == models.OperatorNotEquals {
			return !equal, nil
		}

		return equal, nil

	case models.OperatorGreaterThan, models.OperatorLessThan, models.OperatorGreaterEqual, models.OperatorLessEqual:
		order, err := compare(actual, cond.Value, dataType)
		if err != nil {
			return fail("%v", err)
		}

		switch cond.Operator {
		case models.OperatorGreaterThan:
			return order > 0, nil
		case models.OperatorLessThan:
			return order < 0, nil
		case models.OperatorGreaterEqual:
			return order >= 0, nil
		default:
			return order <= 0, nil
		}

	case models.OperatorContains, models.OperatorNotContains:
		contained, err := contains(actual, cond.Value)
		if err != nil {
			return fail("%v", err)
		}

		if cond.Operator == models.OperatorNotContains {
			return !contained, nil
		}

		return contained, nil

	case models.OperatorStartsWith, models.OperatorEndsWith:
		text, ok := actual.(string)
		if !ok {
			return fail("expected string, got %T", actual)
		}

		prefix, ok := cond.Value.(string)
		if !ok {
			return fail("condition value must be a string, got %T", cond.Value)
		}

		if cond.Operator == models.OperatorStartsWith {
			return strings.HasPrefix(text, prefix), nil
		}

		return strings.HasSuffix(text, prefix), nil

	default:
		return fail("unsupported operator %q", cond.Operator)
	}
}

// EffectiveDataType returns the declared data type, or infers one from the condition value.
func EffectiveDataType(cond models.RuleCondition) models.DataType {
	if cond.DataType != "" {
		return cond.DataType
	}

	switch value := cond.Value.(type) {
	case bool:
		return models.DataTypeBoolean
	case float64, float32, int, int64, int32:
		return models.DataTypeNumber
	case []any, []string:
		return models.DataTypeArray
	case string:
		if cond.Operator.IsComparison() {
			if _, err := toFloat(value); err == nil {
				return models.DataTypeNumber
			}

			if _, err := toTime(value); err == nil {
				return models.DataTypeDate
			}
		}

		return models.DataTypeString
	default:
		return models.DataTypeString
	}
}

func equals(actual, expected any, dataType models.DataType) (bool, error) {
	switch dataType {
	case models.DataTypeNumber:
		a, err := toFloat(actual)
		if err != nil {
			return false, err
		}

		b, err := toFloat(expected)
		if err != nil {
			return false, err
		}

		return a == b, nil
	case models.DataTypeBoolean:
		a, err := toBool(actual)
		if err != nil {
			return false, err
		}

		b, err := toBool(expected)
		if err != nil {
			return false, err
		}

		return a == b, nil
	case models.DataTypeDate:
		a, err := toTime(actual)
		if err != nil {
			return false, err
		}

		b, err := toTime(expected)
		if err != nil {
			return false, err
		}

		return a.Equal(b), nil
	default:
		return fmt.Sprint(actual) == fmt.Sprint(expected), nil
	}
}

func compare(actual, expected any, dataType models.DataType) (int, error) {
	if dataType == models.DataTypeDate {
		a, err := toTime(actual)
		if err != nil {
			return 0, err
		}

		b, err := toTime(expected)
		if err != nil {
			return 0, err
		}

		return a.Compare(b), nil
	}

	a, err := toFloat(actual)
	if err != nil {
		return 0, err
	}

	b, err := toFloat(expected)
	if err != nil {
		return 0, err
	}

	switch {
	case a < b:
		return -1, nil
	case a > b:
		return 1, nil
	default:
		return 0, nil
	}
}

func contains(actual, expected any) (bool, error) {
	switch value := actual.(type) {
	case string:
		needle, ok := expected.(string)
		if !ok {
			return false, fmt.Errorf("cannot search string for %T", expected)
		}

		return strings.Contains(value, needle), nil
	case []any:
		for _, item := range value {
			if looseEqual(item, expected) {
				return true, nil
			}
		}

		return false, nil
	case []string:
		for _, item := range value {
			if looseEqual(item, expected) {
				return true, nil
			}
		}

		return false, nil
	default:
		return false, fmt.Errorf("contains expects a string or array, got %T", actual)
	}
}
