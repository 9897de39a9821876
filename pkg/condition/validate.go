package condition

import (
	"errors"
	"fmt"
	"slices"

	"github.com/dukex/orgflow/pkg/models"
)

// Validate checks a condition at save time: known operator, an operator valid
// for the effective data type, and a numeric or date value for ordering operators.
func Validate(cond models.RuleCondition) models.ValidationErrors {
	var errs models.ValidationErrors

	if cond.Field == "" {
		errs.Add("field", "is required")
	}

	if !cond.Operator.IsKnown() {
		errs.Add("operator", "unknown operator %q", cond.Operator)

		return errs
	}

	switch cond.LogicalOperator {
	case "", models.LogicalAnd, models.LogicalOr:
	default:
		errs.Add("logical_operator", "must be AND or OR, got %q", cond.LogicalOperator)
	}

	if cond.Operator.IsPresenceOperator() {
		return errs
	}

	dataType := EffectiveDataType(cond)
	if !slices.Contains(models.OperatorDataTypes[cond.Operator], dataType) {
		errs.Add("operator", "%s is not valid for data type %s", cond.Operator, dataType)

		return errs
	}

	if cond.Value == nil {
		errs.Add("value", "is required for operator %s", cond.Operator)

		return errs
	}

	if err := checkValue(cond, dataType); err != nil {
		errs.Add("value", "%v", err)
	}

	return errs
}

// ValidateAll validates each condition and prefixes errors with its position.
func ValidateAll(conditions []models.RuleCondition) models.ValidationErrors {
	var errs models.ValidationErrors

	for i, cond := range conditions {
		errs.Merge(fmt.Sprintf("conditions[%d]", i), Validate(cond))
	}

	return errs
}

func checkValue(cond models.RuleCondition, dataType models.DataType) error {
	switch dataType {
	case models.DataTypeNumber:
		if _, err := toFloat(cond.Value); err != nil {
			return fmt.Errorf("must be numeric for operator %s", cond.Operator)
		}
	case models.DataTypeDate:
		if _, err := toTime(cond.Value); err != nil {
			return fmt.Errorf("must be a date for operator %s", cond.Operator)
		}
	case models.DataTypeBoolean:
		if _, err := toBool(cond.Value); err != nil {
			return errors.New("must be a boolean")
		}
	case models.DataTypeString, models.DataTypeArray:
		if cond.Operator == models.OperatorStartsWith || cond.Operator == models.OperatorEndsWith {
			if _, ok := cond.Value.(string); !ok {
				return fmt.Errorf("must be a string for operator %s", cond.Operator)
			}
		}
	}

	return nil
}
