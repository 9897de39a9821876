// Package models defines the core domain models for rule and workflow automation.
package models

import "time"

// DataType classifies the value a condition compares against.
type DataType string

const (
	DataTypeString  DataType = "string"
	DataTypeNumber  DataType = "number"
	DataTypeBoolean DataType = "boolean"
	DataTypeDate    DataType = "date"
	DataTypeArray   DataType = "array"
)

// Operator is a comparison applied between a resolved field and a condition value.
type Operator string

const (
	OperatorEquals       Operator = "equals"
	OperatorNotEquals    Operator = "not_equals"
	OperatorGreaterThan  Operator = "greater_than"
	OperatorLessThan     Operator = "less_than"
	OperatorGreaterEqual Operator = "greater_equal"
	OperatorLessEqual    Operator = "less_equal"
	OperatorContains     Operator = "contains"
	OperatorNotContains  Operator = "not_contains"
	OperatorStartsWith   Operator = "starts_with"
	OperatorEndsWith     Operator = "ends_with"
	OperatorExists       Operator = "exists"
	OperatorNotExists    Operator = "not_exists"
)

// LogicalOperator joins a condition to the result accumulated so far.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// OperatorDataTypes lists the data types each operator accepts.
// exists and not_exists accept any type and are absent from the table.
var OperatorDataTypes = map[Operator][]DataType{
	OperatorEquals:       {DataTypeString, DataTypeNumber, DataTypeBoolean},
	OperatorNotEquals:    {DataTypeString, DataTypeNumber, DataTypeBoolean},
	OperatorGreaterThan:  {DataTypeNumber, DataTypeDate},
	OperatorLessThan:     {DataTypeNumber, DataTypeDate},
	OperatorGreaterEqual: {DataTypeNumber, DataTypeDate},
	OperatorLessEqual:    {DataTypeNumber, DataTypeDate},
	OperatorContains:     {DataTypeString, DataTypeArray},
	OperatorNotContains:  {DataTypeString, DataTypeArray},
	OperatorStartsWith:   {DataTypeString},
	OperatorEndsWith:     {DataTypeString},
}

// IsPresenceOperator reports whether the operator only inspects field presence.
func (o Operator) IsPresenceOperator() bool {
	return o == OperatorExists || o == OperatorNotExists
}

// IsComparison reports whether the operator orders two values.
func (o Operator) IsComparison() bool {
	switch o {
	case OperatorGreaterThan, OperatorLessThan, OperatorGreaterEqual, OperatorLessEqual:
		return true
	default:
		return false
	}
}

// IsKnown reports whether the operator is part of the supported set.
func (o Operator) IsKnown() bool {
	if o.IsPresenceOperator() {
		return true
	}

	_, ok := OperatorDataTypes[o]

	return ok
}

// RuleCondition is a single predicate over a dotted field path in the event context.
type RuleCondition struct {
	ID              string          `json:"id"`
	Field           string          `json:"field"                      validate:"required"`
	Operator        Operator        `json:"operator"                   validate:"required"`
	Value           any             `json:"value,omitempty"`
	DataType        DataType        `json:"data_type,omitempty"        validate:"omitempty,oneof=string number boolean date array"`
	LogicalOperator LogicalOperator `json:"logical_operator,omitempty" validate:"omitempty,oneof=AND OR"`
}

// Rule fires its actions when its conditions match an event context.
type Rule struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"            validate:"required"`
	Description    string          `json:"description"`
	Priority       int             `json:"priority"`
	Enabled        bool            `json:"enabled"`
	Conditions     []RuleCondition `json:"conditions"`
	Actions        []RuleAction    `json:"actions"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	ExecutionCount int64           `json:"execution_count"`
}

// Activatable reports whether the rule has enough content to be enabled.
func (r *Rule) Activatable() bool {
	return len(r.Conditions) > 0 && len(r.Actions) > 0
}
