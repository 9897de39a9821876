package condition_test

import (
	"log/slog"
	"testing"

	"github.com/dukex/orgflow/pkg/condition"
	"github.com/dukex/orgflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() condition.MapResolver {
	return condition.MapResolver{
		"member": map[string]any{
			"id":     "m-1",
			"age":    float64(30),
			"email":  "ada@example.org",
			"tier":   "gold",
			"active": true,
			"tags":   []any{"volunteer", "board"},
			"joined": "2024-05-01T10:00:00Z",
		},
		"event": map[string]any{"type": "member.updated"},
		"project": map[string]any{
			"tasks": []any{
				map[string]any{"title": "Setup"},
				map[string]any{"title": "Launch"},
			},
		},
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	ctx := testContext()

	value, ok := ctx.Resolve("member.email")
	require.True(t, ok)
	assert.Equal(t, "ada@example.org", value)

	value, ok = ctx.Resolve("project.tasks.1.title")
	require.True(t, ok)
	assert.Equal(t, "Launch", value)

	_, ok = ctx.Resolve("project.tasks.7.title")
	assert.False(t, ok)

	_, ok = ctx.Resolve("member.email.domain")
	assert.False(t, ok)

	_, ok = ctx.Resolve("")
	assert.False(t, ok)
}

func TestCompare(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cond     models.RuleCondition
		expected bool
		wantErr  bool
	}{
		{"greater_than match", models.RuleCondition{Field: "member.age", Operator: models.OperatorGreaterThan, Value: float64(18)}, true, false},
		{"greater_than numeric string value", models.RuleCondition{Field: "member.age", Operator: models.OperatorGreaterThan, Value: "40"}, false, false},
		{"greater_than missing field", models.RuleCondition{Field: "member.score", Operator: models.OperatorGreaterThan, Value: float64(1)}, false, false},
		{"greater_than non-numeric actual", models.RuleCondition{Field: "member.tier", Operator: models.OperatorGreaterThan, Value: float64(1), DataType: models.DataTypeNumber}, false, true},
		{"less_equal boundary", models.RuleCondition{Field: "member.age", Operator: models.OperatorLessEqual, Value: float64(30)}, true, false},
		{"date after", models.RuleCondition{Field: "member.joined", Operator: models.OperatorGreaterThan, Value: "2024-01-01", DataType: models.DataTypeDate}, true, false},
		{"equals string", models.RuleCondition{Field: "member.tier", Operator: models.OperatorEquals, Value: "gold"}, true, false},
		{"equals boolean", models.RuleCondition{Field: "member.active", Operator: models.OperatorEquals, Value: true}, true, false},
		{"not_equals missing field", models.RuleCondition{Field: "member.nickname", Operator: models.OperatorNotEquals, Value: "x"}, true, false},
		{"contains string", models.RuleCondition{Field: "member.email", Operator: models.OperatorContains, Value: "@example"}, true, false},
		{"contains array", models.RuleCondition{Field: "member.tags", Operator: models.OperatorContains, Value: "board"}, true, false},
		{"not_contains array", models.RuleCondition{Field: "member.tags", Operator: models.OperatorNotContains, Value: "staff"}, true, false},
		{"not_contains missing", models.RuleCondition{Field: "member.roles", Operator: models.OperatorNotContains, Value: "staff"}, true, false},
		{"starts_with", models.RuleCondition{Field: "event.type", Operator: models.OperatorStartsWith, Value: "member."}, true, false},
		{"ends_with", models.RuleCondition{Field: "event.type", Operator: models.OperatorEndsWith, Value: ".deleted"}, false, false},
		{"exists ignores value", models.RuleCondition{Field: "member.email", Operator: models.OperatorExists, Value: "anything"}, true, false},
		{"exists missing", models.RuleCondition{Field: "member.phone", Operator: models.OperatorExists}, false, false},
		{"not_exists ignores value", models.RuleCondition{Field: "member.phone", Operator: models.OperatorNotExists, Value: float64(42)}, true, false},
		{"not_exists present", models.RuleCondition{Field: "member.email", Operator: models.OperatorNotExists}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result, err := condition.Compare(tt.cond, testContext())
			if tt.wantErr {
				var evalErr *models.EvaluationError
				require.ErrorAs(t, err, &evalErr)
			} else {
				require.NoError(t, err)
			}

			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestEvaluator_Match(t *testing.T) {
	t.Parallel()

	evaluator := condition.NewEvaluator(slog.Default())

	truthy := models.RuleCondition{Field: "member.tier", Operator: models.OperatorEquals, Value: "gold"}
	falsy := models.RuleCondition{Field: "member.tier", Operator: models.OperatorEquals, Value: "silver"}

	or := func(c models.RuleCondition) models.RuleCondition {
		c.LogicalOperator = models.LogicalOr

		return c
	}
	and := func(c models.RuleCondition) models.RuleCondition {
		c.LogicalOperator = models.LogicalAnd

		return c
	}

	t.Run("empty list matches nothing", func(t *testing.T) {
		t.Parallel()
		assert.False(t, evaluator.Match(t.Context(), nil, testContext()))
		assert.False(t, evaluator.Match(t.Context(), []models.RuleCondition{}, condition.MapResolver{}))
	})

	t.Run("left to right without precedence", func(t *testing.T) {
		t.Parallel()

		// (A OR B) AND C with A=true, B=false, C=false.
		// With precedence grouping A OR (B AND C) would be true.
		conditions := []models.RuleCondition{truthy, or(falsy), and(falsy)}
		assert.False(t, evaluator.Match(t.Context(), conditions, testContext()))
	})

	t.Run("or rescues a false prefix", func(t *testing.T) {
		t.Parallel()

		conditions := []models.RuleCondition{falsy, or(truthy), and(truthy)}
		assert.True(t, evaluator.Match(t.Context(), conditions, testContext()))
	})

	t.Run("missing logical operator defaults to and", func(t *testing.T) {
		t.Parallel()

		assert.False(t, evaluator.Match(t.Context(), []models.RuleCondition{truthy, falsy}, testContext()))
		assert.True(t, evaluator.Match(t.Context(), []models.RuleCondition{truthy, truthy}, testContext()))
	})

	t.Run("coercion failure is a non-match", func(t *testing.T) {
		t.Parallel()

		bad := models.RuleCondition{Field: "member.tier", Operator: models.OperatorLessThan, Value: float64(3), DataType: models.DataTypeNumber}
		assert.False(t, evaluator.Match(t.Context(), []models.RuleCondition{bad}, testContext()))
	})
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		cond   models.RuleCondition
		fields []string
	}{
		{"valid comparison", models.RuleCondition{Field: "member.age", Operator: models.OperatorGreaterThan, Value: float64(18)}, nil},
		{"non-numeric comparison value", models.RuleCondition{Field: "member.age", Operator: models.OperatorGreaterThan, Value: "eighteen"}, []string{"operator"}},
		{"declared number with text value", models.RuleCondition{Field: "member.age", Operator: models.OperatorGreaterThan, Value: "eighteen", DataType: models.DataTypeNumber}, []string{"value"}},
		{"exists without value", models.RuleCondition{Field: "member.email", Operator: models.OperatorExists}, nil},
		{"unknown operator", models.RuleCondition{Field: "member.email", Operator: "matches"}, []string{"operator"}},
		{"missing field", models.RuleCondition{Operator: models.OperatorEquals, Value: "x"}, []string{"field"}},
		{"starts_with on number", models.RuleCondition{Field: "member.age", Operator: models.OperatorStartsWith, Value: float64(1)}, []string{"operator"}},
		{"contains on boolean", models.RuleCondition{Field: "member.active", Operator: models.OperatorContains, Value: true}, []string{"operator"}},
		{"bad logical operator", models.RuleCondition{Field: "member.tier", Operator: models.OperatorEquals, Value: "gold", LogicalOperator: "XOR"}, []string{"logical_operator"}},
		{"missing value", models.RuleCondition{Field: "member.tier", Operator: models.OperatorEquals}, []string{"value"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			errs := condition.Validate(tt.cond)

			fields := make([]string, 0, len(errs))
			for _, e := range errs {
				fields = append(fields, e.Field)
			}

			if tt.fields == nil {
				assert.Empty(t, errs)
			} else {
				assert.Equal(t, tt.fields, fields)
			}
		})
	}
}

func TestValidateAll_PrefixesPosition(t *testing.T) {
	t.Parallel()

	errs := condition.ValidateAll([]models.RuleCondition{
		{Field: "member.age", Operator: models.OperatorGreaterThan, Value: float64(18)},
		{Field: "member.age", Operator: models.OperatorGreaterThan, Value: "old"},
	})

	require.Len(t, errs, 1)
	assert.Equal(t, "conditions[1].operator", errs[0].Field)
}
