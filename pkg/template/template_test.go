package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderString(t *testing.T) {
	data := map[string]any{
		"member": map[string]any{"name": "Ada", "email": "ada@example.org"},
	}

	result, err := RenderString("Welcome {{ .member.name }}!", data)
	require.NoError(t, err)
	assert.Equal(t, "Welcome Ada!", result)

	result, err = RenderString("plain text", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain text", result)

	result, err = RenderString(`{{ upper .member.name }}`, data)
	require.NoError(t, err)
	assert.Equal(t, "ADA", result)
}

func TestRenderString_MissingKey(t *testing.T) {
	_, err := RenderString("{{ .member.phone }}", map[string]any{"member": map[string]any{}})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute template")
}

func TestRender_Typed(t *testing.T) {
	data := map[string]any{
		"age":    30,
		"active": true,
		"tags":   []any{"a", "b"},
	}

	result, err := Render("{{ .age }}", data)
	require.NoError(t, err)
	assert.InDelta(t, 30.0, result, 0)

	result, err = Render("{{ .active }}", data)
	require.NoError(t, err)
	assert.Equal(t, true, result)

	result, err = Render(`["{{ index .tags 0 }}", "{{ index .tags 1 }}"]`, data)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, result)
}

func TestRenderValue_Nested(t *testing.T) {
	data := map[string]any{"member": map[string]any{"id": "m-1"}}

	result, err := RenderValue(map[string]any{
		"member_id": "{{ .member.id }}",
		"static":    float64(3),
		"list":      []any{"{{ .member.id }}-x"},
	}, data)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"member_id": "m-1",
		"static":    float64(3),
		"list":      []any{"m-1-x"},
	}, result)
}
