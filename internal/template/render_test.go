package template

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaceholders(t *testing.T) {
	tests := []struct {
		content string
		want    []string
	}{
		{"Hello {name}, your order {order_id} shipped", []string{"name", "order_id"}},
		{"{name} and {name} again", []string{"name"}},
		{"no placeholders here", []string{}},
		{"{123bad} is not a placeholder", []string{}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Placeholders(tt.content), tt.content)
	}
}

func TestRender(t *testing.T) {
	got, err := Render("Hi {name}, order {order_id} is ready", map[string]any{
		"name":     "Ada",
		"order_id": 42,
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada, order 42 is ready", got)
}

func TestRenderCollectsAllMissing(t *testing.T) {
	_, err := Render("Hi {name}, order {order_id}, code {code}", map[string]any{
		"order_id": 42,
	})
	require.Error(t, err)

	var mv *MissingVarsError
	require.True(t, errors.As(err, &mv))
	assert.Equal(t, []string{"code", "name"}, mv.Missing)
}

func TestRenderEmptyValueIsMissing(t *testing.T) {
	_, err := Render("Hi {name}", map[string]any{"name": ""})
	require.Error(t, err)

	var mv *MissingVarsError
	require.True(t, errors.As(err, &mv))
	assert.Equal(t, []string{"name"}, mv.Missing)
}

func TestRenderNilValueIsMissing(t *testing.T) {
	_, err := Render("Hi {name}", map[string]any{"name": nil})
	var mv *MissingVarsError
	require.True(t, errors.As(err, &mv))
	assert.Equal(t, []string{"name"}, mv.Missing)
}

func TestRenderNoPlaceholders(t *testing.T) {
	got, err := Render("static content", nil)
	require.NoError(t, err)
	assert.Equal(t, "static content", got)
}
