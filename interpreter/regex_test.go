package interpreter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegex_Parse(t *testing.T) {
	r := NewRegex()

	parsed, err := r.Parse(context.Background(), `/greet{"name": "boy"}`, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "greet", parsed.Intent.Name)
	assert.Equal(t, 1.0, parsed.Intent.Confidence)
	require.Len(t, parsed.Entities, 1)
	assert.Equal(t, "name", parsed.Entities[0].Entity)
	assert.Equal(t, "boy", parsed.Entities[0].Value)
}

func TestRegex_ParseVariants(t *testing.T) {
	r := NewRegex()
	ctx := context.Background()

	parsed, err := r.Parse(ctx, "/restart", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "restart", parsed.Intent.Name)
	assert.Empty(t, parsed.Entities)

	parsed, err = r.Parse(ctx, "/affirm@0.75", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "affirm", parsed.Intent.Name)
	assert.InDelta(t, 0.75, parsed.Intent.Confidence, 1e-9)

	parsed, err = r.Parse(ctx, `/order{"topping": ["ham", "olives"], "count": 2, "city": "Berlin"}`, "", nil)
	require.NoError(t, err)
	require.Len(t, parsed.Entities, 4)
	assert.Equal(t, "topping", parsed.Entities[0].Entity)
	assert.Equal(t, "olives", parsed.Entities[1].Value)
	assert.Equal(t, int64(2), parsed.Entities[2].Value)
	assert.Equal(t, "city", parsed.Entities[3].Entity)

	parsed, err = r.Parse(ctx, "hello there", "", nil)
	require.NoError(t, err)
	assert.Empty(t, parsed.Intent.Name)
	assert.Equal(t, "hello there", parsed.Text)
}

func TestRegex_InvalidEntities(t *testing.T) {
	_, err := NewRegex().Parse(context.Background(), `/greet{"name": }`, "", nil)
	assert.Error(t, err)
}

func TestIsIntentMessage(t *testing.T) {
	assert.True(t, IsIntentMessage("/greet"))
	assert.True(t, IsIntentMessage("  /greet"))
	assert.False(t, IsIntentMessage("greet"))
}
