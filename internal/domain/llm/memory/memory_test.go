package memory

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFallbackRoundTrip(t *testing.T) {
	m := NewMemory(nil, "test")
	ctx := context.Background()

	require.NoError(t, m.AddMessage(ctx, "s1", &schema.Message{Role: schema.User, Content: "hello"}))
	require.NoError(t, m.AddMessage(ctx, "s1", &schema.Message{Role: schema.Assistant, Content: "hi"}))

	msgs, err := m.GetMessages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, schema.User, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "hi", msgs[1].Content)
}

func TestSessionsDoNotShareHistory(t *testing.T) {
	m := NewMemory(nil, "test")
	ctx := context.Background()

	require.NoError(t, m.AddMessage(ctx, "s1", &schema.Message{Role: schema.User, Content: "for s1"}))

	msgs, err := m.GetMessages(ctx, "s2")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestClear(t *testing.T) {
	m := NewMemory(nil, "test")
	ctx := context.Background()

	require.NoError(t, m.AddMessage(ctx, "s1", &schema.Message{Role: schema.User, Content: "x"}))
	require.NoError(t, m.Clear(ctx, "s1"))

	msgs, err := m.GetMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
