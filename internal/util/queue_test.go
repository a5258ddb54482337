package util

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuePushPop(t *testing.T) {
	q := NewQueue[int](4)
	require.NoError(t, q.Push(1))
	require.NoError(t, q.Push(2))

	v, err := q.Pop(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = q.Pop(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestQueueNonBlockingPopEmpty(t *testing.T) {
	q := NewQueue[string](1)
	_, err := q.Pop(context.Background(), -1)
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestQueuePopTimeout(t *testing.T) {
	q := NewQueue[int](1)
	_, err := q.Pop(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrQueueTimeout)
}

func TestQueuePopCtxDone(t *testing.T) {
	q := NewQueue[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Pop(ctx, 0)
	assert.ErrorIs(t, err, ErrQueueCtxDone)
}

func TestQueueClose(t *testing.T) {
	q := NewQueue[int](1)
	require.NoError(t, q.Push(5))
	q.Close()

	assert.Error(t, q.Push(6))
	_, err := q.Pop(context.Background(), 0)
	assert.ErrorIs(t, err, ErrQueueClosed)
}
