package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys_RoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithRunID(ctx, "run-1")
	ctx = WithThreadID(ctx, "thread-1")
	ctx = WithNode(ctx, "planner")

	v, ok := TraceID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "trace-1", v)

	v, ok = RunID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "run-1", v)

	v, ok = ThreadID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "thread-1", v)

	v, ok = Node(ctx)
	assert.True(t, ok)
	assert.Equal(t, "planner", v)
}

func TestContextKeys_MissingOrEmpty(t *testing.T) {
	_, ok := ThreadID(context.Background())
	assert.False(t, ok)

	_, ok = ThreadID(WithThreadID(context.Background(), ""))
	assert.False(t, ok)

	//nolint:staticcheck // nil context is tolerated
	_, ok = RunID(nil)
	assert.False(t, ok)
}
