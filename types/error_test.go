package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("disk full")
	err := NewError(ErrCheckpoint, "save failed").
		WithCause(root).
		WithRetryable(true).
		WithComponent("checkpoint")

	assert.Equal(t, ErrCheckpoint, GetErrorCode(err))
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, root)
	assert.Equal(t, "[CHECKPOINT_FAILED] save failed: disk full", err.Error())
}

func TestIsCode_WalksNestedErrors(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrCheckpointCorrupt, "bad json")
	outer := WrapError(fmt.Errorf("load thread t1: %w", inner), ErrCheckpoint, "restore")

	assert.True(t, IsCode(outer, ErrCheckpoint))
	assert.True(t, IsCode(outer, ErrCheckpointCorrupt))
	assert.False(t, IsCode(outer, ErrPermissionDenied))
	assert.False(t, IsCode(errors.New("plain"), ErrCheckpoint))
	assert.False(t, IsCode(nil, ErrCheckpoint))
}

func TestWrapError_NilPassthrough(t *testing.T) {
	t.Parallel()
	assert.NoError(t, WrapError(nil, ErrNodeFailed, "x"))
}

func TestErrorf(t *testing.T) {
	t.Parallel()

	err := Errorf(ErrPermissionDenied, "path %q outside sandbox", "/etc/passwd")
	e, ok := AsError(fmt.Errorf("tool: %w", err))
	require.True(t, ok)
	assert.Equal(t, ErrPermissionDenied, e.Code)
	assert.Contains(t, e.Error(), "/etc/passwd")
}
