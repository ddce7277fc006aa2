package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewState(t *testing.T) {
	s := NewState("write a haiku", InThread("t-1"), WithInitialContext(map[string]any{"lang": "en"}))

	require.Len(t, s.Messages, 1)
	assert.Equal(t, Message{Role: RoleHuman, Content: "write a haiku"}, s.Messages[0])
	assert.Equal(t, "write a haiku", s.SharedContext["user_request"])
	assert.Equal(t, "en", s.SharedContext["lang"])
	assert.Equal(t, "t-1", s.ThreadID)
	assert.Empty(t, s.Errors)
	assert.False(t, s.IsCompleted)

	assert.Equal(t, DefaultThreadID, NewState("x").ThreadID)
}

func TestState_SetThreadID(t *testing.T) {
	s := &State{}
	require.NoError(t, s.SetThreadID("a"))
	require.NoError(t, s.SetThreadID("a"))
	err := s.SetThreadID("b")
	assert.ErrorIs(t, err, ErrThreadIDImmutable)
	assert.Equal(t, "a", s.ThreadID)
}

func TestState_CloneIsIndependent(t *testing.T) {
	s := NewState("task")
	s.AppendMessage(Message{Role: RoleAI, Content: "call", ToolCalls: []ToolCall{{Name: "x", Args: map[string]any{"a": 1}}}})
	c := s.Clone()

	c.AppendMessage(Message{Role: RoleAI, Content: "more"})
	c.SetContext("k", "v")
	c.AppendError("boom")
	c.Messages[1].ToolCalls[0].Args["a"] = 2

	assert.Len(t, s.Messages, 2)
	assert.NotContains(t, s.SharedContext, "k")
	assert.Empty(t, s.Errors)
	assert.Equal(t, 1, s.Messages[1].ToolCalls[0].Args["a"])
}

func TestState_FunctionalUpdates(t *testing.T) {
	s := NewState("task")
	next := s.WithMessages(Message{Role: RoleAI, Content: "hi"}).
		WithSharedContext("plan", "p").
		WithCompleted()

	assert.Len(t, s.Messages, 1)
	assert.False(t, s.IsCompleted)
	assert.Len(t, next.Messages, 2)
	assert.Equal(t, "p", next.SharedContext["plan"])
	assert.True(t, next.IsCompleted)
}

func TestState_ApplyMerge(t *testing.T) {
	s := NewState("task")
	err := s.Apply(Delta{
		KeyMessages:      []Message{{Role: RoleAI, Content: "a"}},
		KeySharedContext: map[string]any{"only": true},
		KeyNextStep:      "review",
		"custom":         42,
	})
	require.NoError(t, err)

	assert.Len(t, s.Messages, 2)
	assert.Equal(t, map[string]any{"only": true}, s.SharedContext, "shared context is replaced, not deep merged")
	assert.Equal(t, "review", s.NextStep)
	assert.Equal(t, 42, s.Extra["custom"])

	require.NoError(t, s.Apply(Delta{KeyMessages: Message{Role: RoleAI, Content: "b"}}))
	assert.Len(t, s.Messages, 3)
}

func TestState_ApplyRejectsBadShapes(t *testing.T) {
	cases := []Delta{
		{KeyNextStep: 3},
		{KeyIsCompleted: "yes"},
		{KeyErrors: []any{1}},
		{KeyMessages: 12},
		{KeyThreadID: "other"},
	}
	for _, d := range cases {
		s := NewState("x")
		assert.Error(t, s.Apply(d), "%v", d)
	}
}

func TestState_ApplyIsAllOrNothing(t *testing.T) {
	for i := 0; i < 20; i++ {
		s := NewState("x")
		err := s.Apply(Delta{
			KeyMessages:      []Message{{Role: RoleAI, Content: "a"}},
			KeySharedContext: map[string]any{"k": 1},
			KeyNextStep:      "review",
			KeyIsCompleted:   "yes",
			"custom":         true,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), KeyIsCompleted)
		assert.Len(t, s.Messages, 1)
		assert.Equal(t, map[string]any{"user_request": "x"}, s.SharedContext)
		assert.Empty(t, s.NextStep)
		assert.False(t, s.IsCompleted)
		assert.Nil(t, s.Extra)
	}
}

func TestState_MapRoundTrip(t *testing.T) {
	s := NewState("task", InThread("th"))
	s.AppendMessage(Message{Role: RoleAI, Content: "ok", Agent: "planner"})
	s.AppendError("e1")
	s.NextStep = "n"
	s.Extra = map[string]any{"current_task": "plan"}

	m := s.ToMap()
	assert.Equal(t, "plan", m["current_task"])

	back, err := StateFromMap(m)
	require.NoError(t, err)
	assert.Equal(t, s.Messages, back.Messages)
	assert.Equal(t, s.Errors, back.Errors)
	assert.Equal(t, s.ThreadID, back.ThreadID)
	assert.Equal(t, s.NextStep, back.NextStep)
	assert.Equal(t, "plan", back.Extra["current_task"])
}

func TestStateFromMap_GenericJSON(t *testing.T) {
	back, err := StateFromMap(map[string]any{
		"messages":       []any{map[string]any{"role": "human", "content": "hi"}},
		"shared_context": map[string]any{"a": 1.0},
		"errors":         []any{"x"},
		"is_completed":   true,
		"thread_id":      "t",
	})
	require.NoError(t, err)
	assert.Equal(t, []Message{{Role: RoleHuman, Content: "hi"}}, back.Messages)
	assert.Equal(t, []string{"x"}, back.Errors)
	assert.True(t, back.IsCompleted)
}

func TestResultKinds(t *testing.T) {
	assert.Equal(t, ResultUnchanged, Unchanged().Kind())
	assert.Equal(t, ResultUnchanged, Merge(nil).Kind())
	assert.Equal(t, ResultUnchanged, Replace(nil).Kind())
	assert.Equal(t, ResultMerge, Merge(Delta{"a": 1}).Kind())
	assert.Equal(t, "replace", Replace(NewState("x")).Kind().String())
}

func TestReplaceKeepsThreadID(t *testing.T) {
	s := NewState("task", InThread("keep"))
	replacement := NewState("other", InThread("drop"))
	replacement.NextStep = "z"

	require.NoError(t, Replace(replacement).applyTo(s))
	assert.Equal(t, "keep", s.ThreadID)
	assert.Equal(t, "z", s.NextStep)
	assert.Equal(t, "other", s.Messages[0].Content)
}
