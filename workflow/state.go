package workflow

import (
	"errors"
	"fmt"
	"maps"
)

// Message roles used by the built-in nodes.
const (
	RoleHuman  = "human"
	RoleAI     = "ai"
	RoleSystem = "system"
	RoleTool   = "tool"
)

// DefaultThreadID is assigned by NewState when no thread is given.
const DefaultThreadID = "default"

// Canonical state keys. Delta maps and checkpoint payloads use these names.
const (
	KeyMessages      = "messages"
	KeySharedContext = "shared_context"
	KeyNextStep      = "next_step"
	KeyIsCompleted   = "is_completed"
	KeyErrors        = "errors"
	KeyThreadID      = "thread_id"
)

// ErrThreadIDImmutable is returned when a state's thread id is changed after
// it has been set.
var ErrThreadIDImmutable = errors.New("workflow: thread id is immutable once set")

// ToolCall is a tool invocation requested by a model response.
type ToolCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Message is one entry of a conversation history.
type Message struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Agent      string         `json:"agent,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// State is the mutable record threaded through every node of a run.
//
// Messages only ever grow. SharedContext keys are replaced wholesale, never
// deep-merged. Keys returned by nodes that are not core fields land in Extra.
type State struct {
	Messages      []Message      `json:"messages"`
	SharedContext map[string]any `json:"shared_context"`
	NextStep      string         `json:"next_step"`
	IsCompleted   bool           `json:"is_completed"`
	Errors        []string       `json:"errors"`
	ThreadID      string         `json:"thread_id"`
	Extra         map[string]any `json:"-"`
}

// StateOption customizes NewState.
type StateOption func(*State)

// InThread sets the thread id of the new state.
func InThread(threadID string) StateOption {
	return func(s *State) {
		if threadID != "" {
			s.ThreadID = threadID
		}
	}
}

// WithInitialContext seeds shared context entries.
func WithInitialContext(kv map[string]any) StateOption {
	return func(s *State) {
		maps.Copy(s.SharedContext, kv)
	}
}

// NewState bootstraps a state for a task: the task becomes the first human
// message and shared_context["user_request"].
func NewState(task string, opts ...StateOption) *State {
	s := &State{
		Messages:      []Message{{Role: RoleHuman, Content: task}},
		SharedContext: map[string]any{"user_request": task},
		Errors:        []string{},
		ThreadID:      DefaultThreadID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AppendMessage adds messages to the history.
func (s *State) AppendMessage(msgs ...Message) {
	s.Messages = append(s.Messages, msgs...)
}

// AppendError records a failure.
func (s *State) AppendError(err string) {
	s.Errors = append(s.Errors, err)
}

// LastMessage returns the most recent message.
func (s *State) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// Context reads a shared context entry.
func (s *State) Context(key string) (any, bool) {
	if s.SharedContext == nil {
		return nil, false
	}
	v, ok := s.SharedContext[key]
	return v, ok
}

// SetContext replaces a shared context entry.
func (s *State) SetContext(key string, v any) {
	if s.SharedContext == nil {
		s.SharedContext = make(map[string]any)
	}
	s.SharedContext[key] = v
}

// SetThreadID sets the thread id. Re-setting the same id is a no-op;
// changing an already set id fails with ErrThreadIDImmutable.
func (s *State) SetThreadID(id string) error {
	if s.ThreadID != "" && s.ThreadID != id {
		return fmt.Errorf("%w: %q -> %q", ErrThreadIDImmutable, s.ThreadID, id)
	}
	s.ThreadID = id
	return nil
}

// Clone returns a copy whose slices and top-level maps are independent of s.
// Values stored inside SharedContext and Extra are shared.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := &State{
		NextStep:    s.NextStep,
		IsCompleted: s.IsCompleted,
		ThreadID:    s.ThreadID,
	}
	c.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		c.Messages[i] = m.clone()
	}
	c.Errors = append(make([]string, 0, len(s.Errors)), s.Errors...)
	if s.SharedContext != nil {
		c.SharedContext = maps.Clone(s.SharedContext)
	}
	if s.Extra != nil {
		c.Extra = maps.Clone(s.Extra)
	}
	return c
}

// WithMessages returns a copy of s with msgs appended.
func (s *State) WithMessages(msgs ...Message) *State {
	c := s.Clone()
	c.AppendMessage(msgs...)
	return c
}

// WithSharedContext returns a copy of s with key replaced.
func (s *State) WithSharedContext(key string, v any) *State {
	c := s.Clone()
	c.SetContext(key, v)
	return c
}

// WithCompleted returns a copy of s marked completed.
func (s *State) WithCompleted() *State {
	c := s.Clone()
	c.IsCompleted = true
	return c
}

// replaceWith copies every field of other into s except the thread id.
func (s *State) replaceWith(other *State) {
	threadID := s.ThreadID
	*s = *other.Clone()
	if threadID != "" {
		s.ThreadID = threadID
	}
}

// ToMap flattens the state into canonical keys, Extra entries included.
// Core keys win over Extra entries of the same name.
func (s *State) ToMap() map[string]any {
	out := make(map[string]any, 6+len(s.Extra))
	for k, v := range s.Extra {
		out[k] = v
	}
	msgs := make([]Message, len(s.Messages))
	copy(msgs, s.Messages)
	errs := append(make([]string, 0, len(s.Errors)), s.Errors...)
	ctx := s.SharedContext
	if ctx == nil {
		ctx = map[string]any{}
	}
	out[KeyMessages] = msgs
	out[KeySharedContext] = ctx
	out[KeyNextStep] = s.NextStep
	out[KeyIsCompleted] = s.IsCompleted
	out[KeyErrors] = errs
	out[KeyThreadID] = s.ThreadID
	return out
}

func (m Message) clone() Message {
	c := m
	if m.ToolCalls != nil {
		c.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			tc.Args = maps.Clone(tc.Args)
			c.ToolCalls[i] = tc
		}
	}
	if m.Metadata != nil {
		c.Metadata = maps.Clone(m.Metadata)
	}
	return c
}
