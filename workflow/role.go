package workflow

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/rheo/types"
)

// MaxPromptLen caps the prompt a RoleNode hands to its Invoker.
const MaxPromptLen = 16 * 1024

// Invoker is the model boundary: one prompt plus history in, text out.
type Invoker interface {
	Invoke(ctx context.Context, prompt string, history []Message) (string, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, prompt string, history []Message) (string, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, prompt string, history []Message) (string, error) {
	return f(ctx, prompt, history)
}

type roleConfig struct {
	fallback     string
	systemPrompt string
	maxPromptLen int
	window       *ContextWindow
	summarizer   *Summarizer
}

// RoleOption configures RoleNode.
type RoleOption func(*roleConfig)

// WithFallbackPrompt is used when the task key is missing or empty.
func WithFallbackPrompt(p string) RoleOption {
	return func(c *roleConfig) { c.fallback = p }
}

// WithSystemPrompt prefixes every prompt with a persona instruction.
func WithSystemPrompt(p string) RoleOption {
	return func(c *roleConfig) { c.systemPrompt = p }
}

// WithMaxPromptLen overrides MaxPromptLen.
func WithMaxPromptLen(n int) RoleOption {
	return func(c *roleConfig) { c.maxPromptLen = n }
}

// WithContextWindow trims the history handed to the Invoker to the newest
// messages that fit w.
func WithContextWindow(w *ContextWindow) RoleOption {
	return func(c *roleConfig) { c.window = w }
}

// WithSummarizer replaces history evicted by the context window with a
// summary message. The summary itself is not counted against the window.
func WithSummarizer(s *Summarizer) RoleOption {
	return func(c *roleConfig) { c.summarizer = s }
}

// RoleNode builds a node that asks inv to act as role. The prompt comes
// from shared_context[taskKey], then the fallback prompt, then
// shared_context["user_request"]. The reply is appended as an AI message
// tagged with role and stored in shared_context[taskKey+"_result"].
func RoleNode(role, taskKey string, inv Invoker, opts ...RoleOption) NodeFunc {
	cfg := roleConfig{maxPromptLen: MaxPromptLen}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(ctx context.Context, s *State) (NodeResult, error) {
		prompt := contextString(s, taskKey)
		if prompt == "" {
			prompt = cfg.fallback
		}
		if prompt == "" {
			prompt = contextString(s, "user_request")
		}
		if prompt == "" {
			return Unchanged(), types.Errorf(types.ErrInvalidInput, "role %s: no prompt under %q", role, taskKey)
		}
		if cfg.maxPromptLen > 0 && len(prompt) > cfg.maxPromptLen {
			return Unchanged(), types.Errorf(types.ErrInvalidInput,
				"role %s: prompt exceeds maximum allowed length of %d characters (got %d)",
				role, cfg.maxPromptLen, len(prompt))
		}
		if cfg.systemPrompt != "" {
			prompt = cfg.systemPrompt + "\n\n" + prompt
		}

		history, err := cfg.history(ctx, s.Messages)
		if err != nil {
			return Unchanged(), fmt.Errorf("role %s: %w", role, err)
		}
		reply, err := inv.Invoke(ctx, prompt, history)
		if err != nil {
			return Unchanged(), fmt.Errorf("role %s: %w", role, err)
		}

		shared := maps.Clone(s.SharedContext)
		if shared == nil {
			shared = make(map[string]any)
		}
		shared[taskKey+"_result"] = reply
		return Merge(Delta{
			KeyMessages:      []Message{{Role: RoleAI, Content: reply, Agent: role}},
			KeySharedContext: shared,
		}), nil
	}
}

// history returns the messages handed to the Invoker.
func (c *roleConfig) history(ctx context.Context, msgs []Message) ([]Message, error) {
	if c.window == nil {
		return append([]Message(nil), msgs...), nil
	}
	kept, evicted := c.window.Fit(msgs)
	if len(evicted) == 0 || c.summarizer == nil {
		return kept, nil
	}
	summary, err := c.summarizer.Summarize(ctx, evicted)
	if err != nil || summary == "" {
		return kept, err
	}
	return append([]Message{SummaryMessage(summary)}, kept...), nil
}

// VerdictRouter routes on shared_context["verdict"].
func VerdictRouter(s *State) string {
	return contextString(s, "verdict")
}

// NextStepRouter routes on State.NextStep.
func NextStepRouter(s *State) string {
	return s.NextStep
}

// Verdicts understood by DecisionNode.
const (
	VerdictApproved = "approved"
	VerdictRejected = "rejected"
)

// KeyDecisionBy is the shared context key naming who gave the last verdict.
const KeyDecisionBy = "decision_by"

// DecisionNode acts for the accountable agent: an approved verdict sets
// NextStep to End, a rejected one sends the flow back to the current task
// (or "START" when none is recorded). The accountable agent is recorded in
// shared_context["decision_by"] and the decision is appended as an AI
// message from that agent. Pair it with NextStepRouter.
func DecisionNode(accountable string, logger *zap.Logger) NodeFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "decision"), zap.String("accountable", accountable))

	return func(_ context.Context, s *State) (NodeResult, error) {
		if len(s.Messages) == 0 {
			return Unchanged(), nil
		}
		verdict := VerdictRouter(s)
		switch verdict {
		case VerdictApproved:
			s.NextStep = End
		case VerdictRejected:
			task, _ := s.Extra[KeyCurrentTask].(string)
			if task == "" {
				task = "START"
			}
			s.NextStep = task
		}
		logger.Info("verdict evaluated", zap.String("verdict", verdict), zap.String("next_step", s.NextStep))

		shown := verdict
		if shown == "" {
			shown = "none"
		}
		s.SetContext(KeyDecisionBy, accountable)
		s.AppendMessage(Message{
			Role:    RoleAI,
			Agent:   accountable,
			Content: fmt.Sprintf("Decision by %s: %s", accountable, shown),
		})
		return Unchanged(), nil
	}
}

// Notifier delivers a status update to an informed party.
type Notifier func(ctx context.Context, recipient, task, content string) error

// InformNode notifies every agent listed as informed for the current task
// with the content of the latest message. A nil notify only logs, and a
// failed notification is logged without failing the node.
func InformNode(notify Notifier, logger *zap.Logger) NodeFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "inform"))

	return func(ctx context.Context, s *State) (NodeResult, error) {
		task, _ := s.Extra[KeyCurrentTask].(string)
		if task == "" {
			return Unchanged(), nil
		}
		cfg, err := RACIConfig(s)
		if err != nil {
			return Unchanged(), err
		}
		assignment, ok := cfg[task]
		if !ok {
			return Unchanged(), nil
		}
		content := "No content"
		if last, ok := s.LastMessage(); ok {
			content = last.Content
		}
		for _, agent := range assignment.Informed {
			logger.Info("notifying informed agent", zap.String("agent", agent), zap.String("task", task))
			if notify == nil {
				continue
			}
			if err := notify(ctx, agent, task, content); err != nil {
				logger.Warn("notification failed",
					zap.String("agent", agent),
					zap.String("task", task),
					zap.Error(err),
				)
			}
		}
		return Unchanged(), nil
	}
}

// RetryCounter bounds a rework loop with a counter kept in shared context.
type RetryCounter struct {
	Key string
	Max int
}

// Count returns the current attempt count.
func (r RetryCounter) Count(s *State) int {
	v, _ := s.Context(r.Key)
	n, _ := asFloat(v)
	return int(n)
}

// Increment bumps the counter and returns the new count.
func (r RetryCounter) Increment(s *State) int {
	n := r.Count(s) + 1
	s.SetContext(r.Key, n)
	return n
}

// Exhausted reports whether the count has reached Max.
func (r RetryCounter) Exhausted(s *State) bool {
	return r.Count(s) >= r.Max
}

// Reset clears the counter and the exhausted mark.
func (r RetryCounter) Reset(s *State) {
	s.SetContext(r.Key, 0)
	delete(s.Extra, r.exhaustedKey())
}

func (r RetryCounter) exhaustedKey() string { return r.Key + "_exhausted" }

// Track wraps the node whose outcome decide labels. Once fn's result is
// applied, a retryLabel outcome bumps the counter, or marks the loop
// exhausted when the counter already reached Max. Both land in the state
// before the step is checkpointed.
func (r RetryCounter) Track(fn NodeFunc, decide DecisionFunc, retryLabel string) NodeFunc {
	return func(ctx context.Context, s *State) (NodeResult, error) {
		res, err := fn(ctx, s)
		if err != nil {
			return res, err
		}
		if err := res.applyTo(s); err != nil {
			return Unchanged(), fmt.Errorf("invalid %s result: %w", res.Kind(), err)
		}

		exhausted := false
		if decide(s) == retryLabel {
			if r.Exhausted(s) {
				exhausted = true
			} else {
				r.Increment(s)
			}
		}
		if exhausted {
			if s.Extra == nil {
				s.Extra = make(map[string]any)
			}
			s.Extra[r.exhaustedKey()] = true
		} else {
			delete(s.Extra, r.exhaustedKey())
		}
		return Unchanged(), nil
	}
}

// Router turns retryLabel into exhaustedLabel when the tracked node marked
// the loop exhausted. It only reads the state; pair it with Track.
func (r RetryCounter) Router(decide DecisionFunc, retryLabel, exhaustedLabel string) DecisionFunc {
	return func(s *State) string {
		label := decide(s)
		if label != retryLabel {
			return label
		}
		if done, _ := s.Extra[r.exhaustedKey()].(bool); done {
			return exhaustedLabel
		}
		return label
	}
}

func contextString(s *State, key string) string {
	v, ok := s.Context(key)
	if !ok || v == nil {
		return ""
	}
	if str, ok := v.(string); ok {
		return strings.TrimSpace(str)
	}
	return fmt.Sprint(v)
}
