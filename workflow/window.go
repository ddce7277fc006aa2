package workflow

import (
	"context"
	"fmt"
	"strings"
)

// TokenCounter counts the tokens of a piece of text.
type TokenCounter interface {
	CountTokens(text string) int
}

// messageOverhead is the per-message framing cost (role markers).
const messageOverhead = 4

// ContextWindow is a token-bounded sliding window over a message history.
// The newest messages are kept; the oldest are evicted first until the
// total fits MaxTokens. A single message larger than the budget is evicted
// as well, so the window may come back empty.
type ContextWindow struct {
	maxTokens int
	counter   TokenCounter
}

// NewContextWindow creates a window of maxTokens measured with counter.
func NewContextWindow(maxTokens int, counter TokenCounter) *ContextWindow {
	return &ContextWindow{maxTokens: maxTokens, counter: counter}
}

// MaxTokens returns the budget.
func (w *ContextWindow) MaxTokens() int { return w.maxTokens }

// MessageTokens returns the cost of m including role framing.
func (w *ContextWindow) MessageTokens(m Message) int {
	return messageOverhead + w.counter.CountTokens(m.Role) + w.counter.CountTokens(m.Content)
}

// Fit splits msgs into the evicted prefix and the kept suffix whose total is
// within the budget. Neither slice aliases msgs. A non-positive budget keeps
// everything.
func (w *ContextWindow) Fit(msgs []Message) (kept, evicted []Message) {
	if w.maxTokens <= 0 {
		return append([]Message(nil), msgs...), nil
	}
	total := 0
	cut := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		total += w.MessageTokens(msgs[i])
		if total > w.maxTokens {
			break
		}
		cut = i
	}
	return append([]Message(nil), msgs[cut:]...), append([]Message(nil), msgs[:cut]...)
}

// Tokens returns the total cost of msgs.
func (w *ContextWindow) Tokens(msgs []Message) int {
	n := 0
	for _, m := range msgs {
		n += w.MessageTokens(m)
	}
	return n
}

// =============================================================================
// Summarizer
// =============================================================================

const summaryInstruction = "Summarize the following conversation history, preserving all key facts and entities:\n"

// Summarizer compresses evicted history into one message through an Invoker.
type Summarizer struct {
	inv Invoker
}

// NewSummarizer creates a summarizer backed by inv.
func NewSummarizer(inv Invoker) *Summarizer {
	return &Summarizer{inv: inv}
}

// Summarize returns a summary of msgs, or "" when msgs is empty.
func (s *Summarizer) Summarize(ctx context.Context, msgs []Message) (string, error) {
	if len(msgs) == 0 {
		return "", nil
	}
	var b strings.Builder
	b.WriteString(summaryInstruction)
	for _, m := range msgs {
		fmt.Fprintf(&b, "\n%s: %s", m.Role, m.Content)
	}
	out, err := s.inv.Invoke(ctx, b.String(), nil)
	if err != nil {
		return "", fmt.Errorf("summarize %d messages: %w", len(msgs), err)
	}
	return strings.TrimSpace(out), nil
}

// SummaryMessage wraps a summary as the system message that replaces the
// evicted history.
func SummaryMessage(summary string) Message {
	return Message{
		Role:     RoleSystem,
		Content:  "Summary of earlier conversation: " + summary,
		Metadata: map[string]any{"summary": true},
	}
}
