package agent

import "fmt"

// ForwardedMessage 子 Agent 的原始结果。DirectToUser 为 true 时
// 上层必须原样返回 Content，不得改写
type ForwardedMessage struct {
	Content      string            `json:"content"`
	SourceAgent  string            `json:"source_agent"`
	DirectToUser bool              `json:"direct_to_user"`
	Metadata     map[string]string `json:"metadata"`
}

// NewForwardedMessage returns a message marked DirectToUser.
func NewForwardedMessage(source, content string) *ForwardedMessage {
	return &ForwardedMessage{
		Content:      content,
		SourceAgent:  source,
		DirectToUser: true,
		Metadata:     make(map[string]string),
	}
}

// Forward wraps a response received from resp.Sender.
func Forward(resp *Message) *ForwardedMessage {
	fm := NewForwardedMessage(resp.Sender, fmt.Sprint(resp.Content))
	for k, v := range resp.Metadata {
		fm.Metadata[k] = fmt.Sprint(v)
	}
	return fm
}

func (f *ForwardedMessage) String() string { return f.Content }
