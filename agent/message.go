package agent

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

// MessageType 消息类型
type MessageType string

const (
	MessageRequest      MessageType = "request"
	MessageResponse     MessageType = "response"
	MessageNotification MessageType = "notification"
)

// Metadata keys used by the built-in processors.
const (
	MetaIntent  = "intent"
	MetaReplyTo = "reply_to"
)

// Message Agent 间消息
type Message struct {
	ID            string         `json:"id"`
	Sender        string         `json:"sender"`
	Receiver      string         `json:"receiver"`
	Content       any            `json:"content"`
	Type          MessageType    `json:"message_type"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Metadata      map[string]any `json:"metadata"`
	CreatedAt     time.Time      `json:"created_at"`
}

func newMessage(typ MessageType, sender, receiver string, content any) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Receiver:  receiver,
		Content:   content,
		Type:      typ,
		Metadata:  make(map[string]any),
		CreatedAt: time.Now().UTC(),
	}
}

// NewRequest 创建请求消息
func NewRequest(sender, receiver string, content any) *Message {
	return newMessage(MessageRequest, sender, receiver, content)
}

// NewResponse 创建对 to 的响应，CorrelationID 指向 to.ID
func NewResponse(to *Message, sender string, content any) *Message {
	m := newMessage(MessageResponse, sender, to.Sender, content)
	m.CorrelationID = to.ID
	return m
}

// NewNotification 创建单向通知
func NewNotification(sender, receiver string, content any) *Message {
	return newMessage(MessageNotification, sender, receiver, content)
}

// WithMetadata sets key and returns m.
func (m *Message) WithMetadata(key string, value any) *Message {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	m.Metadata[key] = value
	return m
}

// MetaString returns Metadata[key] when it is a non-empty string.
func (m *Message) MetaString(key string) (string, bool) {
	s, ok := m.Metadata[key].(string)
	return s, ok && s != ""
}

// Clone returns a copy with its own metadata map. Content is shared.
func (m *Message) Clone() *Message {
	c := *m
	c.Metadata = maps.Clone(m.Metadata)
	if c.Metadata == nil {
		c.Metadata = make(map[string]any)
	}
	return &c
}

// ToJSON 序列化消息
func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// MessageFromJSON 反序列化消息
func MessageFromJSON(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode agent message: %w", err)
	}
	switch m.Type {
	case MessageRequest, MessageResponse, MessageNotification:
	default:
		return nil, fmt.Errorf("decode agent message: unknown type %q", m.Type)
	}
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	return &m, nil
}
