package agent

import (
	"context"
	"sync"
)

// Mailbox 无界 FIFO 邮箱：Put 永不阻塞，Get 在为空时挂起
type Mailbox struct {
	mu    sync.Mutex
	items []*Message
	ready chan struct{}
}

// NewMailbox 创建邮箱
func NewMailbox() *Mailbox {
	return &Mailbox{ready: make(chan struct{}, 1)}
}

func (m *Mailbox) signal() {
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// Put 投递消息
func (m *Mailbox) Put(msg *Message) {
	m.mu.Lock()
	m.items = append(m.items, msg)
	m.mu.Unlock()
	m.signal()
}

// TryGet returns the oldest message without waiting.
func (m *Mailbox) TryGet() (*Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) == 0 {
		return nil, false
	}
	msg := m.items[0]
	m.items[0] = nil
	m.items = m.items[1:]
	if len(m.items) > 0 {
		// 唤醒可能仍在等待的其他消费者
		m.signal()
	}
	return msg, true
}

// Get 取出最早的消息，邮箱为空时等待直到有消息或 ctx 结束
func (m *Mailbox) Get(ctx context.Context) (*Message, error) {
	for {
		if msg, ok := m.TryGet(); ok {
			return msg, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.ready:
		}
	}
}

// Len returns the number of queued messages.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
