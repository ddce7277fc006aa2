package agent

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Coordinator 按 metadata.intent 把请求路由给专职 Agent，并把响应送回原发送方
type Coordinator struct {
	mu     sync.RWMutex
	routes map[string]string
	logger *zap.Logger
}

// NewCoordinator 创建协调器
func NewCoordinator(logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		routes: make(map[string]string),
		logger: logger.With(zap.String("component", "coordinator")),
	}
}

// Route maps intent to the agent named target.
func (c *Coordinator) Route(intent, target string) *Coordinator {
	c.mu.Lock()
	c.routes[intent] = target
	c.mu.Unlock()
	return c
}

func (c *Coordinator) lookup(intent string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.routes[intent]
	return t, ok
}

// ProcessMessage implements Processor.
func (c *Coordinator) ProcessMessage(ctx context.Context, self *Agent, msg *Message) error {
	switch msg.Type {
	case MessageRequest:
		c.forwardRequest(ctx, self, msg)
	case MessageResponse:
		c.forwardResponse(ctx, self, msg)
	default:
		c.logger.Debug("ignoring message", zap.String("type", string(msg.Type)), zap.String("message_id", msg.ID))
	}
	return nil
}

func (c *Coordinator) forwardRequest(ctx context.Context, self *Agent, msg *Message) {
	intent, ok := msg.MetaString(MetaIntent)
	if !ok {
		c.logger.Warn("request without intent, dropping", zap.String("message_id", msg.ID))
		return
	}
	target, ok := c.lookup(intent)
	if !ok {
		c.logger.Warn("no route for intent, dropping",
			zap.String("intent", intent),
			zap.String("message_id", msg.ID),
		)
		return
	}

	fwd := NewRequest(self.Name(), target, msg.Content)
	fwd.Metadata = msg.Clone().Metadata
	fwd.Metadata[MetaReplyTo] = msg.Sender
	fwd.CorrelationID = msg.ID
	if self.SendTo(ctx, target, fwd) {
		c.logger.Debug("request forwarded",
			zap.String("intent", intent),
			zap.String("target", target),
			zap.String("correlation_id", fwd.CorrelationID),
		)
	}
}

func (c *Coordinator) forwardResponse(ctx context.Context, self *Agent, msg *Message) {
	replyTo, ok := msg.MetaString(MetaReplyTo)
	if !ok {
		c.logger.Warn("response without reply_to, dropping", zap.String("message_id", msg.ID))
		return
	}
	fwd := newMessage(MessageResponse, self.Name(), replyTo, msg.Content)
	fwd.CorrelationID = msg.CorrelationID
	fwd.Metadata = msg.Clone().Metadata
	self.SendTo(ctx, replyTo, fwd)
}

// HandlerFunc 专职 Agent 的领域处理函数
type HandlerFunc func(ctx context.Context, content any) (any, error)

// Specialist 处理某个领域的请求并回复发送方
type Specialist struct {
	domain  string
	handler HandlerFunc
}

// NewSpecialist 创建专职处理器，handler 为空时使用默认回显
func NewSpecialist(domain string, handler HandlerFunc) *Specialist {
	s := &Specialist{domain: domain, handler: handler}
	if s.handler == nil {
		s.handler = func(_ context.Context, content any) (any, error) {
			return fmt.Sprintf("Processed by %s specialist: %v", domain, content), nil
		}
	}
	return s
}

// Domain returns the specialist domain.
func (s *Specialist) Domain() string { return s.domain }

// ProcessMessage implements Processor. Only requests are answered.
func (s *Specialist) ProcessMessage(ctx context.Context, self *Agent, msg *Message) error {
	if msg.Type != MessageRequest {
		return nil
	}
	result, err := s.handler(ctx, msg.Content)
	if err != nil {
		return fmt.Errorf("%s specialist: %w", s.domain, err)
	}
	resp := NewResponse(msg, self.Name(), result)
	resp.Metadata = msg.Clone().Metadata
	self.SendTo(ctx, msg.Sender, resp)
	return nil
}
