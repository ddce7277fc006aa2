package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/rheo/internal/metrics"
)

// Processor handles one message for self. Returned errors are logged by
// the agent loop and do not stop it.
type Processor interface {
	ProcessMessage(ctx context.Context, self *Agent, msg *Message) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, self *Agent, msg *Message) error

// ProcessMessage calls f.
func (f ProcessorFunc) ProcessMessage(ctx context.Context, self *Agent, msg *Message) error {
	return f(ctx, self, msg)
}

// Agent actor：私有邮箱 + 顺序处理循环
type Agent struct {
	name     string
	registry *Registry
	mailbox  *Mailbox
	proc     Processor
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// Option configures an Agent.
type Option func(*Agent)

// WithAgentLogger sets the agent logger.
func WithAgentLogger(l *zap.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithAgentMetrics records one agent_messages_total sample per message.
func WithAgentMetrics(c *metrics.Collector) Option {
	return func(a *Agent) { a.metrics = c }
}

// NewAgent 创建 Agent 并注册到 registry
func NewAgent(name string, registry *Registry, proc Processor, opts ...Option) *Agent {
	a := &Agent{
		name:     name,
		registry: registry,
		mailbox:  NewMailbox(),
		proc:     proc,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(zap.String("agent", name))
	if registry != nil {
		registry.Register(a)
	}
	return a
}

// Name returns the agent name.
func (a *Agent) Name() string { return a.name }

// Deliver puts msg into the mailbox.
func (a *Agent) Deliver(msg *Message) { a.mailbox.Put(msg) }

// Pending returns the number of unprocessed messages.
func (a *Agent) Pending() int { return a.mailbox.Len() }

// Send 直接投递给 recipient，空 Sender 填为自身
func (a *Agent) Send(ctx context.Context, recipient Handle, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.Sender == "" {
		msg.Sender = a.name
	}
	msg.Receiver = recipient.Name()
	recipient.Deliver(msg)
	return nil
}

// SendTo 通过 Registry 按名称投递。找不到接收方时记录日志并丢弃，返回 false
func (a *Agent) SendTo(ctx context.Context, name string, msg *Message) bool {
	var recipient Handle
	if a.registry != nil {
		recipient, _ = a.registry.Get(name)
	}
	if recipient == nil {
		a.logger.Warn("recipient not found, dropping message",
			zap.String("recipient", name),
			zap.String("message_id", msg.ID),
			zap.String("type", string(msg.Type)),
		)
		a.metrics.RecordAgentMessage(a.name, string(msg.Type), "dropped")
		return false
	}
	if err := a.Send(ctx, recipient, msg); err != nil {
		a.logger.Debug("send aborted", zap.Error(err))
		return false
	}
	return true
}

// Receive 等待下一条消息
func (a *Agent) Receive(ctx context.Context) (*Message, error) {
	return a.mailbox.Get(ctx)
}

// Run 消息循环，直到 ctx 结束。处理失败只记录日志
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Debug("agent started")
	defer a.logger.Debug("agent stopped")
	for {
		msg, err := a.Receive(ctx)
		if err != nil {
			return nil
		}
		a.handle(ctx, msg)
	}
}

func (a *Agent) handle(ctx context.Context, msg *Message) {
	outcome := "processed"
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("processor panicked",
				zap.String("message_id", msg.ID),
				zap.Any("panic", r),
			)
			outcome = "failed"
		}
		a.metrics.RecordAgentMessage(a.name, string(msg.Type), outcome)
	}()

	if a.proc == nil {
		return
	}
	if err := a.proc.ProcessMessage(ctx, a, msg); err != nil {
		outcome = "failed"
		a.logger.Error("failed to process message",
			zap.String("message_id", msg.ID),
			zap.String("sender", msg.Sender),
			zap.Error(err),
		)
	}
}

func (a *Agent) String() string { return fmt.Sprintf("Agent(%s)", a.name) }
