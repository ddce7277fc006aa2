package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/rheo/types"
)

// BreakerState 熔断器状态
type BreakerState int

const (
	// BreakerClosed 正常放行
	BreakerClosed BreakerState = iota
	// BreakerOpen 拒绝调用，直到恢复时间到达
	BreakerOpen
	// BreakerHalfOpen 允许有限次探测
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	// FailureThreshold 连续失败多少次后熔断，<= 0 表示不启用
	FailureThreshold int
	// RecoveryTimeout 熔断后多久进入半开
	RecoveryTimeout time.Duration
	// HalfOpenProbes 半开状态允许的探测次数
	HalfOpenProbes int
	// HalfOpenSuccesses 半开状态下连续成功多少次后关闭
	HalfOpenSuccesses int
}

// DefaultBreakerConfig 默认熔断器配置
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  5,
		RecoveryTimeout:   30 * time.Second,
		HalfOpenProbes:    3,
		HalfOpenSuccesses: 2,
	}
}

// BreakerEvent is passed to the change callback on every transition.
type BreakerEvent struct {
	Name     string
	From     BreakerState
	To       BreakerState
	Reason   string
	Failures int
	At       time.Time
}

// Breaker guards one invoker. A role node whose breaker is open fails
// immediately with a CIRCUIT_OPEN error instead of calling the model.
type Breaker struct {
	name     string
	cfg      BreakerConfig
	onChange func(BreakerEvent)
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	probes    int
	openedAt  time.Time
}

// NewBreaker 创建熔断器，onChange 可为 nil，在锁外同步调用
func NewBreaker(name string, cfg BreakerConfig, logger *zap.Logger, onChange func(BreakerEvent)) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 1
	}
	if cfg.HalfOpenSuccesses <= 0 {
		cfg.HalfOpenSuccesses = 1
	}
	return &Breaker{
		name:     name,
		cfg:      cfg,
		onChange: onChange,
		logger:   logger.With(zap.String("breaker", name)),
		now:      time.Now,
	}
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	var ev *BreakerEvent
	var err error
	switch b.state {
	case BreakerOpen:
		wait := b.cfg.RecoveryTimeout - b.now().Sub(b.openedAt)
		if wait > 0 {
			err = types.Errorf(types.ErrCircuitOpen,
				"%s: %d consecutive failures, retry after %v", b.name, b.failures, wait).
				WithRetryable(true)
			break
		}
		ev = b.transition(BreakerHalfOpen, "recovery timeout elapsed")
		b.probes, b.successes = 1, 0
	case BreakerHalfOpen:
		if b.probes >= b.cfg.HalfOpenProbes {
			err = types.Errorf(types.ErrCircuitOpen, "%s: half-open probe limit (%d) reached", b.name, b.cfg.HalfOpenProbes).
				WithRetryable(true)
			break
		}
		b.probes++
	}
	b.mu.Unlock()
	b.emit(ev)
	return err
}

// Success records a successful call.
func (b *Breaker) Success() {
	b.mu.Lock()
	var ev *BreakerEvent
	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.cfg.HalfOpenSuccesses {
			ev = b.transition(BreakerClosed, fmt.Sprintf("%d successes while half-open", b.successes))
			b.failures, b.successes = 0, 0
		}
	}
	b.mu.Unlock()
	b.emit(ev)
}

// Failure records a failed call.
func (b *Breaker) Failure() {
	b.mu.Lock()
	var ev *BreakerEvent
	b.failures++
	switch b.state {
	case BreakerClosed:
		if b.cfg.FailureThreshold > 0 && b.failures >= b.cfg.FailureThreshold {
			ev = b.transition(BreakerOpen, fmt.Sprintf("%d consecutive failures", b.failures))
			b.openedAt = b.now()
		}
	case BreakerHalfOpen:
		b.successes = 0
		ev = b.transition(BreakerOpen, "failure while half-open")
		b.openedAt = b.now()
	}
	b.mu.Unlock()
	b.emit(ev)
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	var ev *BreakerEvent
	if b.state != BreakerClosed {
		ev = b.transition(BreakerClosed, "manual reset")
	}
	b.failures, b.successes, b.probes = 0, 0, 0
	b.mu.Unlock()
	b.emit(ev)
}

// transition 必须持锁调用
func (b *Breaker) transition(to BreakerState, reason string) *BreakerEvent {
	ev := &BreakerEvent{
		Name:     b.name,
		From:     b.state,
		To:       to,
		Reason:   reason,
		Failures: b.failures,
		At:       b.now(),
	}
	b.state = to
	return ev
}

func (b *Breaker) emit(ev *BreakerEvent) {
	if ev == nil {
		return
	}
	b.logger.Info("breaker state change",
		zap.String("from", ev.From.String()),
		zap.String("to", ev.To.String()),
		zap.String("reason", ev.Reason),
		zap.Int("failures", ev.Failures),
	)
	if b.onChange != nil {
		b.onChange(*ev)
	}
}

// GuardInvoker wraps inv with b. Cancellation of ctx is not counted as a
// failure.
func GuardInvoker(inv Invoker, b *Breaker) Invoker {
	return InvokerFunc(func(ctx context.Context, prompt string, history []Message) (string, error) {
		if err := b.Allow(); err != nil {
			return "", err
		}
		reply, err := inv.Invoke(ctx, prompt, history)
		switch {
		case err == nil:
			b.Success()
		case ctx.Err() == nil:
			b.Failure()
		}
		return reply, err
	})
}

// Breakers 按名称懒创建熔断器，同名共享
type Breakers struct {
	cfg      BreakerConfig
	logger   *zap.Logger
	onChange func(BreakerEvent)

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewBreakers 创建熔断器集合
func NewBreakers(cfg BreakerConfig, logger *zap.Logger, onChange func(BreakerEvent)) *Breakers {
	return &Breakers{
		cfg:      cfg,
		logger:   logger,
		onChange: onChange,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating it on first use.
func (s *Breakers) Get(name string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[name]
	if !ok {
		b = NewBreaker(name, s.cfg, s.logger, s.onChange)
		s.breakers[name] = b
	}
	return b
}

// States returns the state of every breaker created so far.
func (s *Breakers) States() map[string]BreakerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]BreakerState, len(s.breakers))
	for name, b := range s.breakers {
		out[name] = b.State()
	}
	return out
}
