package agent

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Harness 管理一组 Agent 的生命周期
type Harness struct {
	mu     sync.Mutex
	agents []*Agent
	logger *zap.Logger
}

// NewHarness 创建 Harness
func NewHarness(logger *zap.Logger) *Harness {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Harness{logger: logger.With(zap.String("component", "agent_harness"))}
}

// Add appends agents to be started by RunUntil.
func (h *Harness) Add(agents ...*Agent) {
	h.mu.Lock()
	h.agents = append(h.agents, agents...)
	h.mu.Unlock()
}

// RunUntil 启动全部 Agent，等待 target 返回后取消所有 Agent 并等待退出。
// 返回 target 的错误。
func (h *Harness) RunUntil(ctx context.Context, target func(ctx context.Context) error) error {
	h.mu.Lock()
	agents := append([]*Agent(nil), h.agents...)
	h.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	for _, a := range agents {
		g.Go(func() error { return a.Run(gctx) })
	}
	h.logger.Debug("agents started", zap.Int("count", len(agents)))

	err := target(runCtx)
	cancel()
	if werr := g.Wait(); werr != nil && err == nil {
		err = werr
	}
	h.logger.Debug("agents stopped", zap.Int("count", len(agents)))
	return err
}
