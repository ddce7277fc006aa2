package agent

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Handle is anything that can be addressed by name and accept messages.
type Handle interface {
	Name() string
	Deliver(msg *Message)
}

// Registry 按名称查找 Agent
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Handle
	logger *zap.Logger
}

// NewRegistry 创建注册表
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		agents: make(map[string]Handle),
		logger: logger.With(zap.String("component", "agent_registry")),
	}
}

// Register 注册 Agent，同名时覆盖并告警
func (r *Registry) Register(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[h.Name()]; exists {
		r.logger.Warn("agent already registered, overwriting", zap.String("agent", h.Name()))
	}
	r.agents[h.Name()] = h
}

// Get returns the agent registered as name.
func (r *Registry) Get(name string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.agents[name]
	return h, ok
}

// List returns the registered names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Deregister removes name. It reports whether it was registered.
func (r *Registry) Deregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.agents[name]
	delete(r.agents, name)
	return ok
}

// Clear 清空注册表
func (r *Registry) Clear() {
	r.mu.Lock()
	r.agents = make(map[string]Handle)
	r.mu.Unlock()
}
