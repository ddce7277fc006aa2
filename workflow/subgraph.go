package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// SubGraph wraps a graph so it can run as a single node of another graph.
// The inner run operates on the outer state itself, so anything the inner
// nodes write is visible to the outer graph afterwards.
type SubGraph struct {
	name      string
	entry     string
	scheduler *Scheduler
}

// NewSubGraph creates a sub-graph node for g starting at entry. The inner
// scheduler never checkpoints; opts may add logging, metrics or a hop limit.
func NewSubGraph(name string, g *Graph, entry string, opts ...SchedulerOption) *SubGraph {
	opts = append(opts, WithCheckpointer(nil))
	sched := NewScheduler(g, opts...)
	sched.logger = sched.logger.With(zap.String("subgraph", name))
	return &SubGraph{name: name, entry: entry, scheduler: sched}
}

// Name returns the sub-graph name.
func (sg *SubGraph) Name() string { return sg.name }

// Node returns the NodeFunc to register in the outer graph.
func (sg *SubGraph) Node() NodeFunc {
	return func(ctx context.Context, s *State) (NodeResult, error) {
		if _, err := sg.scheduler.Run(ctx, s, sg.entry); err != nil {
			return Unchanged(), fmt.Errorf("subgraph %s: %w", sg.name, err)
		}
		return Unchanged(), nil
	}
}
