package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/BaSui01/rheo/types"
)

// End is the terminal sentinel. It is a valid edge target but never a node.
const End = "END"

// NodeFunc is a unit of work. It may mutate s in place and return
// Unchanged, or describe the update through Replace or Merge.
type NodeFunc func(ctx context.Context, s *State) (NodeResult, error)

// DecisionFunc picks a label of a conditional edge's path map.
type DecisionFunc func(s *State) string

// Edge is a static transition.
type Edge struct {
	From string
	To   string
}

// ConditionalEdge routes from Source to PathMap[Decide(state)].
type ConditionalEdge struct {
	Source  string
	PathMap map[string]string
	Decide  DecisionFunc
}

// Graph holds the topology of a workflow. Registration is safe for
// concurrent use; a graph handed to a Scheduler should no longer change.
type Graph struct {
	mu          sync.RWMutex
	nodes       map[string]NodeFunc
	edges       []Edge
	conditional map[string]ConditionalEdge
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:       make(map[string]NodeFunc),
		conditional: make(map[string]ConditionalEdge),
	}
}

// AddNode registers fn under name. Registering a name twice keeps the last.
func (g *Graph) AddNode(name string, fn NodeFunc) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes[name] = fn
	return g
}

// AddEdge appends a static edge. Duplicates are kept; the first edge out of
// a node wins at routing time.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges = append(g.edges, Edge{From: from, To: to})
	return g
}

// AddConditionalEdge sets the conditional edge of source, replacing any
// earlier one. A conditional edge takes precedence over static edges.
func (g *Graph) AddConditionalEdge(source string, pathMap map[string]string, decide DecisionFunc) *Graph {
	pm := make(map[string]string, len(pathMap))
	for k, v := range pathMap {
		pm[k] = v
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conditional[source] = ConditionalEdge{Source: source, PathMap: pm, Decide: decide}
	return g
}

// Node returns the node registered under name.
func (g *Graph) Node(name string) (NodeFunc, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	fn, ok := g.nodes[name]
	return fn, ok
}

// Nodes returns the registered node names in sorted order.
func (g *Graph) Nodes() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Edges returns the static edges in registration order.
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Edge(nil), g.edges...)
}

// ConditionalEdge returns the conditional edge leaving source.
func (g *Graph) ConditionalEdge(source string) (ConditionalEdge, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ce, ok := g.conditional[source]
	return ce, ok
}

// ValidationError lists every topology violation found by Validate.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "graph validation failed:\n  " + strings.Join(e.Violations, "\n  ")
}

// Unwrap exposes the TOPOLOGY_INVALID code to types.IsCode.
func (e *ValidationError) Unwrap() error {
	return types.NewError(types.ErrTopology, "invalid workflow topology")
}

// Validate checks that every edge references registered nodes. All
// violations are reported at once. The graph is not modified.
func (g *Graph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var violations []string
	for _, e := range g.edges {
		if _, ok := g.nodes[e.From]; !ok {
			violations = append(violations, fmt.Sprintf("edge start '%s' is not a registered node", e.From))
		}
		if !g.isTarget(e.To) {
			violations = append(violations, fmt.Sprintf("edge end '%s' is not a registered node", e.To))
		}
	}

	sources := make([]string, 0, len(g.conditional))
	for src := range g.conditional {
		sources = append(sources, src)
	}
	sort.Strings(sources)
	for _, src := range sources {
		ce := g.conditional[src]
		if _, ok := g.nodes[src]; !ok {
			violations = append(violations, fmt.Sprintf("conditional edge source '%s' is not a registered node", src))
		}
		labels := make([]string, 0, len(ce.PathMap))
		for label := range ce.PathMap {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			target := ce.PathMap[label]
			if !g.isTarget(target) {
				violations = append(violations, fmt.Sprintf(
					"conditional edge '%s' -> '%s': target '%s' is not a registered node", src, label, target))
			}
		}
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

func (g *Graph) isTarget(name string) bool {
	if name == End {
		return true
	}
	_, ok := g.nodes[name]
	return ok
}

// next resolves the transition out of node. Caller must not hold g.mu.
func (g *Graph) next(node string, s *State) string {
	g.mu.RLock()
	ce, hasCond := g.conditional[node]
	var static string
	if !hasCond {
		for _, e := range g.edges {
			if e.From == node {
				static = e.To
				break
			}
		}
	}
	g.mu.RUnlock()

	if hasCond {
		if ce.Decide == nil {
			return End
		}
		target, ok := ce.PathMap[ce.Decide(s)]
		if !ok {
			return End
		}
		return target
	}
	if static != "" {
		return static
	}
	return End
}
