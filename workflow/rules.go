package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Rule checks a state against a governance constraint.
type Rule interface {
	Name() string
	// Check returns a violation message and false when the rule is broken.
	Check(s *State) (violation string, ok bool)
}

type predicateRule struct {
	name string
	fn   func(*State) bool
}

// RuleFunc turns a boolean predicate into a Rule. A false result is
// reported as a generic violation.
func RuleFunc(name string, fn func(*State) bool) Rule {
	return predicateRule{name: name, fn: fn}
}

func (r predicateRule) Name() string { return r.name }

func (r predicateRule) Check(s *State) (string, bool) {
	if r.fn(s) {
		return "", true
	}
	return "condition not satisfied", false
}

type violationRule struct {
	name string
	fn   func(*State) string
}

// ViolationFunc turns a function returning a violation message into a
// Rule. An empty message means the rule holds.
func ViolationFunc(name string, fn func(*State) string) Rule {
	return violationRule{name: name, fn: fn}
}

func (r violationRule) Name() string { return r.name }

func (r violationRule) Check(s *State) (string, bool) {
	msg := r.fn(s)
	return msg, msg == ""
}

// RuleEngine evaluates an ordered set of rules.
type RuleEngine struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewRuleEngine creates an engine with the given rules.
func NewRuleEngine(rules ...Rule) *RuleEngine {
	return &RuleEngine{rules: append([]Rule(nil), rules...)}
}

// Add appends a rule.
func (e *RuleEngine) Add(r Rule) *RuleEngine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, r)
	return e
}

// Rules returns the registered rules in order.
func (e *RuleEngine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.rules...)
}

// Validate reports whether every rule holds, stopping at the first failure.
func (e *RuleEngine) Validate(s *State) bool {
	for _, r := range e.Rules() {
		if _, ok := r.Check(s); !ok {
			return false
		}
	}
	return true
}

// Evaluate checks every rule and returns all violations.
func (e *RuleEngine) Evaluate(s *State) []string {
	var violations []string
	for _, r := range e.Rules() {
		if msg, ok := r.Check(s); !ok {
			violations = append(violations, fmt.Sprintf("Rule '%s' violated: %s", r.Name(), msg))
		}
	}
	return violations
}

// =============================================================================
// Built-in rules
// =============================================================================

// MaxStepsRule fails once shared_context["step_count"] exceeds max.
func MaxStepsRule(max int) Rule {
	return ViolationFunc("MaxSteps", func(s *State) string {
		v, _ := s.Context("step_count")
		steps, ok := asFloat(v)
		if ok && steps > float64(max) {
			return fmt.Sprintf("Step count %v exceeds maximum of %d.", v, max)
		}
		return ""
	})
}

// CostLimitRule fails once shared_context["total_cost"] exceeds max.
func CostLimitRule(max float64) Rule {
	return ViolationFunc("CostLimit", func(s *State) string {
		v, _ := s.Context("total_cost")
		cost, ok := asFloat(v)
		if ok && cost > max {
			return fmt.Sprintf("Total cost %v exceeds limit of %v.", v, max)
		}
		return ""
	})
}

// ForbiddenPhraseRule fails when the latest AI message contains one of the
// phrases, compared case-insensitively.
func ForbiddenPhraseRule(phrases ...string) Rule {
	return ViolationFunc("ForbiddenPhrase", func(s *State) string {
		for i := len(s.Messages) - 1; i >= 0; i-- {
			m := s.Messages[i]
			if m.Role != RoleAI {
				continue
			}
			lower := strings.ToLower(m.Content)
			for _, p := range phrases {
				if strings.Contains(lower, strings.ToLower(p)) {
					return fmt.Sprintf("Message contains forbidden phrase: '%s'.", p)
				}
			}
			return ""
		}
		return ""
	})
}

// RACIAssignment names who does what for one task.
type RACIAssignment struct {
	Responsible []string `json:"responsible,omitempty"`
	Accountable string   `json:"accountable,omitempty"`
	Consulted   []string `json:"consulted,omitempty"`
	Informed    []string `json:"informed,omitempty"`
}

// KeyRACIConfig is the state key holding the task → assignment matrix.
const KeyRACIConfig = "raci_config"

// KeyCurrentTask is the state key naming the task being worked on.
const KeyCurrentTask = "current_task"

// RACIConfig reads the assignment matrix from Extra, falling back to
// shared context.
func RACIConfig(s *State) (map[string]RACIAssignment, error) {
	v, ok := s.Extra[KeyRACIConfig]
	if !ok {
		v, ok = s.Context(KeyRACIConfig)
	}
	if !ok || v == nil {
		return nil, nil
	}
	if cfg, ok := v.(map[string]RACIAssignment); ok {
		return cfg, nil
	}
	var cfg map[string]RACIAssignment
	if err := reshape(v, &cfg); err != nil {
		return nil, fmt.Errorf("raci_config: %w", err)
	}
	return cfg, nil
}

// RACIConfigRule requires every task to have an accountable agent and at
// least one responsible agent.
func RACIConfigRule() Rule {
	return ViolationFunc("RACIConfig", func(s *State) string {
		cfg, err := RACIConfig(s)
		if err != nil {
			return err.Error()
		}
		tasks := make([]string, 0, len(cfg))
		for task := range cfg {
			tasks = append(tasks, task)
		}
		sort.Strings(tasks)
		for _, task := range tasks {
			a := cfg[task]
			if a.Accountable == "" {
				return fmt.Sprintf("task '%s' has no accountable agent.", task)
			}
			if len(a.Responsible) == 0 {
				return fmt.Sprintf("task '%s' has no responsible agent.", task)
			}
		}
		return ""
	})
}

// GovernanceNode evaluates engine and records violations in the state
// errors and in shared_context["governance_violations"]. A clean
// evaluation removes a stale violation list.
func GovernanceNode(engine *RuleEngine) NodeFunc {
	return func(_ context.Context, s *State) (NodeResult, error) {
		violations := engine.Evaluate(s)
		if len(violations) == 0 {
			if s.SharedContext != nil {
				delete(s.SharedContext, "governance_violations")
			}
			return Unchanged(), nil
		}
		for _, v := range violations {
			s.AppendError(v)
		}
		s.SetContext("governance_violations", violations)
		return Unchanged(), nil
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
