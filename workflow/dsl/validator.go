package dsl

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/rheo/workflow"
)

// Validator DSL 验证器
type Validator struct {
	types map[string]bool
}

// NewValidator 创建验证器，extraTypes 为额外注册的自定义节点类型
func NewValidator(extraTypes ...string) *Validator {
	v := &Validator{types: map[string]bool{
		NodeRole: true, NodeTool: true, NodeGovernance: true, NodeDecision: true,
		NodeInform: true, NodeSubGraph: true, NodePassthrough: true,
	}}
	for _, t := range extraTypes {
		v.types[t] = true
	}
	return v
}

// Validate 验证 DSL 定义，一次返回全部错误
func (v *Validator) Validate(dsl *WorkflowDSL) []error {
	var errs []error

	// 基础字段验证
	if dsl.Version == "" {
		errs = append(errs, fmt.Errorf("version is required"))
	}
	if dsl.Name == "" {
		errs = append(errs, fmt.Errorf("name is required"))
	}
	errs = append(errs, v.validateNodes("", dsl.Entry, dsl.Nodes, dsl)...)

	// 验证角色限流与上下文窗口
	agents := make([]string, 0, len(dsl.Agents))
	for name := range dsl.Agents {
		agents = append(agents, name)
	}
	sort.Strings(agents)
	for _, name := range agents {
		if cw := dsl.Agents[name].ContextWindow; cw != nil && cw.MaxTokens <= 0 {
			errs = append(errs, fmt.Errorf("agent %s: context_window.max_tokens must be positive", name))
		}
		rl := dsl.Agents[name].RateLimit
		if rl == nil {
			continue
		}
		if rl.RPS <= 0 {
			errs = append(errs, fmt.Errorf("agent %s: rate_limit.rps must be positive", name))
		}
		if rl.Burst < 0 {
			errs = append(errs, fmt.Errorf("agent %s: rate_limit.burst must not be negative", name))
		}
	}

	// 验证 RACI 矩阵
	tasks := make([]string, 0, len(dsl.RACI))
	for task := range dsl.RACI {
		tasks = append(tasks, task)
	}
	sort.Strings(tasks)
	for _, task := range tasks {
		if dsl.RACI[task].Accountable == "" {
			errs = append(errs, fmt.Errorf("raci %s: accountable is required", task))
		}
	}

	return errs
}

// validateNodes 验证一组节点（顶层或子图），scope 用于错误前缀
func (v *Validator) validateNodes(scope, entry string, nodes []NodeDef, dsl *WorkflowDSL) []error {
	var errs []error
	prefix := ""
	if scope != "" {
		prefix = "subgraph " + scope + ": "
	}

	if entry == "" {
		errs = append(errs, fmt.Errorf("%sentry is required", prefix))
	}
	if len(nodes) == 0 {
		errs = append(errs, fmt.Errorf("%snodes must have at least one node", prefix))
	}

	// 收集所有节点 ID
	ids := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		if node.ID == "" {
			errs = append(errs, fmt.Errorf("%snode ID is required", prefix))
			continue
		}
		if node.ID == workflow.End {
			errs = append(errs, fmt.Errorf("%snode ID %q is reserved", prefix, workflow.End))
		}
		if ids[node.ID] {
			errs = append(errs, fmt.Errorf("%sduplicate node ID: %s", prefix, node.ID))
		}
		ids[node.ID] = true
	}

	if entry != "" && !ids[entry] {
		errs = append(errs, fmt.Errorf("%sentry node %q does not exist", prefix, entry))
	}

	for i := range nodes {
		for _, err := range v.validateNode(&nodes[i], dsl, ids) {
			errs = append(errs, fmt.Errorf("%s%w", prefix, err))
		}
	}
	return errs
}

// validateNode 验证单个节点
func (v *Validator) validateNode(node *NodeDef, dsl *WorkflowDSL, ids map[string]bool) []error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("node %s: "+format, append([]any{node.ID}, args...)...))
	}

	if !v.types[node.Type] {
		fail("invalid type %q", node.Type)
	}

	switch node.Type {
	case NodeRole:
		if node.Agent == "" {
			fail("role node requires agent")
		} else if dsl.Agents != nil {
			if _, ok := dsl.Agents[node.Agent]; !ok {
				fail("agent %q not found in agents", node.Agent)
			}
		}
		for _, ref := range extractVariableRefs(node.Prompt) {
			if _, ok := dsl.Variables[ref]; !ok {
				fail("variable %q referenced in prompt not defined", ref)
			}
		}
	case NodeDecision:
		if node.Accountable == "" {
			fail("decision node requires accountable")
		}
	case NodeGovernance:
		if dsl.Rules == nil {
			fail("governance node requires rules")
		}
	case NodeSubGraph:
		if node.SubGraph == nil {
			fail("subgraph node requires subgraph definition")
		} else {
			errs = append(errs, v.validateNodes(node.ID, node.SubGraph.Entry, node.SubGraph.Nodes, dsl)...)
		}
	}

	// 路由：next / condition / route_by 三选一
	modes := 0
	for _, set := range []bool{node.Next != "", node.Condition != "", node.RouteBy != ""} {
		if set {
			modes++
		}
	}
	if modes > 1 {
		fail("only one of next, condition and route_by may be set")
	}

	target := func(kind, id string) {
		if id != "" && id != workflow.End && !ids[id] {
			fail("%s node %q does not exist", kind, id)
		}
	}
	target("next", node.Next)

	if node.Condition != "" {
		if _, err := Compile(node.Condition); err != nil {
			fail("%v", err)
		}
		if node.OnTrue == "" {
			fail("condition requires on_true")
		}
		target("on_true", node.OnTrue)
		target("on_false", node.OnFalse)
	} else if node.OnTrue != "" || node.OnFalse != "" {
		fail("on_true/on_false require condition")
	}

	if node.RouteBy != "" {
		if _, err := Compile(node.RouteBy); err != nil {
			fail("%v", err)
		}
		if len(node.Paths) == 0 {
			fail("route_by requires paths")
		}
		labels := make([]string, 0, len(node.Paths))
		for label := range node.Paths {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			target("paths."+label, node.Paths[label])
		}
	} else if len(node.Paths) > 0 {
		fail("paths require route_by")
	}

	if r := node.Retry; r != nil {
		if node.RouteBy == "" {
			fail("retry requires route_by")
		}
		if r.Max <= 0 {
			fail("retry.max must be positive")
		}
		if _, ok := node.Paths[r.On]; !ok {
			fail("retry.on label %q not found in paths", r.On)
		}
		if _, ok := node.Paths[r.Exhausted]; !ok {
			fail("retry.exhausted label %q not found in paths", r.Exhausted)
		}
	}

	return errs
}

// validateVariables 检查必填变量是否有值
func validateVariables(defs map[string]VariableDef, values map[string]any) []error {
	var errs []error
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !defs[name].Required {
			continue
		}
		if _, ok := values[name]; !ok {
			errs = append(errs, fmt.Errorf("variable %q is required", name))
		}
	}
	return errs
}

// extractVariableRefs 提取 ${var} 引用
func extractVariableRefs(s string) []string {
	var refs []string
	for {
		start := strings.Index(s, "${")
		if start == -1 {
			break
		}
		end := strings.Index(s[start:], "}")
		if end == -1 {
			break
		}
		refs = append(refs, s[start+2:start+end])
		s = s[start+end+1:]
	}
	return refs
}
