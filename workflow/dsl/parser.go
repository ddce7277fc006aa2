package dsl

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/rheo/internal/tokenizer"
	"github.com/BaSui01/rheo/tools"
	"github.com/BaSui01/rheo/types"
	"github.com/BaSui01/rheo/workflow"
)

// NodeFactory builds a node of a custom type.
type NodeFactory func(def NodeDef) (workflow.NodeFunc, error)

// Workflow is a parsed DSL document ready to run.
type Workflow struct {
	Name        string
	Description string
	Entry       string
	Graph       *workflow.Graph
	Rules       *workflow.RuleEngine
	RACI        map[string]workflow.RACIAssignment
	Variables   map[string]any
	Metadata    map[string]any
}

// NewState creates the initial state for task with the RACI matrix loaded.
func (w *Workflow) NewState(task string, opts ...workflow.StateOption) *workflow.State {
	s := workflow.NewState(task, opts...)
	if len(w.RACI) > 0 {
		if s.Extra == nil {
			s.Extra = make(map[string]any)
		}
		s.Extra[workflow.KeyRACIConfig] = maps.Clone(w.RACI)
	}
	return s
}

// Parser DSL 解析器
type Parser struct {
	invokers       map[string]workflow.Invoker
	defaultInvoker workflow.Invoker
	tools          *tools.Registry
	notifier       workflow.Notifier
	factories      map[string]NodeFactory
	variables      map[string]any
	breakers       *workflow.Breakers
	counter        workflow.TokenCounter
	logger         *zap.Logger
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithDefaultInvoker is used by role nodes whose agent names no invoker.
func WithDefaultInvoker(inv workflow.Invoker) ParserOption {
	return func(p *Parser) { p.defaultInvoker = inv }
}

// WithTools provides the registry for tool nodes.
func WithTools(reg *tools.Registry) ParserOption {
	return func(p *Parser) { p.tools = reg }
}

// WithNotifier is passed to inform nodes.
func WithNotifier(n workflow.Notifier) ParserOption {
	return func(p *Parser) { p.notifier = n }
}

// WithVariables overrides variable defaults.
func WithVariables(vars map[string]any) ParserOption {
	return func(p *Parser) { maps.Copy(p.variables, vars) }
}

// WithBreakers guards every role node invoker with the breaker named
// after its agent.
func WithBreakers(b *workflow.Breakers) ParserOption {
	return func(p *Parser) { p.breakers = b }
}

// WithTokenCounter measures agent context windows. The default is a
// cl100k_base tiktoken counter.
func WithTokenCounter(c workflow.TokenCounter) ParserOption {
	return func(p *Parser) { p.counter = c }
}

// WithParserLogger sets the logger handed to built nodes.
func WithParserLogger(l *zap.Logger) ParserOption {
	return func(p *Parser) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewParser 创建 DSL 解析器
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{
		invokers:  make(map[string]workflow.Invoker),
		factories: make(map[string]NodeFactory),
		variables: make(map[string]any),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("component", "dsl"))
	if p.counter == nil {
		p.counter = tokenizer.NewTiktoken(tokenizer.DefaultEncoding, p.logger)
	}
	return p
}

// RegisterInvoker 注册命名调用器，供 agents.<name>.invoker 引用
func (p *Parser) RegisterInvoker(name string, inv workflow.Invoker) {
	p.invokers[name] = inv
}

// RegisterNode 注册自定义节点类型
func (p *Parser) RegisterNode(nodeType string, factory NodeFactory) {
	p.factories[nodeType] = factory
}

// ParseFile 从文件解析 DSL
func (p *Parser) ParseFile(filename string) (*Workflow, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read DSL file: %w", err)
	}
	return p.Parse(data)
}

// Parse 从 YAML 字节解析 DSL
func (p *Parser) Parse(data []byte) (*Workflow, error) {
	var dsl WorkflowDSL
	if err := yaml.Unmarshal(data, &dsl); err != nil {
		return nil, types.NewError(types.ErrInvalidInput, "parse YAML").WithCause(err)
	}

	// 1. 解析变量
	vars := p.resolveVariables(dsl.Variables)

	// 2. 验证 DSL
	if err := p.validate(&dsl, vars); err != nil {
		return nil, err
	}

	// 3. 构建规则与图
	rules := buildRules(dsl.Rules)
	b := &builder{parser: p, dsl: &dsl, vars: vars, rules: rules, limiters: make(map[string]*rate.Limiter)}
	graph, err := b.buildGraph(dsl.Nodes)
	if err != nil {
		return nil, fmt.Errorf("build graph: %w", err)
	}
	if err := graph.Validate(); err != nil {
		return nil, err
	}

	raci := make(map[string]workflow.RACIAssignment, len(dsl.RACI))
	for task, def := range dsl.RACI {
		raci[task] = workflow.RACIAssignment(def)
	}

	p.logger.Debug("workflow parsed",
		zap.String("name", dsl.Name),
		zap.Int("nodes", len(graph.Nodes())),
	)
	return &Workflow{
		Name:        dsl.Name,
		Description: dsl.Description,
		Entry:       dsl.Entry,
		Graph:       graph,
		Rules:       rules,
		RACI:        raci,
		Variables:   vars,
		Metadata:    dsl.Metadata,
	}, nil
}

// validate 验证 DSL
func (p *Parser) validate(dsl *WorkflowDSL, vars map[string]any) error {
	custom := make([]string, 0, len(p.factories))
	for t := range p.factories {
		custom = append(custom, t)
	}
	errs := NewValidator(custom...).Validate(dsl)
	errs = append(errs, validateVariables(dsl.Variables, vars)...)
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return types.NewError(types.ErrTopology, "validation errors: "+strings.Join(msgs, "; ")).
		WithCause(errors.Join(errs...))
}

// resolveVariables 解析变量默认值，再应用覆盖值
func (p *Parser) resolveVariables(defs map[string]VariableDef) map[string]any {
	vars := make(map[string]any, len(defs))
	for name, def := range defs {
		if def.Default != nil {
			vars[name] = def.Default
		}
	}
	maps.Copy(vars, p.variables)
	return vars
}

func buildRules(def *RulesDef) *workflow.RuleEngine {
	engine := workflow.NewRuleEngine()
	if def == nil {
		return engine
	}
	if def.MaxSteps > 0 {
		engine.Add(workflow.MaxStepsRule(def.MaxSteps))
	}
	if def.CostLimit > 0 {
		engine.Add(workflow.CostLimitRule(def.CostLimit))
	}
	if len(def.ForbiddenPhrases) > 0 {
		engine.Add(workflow.ForbiddenPhraseRule(def.ForbiddenPhrases...))
	}
	if def.RequireRACI {
		engine.Add(workflow.RACIConfigRule())
	}
	return engine
}

// =============================================================================
// Graph builder
// =============================================================================

type builder struct {
	parser   *Parser
	dsl      *WorkflowDSL
	vars     map[string]any
	rules    *workflow.RuleEngine
	limiters map[string]*rate.Limiter
}

// buildGraph 从节点定义构建 Graph
func (b *builder) buildGraph(nodes []NodeDef) (*workflow.Graph, error) {
	g := workflow.NewGraph()
	for i := range nodes {
		def := &nodes[i]
		fn, err := b.buildNode(def)
		if err != nil {
			return nil, fmt.Errorf("build node %s: %w", def.ID, err)
		}
		if def.Task != "" {
			fn = withTask(def.Task, fn)
		}
		if def.RouteBy != "" && def.Retry != nil {
			decide, err := routeByDecider(def.RouteBy)
			if err != nil {
				return nil, fmt.Errorf("route node %s: %w", def.ID, err)
			}
			fn = retryCounter(def).Track(fn, decide, def.Retry.On)
		}
		g.AddNode(def.ID, fn)
		if err := b.addRoutes(g, def); err != nil {
			return nil, fmt.Errorf("route node %s: %w", def.ID, err)
		}
	}
	return g, nil
}

// buildNode 构建单个节点
func (b *builder) buildNode(def *NodeDef) (workflow.NodeFunc, error) {
	p := b.parser
	logger := p.logger.With(zap.String("node", def.ID))

	switch def.Type {
	case NodeRole:
		agent := b.dsl.Agents[def.Agent]
		inv := p.defaultInvoker
		if agent.Invoker != "" {
			named, ok := p.invokers[agent.Invoker]
			if !ok {
				return nil, fmt.Errorf("invoker %q is not registered", agent.Invoker)
			}
			inv = named
		}
		if inv == nil {
			return nil, fmt.Errorf("no invoker for agent %q", def.Agent)
		}
		if p.breakers != nil {
			inv = workflow.GuardInvoker(inv, p.breakers.Get(def.Agent))
		}
		if agent.RateLimit != nil {
			inv = workflow.LimitInvoker(inv, b.limiter(def.Agent, agent.RateLimit))
		}
		taskKey := def.TaskKey
		if taskKey == "" {
			taskKey = def.ID + "_task"
		}
		var opts []workflow.RoleOption
		if def.Prompt != "" {
			opts = append(opts, workflow.WithFallbackPrompt(interpolate(def.Prompt, b.vars)))
		}
		if agent.SystemPrompt != "" {
			opts = append(opts, workflow.WithSystemPrompt(interpolate(agent.SystemPrompt, b.vars)))
		}
		if cw := agent.ContextWindow; cw != nil {
			opts = append(opts, workflow.WithContextWindow(workflow.NewContextWindow(cw.MaxTokens, p.counter)))
			if cw.Summarize {
				opts = append(opts, workflow.WithSummarizer(workflow.NewSummarizer(inv)))
			}
		}
		return workflow.RoleNode(def.Agent, taskKey, inv, opts...), nil

	case NodeTool:
		if p.tools == nil {
			return nil, fmt.Errorf("tool node requires a tool registry")
		}
		return workflow.ToolNode(p.tools, logger), nil

	case NodeGovernance:
		return workflow.GovernanceNode(b.rules), nil

	case NodeDecision:
		return workflow.DecisionNode(def.Accountable, logger), nil

	case NodeInform:
		return workflow.InformNode(p.notifier, logger), nil

	case NodeSubGraph:
		inner, err := b.buildGraph(def.SubGraph.Nodes)
		if err != nil {
			return nil, fmt.Errorf("build subgraph: %w", err)
		}
		sg := workflow.NewSubGraph(def.ID, inner, def.SubGraph.Entry,
			workflow.WithLogger(p.logger),
			workflow.WithMaxHops(def.SubGraph.MaxHops),
		)
		return sg.Node(), nil

	case NodePassthrough:
		return func(context.Context, *workflow.State) (workflow.NodeResult, error) {
			return workflow.Unchanged(), nil
		}, nil
	}

	factory, ok := p.factories[def.Type]
	if !ok {
		return nil, fmt.Errorf("unknown node type: %s", def.Type)
	}
	return factory(*def)
}

// addRoutes 添加静态边或条件边
func (b *builder) addRoutes(g *workflow.Graph, def *NodeDef) error {
	switch {
	case def.Next != "":
		g.AddEdge(def.ID, def.Next)

	case def.Condition != "":
		cond, err := Compile(def.Condition)
		if err != nil {
			return err
		}
		onFalse := def.OnFalse
		if onFalse == "" {
			onFalse = workflow.End
		}
		g.AddConditionalEdge(def.ID,
			map[string]string{"true": def.OnTrue, "false": onFalse},
			func(s *workflow.State) string {
				if cond.Eval(StateVars(s)) {
					return "true"
				}
				return "false"
			})

	case def.RouteBy != "":
		decide, err := routeByDecider(def.RouteBy)
		if err != nil {
			return err
		}
		if r := def.Retry; r != nil {
			decide = retryCounter(def).Router(decide, r.On, r.Exhausted)
		}
		g.AddConditionalEdge(def.ID, def.Paths, decide)
	}
	return nil
}

// routeByDecider 将 route_by 表达式的值作为路由标签
func routeByDecider(expr string) (workflow.DecisionFunc, error) {
	key, err := Compile(expr)
	if err != nil {
		return nil, err
	}
	return func(s *workflow.State) string {
		v := key.Value(StateVars(s))
		if v == nil {
			return ""
		}
		return fmt.Sprint(v)
	}, nil
}

// retryCounter 返回节点的重试计数器，计数器键默认 <id>_retries
func retryCounter(def *NodeDef) workflow.RetryCounter {
	counter := workflow.RetryCounter{Key: def.Retry.Key, Max: def.Retry.Max}
	if counter.Key == "" {
		counter.Key = def.ID + "_retries"
	}
	return counter
}

// limiter returns the agent's shared token bucket.
func (b *builder) limiter(agent string, def *RateLimitDef) *rate.Limiter {
	if l, ok := b.limiters[agent]; ok {
		return l
	}
	burst := def.Burst
	if burst <= 0 {
		burst = 1
	}
	l := rate.NewLimiter(rate.Limit(def.RPS), burst)
	b.limiters[agent] = l
	return l
}

// withTask records task as the current RACI task before fn runs.
func withTask(task string, fn workflow.NodeFunc) workflow.NodeFunc {
	return func(ctx context.Context, s *workflow.State) (workflow.NodeResult, error) {
		if s.Extra == nil {
			s.Extra = make(map[string]any)
		}
		s.Extra[workflow.KeyCurrentTask] = task
		return fn(ctx, s)
	}
}

// interpolate 变量插值（替换 ${var_name}）
func interpolate(template string, vars map[string]any) string {
	result := template
	for name, value := range vars {
		result = strings.ReplaceAll(result, "${"+name+"}", fmt.Sprintf("%v", value))
	}
	return result
}
