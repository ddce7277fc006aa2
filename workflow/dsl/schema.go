package dsl

// WorkflowDSL 工作流 DSL 顶层结构
type WorkflowDSL struct {
	// Version DSL 版本
	Version string `yaml:"version" json:"version"`
	// Name 工作流名称
	Name string `yaml:"name" json:"name"`
	// Description 工作流描述
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	// Entry 入口节点
	Entry string `yaml:"entry" json:"entry"`

	// Variables 全局变量定义，可在 prompt 中以 ${name} 引用
	Variables map[string]VariableDef `yaml:"variables,omitempty" json:"variables,omitempty"`

	// Agents 角色定义（persona 与调用器）
	Agents map[string]AgentDef `yaml:"agents,omitempty" json:"agents,omitempty"`

	// Rules 治理规则，governance 节点使用
	Rules *RulesDef `yaml:"rules,omitempty" json:"rules,omitempty"`

	// RACI 任务分工矩阵，写入初始状态
	RACI map[string]RACIDef `yaml:"raci,omitempty" json:"raci,omitempty"`

	// Nodes 节点定义
	Nodes []NodeDef `yaml:"nodes" json:"nodes"`

	// Metadata 元数据
	Metadata map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// VariableDef 变量定义
type VariableDef struct {
	Type        string `yaml:"type,omitempty" json:"type,omitempty"` // string, int, float, bool
	Default     any    `yaml:"default,omitempty" json:"default,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`
}

// AgentDef 角色定义
type AgentDef struct {
	SystemPrompt string `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	// Invoker 引用 Parser 中注册的调用器，为空时使用默认调用器
	Invoker string `yaml:"invoker,omitempty" json:"invoker,omitempty"`
	// RateLimit 限制该角色的调用频率，同一角色的所有节点共享
	RateLimit *RateLimitDef `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`
	// ContextWindow 限制传给调用器的历史消息 token 数
	ContextWindow *ContextWindowDef `yaml:"context_window,omitempty" json:"context_window,omitempty"`
}

// ContextWindowDef 上下文窗口参数
type ContextWindowDef struct {
	MaxTokens int  `yaml:"max_tokens" json:"max_tokens"`
	Summarize bool `yaml:"summarize,omitempty" json:"summarize,omitempty"` // 被淘汰的历史压缩为摘要
}

// RateLimitDef 令牌桶参数
type RateLimitDef struct {
	RPS   float64 `yaml:"rps" json:"rps"`
	Burst int     `yaml:"burst,omitempty" json:"burst,omitempty"` // 默认 1
}

// RulesDef 内置治理规则
type RulesDef struct {
	MaxSteps         int      `yaml:"max_steps,omitempty" json:"max_steps,omitempty"`
	CostLimit        float64  `yaml:"cost_limit,omitempty" json:"cost_limit,omitempty"`
	ForbiddenPhrases []string `yaml:"forbidden_phrases,omitempty" json:"forbidden_phrases,omitempty"`
	RequireRACI      bool     `yaml:"require_raci,omitempty" json:"require_raci,omitempty"`
}

// RACIDef 单个任务的分工
type RACIDef struct {
	Responsible []string `yaml:"responsible,omitempty" json:"responsible,omitempty"`
	Accountable string   `yaml:"accountable,omitempty" json:"accountable,omitempty"`
	Consulted   []string `yaml:"consulted,omitempty" json:"consulted,omitempty"`
	Informed    []string `yaml:"informed,omitempty" json:"informed,omitempty"`
}

// Node types understood without registration.
const (
	NodeRole        = "role"
	NodeTool        = "tool"
	NodeGovernance  = "governance"
	NodeDecision    = "decision"
	NodeInform      = "inform"
	NodeSubGraph    = "subgraph"
	NodePassthrough = "passthrough"
)

// NodeDef 节点定义
//
// 路由三选一：next（静态边）、condition + on_true/on_false、route_by + paths。
type NodeDef struct {
	ID   string `yaml:"id" json:"id"`
	Type string `yaml:"type" json:"type"`

	// role 节点
	Agent   string `yaml:"agent,omitempty" json:"agent,omitempty"`
	TaskKey string `yaml:"task_key,omitempty" json:"task_key,omitempty"` // 默认 <id>_task
	Prompt  string `yaml:"prompt,omitempty" json:"prompt,omitempty"`     // 兜底 prompt，支持 ${variable}

	// Task 节点负责的 RACI 任务，执行前写入 current_task
	Task string `yaml:"task,omitempty" json:"task,omitempty"`

	// decision 节点
	Accountable string `yaml:"accountable,omitempty" json:"accountable,omitempty"`

	// subgraph 节点
	SubGraph *SubGraphDef `yaml:"subgraph,omitempty" json:"subgraph,omitempty"`

	// 路由
	Next      string            `yaml:"next,omitempty" json:"next,omitempty"`
	Condition string            `yaml:"condition,omitempty" json:"condition,omitempty"`
	OnTrue    string            `yaml:"on_true,omitempty" json:"on_true,omitempty"`
	OnFalse   string            `yaml:"on_false,omitempty" json:"on_false,omitempty"` // 默认 END
	RouteBy   string            `yaml:"route_by,omitempty" json:"route_by,omitempty"`
	Paths     map[string]string `yaml:"paths,omitempty" json:"paths,omitempty"`
	Retry     *RetryDef         `yaml:"retry,omitempty" json:"retry,omitempty"`

	// Config 自定义节点工厂的参数
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// SubGraphDef 子图定义
type SubGraphDef struct {
	Entry   string    `yaml:"entry" json:"entry"`
	MaxHops int       `yaml:"max_hops,omitempty" json:"max_hops,omitempty"`
	Nodes   []NodeDef `yaml:"nodes" json:"nodes"`
}

// RetryDef 限制 route_by 回路的重试次数
type RetryDef struct {
	Key       string `yaml:"key,omitempty" json:"key,omitempty"` // 计数器键，默认 <id>_retries
	Max       int    `yaml:"max" json:"max"`
	On        string `yaml:"on" json:"on"`               // 视为重试的标签
	Exhausted string `yaml:"exhausted" json:"exhausted"` // 次数用尽后改用的标签
}
