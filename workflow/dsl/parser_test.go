package dsl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/rheo/tools"
	"github.com/BaSui01/rheo/types"
	"github.com/BaSui01/rheo/workflow"
)

const reviewLoop = `
version: "1"
name: review-loop
entry: plan
variables:
  audience:
    default: engineers
agents:
  planner:
    system_prompt: "Plan for ${audience}."
  reviewer:
    invoker: strict
rules:
  max_steps: 50
  forbidden_phrases: ["I guess"]
raci:
  implement:
    responsible: [planner]
    accountable: lead
    informed: [pm]
nodes:
  - id: plan
    type: role
    agent: planner
    task: implement
    prompt: "Draft a plan for ${audience}"
    next: review
  - id: review
    type: role
    agent: reviewer
    next: govern
  - id: govern
    type: governance
    route_by: verdict
    paths:
      rejected: plan
      approved: notify
      give_up: END
    retry:
      max: 2
      on: rejected
      exhausted: give_up
  - id: notify
    type: inform
    next: END
`

type scriptedInvoker struct {
	replies []string
	prompts []string
}

func (s *scriptedInvoker) Invoke(_ context.Context, prompt string, _ []workflow.Message) (string, error) {
	s.prompts = append(s.prompts, prompt)
	if len(s.replies) == 0 {
		return "ok", nil
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

// verdictNode is a custom node type that writes the scripted verdicts into
// shared_context["verdict"], repeating the last one.
func verdictNode(verdicts ...string) NodeFactory {
	return func(NodeDef) (workflow.NodeFunc, error) {
		i := 0
		return func(_ context.Context, s *workflow.State) (workflow.NodeResult, error) {
			v := verdicts[len(verdicts)-1]
			if i < len(verdicts) {
				v = verdicts[i]
			}
			i++
			s.SetContext("verdict", v)
			return workflow.Unchanged(), nil
		}, nil
	}
}

func TestParse_ReviewLoopRuns(t *testing.T) {
	planner := &scriptedInvoker{}
	reviewer := &scriptedInvoker{}
	var notified []string

	p := NewParser(
		WithDefaultInvoker(planner),
		WithNotifier(func(_ context.Context, to, task, _ string) error {
			notified = append(notified, to+":"+task)
			return nil
		}),
		WithParserLogger(zaptest.NewLogger(t)),
	)
	p.RegisterInvoker("strict", workflow.InvokerFunc(func(ctx context.Context, prompt string, h []workflow.Message) (string, error) {
		return reviewer.Invoke(ctx, prompt, h)
	}))

	wf, err := p.Parse([]byte(reviewLoop))
	require.NoError(t, err)
	assert.Equal(t, "review-loop", wf.Name)
	assert.Equal(t, "plan", wf.Entry)
	assert.Len(t, wf.Rules.Rules(), 2)
	assert.Equal(t, "engineers", wf.Variables["audience"])

	s := wf.NewState("ship the feature")
	s.SetContext("verdict", "approved")
	_, err = workflow.NewScheduler(wf.Graph).Run(context.Background(), s, wf.Entry)
	require.NoError(t, err)

	assert.Empty(t, s.Errors)
	require.Len(t, planner.prompts, 1)
	assert.Equal(t, "Plan for engineers.\n\nDraft a plan for engineers", planner.prompts[0])
	require.Len(t, reviewer.prompts, 1)
	assert.Equal(t, "ship the feature", reviewer.prompts[0])
	assert.Equal(t, []string{"pm:implement"}, notified)
	assert.Equal(t, "implement", s.Extra[workflow.KeyCurrentTask])
}

func TestParse_RetryExhaustion(t *testing.T) {
	doc := `
version: "1"
name: retry
entry: work
nodes:
  - id: work
    type: judge
    route_by: verdict
    paths:
      rejected: work
      give_up: END
    retry:
      max: 3
      on: rejected
      exhausted: give_up
`
	p := NewParser()
	p.RegisterNode("judge", verdictNode("rejected"))
	wf, err := p.Parse([]byte(doc))
	require.NoError(t, err)

	s := wf.NewState("x")
	_, err = workflow.NewScheduler(wf.Graph, workflow.WithMaxHops(20)).Run(context.Background(), s, wf.Entry)
	require.NoError(t, err)
	assert.Empty(t, s.Errors)
	assert.Equal(t, 3, s.SharedContext["work_retries"])
}

func TestParse_ConditionAndSubgraph(t *testing.T) {
	doc := `
version: "1"
name: cond
entry: gate
nodes:
  - id: gate
    type: passthrough
    condition: 'priority > 2 && extra.current_task == nil'
    on_true: urgent
  - id: urgent
    type: subgraph
    subgraph:
      entry: first
      nodes:
        - id: first
          type: role
          agent: triage
          next: second
        - id: second
          type: role
          agent: fixer
`
	inv := &scriptedInvoker{replies: []string{"triaged", "fixed"}}
	p := NewParser(WithDefaultInvoker(inv))
	wf, err := p.Parse([]byte(doc))
	require.NoError(t, err)

	low := wf.NewState("x", workflow.WithInitialContext(map[string]any{"priority": 1}))
	_, err = workflow.NewScheduler(wf.Graph).Run(context.Background(), low, wf.Entry)
	require.NoError(t, err)
	assert.Len(t, low.Messages, 1)

	high := wf.NewState("x", workflow.WithInitialContext(map[string]any{"priority": 5}))
	_, err = workflow.NewScheduler(wf.Graph).Run(context.Background(), high, wf.Entry)
	require.NoError(t, err)
	require.Len(t, high.Messages, 3)
	assert.Equal(t, "triage", high.Messages[1].Agent)
	assert.Equal(t, "fixed", high.Messages[2].Content)
}

func TestParse_ToolNode(t *testing.T) {
	doc := `
version: "1"
name: tools
entry: call
nodes:
  - id: call
    type: tool
`
	_, err := NewParser().Parse([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool registry")

	reg := tools.NewRegistry(nil)
	reg.Register(tools.NewFunc("echo", "", func(_ context.Context, args map[string]any) (string, error) {
		return args["text"].(string), nil
	}))
	wf, err := NewParser(WithTools(reg)).Parse([]byte(doc))
	require.NoError(t, err)

	s := wf.NewState("x")
	s.AppendMessage(workflow.Message{Role: workflow.RoleAI, ToolCalls: []workflow.ToolCall{{ID: "1", Name: "echo", Args: map[string]any{"text": "pong"}}}})
	_, err = workflow.NewScheduler(wf.Graph).Run(context.Background(), s, wf.Entry)
	require.NoError(t, err)
	last, _ := s.LastMessage()
	assert.Equal(t, "pong", last.Content)
}

func TestParse_ValidationCollectsErrors(t *testing.T) {
	doc := `
name: ""
entry: missing
agents:
  planner: {}
nodes:
  - id: a
    type: role
    agent: ghost
    prompt: "${undefined}"
    next: nowhere
  - id: a
    type: bogus
  - id: b
    type: decision
    condition: "x >"
    route_by: y
  - id: g
    type: governance
`
	_, err := NewParser().Parse([]byte(doc))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrTopology))

	msg := err.Error()
	for _, want := range []string{
		"version is required",
		"name is required",
		`entry node "missing" does not exist`,
		"duplicate node ID: a",
		`node a: agent "ghost" not found in agents`,
		`node a: variable "undefined" referenced in prompt not defined`,
		`node a: next node "nowhere" does not exist`,
		`node a: invalid type "bogus"`,
		"node b: decision node requires accountable",
		"node b: only one of next, condition and route_by may be set",
		"node b: route_by requires paths",
		"node g: governance node requires rules",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestParse_RequiredVariables(t *testing.T) {
	doc := `
version: "1"
name: vars
entry: a
variables:
  repo:
    required: true
nodes:
  - id: a
    type: role
    agent: dev
    prompt: "work on ${repo}"
`
	inv := &scriptedInvoker{}
	_, err := NewParser(WithDefaultInvoker(inv)).Parse([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `variable "repo" is required`)

	wf, err := NewParser(WithDefaultInvoker(inv), WithVariables(map[string]any{"repo": "rheo"})).Parse([]byte(doc))
	require.NoError(t, err)
	_, err = workflow.NewScheduler(wf.Graph).Run(context.Background(), wf.NewState("x"), wf.Entry)
	require.NoError(t, err)
	assert.Equal(t, []string{"work on rheo"}, inv.prompts[:1])
}

func TestParse_BreakersSharedPerAgent(t *testing.T) {
	doc := `
version: "1"
name: breaker
entry: a
nodes:
  - id: a
    type: role
    agent: dev
    next: b
  - id: b
    type: role
    agent: dev
`
	calls := 0
	failing := workflow.InvokerFunc(func(context.Context, string, []workflow.Message) (string, error) {
		calls++
		return "", errors.New("overloaded")
	})
	set := workflow.NewBreakers(workflow.BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour}, nil, nil)
	wf, err := NewParser(WithDefaultInvoker(failing), WithBreakers(set)).Parse([]byte(doc))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		s := wf.NewState("x")
		_, err = workflow.NewScheduler(wf.Graph).Run(context.Background(), s, wf.Entry)
		require.NoError(t, err)
		require.Len(t, s.Errors, 1)
	}
	assert.Equal(t, 1, calls)
	assert.Equal(t, workflow.BreakerOpen, set.States()["dev"])
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := NewParser().Parse([]byte("nodes: [unclosed"))
	assert.True(t, types.IsCode(err, types.ErrInvalidInput))
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wf.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.TrimSpace(`
version: "1"
name: file
entry: only
nodes:
  - id: only
    type: passthrough
`)), 0o600))

	wf, err := NewParser().ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, wf.Graph.Nodes())

	_, err = NewParser().ParseFile(filepath.Join(t.TempDir(), "none.yaml"))
	assert.Error(t, err)
}

func TestParse_RateLimitPerAgent(t *testing.T) {
	doc := `
version: "1"
name: limited
entry: a
agents:
  dev:
    rate_limit:
      rps: 0.001
nodes:
  - id: a
    type: role
    agent: dev
    next: b
  - id: b
    type: role
    agent: dev
`
	inv := &scriptedInvoker{}
	wf, err := NewParser(WithDefaultInvoker(inv)).Parse([]byte(doc))
	require.NoError(t, err)

	// 第一次调用消耗唯一的令牌，第二次等待远超截止时间
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s := wf.NewState("x")
	_, err = workflow.NewScheduler(wf.Graph).Run(ctx, s, wf.Entry)
	require.NoError(t, err)
	assert.Len(t, inv.prompts, 1)
	require.Len(t, s.Errors, 1)
	assert.Contains(t, s.Errors[0], "RATE_LIMITED")

	bad := strings.Replace(doc, "rps: 0.001", "rps: 0", 1)
	_, err = NewParser(WithDefaultInvoker(inv)).Parse([]byte(bad))
	assert.ErrorContains(t, err, "agent dev: rate_limit.rps must be positive")
}

// byteCounter counts content bytes and ignores role names.
type byteCounter struct{}

func (byteCounter) CountTokens(text string) int {
	if text == workflow.RoleHuman || text == workflow.RoleAI || text == workflow.RoleSystem {
		return 0
	}
	return len(text)
}

func TestParse_ContextWindowPerAgent(t *testing.T) {
	doc := `
version: "1"
name: window
entry: a
agents:
  dev:
    context_window:
      max_tokens: 12
      summarize: true
nodes:
  - id: a
    type: role
    agent: dev
`
	var calls [][]workflow.Message
	var prompts []string
	inv := workflow.InvokerFunc(func(_ context.Context, prompt string, h []workflow.Message) (string, error) {
		prompts = append(prompts, prompt)
		calls = append(calls, h)
		return "recap", nil
	})
	wf, err := NewParser(WithDefaultInvoker(inv), WithTokenCounter(byteCounter{})).Parse([]byte(doc))
	require.NoError(t, err)

	s := wf.NewState("old request")
	s.AppendMessage(workflow.Message{Role: workflow.RoleHuman, Content: "new"})
	_, err = workflow.NewScheduler(wf.Graph).Run(context.Background(), s, wf.Entry)
	require.NoError(t, err)

	// 第一次调用生成摘要，第二次才是角色调用
	require.Len(t, calls, 2)
	assert.Contains(t, prompts[0], "human: old request")
	assert.Equal(t, []workflow.Message{workflow.SummaryMessage("recap"), {Role: workflow.RoleHuman, Content: "new"}}, calls[1])

	bad := strings.Replace(doc, "max_tokens: 12", "max_tokens: 0", 1)
	_, err = NewParser(WithDefaultInvoker(inv)).Parse([]byte(bad))
	assert.ErrorContains(t, err, "agent dev: context_window.max_tokens must be positive")
}
