package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/rheo/types"
)

type recordingInvoker struct {
	prompts []string
	reply   string
	err     error
}

func (r *recordingInvoker) Invoke(_ context.Context, prompt string, _ []Message) (string, error) {
	r.prompts = append(r.prompts, prompt)
	return r.reply, r.err
}

func TestRoleNode_PromptSources(t *testing.T) {
	inv := &recordingInvoker{reply: "the plan"}
	node := RoleNode("planner", "planning_task", inv, WithSystemPrompt("You plan."))

	s := NewState("build a CLI")
	require.NoError(t, runNode(t, node, s))
	assert.Equal(t, "You plan.\n\nbuild a CLI", inv.prompts[0], "falls back to the user request")

	last, _ := s.LastMessage()
	assert.Equal(t, Message{Role: RoleAI, Content: "the plan", Agent: "planner"}, last)
	assert.Equal(t, "the plan", s.SharedContext["planning_task_result"])
	assert.Equal(t, "build a CLI", s.SharedContext["user_request"])

	s.SetContext("planning_task", "  plan the parser ")
	require.NoError(t, runNode(t, node, s))
	assert.Equal(t, "You plan.\n\nplan the parser", inv.prompts[1])
}

func TestRoleNode_FallbackPrompt(t *testing.T) {
	inv := &recordingInvoker{reply: "ok"}
	node := RoleNode("reviewer", "review_task", inv, WithFallbackPrompt("review the latest output"))
	require.NoError(t, runNode(t, node, NewState("x")))
	assert.Equal(t, "review the latest output", inv.prompts[0])
}

func TestRoleNode_PromptTooLong(t *testing.T) {
	inv := &recordingInvoker{}
	node := RoleNode("r", "task", inv, WithMaxPromptLen(10))
	s := NewState(strings.Repeat("a", 11))
	_, err := node(context.Background(), s)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInvalidInput))
	assert.Empty(t, inv.prompts)
}

func TestRoleNode_InvokerError(t *testing.T) {
	node := RoleNode("r", "task", &recordingInvoker{err: errors.New("rate limited")})
	_, err := node(context.Background(), NewState("x"))
	assert.EqualError(t, err, "role r: rate limited")
}

func TestDecisionNode(t *testing.T) {
	node := DecisionNode("lead", zaptest.NewLogger(t))

	s := NewState("x", WithInitialContext(map[string]any{"verdict": VerdictApproved}))
	require.NoError(t, runNode(t, node, s))
	assert.Equal(t, End, s.NextStep)
	assert.Equal(t, "lead", s.SharedContext[KeyDecisionBy])
	require.Len(t, s.Messages, 2)
	assert.Equal(t, Message{Role: RoleAI, Agent: "lead", Content: "Decision by lead: approved"}, s.Messages[1])

	s = NewState("x", WithInitialContext(map[string]any{"verdict": VerdictRejected}))
	require.NoError(t, runNode(t, node, s))
	assert.Equal(t, "START", s.NextStep)
	last, _ := s.LastMessage()
	assert.Equal(t, "Decision by lead: rejected", last.Content)

	s.Extra = map[string]any{KeyCurrentTask: "implement"}
	require.NoError(t, runNode(t, node, s))
	assert.Equal(t, "implement", s.NextStep)
}

func TestDecisionNode_DrivesRework(t *testing.T) {
	var attempts int
	g := NewGraph().
		AddNode("implement", func(_ context.Context, s *State) (NodeResult, error) {
			attempts++
			verdict := VerdictRejected
			if attempts == 2 {
				verdict = VerdictApproved
			}
			s.SetContext("verdict", verdict)
			return Merge(Delta{KeyCurrentTask: "implement"}), nil
		}).
		AddNode("decide", DecisionNode("lead", nil)).
		AddEdge("implement", "decide").
		AddConditionalEdge("decide", map[string]string{"implement": "implement", End: End}, NextStepRouter)

	s := NewState("x")
	_, err := NewScheduler(g, WithMaxHops(10)).Run(context.Background(), s, "implement")
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Empty(t, s.Errors)
}

func TestInformNode(t *testing.T) {
	type note struct{ to, task, content string }
	var notes []note
	notify := func(_ context.Context, to, task, content string) error {
		notes = append(notes, note{to, task, content})
		return nil
	}
	node := InformNode(notify, zaptest.NewLogger(t))

	s := NewState("x")
	require.NoError(t, runNode(t, node, s))
	assert.Empty(t, notes, "no current task")

	s.Extra = map[string]any{
		KeyCurrentTask: "deploy",
		KeyRACIConfig: map[string]RACIAssignment{
			"deploy": {Responsible: []string{"ops"}, Accountable: "lead", Informed: []string{"pm", "qa"}},
		},
	}
	s.AppendMessage(Message{Role: RoleAI, Content: "deployed v2"})
	require.NoError(t, runNode(t, node, s))
	assert.Equal(t, []note{{"pm", "deploy", "deployed v2"}, {"qa", "deploy", "deployed v2"}}, notes)

	// 通知失败只记录日志，其余接收者照常通知
	var reached []string
	flaky := InformNode(func(_ context.Context, to, _, _ string) error {
		reached = append(reached, to)
		if to == "pm" {
			return errors.New("offline")
		}
		return nil
	}, zaptest.NewLogger(t))
	require.NoError(t, runNode(t, flaky, s))
	assert.Equal(t, []string{"pm", "qa"}, reached)
}

func TestRetryCounter_TrackAndRoute(t *testing.T) {
	rc := RetryCounter{Key: "retries", Max: 2}
	decide := func(*State) string { return "retry" }
	node := rc.Track(func(context.Context, *State) (NodeResult, error) {
		return Merge(Delta{KeyNextStep: "again"}), nil
	}, decide, "retry")
	router := rc.Router(decide, "retry", "give_up")
	s := NewState("x")

	var labels []string
	for i := 0; i < 3; i++ {
		require.NoError(t, runNode(t, node, s))
		assert.Equal(t, "again", s.NextStep)
		labels = append(labels, router(s), router(s))
	}
	assert.Equal(t, []string{"retry", "retry", "retry", "retry", "give_up", "give_up"}, labels, "routing has no side effects")
	assert.Equal(t, 2, rc.Count(s))
	assert.True(t, rc.Exhausted(s))

	rc.Reset(s)
	assert.Zero(t, rc.Count(s))
	assert.Equal(t, "retry", router(s))

	passthrough := rc.Track(func(context.Context, *State) (NodeResult, error) { return Unchanged(), nil },
		func(*State) string { return "done" }, "retry")
	require.NoError(t, runNode(t, passthrough, s))
	assert.Zero(t, rc.Count(s))
}

func TestRetryCounter_CheckpointSeesCount(t *testing.T) {
	rc := RetryCounter{Key: "work_retries", Max: 2}
	decide := func(*State) string { return VerdictRejected }
	g := NewGraph().
		AddNode("work", rc.Track(func(context.Context, *State) (NodeResult, error) { return Unchanged(), nil }, decide, VerdictRejected)).
		AddConditionalEdge("work", map[string]string{VerdictRejected: "work", "give_up": End}, rc.Router(decide, VerdictRejected, "give_up"))

	var saved []int
	cp := CheckpointerFunc(func(_ context.Context, s *State) error {
		saved = append(saved, rc.Count(s))
		return nil
	})
	s := NewState("x")
	_, err := NewScheduler(g, WithCheckpointer(cp), WithMaxHops(10)).Run(context.Background(), s, "work")
	require.NoError(t, err)
	assert.Empty(t, s.Errors)
	assert.Equal(t, []int{1, 2, 2}, saved)
	assert.Equal(t, true, s.Extra["work_retries_exhausted"])
}

// runNode runs a node and applies its result the way the scheduler does.
func runNode(t *testing.T, node NodeFunc, s *State) error {
	t.Helper()
	res, err := node(context.Background(), s)
	if err != nil {
		return err
	}
	return res.applyTo(s)
}
