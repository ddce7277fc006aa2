package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/BaSui01/rheo/internal/metrics"
)

// =============================================================================
// Message
// =============================================================================

func TestMessage_Constructors(t *testing.T) {
	req := NewRequest("user", "coordinator", "hello").WithMetadata(MetaIntent, "billing")
	assert.Equal(t, MessageRequest, req.Type)
	assert.NotEmpty(t, req.ID)
	assert.Empty(t, req.CorrelationID)
	intent, ok := req.MetaString(MetaIntent)
	assert.True(t, ok)
	assert.Equal(t, "billing", intent)

	resp := NewResponse(req, "coordinator", "done")
	assert.Equal(t, MessageResponse, resp.Type)
	assert.Equal(t, "user", resp.Receiver)
	assert.Equal(t, req.ID, resp.CorrelationID)
	assert.NotEqual(t, req.ID, resp.ID)

	n := NewNotification("a", "b", nil)
	assert.Equal(t, MessageNotification, n.Type)
	assert.NotNil(t, n.Metadata)
}

func TestMessage_JSON(t *testing.T) {
	req := NewRequest("user", "coordinator", map[string]any{"q": "refund"}).WithMetadata("k", "v")
	data, err := req.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message_type":"request"`)

	got, err := MessageFromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)
	assert.Equal(t, "refund", got.Content.(map[string]any)["q"])
	assert.Equal(t, "v", got.Metadata["k"])
	assert.True(t, req.CreatedAt.Equal(got.CreatedAt))

	_, err = MessageFromJSON([]byte(`{"id":"1","message_type":"shout"}`))
	assert.ErrorContains(t, err, "unknown type")
	_, err = MessageFromJSON([]byte(`{`))
	assert.Error(t, err)

	got, err = MessageFromJSON([]byte(`{"id":"1","message_type":"notification"}`))
	require.NoError(t, err)
	assert.NotNil(t, got.Metadata)
}

// =============================================================================
// Registry
// =============================================================================

func TestRegistry(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	reg := NewRegistry(zap.New(core))

	a := NewAgent("a", reg, nil)
	NewAgent("b", reg, nil)
	assert.Equal(t, []string{"a", "b"}, reg.List())

	got, ok := reg.Get("a")
	require.True(t, ok)
	assert.Same(t, a, got)

	NewAgent("a", reg, nil)
	assert.Equal(t, 1, logs.FilterMessage("agent already registered, overwriting").Len())
	got, _ = reg.Get("a")
	assert.NotSame(t, a, got)

	assert.True(t, reg.Deregister("b"))
	assert.False(t, reg.Deregister("b"))
	_, ok = reg.Get("b")
	assert.False(t, ok)

	reg.Clear()
	assert.Empty(t, reg.List())
}

// =============================================================================
// Agent
// =============================================================================

func TestAgent_SendToUnknownIsDropped(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	promReg := prometheus.NewRegistry()
	collector := metrics.NewCollector("rheo_test", promReg, zap.NewNop())

	reg := NewRegistry(nil)
	a := NewAgent("a", reg, nil, WithAgentLogger(zap.New(core)), WithAgentMetrics(collector))

	assert.False(t, a.SendTo(context.Background(), "ghost", NewRequest("a", "ghost", "x")))
	assert.Equal(t, 1, logs.FilterMessage("recipient not found, dropping message").Len())
	n, err := testutil.GatherAndCount(promReg, "rheo_test_agent_messages_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAgent_SendFillsSender(t *testing.T) {
	reg := NewRegistry(nil)
	a := NewAgent("a", reg, nil)
	b := NewAgent("b", reg, nil)

	msg := NewNotification("", "", "hi")
	require.NoError(t, a.Send(context.Background(), b, msg))
	assert.Equal(t, "a", msg.Sender)
	assert.Equal(t, "b", msg.Receiver)
	assert.Equal(t, 1, b.Pending())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, a.Send(ctx, b, NewNotification("a", "b", "late")), context.Canceled)
	assert.False(t, a.SendTo(ctx, "b", NewNotification("a", "b", "late")))
	assert.Equal(t, 1, b.Pending())
}

func TestAgent_RunContinuesAfterProcessingError(t *testing.T) {
	reg := NewRegistry(nil)
	var mu sync.Mutex
	var seen []any
	done := make(chan struct{})
	proc := ProcessorFunc(func(_ context.Context, _ *Agent, msg *Message) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, msg.Content)
		switch msg.Content {
		case "fail":
			return errors.New("boom")
		case "panic":
			panic("kaboom")
		case "last":
			close(done)
		}
		return nil
	})
	a := NewAgent("worker", reg, proc, WithAgentLogger(zaptest.NewLogger(t)))
	for _, c := range []string{"fail", "panic", "last"} {
		a.Deliver(NewNotification("t", "worker", c))
	}

	h := NewHarness(zaptest.NewLogger(t))
	h.Add(a)
	err := h.RunUntil(context.Background(), func(ctx context.Context) error {
		select {
		case <-done:
			return nil
		case <-time.After(5 * time.Second):
			return errors.New("timeout")
		}
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"fail", "panic", "last"}, seen)
}

func TestHarness_CancelsAgents(t *testing.T) {
	reg := NewRegistry(nil)
	processed := make(chan string, 10)
	a := NewAgent("a", reg, ProcessorFunc(func(_ context.Context, _ *Agent, msg *Message) error {
		processed <- msg.Content.(string)
		return nil
	}))

	h := NewHarness(nil)
	h.Add(a)
	want := errors.New("target failed")
	err := h.RunUntil(context.Background(), func(context.Context) error { return want })
	assert.ErrorIs(t, err, want)

	// 取消后的投递不再被处理
	a.Deliver(NewNotification("x", "a", "after"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, a.Pending())
	assert.Empty(t, processed)
}

// =============================================================================
// Coordinator / Specialist
// =============================================================================

func TestCoordinator_ForwardsRequestOnce(t *testing.T) {
	reg := NewRegistry(nil)
	coord := NewCoordinator(nil).Route("billing", "billing")
	self := NewAgent("coordinator", reg, coord)
	billing := NewAgent("billing", reg, nil)

	req := NewRequest("user", "coordinator", map[string]any{"amount": 10}).WithMetadata(MetaIntent, "billing")
	require.NoError(t, coord.ProcessMessage(context.Background(), self, req))

	require.Equal(t, 1, billing.Pending())
	fwd, _ := billing.mailbox.TryGet()
	assert.Equal(t, "coordinator", fwd.Sender)
	assert.Equal(t, "billing", fwd.Receiver)
	assert.Equal(t, MessageRequest, fwd.Type)
	assert.Equal(t, req.Content, fwd.Content)
	assert.Equal(t, req.ID, fwd.CorrelationID)
	assert.Equal(t, "user", fwd.Metadata[MetaReplyTo])
	assert.Equal(t, "billing", fwd.Metadata[MetaIntent])
	_, hasReplyTo := req.Metadata[MetaReplyTo]
	assert.False(t, hasReplyTo, "original metadata must not change")
	assert.Equal(t, 0, billing.Pending())
}

func TestCoordinator_DropsUnroutable(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	reg := NewRegistry(nil)
	coord := NewCoordinator(zap.New(core)).Route("billing", "billing").Route("legal", "nobody")
	self := NewAgent("coordinator", reg, coord, WithAgentLogger(zap.New(core)))
	billing := NewAgent("billing", reg, nil)

	ctx := context.Background()
	require.NoError(t, coord.ProcessMessage(ctx, self, NewRequest("user", "coordinator", "x")))
	require.NoError(t, coord.ProcessMessage(ctx, self, NewRequest("user", "coordinator", "x").WithMetadata(MetaIntent, "weather")))
	require.NoError(t, coord.ProcessMessage(ctx, self, NewRequest("user", "coordinator", "x").WithMetadata(MetaIntent, "legal")))
	require.NoError(t, coord.ProcessMessage(ctx, self, NewResponse(NewRequest("billing", "coordinator", "q"), "billing", "orphan")))
	require.NoError(t, coord.ProcessMessage(ctx, self, NewNotification("user", "coordinator", "fyi")))

	assert.Equal(t, 0, billing.Pending())
	assert.Equal(t, 1, logs.FilterMessage("request without intent, dropping").Len())
	assert.Equal(t, 1, logs.FilterMessage("no route for intent, dropping").Len())
	assert.Equal(t, 1, logs.FilterMessage("recipient not found, dropping message").Len())
	assert.Equal(t, 1, logs.FilterMessage("response without reply_to, dropping").Len())
}

func TestSpecialist_Replies(t *testing.T) {
	reg := NewRegistry(nil)
	sp := NewSpecialist("billing", nil)
	self := NewAgent("billing", reg, sp)
	caller := NewAgent("caller", reg, nil)

	req := NewRequest("caller", "billing", "refund").WithMetadata("trace", "t-1")
	require.NoError(t, sp.ProcessMessage(context.Background(), self, req))
	require.NoError(t, sp.ProcessMessage(context.Background(), self, NewNotification("caller", "billing", "ignored")))

	require.Equal(t, 1, caller.Pending())
	resp, _ := caller.mailbox.TryGet()
	assert.Equal(t, MessageResponse, resp.Type)
	assert.Equal(t, "Processed by billing specialist: refund", resp.Content)
	assert.Equal(t, req.ID, resp.CorrelationID)
	assert.Equal(t, "t-1", resp.Metadata["trace"])

	failing := NewSpecialist("legal", func(context.Context, any) (any, error) { return nil, errors.New("no lawyer") })
	err := failing.ProcessMessage(context.Background(), self, req)
	assert.ErrorContains(t, err, "legal specialist: no lawyer")
	assert.Equal(t, "legal", failing.Domain())
}

func TestRoundTrip_CorrelationSurvivesCoordinatorHop(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t))
	logger := zaptest.NewLogger(t)

	coordinator := NewAgent("coordinator", reg,
		NewCoordinator(logger).Route("billing", "billing").Route("tech", "tech"),
		WithAgentLogger(logger))
	billing := NewAgent("billing", reg, NewSpecialist("billing", nil), WithAgentLogger(logger))
	tech := NewAgent("tech", reg, NewSpecialist("tech", func(_ context.Context, c any) (any, error) {
		return strings.ToUpper(c.(string)), nil
	}), WithAgentLogger(logger))

	replies := make(chan *Message, 4)
	user := NewAgent("user", reg, ProcessorFunc(func(_ context.Context, _ *Agent, msg *Message) error {
		replies <- msg
		return nil
	}))

	h := NewHarness(logger)
	h.Add(coordinator, billing, tech, user)

	reqBilling := NewRequest("user", "coordinator", "refund please").WithMetadata(MetaIntent, "billing")
	reqTech := NewRequest("user", "coordinator", "reboot").WithMetadata(MetaIntent, "tech")

	got := map[string]*Message{}
	err := h.RunUntil(context.Background(), func(ctx context.Context) error {
		user.SendTo(ctx, "coordinator", reqBilling)
		user.SendTo(ctx, "coordinator", reqTech)
		for len(got) < 2 {
			select {
			case m := <-replies:
				got[m.CorrelationID] = m
			case <-time.After(5 * time.Second):
				return errors.New("timed out waiting for replies")
			}
		}
		return nil
	})
	require.NoError(t, err)

	b := got[reqBilling.ID]
	require.NotNil(t, b)
	assert.Equal(t, "coordinator", b.Sender)
	assert.Equal(t, MessageResponse, b.Type)
	assert.Equal(t, "Processed by billing specialist: refund please", b.Content)

	tc := got[reqTech.ID]
	require.NotNil(t, tc)
	assert.Equal(t, "REBOOT", tc.Content)

	fm := Forward(b)
	assert.Equal(t, "coordinator", fm.SourceAgent)
	assert.Equal(t, "Processed by billing specialist: refund please", fm.String())
	assert.Equal(t, "billing", fm.Metadata[MetaIntent])
}

// =============================================================================
// ForwardedMessage
// =============================================================================

func TestForwardedMessage(t *testing.T) {
	a := NewForwardedMessage("coder", "hello")
	b := NewForwardedMessage("qa", "answer")
	assert.True(t, a.DirectToUser)
	assert.Empty(t, a.Metadata)

	a.Metadata["key"] = "val"
	assert.NotContains(t, b.Metadata, "key")
	assert.Equal(t, "answer", b.String())
}
