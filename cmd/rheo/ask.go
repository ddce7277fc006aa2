package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/rheo/agent"
	"github.com/BaSui01/rheo/agent/sharedstate"
)

// routeFlag 收集 --route intent=agent
type routeFlag map[string]string

func (r routeFlag) String() string { return fmt.Sprint(map[string]string(r)) }

func (r routeFlag) Set(v string) error {
	intent, target, ok := strings.Cut(v, "=")
	if !ok || intent == "" || target == "" {
		return fmt.Errorf("route must be intent=agent, got %q", v)
	}
	r[intent] = target
	return nil
}

func runAsk(args []string) error {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	intent := fs.String("intent", "general", "Intent used to pick a specialist")
	timeout := fs.Duration("timeout", 10*time.Second, "How long to wait for the reply")
	routes := routeFlag{}
	fs.Var(routes, "route", "Extra intent=agent route (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		return errors.New("question is required")
	}

	cfg, err := common.loadConfig()
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	for _, d := range []string{"billing", "tech", "general"} {
		if _, ok := routes[d]; !ok {
			routes[d] = d
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	reply, err := ask(ctx, logger, routes, *intent, question)
	if err != nil {
		return err
	}
	printForwarded(os.Stdout, reply)
	return nil
}

// ask 启动 coordinator + specialists，发送一条请求并等待回复
func ask(ctx context.Context, logger *zap.Logger, routes map[string]string, intent, question string) (*agent.ForwardedMessage, error) {
	reg := agent.NewRegistry(logger)
	handled := sharedstate.New[int]()

	coord := agent.NewCoordinator(logger)
	h := agent.NewHarness(logger)
	h.Add(agent.NewAgent("coordinator", reg, coord, agent.WithAgentLogger(logger)))

	started := map[string]bool{}
	for in, target := range routes {
		coord.Route(in, target)
		if started[target] {
			continue
		}
		started[target] = true
		sp := agent.NewSpecialist(target, countingHandler(target, handled))
		h.Add(agent.NewAgent(target, reg, sp, agent.WithAgentLogger(logger)))
	}

	replies := make(chan *agent.Message, 1)
	user := agent.NewAgent("user", reg, agent.ProcessorFunc(func(_ context.Context, _ *agent.Agent, msg *agent.Message) error {
		if msg.Type == agent.MessageResponse {
			select {
			case replies <- msg:
			default:
			}
		}
		return nil
	}))
	h.Add(user)

	var reply *agent.Message
	err := h.RunUntil(ctx, func(ctx context.Context) error {
		req := agent.NewRequest("user", "coordinator", question).WithMetadata(agent.MetaIntent, intent)
		user.SendTo(ctx, "coordinator", req)
		select {
		case reply = <-replies:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("no reply for intent %q: %w", intent, ctx.Err())
		}
	})
	if err != nil {
		return nil, err
	}

	for _, key := range handled.Keys() {
		n, _ := handled.Get(key)
		logger.Debug("specialist stats", zap.String("agent", key), zap.Int("handled", n))
	}
	return agent.Forward(reply), nil
}

// countingHandler 默认回复，并在共享状态中累计处理次数
func countingHandler(domain string, handled *sharedstate.Store[int]) agent.HandlerFunc {
	return func(ctx context.Context, content any) (any, error) {
		if _, err := handled.Modify(ctx, domain, func(n int, _ bool) int { return n + 1 }); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Processed by %s specialist: %v", domain, content), nil
	}
}

func printForwarded(w io.Writer, fm *agent.ForwardedMessage) {
	fmt.Fprintln(w, fm.Content)
	if intent, ok := fm.Metadata[agent.MetaIntent]; ok {
		fmt.Fprintf(w, "  (intent %s via %s)\n", intent, fm.SourceAgent)
	}
}
