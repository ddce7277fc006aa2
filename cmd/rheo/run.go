package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/rheo/internal/metrics"
	"github.com/BaSui01/rheo/internal/server"
	"github.com/BaSui01/rheo/internal/telemetry"
	"github.com/BaSui01/rheo/tools"
	"github.com/BaSui01/rheo/workflow"
	"github.com/BaSui01/rheo/workflow/checkpoint"
	"github.com/BaSui01/rheo/workflow/dsl"
)

// builtinWorkflow 未指定 --workflow 时使用
const builtinWorkflow = `
version: "1"
name: plan-review
entry: plan
agents:
  planner:
    system_prompt: "You are the planner."
  reviewer:
    system_prompt: "You are the reviewer."
rules:
  max_steps: 20
raci:
  plan:
    responsible: [planner]
    accountable: lead
    informed: [reviewer]
nodes:
  - id: plan
    type: role
    agent: planner
    task: plan
    next: review
  - id: review
    type: role
    agent: reviewer
    prompt: "Review the plan"
    next: govern
  - id: govern
    type: governance
    next: notify
  - id: notify
    type: inform
    next: END
`

type runFlags struct {
	commonFlags
	workflowPath string
	threadID     string
	timeout      time.Duration
	resume       bool
	metricsAddr  string
	allowDir     string
	trace        bool
}

func runWorkflow(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var f runFlags
	f.register(fs)
	fs.StringVar(&f.workflowPath, "workflow", "", "Workflow DSL file")
	fs.StringVar(&f.threadID, "thread", "", "Thread id (default: runtime.thread_id)")
	fs.DurationVar(&f.timeout, "timeout", 0, "Run budget (default: runtime.run_timeout)")
	fs.BoolVar(&f.resume, "resume", false, "Continue from the latest checkpoint")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	fs.StringVar(&f.allowDir, "allow-dir", "", "Directory the file_ops tool may access")
	fs.BoolVar(&f.trace, "trace", false, "Print the executed steps after the run")
	if err := fs.Parse(args); err != nil {
		return err
	}
	task := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if task == "" && !f.resume {
		return errors.New("task is required")
	}

	cfg, err := f.loadConfig()
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting rheo",
		zap.String("version", Version),
		zap.String("git_commit", GitCommit),
	)

	history := workflow.NewHistory(1)
	opts := []workflow.SchedulerOption{workflow.WithLogger(logger), workflow.WithHistory(history)}
	if cfg.Runtime.MaxHops > 0 {
		opts = append(opts, workflow.WithMaxHops(cfg.Runtime.MaxHops))
	}

	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	} else {
		opts = append(opts, workflow.WithTracer(providers.Tracer()))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := providers.Shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown failed", zap.Error(err))
			}
		}()
	}

	if f.metricsAddr != "" {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if cfg.Metrics.Enabled || cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, workflow.WithMetrics(metrics.NewCollector(cfg.Metrics.Namespace, reg, logger)))
		if cfg.Metrics.Addr != "" {
			srv := server.New(server.Config{
				Addr:     cfg.Metrics.Addr,
				CertFile: cfg.Metrics.TLSCertFile,
				KeyFile:  cfg.Metrics.TLSKeyFile,
			}, reg, logger)
			if err := srv.Start(); err != nil {
				return fmt.Errorf("start metrics server: %w", err)
			}
			defer srv.Shutdown(context.Background())
		}
	}

	store, err := checkpoint.New(cfg.Checkpoint, logger)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	if store != nil {
		defer store.Close()
		opts = append(opts, workflow.WithCheckpointer(store))
	}

	toolReg := tools.NewRegistry(logger)
	if f.allowDir != "" {
		fileOps, err := tools.NewFileOps(tools.WithAllowedDirs(f.allowDir))
		if err != nil {
			return err
		}
		toolReg.Register(fileOps)
	}

	var breakers *workflow.Breakers
	if cfg.Runtime.BreakerFailures > 0 {
		bc := workflow.DefaultBreakerConfig()
		bc.FailureThreshold = cfg.Runtime.BreakerFailures
		if cfg.Runtime.BreakerRecovery > 0 {
			bc.RecoveryTimeout = cfg.Runtime.BreakerRecovery
		}
		breakers = workflow.NewBreakers(bc, logger, nil)
	}

	wf, err := loadWorkflow(f.workflowPath, toolReg, breakers, logger)
	if err != nil {
		return err
	}

	threadID := f.threadID
	if threadID == "" {
		threadID = cfg.Runtime.ThreadID
	}
	st, entry, err := initialState(ctx, wf, store, threadID, task, f.resume)
	if err != nil {
		return err
	}

	timeout := cfg.Runtime.RunTimeout
	if f.timeout > 0 {
		timeout = f.timeout
	}
	sched := workflow.NewScheduler(wf.Graph, opts...)
	st, err = workflow.RunWithTimeout(ctx, sched, st, entry, task, timeout)
	printState(os.Stdout, st)
	if run, ok := history.Latest(); ok && f.trace {
		printRun(os.Stdout, run)
	}
	return err
}

// loadWorkflow 解析 DSL 文件，path 为空时使用内置工作流
func loadWorkflow(path string, toolReg *tools.Registry, breakers *workflow.Breakers, logger *zap.Logger) (*dsl.Workflow, error) {
	opts := []dsl.ParserOption{
		dsl.WithDefaultInvoker(echoInvoker{}),
		dsl.WithTools(toolReg),
		dsl.WithNotifier(logNotifier(logger)),
		dsl.WithParserLogger(logger),
	}
	if breakers != nil {
		opts = append(opts, dsl.WithBreakers(breakers))
	}
	p := dsl.NewParser(opts...)
	if path == "" {
		return p.Parse([]byte(builtinWorkflow))
	}
	return p.ParseFile(path)
}

// initialState 新建状态，或在 resume 时从检查点恢复
func initialState(ctx context.Context, wf *dsl.Workflow, store checkpoint.Store, threadID, task string, resume bool) (*workflow.State, string, error) {
	if !resume {
		return wf.NewState(task, workflow.InThread(threadID)), wf.Entry, nil
	}
	if store == nil {
		return nil, "", errors.New("--resume requires a checkpoint store")
	}
	st, err := store.Load(ctx, threadID)
	if err != nil {
		return nil, "", fmt.Errorf("load thread %s: %w", threadID, err)
	}
	if st.IsCompleted {
		return nil, "", fmt.Errorf("thread %s is already completed", threadID)
	}
	if task != "" {
		st.AppendMessage(workflow.Message{Role: workflow.RoleHuman, Content: task})
	}
	entry := wf.Entry
	if _, ok := wf.Graph.Node(st.NextStep); ok {
		entry = st.NextStep
	}
	return st, entry, nil
}

// echoInvoker 无 LLM 时的占位调用器
type echoInvoker struct{}

func (echoInvoker) Invoke(_ context.Context, prompt string, history []workflow.Message) (string, error) {
	return fmt.Sprintf("ack (%d messages): %s", len(history), prompt), nil
}

func logNotifier(logger *zap.Logger) workflow.Notifier {
	return func(_ context.Context, to, task, summary string) error {
		logger.Info("inform",
			zap.String("to", to),
			zap.String("task", task),
			zap.String("summary", summary),
		)
		return nil
	}
}

func printRun(w io.Writer, run workflow.RunRecord) {
	fmt.Fprintf(w, "run %s: %s after %d steps\n", run.RunID, run.Status, run.Hops)
	for _, st := range run.Steps {
		line := fmt.Sprintf("  %-12s %-8s %v", st.Node, st.Status, st.Duration.Round(time.Microsecond))
		if st.Error != "" {
			line += "  " + st.Error
		}
		fmt.Fprintln(w, line)
	}
}

func printState(w io.Writer, st *workflow.State) {
	fmt.Fprintf(w, "thread:    %s\n", st.ThreadID)
	fmt.Fprintf(w, "completed: %t\n", st.IsCompleted)
	for _, m := range st.Messages {
		who := m.Role
		if m.Agent != "" {
			who += "(" + m.Agent + ")"
		}
		fmt.Fprintf(w, "  %-18s %s\n", who+":", m.Content)
	}
	for _, e := range st.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
}
