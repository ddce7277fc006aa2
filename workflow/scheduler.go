package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/rheo/internal/ctxkeys"
	"github.com/BaSui01/rheo/internal/metrics"
	"github.com/BaSui01/rheo/types"
)

const tracerName = "github.com/BaSui01/rheo/workflow"

// Checkpointer persists the state after each successful step.
type Checkpointer interface {
	Save(ctx context.Context, s *State) error
}

// CheckpointerFunc adapts a function to Checkpointer.
type CheckpointerFunc func(ctx context.Context, s *State) error

// Save calls f.
func (f CheckpointerFunc) Save(ctx context.Context, s *State) error { return f(ctx, s) }

// Scheduler drives a run through a graph one node at a time.
type Scheduler struct {
	graph        *Graph
	checkpointer Checkpointer
	logger       *zap.Logger
	metrics      *metrics.Collector
	tracer       trace.Tracer
	history      *History
	maxHops      int
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithCheckpointer saves the state after every successful step.
func WithCheckpointer(c Checkpointer) SchedulerOption {
	return func(s *Scheduler) { s.checkpointer = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records node, run and checkpoint metrics.
func WithMetrics(c *metrics.Collector) SchedulerOption {
	return func(s *Scheduler) { s.metrics = c }
}

// WithTracer sets the tracer used for run and node spans.
func WithTracer(t trace.Tracer) SchedulerOption {
	return func(s *Scheduler) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithHistory records every run and its steps in h.
func WithHistory(h *History) SchedulerOption {
	return func(s *Scheduler) { s.history = h }
}

// WithMaxHops stops a run after n steps. Zero or less means no limit.
func WithMaxHops(n int) SchedulerOption {
	return func(s *Scheduler) { s.maxHops = n }
}

// NewScheduler creates a scheduler for g.
func NewScheduler(g *Graph, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		graph:  g,
		logger: zap.NewNop(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "scheduler"))
	return s
}

// Graph returns the graph being scheduled.
func (s *Scheduler) Graph() *Graph { return s.graph }

// Step executes node against st and returns the next node to run.
//
// An unknown node yields End without touching st. A node error or panic is
// appended to st.Errors and yields End with a nil error. The only error
// Step returns is a failed checkpoint save.
func (s *Scheduler) Step(ctx context.Context, node string, st *State) (string, error) {
	next, _, err := s.step(ctx, node, st)
	return next, err
}

// step is Step that also returns the node or routing failure it recorded.
func (s *Scheduler) step(ctx context.Context, node string, st *State) (next string, failure, err error) {
	fn, ok := s.graph.Node(node)
	if !ok {
		s.logger.Debug("unknown node, ending run", zap.String("node", node))
		return End, nil, nil
	}

	ctx = ctxkeys.WithNode(ctx, node)
	ctx, span := s.tracer.Start(ctx, "workflow.node",
		trace.WithAttributes(
			attribute.String("workflow.node", node),
			attribute.String("workflow.thread_id", st.ThreadID),
		),
	)
	defer span.End()

	start := time.Now()
	res, err := callNode(ctx, fn, st)
	if err == nil {
		if err = res.applyTo(st); err != nil {
			err = fmt.Errorf("node %s returned an invalid %s result: %w", node, res.Kind(), err)
		}
	}
	duration := time.Since(start)

	if err != nil {
		st.AppendError(err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.RecordNode(node, "error", duration)
		s.logger.Warn("node failed",
			zap.String("node", node),
			zap.String("thread_id", st.ThreadID),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return End, err, nil
	}
	s.metrics.RecordNode(node, "success", duration)

	if s.checkpointer != nil {
		if err := s.save(ctx, node, st); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "checkpoint failed")
			return End, nil, err
		}
	}

	next, err = s.resolve(node, st)
	if err != nil {
		st.AppendError(err.Error())
		span.RecordError(err)
		s.logger.Warn("routing failed", zap.String("node", node), zap.Error(err))
		return End, err, nil
	}

	s.logger.Debug("node completed",
		zap.String("node", node),
		zap.String("next", next),
		zap.Duration("duration", duration),
	)
	span.SetAttributes(attribute.String("workflow.next", next))
	return next, nil, nil
}

// Run executes steps from entry until End is reached or st is completed.
// The returned state is st. A checkpoint failure aborts the run and is
// returned together with the partially updated state.
func (s *Scheduler) Run(ctx context.Context, st *State, entry string) (*State, error) {
	return s.run(ctx, st, entry, nil)
}

// run is Run with a hook called after each completed step. failed reports
// whether the node errored in that step.
func (s *Scheduler) run(ctx context.Context, st *State, entry string, afterStep func(st *State, failed bool)) (*State, error) {
	runID := uuid.NewString()
	ctx = ctxkeys.WithRunID(ctx, runID)
	ctx = ctxkeys.WithThreadID(ctx, st.ThreadID)
	ctx, span := s.tracer.Start(ctx, "workflow.run",
		trace.WithAttributes(
			attribute.String("workflow.run_id", runID),
			attribute.String("workflow.entry", entry),
			attribute.String("workflow.thread_id", st.ThreadID),
		),
	)
	defer span.End()

	logger := s.logger.With(zap.String("run_id", runID), zap.String("thread_id", st.ThreadID))
	logger.Info("run started", zap.String("entry", entry))
	rec := s.history.begin(runID, st.ThreadID, entry)
	finish := func(status string, hops int, err error) {
		s.history.finish(rec, status, hops, err)
		s.finishRun(span, logger, status, hops, err)
	}

	errsBefore := len(st.Errors)
	hops := 0
	curr := entry
	for curr != End && !st.IsCompleted {
		if err := ctx.Err(); err != nil {
			st.AppendError(fmt.Sprintf("run cancelled before node %s: %v", curr, err))
			finish("cancelled", hops, err)
			return st, err
		}
		if s.maxHops > 0 && hops >= s.maxHops {
			st.AppendError(fmt.Sprintf("max hops (%d) exceeded at node %s", s.maxHops, curr))
			finish("aborted", hops, nil)
			return st, nil
		}

		start := time.Now()
		next, failure, err := s.step(ctx, curr, st)
		hops++
		s.history.step(rec, stepRecord(curr, next, start, failure, err))
		if err != nil {
			finish("aborted", hops, err)
			return st, err
		}
		if afterStep != nil {
			afterStep(st, failure != nil)
		}
		curr = next
	}

	status := "completed"
	if len(st.Errors) > errsBefore {
		status = "failed"
	}
	finish(status, hops, nil)
	return st, nil
}

func stepRecord(node, next string, start time.Time, failure, err error) StepRecord {
	r := StepRecord{Node: node, Start: start, Duration: time.Since(start), Status: "success"}
	switch {
	case err != nil:
		r.Status, r.Error = "aborted", err.Error()
	case failure != nil:
		r.Status, r.Error = "error", failure.Error()
	default:
		r.Next = next
	}
	return r
}

func (s *Scheduler) finishRun(span trace.Span, logger *zap.Logger, status string, hops int, err error) {
	s.metrics.RecordRun(status, hops)
	span.SetAttributes(attribute.String("workflow.status", status), attribute.Int("workflow.hops", hops))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		logger.Error("run stopped", zap.String("status", status), zap.Int("hops", hops), zap.Error(err))
		return
	}
	logger.Info("run finished", zap.String("status", status), zap.Int("hops", hops))
}

func (s *Scheduler) save(ctx context.Context, node string, st *State) error {
	start := time.Now()
	err := s.checkpointer.Save(ctx, st)
	if err != nil {
		s.metrics.RecordCheckpoint("error", time.Since(start))
		s.logger.Error("checkpoint failed",
			zap.String("node", node),
			zap.String("thread_id", st.ThreadID),
			zap.Error(err),
		)
		return types.WrapError(err, types.ErrCheckpoint, fmt.Sprintf("checkpoint after node %s", node))
	}
	s.metrics.RecordCheckpoint("success", time.Since(start))
	return nil
}

// resolve picks the next node, turning a panicking decision into an error.
func (s *Scheduler) resolve(node string, st *State) (next string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("routing decision after node %s panicked: %v", node, r)
		}
	}()
	return s.graph.next(node, st), nil
}

// callNode runs fn, converting a panic into an error.
func callNode(ctx context.Context, fn NodeFunc, st *State) (res NodeResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			node, _ := ctxkeys.Node(ctx)
			err = fmt.Errorf("node %s panicked: %v", node, r)
		}
	}()
	if fn == nil {
		return Unchanged(), nil
	}
	return fn(ctx, st)
}
