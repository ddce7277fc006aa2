package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TimeoutMessage formats the error recorded when a run exceeds its budget.
func TimeoutMessage(timeout time.Duration, task string) string {
	return fmt.Sprintf("workflow timed out after %s for task: \"%s\"", timeout, task)
}

// RunWithTimeout runs sched from entry with a wall-clock budget.
//
// The run works on a private copy of st. When it finishes in time the copy
// is written back into st. When the budget expires st receives the state as
// of the last completed step, is marked completed and gets exactly one
// timeout error naming task; the returned error is nil in that case. Steps
// that failed, or that ended after the deadline, are never part of that
// state. A node
// that ignores ctx keeps running in the background until it returns, but
// its writes never reach st. If ctx itself is cancelled, st receives the
// last completed step and ctx.Err() is returned. A timeout of zero or less
// disables the budget.
func RunWithTimeout(ctx context.Context, sched *Scheduler, st *State, entry, task string, timeout time.Duration) (*State, error) {
	if timeout <= 0 {
		return sched.Run(ctx, st, entry)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu       sync.Mutex
		snapshot *State
		sealed   bool
	)
	work := st.Clone()
	done := make(chan error, 1)
	go func() {
		_, err := sched.run(runCtx, work, entry, func(cur *State, failed bool) {
			// 失败的步骤或预算耗尽后完成的步骤都不进入快照
			if failed || runCtx.Err() != nil {
				return
			}
			c := cur.Clone()
			mu.Lock()
			defer mu.Unlock()
			if !sealed && runCtx.Err() == nil {
				snapshot = c
			}
		})
		done <- err
	}()

	restore := func() {
		mu.Lock()
		defer mu.Unlock()
		sealed = true
		if snapshot != nil {
			*st = *snapshot
		}
	}

	select {
	case err := <-done:
		if runCtx.Err() == nil {
			*st = *work
			return st, err
		}
	case <-runCtx.Done():
	}
	if ctx.Err() != nil {
		restore()
		return st, ctx.Err()
	}

	// ctx is still live here, so runCtx ended on its own deadline
	restore()
	st.IsCompleted = true
	st.AppendError(TimeoutMessage(timeout, task))
	sched.metrics.RecordRun("timeout", 0)
	sched.logger.Warn("run timed out",
		zap.String("thread_id", st.ThreadID),
		zap.String("entry", entry),
		zap.Duration("timeout", timeout),
	)
	return st, nil
}
