package workflow

import (
	"slices"
	"sync"
	"time"
)

// StepRecord 单步执行记录
type StepRecord struct {
	Node     string        `json:"node"`
	Next     string        `json:"next,omitempty"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration"`
	Status   string        `json:"status"` // success, error, aborted
	Error    string        `json:"error,omitempty"`
}

// RunRecord 一次运行的完整执行路径
type RunRecord struct {
	RunID    string       `json:"run_id"`
	ThreadID string       `json:"thread_id"`
	Entry    string       `json:"entry"`
	Start    time.Time    `json:"start"`
	End      time.Time    `json:"end,omitempty"`
	Status   string       `json:"status"`
	Hops     int          `json:"hops"`
	Error    string       `json:"error,omitempty"`
	Steps    []StepRecord `json:"steps"`
}

// Path returns the visited nodes in order.
func (r RunRecord) Path() []string {
	path := make([]string, len(r.Steps))
	for i, st := range r.Steps {
		path[i] = st.Node
	}
	return path
}

// History keeps the most recent runs of the schedulers it is attached to.
// It is in-memory only.
type History struct {
	mu       sync.RWMutex
	capacity int
	runs     []*RunRecord
}

// NewHistory 创建执行历史，最多保留 capacity 条运行记录（<= 0 时为 100）
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 100
	}
	return &History{capacity: capacity}
}

func (h *History) begin(runID, threadID, entry string) *RunRecord {
	if h == nil {
		return nil
	}
	rec := &RunRecord{
		RunID:    runID,
		ThreadID: threadID,
		Entry:    entry,
		Start:    time.Now(),
		Status:   "running",
	}
	h.mu.Lock()
	if len(h.runs) >= h.capacity {
		h.runs = slices.Delete(h.runs, 0, len(h.runs)-h.capacity+1)
	}
	h.runs = append(h.runs, rec)
	h.mu.Unlock()
	return rec
}

func (h *History) step(rec *RunRecord, st StepRecord) {
	if h == nil || rec == nil {
		return
	}
	h.mu.Lock()
	rec.Steps = append(rec.Steps, st)
	h.mu.Unlock()
}

func (h *History) finish(rec *RunRecord, status string, hops int, err error) {
	if h == nil || rec == nil {
		return
	}
	h.mu.Lock()
	rec.End = time.Now()
	rec.Status = status
	rec.Hops = hops
	if err != nil {
		rec.Error = err.Error()
	}
	h.mu.Unlock()
}

func (r *RunRecord) copy() RunRecord {
	c := *r
	c.Steps = slices.Clone(r.Steps)
	return c
}

// Get returns the run with runID.
func (h *History) Get(runID string) (RunRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, r := range h.runs {
		if r.RunID == runID {
			return r.copy(), true
		}
	}
	return RunRecord{}, false
}

// Latest returns the most recently started run.
func (h *History) Latest() (RunRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.runs) == 0 {
		return RunRecord{}, false
	}
	return h.runs[len(h.runs)-1].copy(), true
}

// ListByThread returns the runs of threadID, oldest first.
func (h *History) ListByThread(threadID string) []RunRecord {
	return h.filter(func(r *RunRecord) bool { return r.ThreadID == threadID })
}

// ListByStatus returns the runs that ended with status, oldest first.
func (h *History) ListByStatus(status string) []RunRecord {
	return h.filter(func(r *RunRecord) bool { return r.Status == status })
}

func (h *History) filter(keep func(*RunRecord) bool) []RunRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []RunRecord
	for _, r := range h.runs {
		if keep(r) {
			out = append(out, r.copy())
		}
	}
	return out
}
