package checkpoint

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/BaSui01/rheo/workflow"
)

// MemoryStore keeps encoded records in a map. Records are still encoded so
// a loaded state never aliases the saved one.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record), now: time.Now}
}

// Save implements workflow.Checkpointer.
func (m *MemoryStore) Save(_ context.Context, s *workflow.State) error {
	rec, err := NewRecord(s, m.now())
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.records[rec.ThreadID] = rec
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, threadID string) (*workflow.State, error) {
	rec, err := m.Record(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return Decode(rec.Data)
}

// Record returns a copy of the stored record.
func (m *MemoryStore) Record(_ context.Context, threadID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) ListThreads(context.Context) ([]string, error) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	slices.Sort(ids)
	return ids, nil
}

func (m *MemoryStore) Delete(_ context.Context, threadID string) error {
	m.mu.Lock()
	delete(m.records, threadID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
