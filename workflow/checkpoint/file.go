package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/rheo/workflow"
)

const fileExt = ".json"

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("checkpoint: store is closed")

// FileStore 基于文件的检查点存储，每个线程一个 JSON 文件。
// 写入先落临时文件再重命名，崩溃时不会留下半截记录。
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
	closed  bool
	now     func() time.Time
}

// NewFileStore 创建文件存储，目录不存在时自动创建
func NewFileStore(baseDir string) (*FileStore, error) {
	dir := filepath.Join(baseDir, "checkpoints")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &FileStore{baseDir: dir, now: time.Now}, nil
}

// path escapes the thread id so it can never leave baseDir.
func (f *FileStore) path(threadID string) string {
	return filepath.Join(f.baseDir, url.PathEscape(threadID)+fileExt)
}

// Save implements workflow.Checkpointer.
func (f *FileStore) Save(_ context.Context, s *workflow.State) error {
	rec, err := NewRecord(s, f.now())
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrStoreClosed
	}

	// 原子写: 写入临时文件后重命名
	target := f.path(rec.ThreadID)
	tmp, err := os.CreateTemp(f.baseDir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

func (f *FileStore) Load(ctx context.Context, threadID string) (*workflow.State, error) {
	rec, err := f.Record(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return Decode(rec.Data)
}

// Record reads the raw record of threadID.
func (f *FileStore) Record(_ context.Context, threadID string) (*Record, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrStoreClosed
	}

	data, err := os.ReadFile(f.path(threadID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &rec, nil
}

func (f *FileStore) ListThreads(context.Context) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrStoreClosed
	}

	entries, err := os.ReadDir(f.baseDir)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) || strings.HasPrefix(name, ".tmp-") {
			continue
		}
		id, err := url.PathUnescape(strings.TrimSuffix(name, fileExt))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (f *FileStore) Delete(_ context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrStoreClosed
	}
	err := os.Remove(f.path(threadID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

func (f *FileStore) Ping(context.Context) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrStoreClosed
	}
	_, err := os.Stat(f.baseDir)
	return err
}

func (f *FileStore) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}
