package checkpoint

import (
	"context"
	"encoding/json"

	"github.com/BaSui01/rheo/types"
	"github.com/BaSui01/rheo/workflow"
)

var (
	// ErrNotFound is returned by Load when no checkpoint exists for a thread.
	ErrNotFound error = types.NewError(types.ErrNotFound, "checkpoint not found").WithComponent("checkpoint")
	// ErrCorrupt is returned by Load when a stored record cannot be decoded.
	ErrCorrupt error = types.NewError(types.ErrCheckpointCorrupt, "checkpoint record is corrupt").WithComponent("checkpoint")
	// ErrMissingThreadID is returned by Save for a state without thread id.
	ErrMissingThreadID error = types.NewError(types.ErrInvalidInput, "state has no thread id").WithComponent("checkpoint")
)

// Store persists one checkpoint per thread. A Save overwrites the previous
// checkpoint of the same thread; no history is kept.
type Store interface {
	workflow.Checkpointer

	// Load returns the latest checkpoint of threadID, or ErrNotFound.
	Load(ctx context.Context, threadID string) (*workflow.State, error)
	// ListThreads returns the ids of all stored threads, sorted.
	ListThreads(ctx context.Context) ([]string, error)
	// Delete removes a thread's checkpoint. Deleting a missing thread is not an error.
	Delete(ctx context.Context, threadID string) error

	Ping(ctx context.Context) error
	Close() error
}

// Record is the stored form of a checkpoint.
type Record struct {
	ThreadID  string          `json:"thread_id"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// Inspector is implemented by stores that can return the raw record.
type Inspector interface {
	Record(ctx context.Context, threadID string) (*Record, error)
}
