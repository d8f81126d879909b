// Package checkpoint persists pipeline thread state so that a paused or
// interrupted run can continue after a process restart.
//
// A thread keeps at most one checkpoint per step name. Saving a step that
// already has a checkpoint replaces it and gives it the next sequence
// number, so the highest sequence is always the most recent transition.
package checkpoint

import (
	"context"
	"errors"
	"time"
)

// Store is a checkpoint backend. Implementations are safe for
// concurrent use and never hand out shared State buffers.
type Store interface {
	// Save writes cp over any existing (ThreadID, Step) entry and sets
	// cp.Sequence to one past the thread's current maximum.
	Save(ctx context.Context, cp *Checkpoint) error
	// Load fetches the checkpoint written after step, or ErrNotFound.
	Load(ctx context.Context, threadID, step string) (*Checkpoint, error)
	// Latest fetches the highest-sequence checkpoint, or ErrNotFound.
	Latest(ctx context.Context, threadID string) (*Checkpoint, error)
	// List describes a thread's checkpoints in sequence order. An unknown
	// thread yields an empty list.
	List(ctx context.Context, threadID string) ([]Info, error)
	Delete(ctx context.Context, threadID, step string) error
	DeleteThread(ctx context.Context, threadID string) error
	Close() error
}

// Info summarizes a checkpoint; Size is the encoded state length.
type Info struct {
	ThreadID  string
	Step      string
	Sequence  int
	Timestamp time.Time
	Size      int64
}

var (
	ErrNotFound    = errors.New("checkpoint not found")
	ErrStoreClosed = errors.New("checkpoint store closed")
)
