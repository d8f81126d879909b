package checkpoint

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// MemoryStore keeps checkpoints in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]map[string]*Checkpoint // thread -> step -> checkpoint
	closed  bool
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string]map[string]*Checkpoint)}
}

func (m *MemoryStore) read(fn func() error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrStoreClosed
	}
	return fn()
}

func (m *MemoryStore) write(fn func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	fn()
	return nil
}

func (m *MemoryStore) Save(_ context.Context, cp *Checkpoint) error {
	return m.write(func() {
		steps, ok := m.threads[cp.ThreadID]
		if !ok {
			steps = make(map[string]*Checkpoint)
			m.threads[cp.ThreadID] = steps
		}
		next := 1
		for _, existing := range steps {
			next = max(next, existing.Sequence+1)
		}
		cp.Sequence = next
		steps[cp.Step] = cp.clone()
	})
}

func (m *MemoryStore) Load(_ context.Context, threadID, step string) (*Checkpoint, error) {
	var out *Checkpoint
	err := m.read(func() error {
		cp, ok := m.threads[threadID][step]
		if !ok {
			return fmt.Errorf("thread %s step %s: %w", threadID, step, ErrNotFound)
		}
		out = cp.clone()
		return nil
	})
	return out, err
}

func (m *MemoryStore) Latest(_ context.Context, threadID string) (*Checkpoint, error) {
	var out *Checkpoint
	err := m.read(func() error {
		for _, cp := range m.threads[threadID] {
			if out == nil || cp.Sequence > out.Sequence {
				out = cp
			}
		}
		if out == nil {
			return fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
		}
		out = out.clone()
		return nil
	})
	return out, err
}

func (m *MemoryStore) List(_ context.Context, threadID string) ([]Info, error) {
	var infos []Info
	err := m.read(func() error {
		infos = make([]Info, 0, len(m.threads[threadID]))
		for _, cp := range m.threads[threadID] {
			infos = append(infos, cp.info())
		}
		slices.SortFunc(infos, func(a, b Info) int { return a.Sequence - b.Sequence })
		return nil
	})
	return infos, err
}

func (m *MemoryStore) Delete(_ context.Context, threadID, step string) error {
	return m.write(func() { delete(m.threads[threadID], step) })
}

func (m *MemoryStore) DeleteThread(_ context.Context, threadID string) error {
	return m.write(func() { delete(m.threads, threadID) })
}

// Close drops all data. Later calls fail with ErrStoreClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed, m.threads = true, nil
	m.mu.Unlock()
	return nil
}

// Len counts checkpoints across all threads.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, steps := range m.threads {
		n += len(steps)
	}
	return n
}
