package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow"
)

// MemoryRecordStore keeps records in memory.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]*sqlflow.QueryRecord
	order   map[string]int // insertion sequence, breaks CreatedAt ties
	seq     int
}

// NewMemoryRecordStore creates an empty in-memory record store.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		records: make(map[string]*sqlflow.QueryRecord),
		order:   make(map[string]int),
	}
}

// Save implements RecordStore.
func (s *MemoryRecordStore) Save(_ context.Context, record *sqlflow.QueryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.order[record.ID]; !ok {
		s.seq++
		s.order[record.ID] = s.seq
	}
	s.records[record.ID] = record.Clone()
	return nil
}

// Get implements RecordStore.
func (s *MemoryRecordStore) Get(_ context.Context, id string) (*sqlflow.QueryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, sqlflow.ErrNotFound)
	}
	return r.Clone(), nil
}

// List implements RecordStore.
func (s *MemoryRecordStore) List(_ context.Context, limit, offset int) ([]*sqlflow.QueryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.sorted(func(*sqlflow.QueryRecord) bool { return true })
	// Newest first.
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	lo, hi := window(len(all), limit, offset)
	return all[lo:hi], nil
}

// Count implements RecordStore.
func (s *MemoryRecordStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// ListBySession implements RecordStore.
func (s *MemoryRecordStore) ListBySession(_ context.Context, sessionID string) ([]*sqlflow.QueryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sorted(func(r *sqlflow.QueryRecord) bool { return r.SessionID == sessionID }), nil
}

// sorted returns clones of the matching records oldest first.
// Callers must hold the read lock.
func (s *MemoryRecordStore) sorted(keep func(*sqlflow.QueryRecord) bool) []*sqlflow.QueryRecord {
	out := make([]*sqlflow.QueryRecord, 0, len(s.records))
	for _, r := range s.records {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return s.order[out[i].ID] < s.order[out[j].ID]
	})
	return out
}

// MemorySessionStore keeps sessions in memory.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*sqlflow.SessionInfo
	clock    clockwork.Clock
}

// NewMemorySessionStore creates an empty in-memory session store. A nil
// clock means the real clock.
func NewMemorySessionStore(clock clockwork.Clock) *MemorySessionStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemorySessionStore{
		sessions: make(map[string]*sqlflow.SessionInfo),
		clock:    clock,
	}
}

// Create implements SessionStore.
func (s *MemorySessionStore) Create(_ context.Context) (*sqlflow.SessionInfo, error) {
	session := sqlflow.NewSessionInfo(s.clock.Now())
	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()
	return session.Clone(), nil
}

// Get implements SessionStore.
func (s *MemorySessionStore) Get(_ context.Context, id string) (*sqlflow.SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, sqlflow.ErrNotFound)
	}
	return session.Clone(), nil
}

// UpdateActivity implements SessionStore.
func (s *MemorySessionStore) UpdateActivity(_ context.Context, id, queryID string) (*sqlflow.SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, sqlflow.ErrNotFound)
	}
	session.LastActivity = s.clock.Now().UTC()
	if queryID != "" && !contains(session.QueryIDs, queryID) {
		session.QueryIDs = append(session.QueryIDs, queryID)
	}
	return session.Clone(), nil
}

// List implements SessionStore.
func (s *MemorySessionStore) List(_ context.Context, limit, offset int) ([]*sqlflow.SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*sqlflow.SessionInfo, 0, len(s.sessions))
	for _, session := range s.sessions {
		all = append(all, session.Clone())
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].LastActivity.Equal(all[j].LastActivity) {
			return all[i].LastActivity.After(all[j].LastActivity)
		}
		return all[i].ID < all[j].ID
	})
	lo, hi := window(len(all), limit, offset)
	return all[lo:hi], nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
