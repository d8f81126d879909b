// Package store persists query records and conversation sessions.
//
// Two implementations are provided:
//   - Memory: map-backed, for tests and single-process development
//   - SQLite: durable, schema managed by embedded goose migrations
//
// All implementations are safe for concurrent use and hand out copies, so
// callers may mutate returned values freely. Missing ids are reported as
// sqlflow.ErrNotFound.
package store

import (
	"context"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow"
)

// RecordStore persists QueryRecords keyed by id.
type RecordStore interface {
	// Save inserts or replaces a record.
	Save(ctx context.Context, record *sqlflow.QueryRecord) error

	// Get returns the record with id, or sqlflow.ErrNotFound.
	Get(ctx context.Context, id string) (*sqlflow.QueryRecord, error)

	// List returns records newest first.
	List(ctx context.Context, limit, offset int) ([]*sqlflow.QueryRecord, error)

	// Count returns the total number of records.
	Count(ctx context.Context) (int, error)

	// ListBySession returns a session's records oldest first.
	ListBySession(ctx context.Context, sessionID string) ([]*sqlflow.QueryRecord, error)
}

// SessionStore persists conversation sessions.
type SessionStore interface {
	// Create starts a new empty session.
	Create(ctx context.Context) (*sqlflow.SessionInfo, error)

	// Get returns the session with id, or sqlflow.ErrNotFound.
	Get(ctx context.Context, id string) (*sqlflow.SessionInfo, error)

	// UpdateActivity appends queryID to the session if it is not already
	// there and bumps the last activity time.
	UpdateActivity(ctx context.Context, id, queryID string) (*sqlflow.SessionInfo, error)

	// List returns sessions with the most recent activity first.
	List(ctx context.Context, limit, offset int) ([]*sqlflow.SessionInfo, error)
}

// DefaultListLimit applies when a caller passes a non-positive limit.
const DefaultListLimit = 50

func window(n, limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	if offset > n {
		offset = n
	}
	end := offset + limit
	if end > n {
		end = n
	}
	return offset, end
}
