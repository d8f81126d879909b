package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists checkpoints to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sqlx.DB
	mu     sync.RWMutex
	closed bool
}

type checkpointRow struct {
	ThreadID  string `db:"thread_id"`
	Step      string `db:"step"`
	Sequence  int    `db:"sequence"`
	Timestamp int64  `db:"timestamp"`
	Version   int    `db:"version"`
	NextStep  string `db:"next_step"`
	State     []byte `db:"state"`
	Size      int64  `db:"size"`
}

func (r checkpointRow) checkpoint() *Checkpoint {
	return &Checkpoint{
		Version:   r.Version,
		ThreadID:  r.ThreadID,
		Step:      r.Step,
		Sequence:  r.Sequence,
		Timestamp: time.Unix(0, r.Timestamp).UTC(),
		State:     r.State,
		NextStep:  r.NextStep,
	}
}

// NewSQLiteStore creates a SQLite checkpoint store.
// The path is a file path (e.g., "./checkpoints.db") or ":memory:" for testing.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection serializes writers and keeps :memory: one database.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id TEXT NOT NULL,
			step TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			timestamp INTEGER NOT NULL,
			version INTEGER NOT NULL,
			next_step TEXT NOT NULL DEFAULT '',
			state BLOB NOT NULL,
			PRIMARY KEY (thread_id, step)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_checkpoints_thread_seq
		ON checkpoints(thread_id, sequence)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var seq int
	if err := tx.GetContext(ctx, &seq,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM checkpoints WHERE thread_id = ?`, cp.ThreadID); err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkpoints (thread_id, step, sequence, timestamp, version, next_step, state)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id, step) DO UPDATE SET
			sequence = excluded.sequence,
			timestamp = excluded.timestamp,
			version = excluded.version,
			next_step = excluded.next_step,
			state = excluded.state
	`, cp.ThreadID, cp.Step, seq, cp.Timestamp.UnixNano(), cp.Version, cp.NextStep, []byte(cp.State))
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	cp.Sequence = seq
	return nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, threadID, step string) (*Checkpoint, error) {
	return s.get(ctx, `
		SELECT thread_id, step, sequence, timestamp, version, next_step, state
		FROM checkpoints
		WHERE thread_id = ? AND step = ?
	`, threadID, step)
}

// Latest implements Store.
func (s *SQLiteStore) Latest(ctx context.Context, threadID string) (*Checkpoint, error) {
	return s.get(ctx, `
		SELECT thread_id, step, sequence, timestamp, version, next_step, state
		FROM checkpoints
		WHERE thread_id = ?
		ORDER BY sequence DESC
		LIMIT 1
	`, threadID)
}

func (s *SQLiteStore) get(ctx context.Context, query string, args ...any) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var row checkpointRow
	err := s.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("thread %v: %w", args[0], ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return row.checkpoint(), nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, threadID string) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var rows []checkpointRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT thread_id, step, sequence, timestamp, LENGTH(state) AS size
		FROM checkpoints
		WHERE thread_id = ?
		ORDER BY sequence
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	infos := make([]Info, 0, len(rows))
	for _, r := range rows {
		infos = append(infos, Info{
			ThreadID:  r.ThreadID,
			Step:      r.Step,
			Sequence:  r.Sequence,
			Timestamp: time.Unix(0, r.Timestamp).UTC(),
			Size:      r.Size,
		})
	}
	return infos, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, threadID, step string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE thread_id = ? AND step = ?`, threadID, step)
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// DeleteThread implements Store.
func (s *SQLiteStore) DeleteThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("delete thread checkpoints: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
