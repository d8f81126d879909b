package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/randalmurphal/sqlflow/pkg/sqlflow"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// goose keeps its configuration in package globals.
var gooseMu sync.Mutex

// SQLite is a durable record and session store in one SQLite database.
type SQLite struct {
	db     *sqlx.DB
	clock  clockwork.Clock
	logger *slog.Logger
}

// SQLiteOption configures an SQLite store.
type SQLiteOption func(*SQLite)

// WithSQLiteClock sets the clock used for session timestamps.
func WithSQLiteClock(clock clockwork.Clock) SQLiteOption {
	return func(s *SQLite) { s.clock = clock }
}

// WithSQLiteLogger sets the logger used for migration output.
func WithSQLiteLogger(logger *slog.Logger) SQLiteOption {
	return func(s *SQLite) { s.logger = logger }
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations. Use ":memory:" for a throwaway store.
func OpenSQLite(ctx context.Context, path string, opts ...SQLiteOption) (*SQLite, error) {
	s := &SQLite{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}

	db, err := sqlx.ConnectContext(ctx, "sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// One writer at a time; also keeps :memory: a single database.
	db.SetMaxOpenConns(1)
	s.db = db

	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func sqliteDSN(path string) string {
	if path == ":memory:" || strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Migrate applies pending migrations.
func (s *SQLite) Migrate(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetLogger(&slogGooseLogger{log: s.logger})
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db.DB, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close releases the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Records returns the record store view of the database.
func (s *SQLite) Records() *SQLiteRecordStore {
	return &SQLiteRecordStore{db: s.db}
}

// Sessions returns the session store view of the database.
func (s *SQLite) Sessions() *SQLiteSessionStore {
	return &SQLiteSessionStore{db: s.db, clock: s.clock}
}

// slogGooseLogger adapts slog.Logger to the goose.Logger interface.
type slogGooseLogger struct {
	log *slog.Logger
}

func (l *slogGooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *slogGooseLogger) Printf(format string, v ...any) {
	l.log.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// SQLiteRecordStore implements RecordStore. Records are stored as JSON with
// the columns needed for ordering and filtering alongside.
type SQLiteRecordStore struct {
	db *sqlx.DB
}

// Save implements RecordStore.
func (s *SQLiteRecordStore) Save(ctx context.Context, record *sqlflow.QueryRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO query_records (id, session_id, status, created_at, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id = excluded.session_id,
			status = excluded.status,
			data = excluded.data
	`, record.ID, nullString(record.SessionID), string(record.Status), record.CreatedAt.UnixNano(), string(data))
	if err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}

// Get implements RecordStore.
func (s *SQLiteRecordStore) Get(ctx context.Context, id string) (*sqlflow.QueryRecord, error) {
	var data string
	err := s.db.GetContext(ctx, &data, `SELECT data FROM query_records WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", id, sqlflow.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return decodeRecord(data)
}

// List implements RecordStore.
func (s *SQLiteRecordStore) List(ctx context.Context, limit, offset int) ([]*sqlflow.QueryRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.query(ctx, `
		SELECT data FROM query_records
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
}

// Count implements RecordStore.
func (s *SQLiteRecordStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM query_records`); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// ListBySession implements RecordStore.
func (s *SQLiteRecordStore) ListBySession(ctx context.Context, sessionID string) ([]*sqlflow.QueryRecord, error) {
	return s.query(ctx, `
		SELECT data FROM query_records
		WHERE session_id = ?
		ORDER BY created_at, rowid
	`, sessionID)
}

func (s *SQLiteRecordStore) query(ctx context.Context, query string, args ...any) ([]*sqlflow.QueryRecord, error) {
	var blobs []string
	if err := s.db.SelectContext(ctx, &blobs, query, args...); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	out := make([]*sqlflow.QueryRecord, 0, len(blobs))
	for _, b := range blobs {
		r, err := decodeRecord(b)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func decodeRecord(data string) (*sqlflow.QueryRecord, error) {
	var r sqlflow.QueryRecord
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if r.ValidationErrors == nil {
		r.ValidationErrors = []string{}
	}
	return &r, nil
}

// SQLiteSessionStore implements SessionStore. Query ids are derived from
// the records table rather than stored twice, so a record must be saved
// before its session activity is updated.
type SQLiteSessionStore struct {
	db    *sqlx.DB
	clock clockwork.Clock
}

type sessionRow struct {
	ID           string `db:"id"`
	CreatedAt    int64  `db:"created_at"`
	LastActivity int64  `db:"last_activity"`
}

// Create implements SessionStore.
func (s *SQLiteSessionStore) Create(ctx context.Context) (*sqlflow.SessionInfo, error) {
	session := sqlflow.NewSessionInfo(s.clock.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, last_activity) VALUES (?, ?, ?)`,
		session.ID, session.CreatedAt.UnixNano(), session.LastActivity.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// Get implements SessionStore.
func (s *SQLiteSessionStore) Get(ctx context.Context, id string) (*sqlflow.SessionInfo, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `SELECT id, created_at, last_activity FROM sessions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, sqlflow.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s.hydrate(ctx, row)
}

// UpdateActivity implements SessionStore. queryID is not stored; it
// appears in QueryIDs once its record is saved with this session id.
func (s *SQLiteSessionStore) UpdateActivity(ctx context.Context, id, _ string) (*sqlflow.SessionInfo, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity = ? WHERE id = ?`,
		s.clock.Now().UTC().UnixNano(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("session %s: %w", id, sqlflow.ErrNotFound)
	}
	return s.Get(ctx, id)
}

// List implements SessionStore.
func (s *SQLiteSessionStore) List(ctx context.Context, limit, offset int) ([]*sqlflow.SessionInfo, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	var rows []sessionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, created_at, last_activity FROM sessions
		ORDER BY last_activity DESC, id
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]*sqlflow.SessionInfo, 0, len(rows))
	for _, row := range rows {
		session, err := s.hydrate(ctx, row)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, nil
}

func (s *SQLiteSessionStore) hydrate(ctx context.Context, row sessionRow) (*sqlflow.SessionInfo, error) {
	ids := []string{}
	err := s.db.SelectContext(ctx, &ids,
		`SELECT id FROM query_records WHERE session_id = ? ORDER BY created_at, rowid`, row.ID)
	if err != nil {
		return nil, fmt.Errorf("session query ids: %w", err)
	}
	return &sqlflow.SessionInfo{
		ID:           row.ID,
		CreatedAt:    time.Unix(0, row.CreatedAt).UTC(),
		LastActivity: time.Unix(0, row.LastActivity).UTC(),
		QueryIDs:     ids,
	}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
