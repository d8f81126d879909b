// Package database provides the SQL backends a pipeline queries.
//
// A Backend discovers the tables it exposes, dry-runs candidate SQL through
// the engine's EXPLAIN, and executes read-only queries under a timeout.
// SQLBackend implements it over sqlx for three dialects:
//
//	sqlite    modernc.org/sqlite (pure Go)
//	postgres  github.com/jackc/pgx/v5/stdlib
//	mysql     github.com/go-sql-driver/mysql
//
// Every statement is checked with sqlguard before it reaches the driver, so
// a backend never runs SQL that failed the read-only guard.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/sqlguard"
)

// Supported dialects.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

// ErrNotConnected is returned when a Backend is used before Connect.
var ErrNotConnected = errors.New("database: not connected")

// Backend is a database the pipeline can inspect and query.
type Backend interface {
	// Connect opens the connection pool.
	Connect(ctx context.Context) error

	// Close releases the connection pool.
	Close() error

	// DiscoverTables lists the user tables and views with their columns.
	DiscoverTables(ctx context.Context) ([]sqlflow.TableInfo, error)

	// ValidateSQL returns the reasons sql would not run, or nil. A non-nil
	// error means validation itself could not be performed.
	ValidateSQL(ctx context.Context, sql string) ([]string, error)

	// ExecuteSQL runs a read-only query. A timeout of zero means no limit.
	// Failures are returned as *sqlflow.ExecutionError.
	ExecuteSQL(ctx context.Context, sql string, timeout time.Duration) ([]sqlflow.Row, error)

	// Dialect names the SQL dialect, e.g. "sqlite".
	Dialect() string
}

// introspector discovers tables for one dialect.
type introspector func(ctx context.Context, db *sqlx.DB) ([]sqlflow.TableInfo, error)

// SQLBackend implements Backend over database/sql via sqlx.
type SQLBackend struct {
	dialect    string
	driverName string
	dsn        string
	introspect introspector
	logger     *slog.Logger

	db *sqlx.DB
}

// Option configures an SQLBackend.
type Option func(*SQLBackend)

// WithLogger sets the logger. By default the backend is silent.
func WithLogger(logger *slog.Logger) Option {
	return func(b *SQLBackend) { b.logger = logger }
}

// New creates a backend for dialect. Connect must be called before use.
func New(dialect, dsn string, opts ...Option) (*SQLBackend, error) {
	b := &SQLBackend{dsn: dsn}
	switch strings.ToLower(dialect) {
	case DialectSQLite:
		b.dialect, b.driverName, b.introspect = DialectSQLite, "sqlite", introspectSQLite
	case DialectPostgres, "postgresql":
		b.dialect, b.driverName, b.introspect = DialectPostgres, "pgx", introspectPostgres
	case DialectMySQL:
		b.dialect, b.driverName, b.introspect = DialectMySQL, "mysql", introspectMySQL
	default:
		return nil, fmt.Errorf("database: unsupported dialect %q (available: sqlite, postgres, mysql)", dialect)
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.New(slog.DiscardHandler)
	}
	return b, nil
}

// Connect implements Backend.
func (b *SQLBackend) Connect(ctx context.Context) error {
	db, err := sqlx.ConnectContext(ctx, b.driverName, b.dsn)
	if err != nil {
		return fmt.Errorf("%s connect: %w", b.dialect, err)
	}
	if b.dialect == DialectSQLite && isMemoryDSN(b.dsn) {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	b.db = db
	b.logger.Info("database connected", "dialect", b.dialect)
	return nil
}

// Close implements Backend.
func (b *SQLBackend) Close() error {
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

// DB returns the underlying pool, or nil before Connect.
func (b *SQLBackend) DB() *sqlx.DB {
	return b.db
}

// Dialect implements Backend.
func (b *SQLBackend) Dialect() string {
	return b.dialect
}

// DiscoverTables implements Backend.
func (b *SQLBackend) DiscoverTables(ctx context.Context) ([]sqlflow.TableInfo, error) {
	if b.db == nil {
		return nil, ErrNotConnected
	}
	tables, err := b.introspect(ctx, b.db)
	if err != nil {
		return nil, fmt.Errorf("discover tables: %w", err)
	}
	b.logger.Info("schema discovered", "dialect", b.dialect, "table_count", len(tables))
	return tables, nil
}

// ValidateSQL implements Backend by running the read-only guard and then
// asking the engine to EXPLAIN the statement.
func (b *SQLBackend) ValidateSQL(ctx context.Context, query string) ([]string, error) {
	if b.db == nil {
		return nil, ErrNotConnected
	}
	if errs := sqlguard.CheckReadOnly(query); errs != nil {
		return errs, nil
	}

	rows, err := b.db.QueryContext(ctx, "EXPLAIN "+trimStatement(query))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return []string{err.Error()}, nil
	}
	defer rows.Close()
	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		return []string{err.Error()}, nil
	}
	return nil, nil
}

// ExecuteSQL implements Backend.
func (b *SQLBackend) ExecuteSQL(ctx context.Context, query string, timeout time.Duration) ([]sqlflow.Row, error) {
	if b.db == nil {
		return nil, &sqlflow.ExecutionError{SQL: query, Err: ErrNotConnected}
	}
	if errs := sqlguard.CheckReadOnly(query); errs != nil {
		return nil, &sqlflow.ExecutionError{SQL: query, Err: errors.New(errs[0])}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := b.query(ctx, trimStatement(query), timeout)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("query timed out after %s: %w", timeout, context.DeadlineExceeded)
		}
		return nil, &sqlflow.ExecutionError{SQL: query, Err: err}
	}

	b.logger.Debug("query executed",
		"dialect", b.dialect,
		"row_count", len(rows),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return rows, nil
}

// query runs the statement. Server dialects run it in a read-only
// transaction with a server-side statement timeout.
func (b *SQLBackend) query(ctx context.Context, query string, timeout time.Duration) ([]sqlflow.Row, error) {
	if b.dialect == DialectSQLite {
		rows, err := b.db.QueryxContext(ctx, query)
		if err != nil {
			return nil, err
		}
		return scanRows(rows)
	}

	tx, err := b.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if b.dialect == DialectPostgres && timeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL statement_timeout = %d", timeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return nil, err
		}
	}

	rows, err := tx.QueryxContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return scanRows(rows)
}

// scanRows drains rows into maps. Byte slices become strings so results
// serialize as text. The result is never nil.
func scanRows(rows *sqlx.Rows) ([]sqlflow.Row, error) {
	defer rows.Close()

	out := []sqlflow.Row{}
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		for k, v := range row {
			if bs, ok := v.([]byte); ok {
				row[k] = string(bs)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func trimStatement(query string) string {
	return strings.TrimRight(strings.TrimSpace(query), "; \t\n")
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}
