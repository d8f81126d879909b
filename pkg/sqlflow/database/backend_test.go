package database_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/database"
)

// newSQLite returns a connected backend over a seeded temp database.
func newSQLite(t *testing.T) *database.SQLBackend {
	t.Helper()
	ctx := context.Background()

	b, err := database.New("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, b.Connect(ctx))
	t.Cleanup(func() { _ = b.Close() })

	stmts := []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, email TEXT)`,
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, user_id INTEGER, amount REAL)`,
		`CREATE VIEW big_orders AS SELECT * FROM orders WHERE amount > 100`,
		`INSERT INTO users (name, email) VALUES ('alice', 'a@example.com'), ('bob', NULL)`,
		`INSERT INTO orders (user_id, amount) VALUES (1, 50), (1, 150)`,
	}
	for _, s := range stmts {
		_, err := b.DB().ExecContext(ctx, s)
		require.NoError(t, err)
	}
	return b
}

func TestNew_UnsupportedDialect(t *testing.T) {
	_, err := database.New("oracle", "dsn")
	assert.ErrorContains(t, err, "unsupported dialect")
}

func TestSQLBackend_NotConnected(t *testing.T) {
	b, err := database.New("sqlite", ":memory:")
	require.NoError(t, err)

	_, err = b.DiscoverTables(context.Background())
	assert.ErrorIs(t, err, database.ErrNotConnected)

	_, err = b.ExecuteSQL(context.Background(), "SELECT 1", 0)
	var execErr *sqlflow.ExecutionError
	assert.ErrorAs(t, err, &execErr)
}

func TestSQLBackend_DiscoverTables(t *testing.T) {
	b := newSQLite(t)

	tables, err := b.DiscoverTables(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, 3)

	byName := map[string]sqlflow.TableInfo{}
	for _, tbl := range tables {
		byName[tbl.Name] = tbl
	}

	users := byName["users"]
	assert.Equal(t, "TABLE", users.Type)
	assert.Equal(t, []string{"id", "name", "email"}, users.ColumnNames())
	assert.False(t, users.Columns[1].Nullable)
	assert.True(t, users.Columns[2].Nullable)

	assert.Equal(t, "VIEW", byName["big_orders"].Type)
}

func TestSQLBackend_ValidateSQL(t *testing.T) {
	b := newSQLite(t)
	ctx := context.Background()

	errs, err := b.ValidateSQL(ctx, "SELECT count(*) FROM users")
	require.NoError(t, err)
	assert.Empty(t, errs)

	errs, err = b.ValidateSQL(ctx, "SELECT * FROM missing_table")
	require.NoError(t, err)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0], "missing_table")

	errs, err = b.ValidateSQL(ctx, "DELETE FROM users")
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "Forbidden SQL operation: DELETE")
}

func TestSQLBackend_ExecuteSQL(t *testing.T) {
	b := newSQLite(t)
	ctx := context.Background()

	rows, err := b.ExecuteSQL(ctx, "SELECT count(*) AS total FROM users;", time.Second)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 2, rows[0]["total"])

	rows, err = b.ExecuteSQL(ctx, "SELECT name FROM users WHERE name = 'nobody'", 0)
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestSQLBackend_ExecuteSQL_RefusesWrites(t *testing.T) {
	b := newSQLite(t)
	ctx := context.Background()

	_, err := b.ExecuteSQL(ctx, "DROP TABLE users", 0)
	var execErr *sqlflow.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, execErr.Error(), "Forbidden")

	rows, err := b.ExecuteSQL(ctx, "SELECT count(*) AS n FROM users", 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, rows[0]["n"])
}

func TestSQLBackend_ExecuteSQL_Timeout(t *testing.T) {
	b := newSQLite(t)

	// A recursive CTE that runs far longer than the timeout.
	const slow = `WITH RECURSIVE n(x) AS (SELECT 1 UNION ALL SELECT x + 1 FROM n)
		SELECT count(*) FROM n`
	_, err := b.ExecuteSQL(context.Background(), slow, 20*time.Millisecond)

	var execErr *sqlflow.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSQLBackend_Dialect(t *testing.T) {
	for _, d := range []string{"sqlite", "postgres", "mysql"} {
		b, err := database.New(d, "unused")
		require.NoError(t, err)
		assert.Equal(t, d, b.Dialect())
	}
}
