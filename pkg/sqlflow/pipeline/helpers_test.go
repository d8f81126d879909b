package pipeline_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/checkpoint"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/database"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/llm"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/pipeline"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/schema"
)

// newUsersDB returns a connected SQLite backend with a two-row users table.
func newUsersDB(t *testing.T) *database.SQLBackend {
	t.Helper()
	ctx := context.Background()
	b, err := database.New(database.DialectSQLite, filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	require.NoError(t, b.Connect(ctx))
	t.Cleanup(func() { _ = b.Close() })

	for _, stmt := range []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`INSERT INTO users (name) VALUES ('alice'), ('bob')`,
	} {
		_, err := b.DB().ExecContext(ctx, stmt)
		require.NoError(t, err)
	}
	return b
}

// fakeDB is a scripted Database.
type fakeDB struct {
	mu       sync.Mutex
	validate func(query string) []string
	execute  func(query string) ([]sqlflow.Row, error)
	executed []string
}

func (f *fakeDB) Dialect() string { return "sqlite" }

func (f *fakeDB) ValidateSQL(_ context.Context, query string) ([]string, error) {
	if f.validate == nil {
		return nil, nil
	}
	return f.validate(query), nil
}

func (f *fakeDB) ExecuteSQL(_ context.Context, query string, _ time.Duration) ([]sqlflow.Row, error) {
	f.mu.Lock()
	f.executed = append(f.executed, query)
	f.mu.Unlock()
	if f.execute == nil {
		return []sqlflow.Row{{"n": 1}}, nil
	}
	return f.execute(query)
}

func (f *fakeDB) Executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

// staticSchema serves a fixed snapshot.
type staticSchema struct{ tables []sqlflow.TableInfo }

func (s staticSchema) GetSchema(context.Context, bool) (*sqlflow.SchemaInfo, error) {
	return &sqlflow.SchemaInfo{Tables: s.tables}, nil
}

var salesTables = []sqlflow.TableInfo{
	{Name: "orders", Columns: []sqlflow.ColumnInfo{{Name: "id", DataType: "INTEGER"}, {Name: "amount", DataType: "REAL"}, {Name: "region", DataType: "TEXT"}}},
	{Name: "users", Columns: []sqlflow.ColumnInfo{{Name: "id", DataType: "INTEGER"}, {Name: "name", DataType: "TEXT"}}},
}

// failingStore fails every Save after the first n.
type failingStore struct {
	checkpoint.Store
	mu    sync.Mutex
	saves int
	after int
}

func (f *failingStore) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	f.mu.Lock()
	f.saves++
	n := f.saves
	f.mu.Unlock()
	if n > f.after {
		return errors.New("disk full")
	}
	return f.Store.Save(ctx, cp)
}

func testConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.Selection = schema.SelectNone
	return cfg
}

func simple() map[string]any {
	return map[string]any{"query_type": "simple", "reasoning": "direct lookup"}
}

func analytical() map[string]any {
	return map[string]any{"query_type": "analytical", "reasoning": "needs comparison"}
}

func toolMessages(msgs []llm.Message) []llm.Message {
	var out []llm.Message
	for _, m := range msgs {
		if m.Role == llm.RoleTool {
			out = append(out, m)
		}
	}
	return out
}

func countEvents(events []pipeline.Event, name string) int {
	n := 0
	for _, ev := range events {
		if ev.Name == name {
			n++
		}
	}
	return n
}
