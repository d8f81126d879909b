package schema_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/llm"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/schema"
)

// countingSource returns fixed tables and counts discovery calls.
type countingSource struct {
	tables []sqlflow.TableInfo
	calls  atomic.Int32
	gate   chan struct{}
	err    error
}

func (c *countingSource) DiscoverTables(ctx context.Context) ([]sqlflow.TableInfo, error) {
	c.calls.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	return c.tables, c.err
}

func (c *countingSource) Dialect() string { return "sqlite" }

func sampleTables() []sqlflow.TableInfo {
	return []sqlflow.TableInfo{
		{Name: "users", Columns: []sqlflow.ColumnInfo{
			{Name: "id", DataType: "INTEGER"},
			{Name: "name", DataType: "TEXT", Nullable: true},
		}},
		{Name: "orderItems", Schema: "sales", Description: "Line items per order", Columns: []sqlflow.ColumnInfo{
			{Name: "order_id", DataType: "INTEGER"},
			{Name: "unit_price", DataType: "REAL", Description: "price in cents"},
		}},
		{Name: "audit_log", Columns: []sqlflow.ColumnInfo{
			{Name: "event", DataType: "TEXT"},
		}},
	}
}

func TestService_CachesWithinTTL(t *testing.T) {
	src := &countingSource{tables: sampleTables()}
	svc := schema.NewService(src)
	ctx := context.Background()

	first, err := svc.GetSchema(ctx, false)
	require.NoError(t, err)
	second, err := svc.GetSchema(ctx, false)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.EqualValues(t, 1, src.calls.Load())
}

func TestService_ForceRefresh(t *testing.T) {
	src := &countingSource{tables: sampleTables()}
	svc := schema.NewService(src)
	ctx := context.Background()

	_, err := svc.GetSchema(ctx, false)
	require.NoError(t, err)
	_, err = svc.GetSchema(ctx, true)
	require.NoError(t, err)
	assert.EqualValues(t, 2, src.calls.Load())
}

func TestService_ExpiredSnapshotRediscovered(t *testing.T) {
	src := &countingSource{tables: sampleTables()}
	svc := schema.NewService(src, schema.WithTTL(20*time.Millisecond))
	ctx := context.Background()

	_, err := svc.GetSchema(ctx, false)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := svc.GetSchema(ctx, false)
		return err == nil && src.calls.Load() == 2
	}, time.Second, 10*time.Millisecond)
}

func TestService_ConcurrentMissesCoalesce(t *testing.T) {
	src := &countingSource{tables: sampleTables(), gate: make(chan struct{})}
	svc := schema.NewService(src)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.GetSchema(context.Background(), false)
		}()
	}
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	assert.EqualValues(t, 1, src.calls.Load())
}

func TestService_DiscoveryError(t *testing.T) {
	src := &countingSource{err: errors.New("connection refused")}
	svc := schema.NewService(src)

	_, err := svc.GetSchema(context.Background(), false)
	assert.ErrorContains(t, err, "connection refused")
}

func TestService_Filters(t *testing.T) {
	src := &countingSource{tables: sampleTables()}

	svc := schema.NewService(src, schema.WithInclude("users", "sales.orderItems"), schema.WithExclude("users"))
	snap, err := svc.GetSchema(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"sales.orderItems", "users"}, snap.TableNames(), "include wins over exclude")

	svc = schema.NewService(src, schema.WithExclude("audit_log"))
	snap, err = svc.GetSchema(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"sales.orderItems", "users"}, snap.TableNames())
}

func TestRender_OrderAndBudget(t *testing.T) {
	snap := &sqlflow.SchemaInfo{Tables: sampleTables()}

	full := schema.Render(snap, 10000, "sqlite")
	assert.True(t, strings.HasPrefix(full, "-- Line items per order\nCREATE TABLE sales.orderItems ("))
	assert.Less(t, strings.Index(full, "audit_log"), strings.Index(full, "CREATE TABLE users"))
	assert.Contains(t, full, "  id INTEGER NOT NULL,\n")
	assert.Contains(t, full, "unit_price REAL NOT NULL  -- price in cents")
	assert.NotContains(t, full, "omitted")

	first := schema.RenderTable(snap.Tables[1], "sqlite")
	partial := schema.Render(snap, schema.EstimateTokens(first), "sqlite")
	assert.True(t, strings.HasPrefix(partial, first))
	assert.True(t, strings.HasSuffix(partial, "-- Tables omitted: audit_log, users"))
}

func TestRender_ZeroBudget(t *testing.T) {
	snap := &sqlflow.SchemaInfo{Tables: sampleTables()}
	assert.Equal(t, "-- Tables omitted: orderItems, audit_log, users", schema.Render(snap, 0, "sqlite"))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 1, schema.EstimateTokens(""))
	assert.Equal(t, 1, schema.EstimateTokens("abc"))
	assert.Equal(t, 25, schema.EstimateTokens(strings.Repeat("a", 100)))
}

func TestTokenize(t *testing.T) {
	got := schema.Tokenize("orderItems unit_price, Total-Sales")
	for _, want := range []string{"order", "items", "unit", "price", "total", "sales"} {
		assert.True(t, got[want], "missing token %q", want)
	}
}

func TestSelectByKeywords(t *testing.T) {
	tables := sampleTables()

	got := schema.SelectByKeywords("average unit price per order item", tables, 2)
	require.NotEmpty(t, got)
	assert.Equal(t, "orderItems", got[0].Name)

	fallback := schema.SelectByKeywords("zzz qqq", tables, 2)
	assert.Equal(t, []string{"users", "orderItems"}, names(fallback))
}

func TestSelector_LLM(t *testing.T) {
	tables := sampleTables()

	mock := llm.NewMockClient("").Reply(`["audit_log"]`)
	got := schema.NewSelector(mock, nil).Select(context.Background(), "what happened", tables, 5, schema.SelectLLM)
	assert.Equal(t, []string{"audit_log"}, names(got))

	bad := llm.NewMockClient("").Reply("I cannot decide")
	got = schema.NewSelector(bad, nil).Select(context.Background(), "list users", tables, 5, schema.SelectLLM)
	assert.Equal(t, []string{"users"}, names(got), "falls back to keyword selection")

	unknown := llm.NewMockClient("").Reply(`["ghosts"]`)
	got = schema.NewSelector(unknown, nil).Select(context.Background(), "list users", tables, 5, schema.SelectLLM)
	assert.Equal(t, []string{"users"}, names(got))
}

func TestSelector_None(t *testing.T) {
	tables := sampleTables()
	got := schema.NewSelector(nil, nil).Select(context.Background(), "users", tables, 1, schema.SelectNone)
	assert.Len(t, got, 3)
}

func TestParseSelection(t *testing.T) {
	s, err := schema.ParseSelection("LLM")
	require.NoError(t, err)
	assert.Equal(t, schema.SelectLLM, s)

	_, err = schema.ParseSelection("vector")
	assert.Error(t, err)
}

func names(tables []sqlflow.TableInfo) []string {
	out := make([]string, len(tables))
	for i, t := range tables {
		out[i] = t.Name
	}
	return out
}
