package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/api"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/database"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/llm"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/orchestrator"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/pipeline"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/querycache"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/schema"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/store"
)

func newServer(t *testing.T, mock *llm.MockClient, cfg api.Config) *api.Server {
	t.Helper()
	ctx := context.Background()
	db, err := database.New(database.DialectSQLite, filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	require.NoError(t, db.Connect(ctx))
	t.Cleanup(func() { _ = db.Close() })
	for _, stmt := range []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`INSERT INTO users (name) VALUES ('alice'), ('bob')`,
	} {
		_, err := db.DB().ExecContext(ctx, stmt)
		require.NoError(t, err)
	}

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	pcfg := pipeline.DefaultConfig()
	pcfg.Selection = schema.SelectNone
	schemas := schema.NewService(db)
	engine := pipeline.New(mock, db, schemas, pipeline.WithConfig(pcfg), pipeline.WithClock(clock))
	orch := orchestrator.New(engine, schemas, store.NewMemoryRecordStore(), store.NewMemorySessionStore(clock),
		orchestrator.WithCache(querycache.New(querycache.WithClock(clock))),
		orchestrator.WithClock(clock),
	)
	return api.New(cfg, orch, nil)
}

func countUsers(mock *llm.MockClient) *llm.MockClient {
	return mock.
		ReplyJSON(map[string]any{"query_type": "simple", "reasoning": "lookup"}).
		ReplyToolCall("run_query", map[string]any{"query": "SELECT count(*) AS total FROM users"}).
		Reply("There are 2 users.")
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	srv := newServer(t, llm.NewMockClient("unused"), api.DefaultConfig())
	rec := do(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSubmitAndFetch(t *testing.T) {
	srv := newServer(t, countUsers(llm.NewMockClient("unused")), api.DefaultConfig())

	rec := do(t, srv, http.MethodPost, "/query", api.QueryRequest{Question: "How many users are there?"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	record := decode[sqlflow.QueryRecord](t, rec)
	assert.Equal(t, sqlflow.StatusExecuted, record.Status)
	assert.Equal(t, "There are 2 users.", record.Answer)
	assert.Equal(t, []sqlflow.Row{{"total": float64(2)}}, record.Result)

	rec = do(t, srv, http.MethodGet, "/query/"+record.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, record.ID, decode[sqlflow.QueryRecord](t, rec).ID)

	rec = do(t, srv, http.MethodGet, "/history?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[map[string]any](t, rec)
	assert.EqualValues(t, 1, page["total"])
}

func TestErrorMapping(t *testing.T) {
	srv := newServer(t, llm.NewMockClient("unused"), api.DefaultConfig())

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"empty question", http.MethodPost, "/query", api.QueryRequest{Question: " "}, http.StatusBadRequest},
		{"unknown record", http.MethodGet, "/query/nope", nil, http.StatusNotFound},
		{"approve unknown", http.MethodPost, "/approve/nope", api.ApproveRequest{Approved: true}, http.StatusNotFound},
		{"unknown session", http.MethodGet, "/conversations/nope", nil, http.StatusNotFound},
		{"unknown session history", http.MethodGet, "/conversations/nope/history", nil, http.StatusNotFound},
		{"bad limit", http.MethodGet, "/history?limit=x", nil, http.StatusBadRequest},
		{"stream without question", http.MethodGet, "/conversations/nope/stream", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			body := decode[api.ErrorResponse](t, rec)
			assert.Equal(t, tt.want, body.Error.Code)
			assert.NotEmpty(t, body.Error.Message)
		})
	}
}

func TestMalformedBody(t *testing.T) {
	srv := newServer(t, llm.NewMockClient("unused"), api.DefaultConfig())
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApproveFlow(t *testing.T) {
	mock := llm.NewMockClient("unused").
		ReplyJSON(map[string]any{"query_type": "simple", "reasoning": "lookup"}).
		ReplyToolCall("run_query", map[string]any{"query": "SELECT * FROM missing_table"}).
		Reply("The answer is 1.")
	srv := newServer(t, mock, api.DefaultConfig())

	rec := do(t, srv, http.MethodPost, "/query", api.QueryRequest{Question: "Show the missing data"})
	require.Equal(t, http.StatusOK, rec.Code)
	record := decode[sqlflow.QueryRecord](t, rec)
	require.Equal(t, sqlflow.StatusPending, record.Status)

	rec = do(t, srv, http.MethodPost, "/approve/"+record.ID, api.ApproveRequest{Approved: true, ModifiedSQL: "DROP TABLE users"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/approve/"+record.ID, api.ApproveRequest{Approved: true, ModifiedSQL: "SELECT 1 AS n"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decode[sqlflow.QueryRecord](t, rec)
	assert.Equal(t, sqlflow.StatusExecuted, approved.Status)
	assert.Equal(t, "The answer is 1.", approved.Answer)

	rec = do(t, srv, http.MethodPost, "/approve/"+record.ID, api.ApproveRequest{Approved: false})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestConversation(t *testing.T) {
	srv := newServer(t, countUsers(llm.NewMockClient("unused")), api.DefaultConfig())

	rec := do(t, srv, http.MethodPost, "/conversations", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	session := decode[sqlflow.SessionInfo](t, rec)
	require.NotEmpty(t, session.ID)

	rec = do(t, srv, http.MethodPost, "/conversations/"+session.ID+"/query", api.QueryRequest{Question: "How many users are there?"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	record := decode[sqlflow.QueryRecord](t, rec)
	assert.Equal(t, session.ID, record.SessionID)

	rec = do(t, srv, http.MethodGet, "/conversations/"+session.ID+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[api.SessionHistoryResponse](t, rec)
	require.Len(t, history.Records, 1)
	assert.Equal(t, record.ID, history.Records[0].ID)
	assert.Equal(t, []string{record.ID}, history.Session.QueryIDs)
}

func TestStream(t *testing.T) {
	srv := newServer(t, countUsers(llm.NewMockClient("unused")), api.DefaultConfig())

	rec := do(t, srv, http.MethodPost, "/conversations", nil)
	session := decode[sqlflow.SessionInfo](t, rec)

	req := httptest.NewRequest(http.MethodGet, "/conversations/"+session.ID+"/stream?question=How+many+users", nil)
	out := httptest.NewRecorder()
	srv.ServeHTTP(out, req)
	require.Equal(t, http.StatusOK, out.Code)
	assert.Equal(t, "text/event-stream", out.Header().Get("Content-Type"))

	var names []string
	scanner := bufio.NewScanner(out.Body)
	for scanner.Scan() {
		if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
			names = append(names, name)
		}
	}
	require.NotEmpty(t, names)
	assert.Equal(t, pipeline.EventSchemaDiscovered, names[0])
	assert.Contains(t, names, pipeline.EventAnswer)
	assert.Equal(t, []string{orchestrator.EventRecord, orchestrator.EventDone}, names[len(names)-2:])
}

func TestCacheEndpoints(t *testing.T) {
	srv := newServer(t, countUsers(llm.NewMockClient("unused")), api.DefaultConfig())

	for range 2 {
		rec := do(t, srv, http.MethodPost, "/query", api.QueryRequest{Question: "How many users are there?"})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := do(t, srv, http.MethodGet, "/cache/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"entries":1,"hits":1,"misses":1}`, rec.Body.String())

	rec = do(t, srv, http.MethodPost, "/cache/flush", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/cache/stats", nil)
	assert.JSONEq(t, `{"entries":0,"hits":1,"misses":1}`, rec.Body.String())
}

func TestRateLimit(t *testing.T) {
	cfg := api.DefaultConfig()
	cfg.RateLimit = 2
	srv := newServer(t, llm.NewMockClient("unused"), cfg)

	for range 2 {
		rec := do(t, srv, http.MethodGet, "/query/nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}
	rec := do(t, srv, http.MethodGet, "/query/nope", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Health is outside the limited group.
	rec = do(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
