package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/store"
)

type backends struct {
	records  store.RecordStore
	sessions store.SessionStore
	clock    *clockwork.FakeClock
}

// eachBackend runs fn against the memory and SQLite implementations.
func eachBackend(t *testing.T, fn func(t *testing.T, b backends)) {
	t.Run("memory", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
		fn(t, backends{
			records:  store.NewMemoryRecordStore(),
			sessions: store.NewMemorySessionStore(clock),
			clock:    clock,
		})
	})
	t.Run("sqlite", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
		db, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "store.db"), store.WithSQLiteClock(clock))
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		fn(t, backends{records: db.Records(), sessions: db.Sessions(), clock: clock})
	})
}

func newRecord(question, sessionID string, at time.Time) *sqlflow.QueryRecord {
	r := sqlflow.NewQueryRecord(question, "sqlite", sessionID, at)
	r.Status = sqlflow.StatusExecuted
	r.GeneratedSQL = "SELECT 1"
	r.Result = []sqlflow.Row{{"n": float64(1)}}
	r.Answer = "one"
	return r
}

func TestRecordStore_SaveGet(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backends) {
		ctx := context.Background()
		r := newRecord("how many?", "", b.clock.Now())
		require.NoError(t, b.records.Save(ctx, r))

		got, err := b.records.Get(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, r.Question, got.Question)
		assert.Equal(t, sqlflow.StatusExecuted, got.Status)
		assert.Equal(t, r.Result, got.Result)
		assert.NotNil(t, got.ValidationErrors)

		// Saving again replaces.
		r.Status = sqlflow.StatusFailed
		r.Error = "boom"
		require.NoError(t, b.records.Save(ctx, r))
		got, err = b.records.Get(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, sqlflow.StatusFailed, got.Status)

		n, err := b.records.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestRecordStore_GetMissing(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backends) {
		_, err := b.records.Get(context.Background(), "nope")
		assert.ErrorIs(t, err, sqlflow.ErrNotFound)
	})
}

func TestRecordStore_ListOrdering(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backends) {
		ctx := context.Background()
		base := b.clock.Now()
		var ids []string
		for i := 0; i < 5; i++ {
			r := newRecord("q", "", base.Add(time.Duration(i)*time.Second))
			require.NoError(t, b.records.Save(ctx, r))
			ids = append(ids, r.ID)
		}

		page, err := b.records.List(ctx, 2, 0)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, ids[4], page[0].ID, "newest first")
		assert.Equal(t, ids[3], page[1].ID)

		page, err = b.records.List(ctx, 10, 3)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, ids[1], page[0].ID)

		page, err = b.records.List(ctx, 10, 50)
		require.NoError(t, err)
		assert.Empty(t, page)
	})
}

func TestRecordStore_ListBySession(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backends) {
		ctx := context.Background()
		base := b.clock.Now()
		first := newRecord("first", "s1", base)
		other := newRecord("other", "s2", base.Add(time.Second))
		second := newRecord("second", "s1", base.Add(2*time.Second))
		for _, r := range []*sqlflow.QueryRecord{second, other, first} {
			require.NoError(t, b.records.Save(ctx, r))
		}

		got, err := b.records.ListBySession(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "first", got[0].Question)
		assert.Equal(t, "second", got[1].Question)
	})
}

func TestSessionStore_Lifecycle(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backends) {
		ctx := context.Background()
		session, err := b.sessions.Create(ctx)
		require.NoError(t, err)
		assert.Empty(t, session.QueryIDs)
		created := session.LastActivity

		got, err := b.sessions.Get(ctx, session.ID)
		require.NoError(t, err)
		assert.True(t, created.Equal(got.CreatedAt))

		r := newRecord("q", session.ID, b.clock.Now())
		require.NoError(t, b.records.Save(ctx, r))

		b.clock.Advance(time.Minute)
		updated, err := b.sessions.UpdateActivity(ctx, session.ID, r.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{r.ID}, updated.QueryIDs)
		assert.True(t, updated.LastActivity.After(created))

		// Idempotent append.
		updated, err = b.sessions.UpdateActivity(ctx, session.ID, r.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{r.ID}, updated.QueryIDs)
	})
}

func TestSessionStore_NotFound(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backends) {
		ctx := context.Background()
		_, err := b.sessions.Get(ctx, "missing")
		assert.ErrorIs(t, err, sqlflow.ErrNotFound)
		_, err = b.sessions.UpdateActivity(ctx, "missing", "q")
		assert.ErrorIs(t, err, sqlflow.ErrNotFound)
	})
}

func TestSessionStore_ListByActivity(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backends) {
		ctx := context.Background()
		older, err := b.sessions.Create(ctx)
		require.NoError(t, err)
		b.clock.Advance(time.Second)
		newer, err := b.sessions.Create(ctx)
		require.NoError(t, err)

		list, err := b.sessions.List(ctx, 10, 0)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, newer.ID, list[0].ID)

		b.clock.Advance(time.Second)
		_, err = b.sessions.UpdateActivity(ctx, older.ID, "")
		require.NoError(t, err)

		list, err = b.sessions.List(ctx, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, older.ID, list[0].ID)
	})
}

func TestSQLite_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")

	db, err := store.OpenSQLite(ctx, path)
	require.NoError(t, err)
	r := newRecord("persist me", "", time.Now())
	require.NoError(t, db.Records().Save(ctx, r))
	require.NoError(t, db.Close())

	db, err = store.OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer db.Close()
	got, err := db.Records().Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "persist me", got.Question)
}
