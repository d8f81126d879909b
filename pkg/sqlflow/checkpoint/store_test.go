package checkpoint_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow/checkpoint"
)

// storeFactory creates a store instance for testing.
type storeFactory func(t *testing.T) checkpoint.Store

func newCP(thread, step, state, next string) *checkpoint.Checkpoint {
	return checkpoint.New(thread, step, []byte(state), next, time.Now())
}

// storeContractTest runs contract tests against any Store implementation.
func storeContractTest(t *testing.T, name string, factory storeFactory) {
	ctx := context.Background()

	t.Run(name+"/Save_and_Load", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		cp := newCP("thread-1", "classify", `{"question":"q"}`, "generate_query")
		require.NoError(t, store.Save(ctx, cp))
		assert.Equal(t, 1, cp.Sequence)

		loaded, err := store.Load(ctx, "thread-1", "classify")
		require.NoError(t, err)
		assert.JSONEq(t, `{"question":"q"}`, string(loaded.State))
		assert.Equal(t, "generate_query", loaded.NextStep)
		assert.Equal(t, checkpoint.Version, loaded.Version)
		assert.False(t, loaded.Done())
	})

	t.Run(name+"/Load_NotFound", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		_, err := store.Load(ctx, "missing", "classify")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)
		_, err = store.Latest(ctx, "missing")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	})

	t.Run(name+"/Latest_TracksRepeatedSteps", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save(ctx, newCP("t", "generate_query", `1`, "check_query")))
		require.NoError(t, store.Save(ctx, newCP("t", "check_query", `2`, "run_query")))
		again := newCP("t", "generate_query", `3`, "")
		require.NoError(t, store.Save(ctx, again))
		assert.Equal(t, 3, again.Sequence)

		latest, err := store.Latest(ctx, "t")
		require.NoError(t, err)
		assert.Equal(t, "generate_query", latest.Step)
		assert.JSONEq(t, `3`, string(latest.State))
		assert.True(t, latest.Done())

		infos, err := store.List(ctx, "t")
		require.NoError(t, err)
		require.Len(t, infos, 2, "one checkpoint per step")
		assert.Equal(t, "check_query", infos[0].Step)
		assert.Equal(t, "generate_query", infos[1].Step)
		assert.Equal(t, int64(1), infos[1].Size)
	})

	t.Run(name+"/List_Empty", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		infos, err := store.List(ctx, "missing")
		require.NoError(t, err)
		assert.Empty(t, infos)
	})

	t.Run(name+"/Delete", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save(ctx, newCP("t", "a", `1`, "")))
		require.NoError(t, store.Delete(ctx, "t", "a"))
		require.NoError(t, store.Delete(ctx, "t", "never-saved"))

		_, err := store.Load(ctx, "t", "a")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	})

	t.Run(name+"/DeleteThread", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save(ctx, newCP("t1", "a", `1`, "")))
		require.NoError(t, store.Save(ctx, newCP("t1", "b", `2`, "")))
		require.NoError(t, store.Save(ctx, newCP("t2", "a", `3`, "")))

		require.NoError(t, store.DeleteThread(ctx, "t1"))

		infos, err := store.List(ctx, "t1")
		require.NoError(t, err)
		assert.Empty(t, infos)

		other, err := store.Latest(ctx, "t2")
		require.NoError(t, err)
		assert.Equal(t, 1, other.Sequence, "sequences are per thread")
	})

	t.Run(name+"/Closed", func(t *testing.T) {
		store := factory(t)
		require.NoError(t, store.Close())

		err := store.Save(ctx, newCP("t", "a", `1`, ""))
		assert.ErrorIs(t, err, checkpoint.ErrStoreClosed)
		_, err = store.Latest(ctx, "t")
		assert.ErrorIs(t, err, checkpoint.ErrStoreClosed)
	})

	t.Run(name+"/Concurrent", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				thread := fmt.Sprintf("thread-%d", i%3)
				for j := 0; j < 10; j++ {
					_ = store.Save(ctx, newCP(thread, fmt.Sprintf("step-%d", j), `{}`, ""))
					_, _ = store.Latest(ctx, thread)
				}
			}(i)
		}
		wg.Wait()

		infos, err := store.List(ctx, "thread-0")
		require.NoError(t, err)
		assert.Len(t, infos, 10)
	})
}

func TestMemoryStore_Contract(t *testing.T) {
	storeContractTest(t, "Memory", func(t *testing.T) checkpoint.Store {
		return checkpoint.NewMemoryStore()
	})
}

func TestSQLiteStore_Contract(t *testing.T) {
	storeContractTest(t, "SQLite", func(t *testing.T) checkpoint.Store {
		store, err := checkpoint.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "cp.db"))
		require.NoError(t, err)
		return store
	})
}

func TestSQLiteStore_Persistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cp.db")

	store1, err := checkpoint.NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store1.Save(ctx, newCP("t", "human_approval", `{"sql":"SELECT 1"}`, "human_approval")))
	require.NoError(t, store1.Close())

	store2, err := checkpoint.NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	defer store2.Close()

	cp, err := store2.Latest(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, "human_approval", cp.NextStep)
	assert.JSONEq(t, `{"sql":"SELECT 1"}`, string(cp.State))
}

func TestSQLiteStore_CloseIdempotent(t *testing.T) {
	store, err := checkpoint.NewSQLiteStore(context.Background(), ":memory:")
	require.NoError(t, err)
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	cp := newCP("t", "a", `{"n":1}`, "")
	require.NoError(t, store.Save(ctx, cp))
	cp.State[2] = 'x'

	loaded, err := store.Load(ctx, "t", "a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(loaded.State))
	assert.Equal(t, 1, store.Len())
}

func TestCheckpoint_MarshalRoundTrip(t *testing.T) {
	cp := newCP("t", "plan_analysis", `{"plan":[]}`, "execute_plan_step")
	data, err := cp.Marshal()
	require.NoError(t, err)

	back, err := checkpoint.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, cp.ThreadID, back.ThreadID)
	assert.Equal(t, cp.NextStep, back.NextStep)
	assert.True(t, cp.Timestamp.Equal(back.Timestamp))

	_, err = checkpoint.Unmarshal([]byte("not json"))
	assert.Error(t, err)
}

func TestKeyedMutex_SerializesPerKey(t *testing.T) {
	km := checkpoint.NewKeyedMutex()
	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("thread")
			defer unlock()
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive)
	assert.Equal(t, 0, km.Len(), "released keys are dropped")
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	km := checkpoint.NewKeyedMutex()
	unlockA := km.Lock("a")
	done := make(chan struct{})
	go func() {
		unlock := km.Lock("b")
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	unlockA()
	unlockA() // second call is a no-op
	assert.Equal(t, 0, km.Len())
}
