package benchmarks

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/checkpoint"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/llm"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/pipeline"
)

// largeState is a thread after a long conversation with a sizeable result.
func largeState(b *testing.B) []byte {
	b.Helper()
	s := pipeline.NewState("bench")
	for i := 0; i < 20; i++ {
		s.Messages = append(s.Messages,
			llm.UserMessage(fmt.Sprintf("question %d about revenue by region", i)),
			llm.AssistantMessage(fmt.Sprintf("answer %d", i)),
		)
	}
	for i := 0; i < 100; i++ {
		s.Result = append(s.Result, sqlflow.Row{"region": fmt.Sprintf("r%d", i), "total": float64(i * 10)})
	}
	s.GeneratedSQL = "SELECT region, SUM(amount) AS total FROM orders GROUP BY region"
	data, err := json.Marshal(s)
	if err != nil {
		b.Fatal(err)
	}
	return data
}

func benchmarkSave(b *testing.B, store checkpoint.Store) {
	ctx := context.Background()
	data := largeState(b)
	at := time.Now()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cp := checkpoint.New("thread-1", fmt.Sprintf("step-%d", i%10), data, "next", at)
		if err := store.Save(ctx, cp); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkLatest(b *testing.B, store checkpoint.Store) {
	ctx := context.Background()
	data := largeState(b)
	for i := 0; i < 10; i++ {
		if err := store.Save(ctx, checkpoint.New("thread-1", fmt.Sprintf("step-%d", i), data, "next", time.Now())); err != nil {
			b.Fatal(err)
		}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := store.Latest(ctx, "thread-1"); err != nil {
			b.Fatal(err)
		}
	}
}

func sqliteStore(b *testing.B) *checkpoint.SQLiteStore {
	b.Helper()
	store, err := checkpoint.NewSQLiteStore(context.Background(), filepath.Join(b.TempDir(), "cp.db"))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = store.Close() })
	return store
}

// BenchmarkMemoryStore_Save measures in-memory checkpoint save.
func BenchmarkMemoryStore_Save(b *testing.B) {
	benchmarkSave(b, checkpoint.NewMemoryStore())
}

// BenchmarkMemoryStore_Latest measures loading the newest checkpoint.
func BenchmarkMemoryStore_Latest(b *testing.B) {
	benchmarkLatest(b, checkpoint.NewMemoryStore())
}

// BenchmarkSQLiteStore_Save measures durable checkpoint save.
func BenchmarkSQLiteStore_Save(b *testing.B) {
	benchmarkSave(b, sqliteStore(b))
}

// BenchmarkSQLiteStore_Latest measures durable checkpoint load.
func BenchmarkSQLiteStore_Latest(b *testing.B) {
	benchmarkLatest(b, sqliteStore(b))
}

// BenchmarkStateRoundTrip measures the serialization done around every step.
func BenchmarkStateRoundTrip(b *testing.B) {
	data := largeState(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var s pipeline.State
		if err := json.Unmarshal(data, &s); err != nil {
			b.Fatal(err)
		}
		if _, err := json.Marshal(&s); err != nil {
			b.Fatal(err)
		}
	}
}
