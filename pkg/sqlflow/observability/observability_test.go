package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupMetricsTest installs a manual-reader meter provider for the test.
func setupMetricsTest(t *testing.T) *sdkmetric.ManualReader {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	original := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(original)
		_ = provider.Shutdown(context.Background())
	})
	return reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sum(t *testing.T, m *metricdata.Metrics) int64 {
	t.Helper()
	require.NotNil(t, m)
	data, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected int64 sum, got %T", m.Data)
	var total int64
	for _, dp := range data.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics_RecordStep(t *testing.T) {
	reader := setupMetricsTest(t)
	m, err := newMeterRecorder(otel.GetMeterProvider())
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordStep(ctx, "generate_query", 15*time.Millisecond, nil)
	m.RecordStep(ctx, "run_query", 5*time.Millisecond, errors.New("boom"))

	rm := collect(t, reader)
	assert.Equal(t, int64(2), sum(t, findMetric(rm, "sqlflow.step.executions")))
	assert.Equal(t, int64(1), sum(t, findMetric(rm, "sqlflow.step.errors")))
	assert.NotNil(t, findMetric(rm, "sqlflow.step.latency_ms"))
}

func TestMetrics_RunCacheRetry(t *testing.T) {
	reader := setupMetricsTest(t)
	m, err := newMeterRecorder(otel.GetMeterProvider())
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordRun(ctx, "simple", "completed", time.Second)
	m.RecordRun(ctx, "analytical", "suspended", time.Second)
	m.RecordCheckpoint(ctx, "classify", 512)
	m.RecordCacheLookup(ctx, "query", true)
	m.RecordCacheLookup(ctx, "query", false)
	m.RecordCacheLookup(ctx, "schema", true)
	m.RecordLLMRetry(ctx, "invoke")

	rm := collect(t, reader)
	assert.Equal(t, int64(2), sum(t, findMetric(rm, "sqlflow.run.count")))
	assert.Equal(t, int64(3), sum(t, findMetric(rm, "sqlflow.cache.lookups")))
	assert.Equal(t, int64(1), sum(t, findMetric(rm, "sqlflow.llm.retries")))
	assert.NotNil(t, findMetric(rm, "sqlflow.checkpoint.size_bytes"))
}

func TestNewMetricsRecorder_NotNoop(t *testing.T) {
	setupMetricsTest(t)
	_, isNoop := NewMetricsRecorder().(NoopMetrics)
	assert.False(t, isNoop)
}

func TestSpanManager(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		_ = tp.Shutdown(context.Background())
	})

	sm := NewSpanManager()
	ctx, run := sm.StartRunSpan(context.Background(), "thread-1")
	stepCtx, step := sm.StartStepSpan(ctx, "run_query")
	sm.AddSpanEvent(stepCtx, "rows")
	sm.EndSpanWithError(step, errors.New("db down"))
	sm.EndSpanWithError(run, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "sqlflow.step.run_query", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Len(t, spans[0].Events, 2, "custom event plus recorded error")
	assert.Equal(t, "sqlflow.run", spans[1].Name)
	assert.Equal(t, codes.Ok, spans[1].Status.Code)
	assert.Equal(t, spans[1].SpanContext.SpanID(), spans[0].Parent.SpanID())
}

func TestNoop(t *testing.T) {
	ctx := context.Background()
	var m MetricsRecorder = NoopMetrics{}
	m.RecordStep(ctx, "x", time.Second, errors.New("e"))
	m.RecordRun(ctx, "simple", "failed", time.Second)
	m.RecordCheckpoint(ctx, "x", 1)
	m.RecordCacheLookup(ctx, "q", true)
	m.RecordLLMRetry(ctx, "invoke")

	s := NoopSpanManager()
	_, span := s.StartRunSpan(ctx, "t")
	assert.False(t, span.IsRecording())
	s.EndSpanWithError(span, errors.New("ignored"))
}

func TestLogHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	LogRunStart(logger, "t1", "discover_schema")
	LogStepComplete(logger, "classify", 12)
	LogSuspended(logger, "t1", "human_approval")
	LogCheckpointError(logger, "run_query", "save", errors.New("disk full"))

	out := buf.String()
	assert.Contains(t, out, `"msg":"pipeline run starting"`)
	assert.Contains(t, out, `"thread_id":"t1"`)
	assert.Contains(t, out, `"duration_ms":12`)
	assert.Contains(t, out, `"msg":"pipeline suspended"`)
	assert.Contains(t, out, `"operation":"save"`)

	// nil loggers are ignored
	LogRunStart(nil, "t", "s")
	LogRunError(nil, "t", errors.New("x"), 1, "s")
	assert.Nil(t, EnrichLogger(nil, "t", "s"))
}
