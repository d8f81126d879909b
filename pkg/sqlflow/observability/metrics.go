package observability

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder receives pipeline measurements. NoopMetrics discards them.
type MetricsRecorder interface {
	RecordStep(ctx context.Context, step string, duration time.Duration, err error)
	// RecordRun is called once per Run or Resume with the outcome
	// completed, suspended or failed.
	RecordRun(ctx context.Context, mode, outcome string, duration time.Duration)
	RecordCheckpoint(ctx context.Context, step string, sizeBytes int64)
	// RecordCacheLookup counts a lookup against the schema or query cache.
	RecordCacheLookup(ctx context.Context, cache string, hit bool)
	RecordLLMRetry(ctx context.Context, op string)
}

type meterRecorder struct {
	steps       metric.Int64Counter
	stepErrors  metric.Int64Counter
	stepMillis  metric.Float64Histogram
	runs        metric.Int64Counter
	runMillis   metric.Float64Histogram
	cpBytes     metric.Int64Histogram
	cacheLookup metric.Int64Counter
	retries     metric.Int64Counter
}

func newMeterRecorder(mp metric.MeterProvider) (*meterRecorder, error) {
	meter := mp.Meter(instrumentation)
	var r meterRecorder
	var errs []error
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}
	millis := func(name, desc string) metric.Float64Histogram {
		h, err := meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("ms"))
		errs = append(errs, err)
		return h
	}

	r.steps = counter("sqlflow.step.executions", "Pipeline steps executed")
	r.stepErrors = counter("sqlflow.step.errors", "Pipeline steps that returned an error")
	r.stepMillis = millis("sqlflow.step.latency_ms", "Pipeline step latency")
	r.runs = counter("sqlflow.run.count", "Pipeline runs by mode and outcome")
	r.runMillis = millis("sqlflow.run.latency_ms", "Pipeline run latency")
	r.cacheLookup = counter("sqlflow.cache.lookups", "Cache lookups by cache and hit")
	r.retries = counter("sqlflow.llm.retries", "Model calls retried after a transient failure")

	var err error
	r.cpBytes, err = meter.Int64Histogram("sqlflow.checkpoint.size_bytes",
		metric.WithDescription("Encoded checkpoint size"), metric.WithUnit("By"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &r, nil
}

// NewMetricsRecorder records against the global meter provider, so set
// the provider first. It degrades to NoopMetrics if instruments cannot
// be created.
func NewMetricsRecorder() MetricsRecorder {
	return NewMetricsRecorderFor(otel.GetMeterProvider())
}

// NewMetricsRecorderFor records against mp.
func NewMetricsRecorderFor(mp metric.MeterProvider) MetricsRecorder {
	r, err := newMeterRecorder(mp)
	if err != nil {
		slog.Warn("metrics disabled", slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return r
}

func (r *meterRecorder) RecordStep(ctx context.Context, step string, duration time.Duration, err error) {
	opt := metric.WithAttributes(attribute.String("step", step))
	r.steps.Add(ctx, 1, opt)
	r.stepMillis.Record(ctx, millisOf(duration), opt)
	if err != nil {
		r.stepErrors.Add(ctx, 1, opt)
	}
}

func (r *meterRecorder) RecordRun(ctx context.Context, mode, outcome string, duration time.Duration) {
	opt := metric.WithAttributes(attribute.String("mode", mode), attribute.String("outcome", outcome))
	r.runs.Add(ctx, 1, opt)
	r.runMillis.Record(ctx, millisOf(duration), opt)
}

func (r *meterRecorder) RecordCheckpoint(ctx context.Context, step string, sizeBytes int64) {
	r.cpBytes.Record(ctx, sizeBytes, metric.WithAttributes(attribute.String("step", step)))
}

func (r *meterRecorder) RecordCacheLookup(ctx context.Context, cache string, hit bool) {
	r.cacheLookup.Add(ctx, 1, metric.WithAttributes(attribute.String("cache", cache), attribute.Bool("hit", hit)))
}

func (r *meterRecorder) RecordLLMRetry(ctx context.Context, op string) {
	r.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

func millisOf(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
