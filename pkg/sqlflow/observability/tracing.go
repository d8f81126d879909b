package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentation = "github.com/randalmurphal/sqlflow"

// SpanManager opens the spans around a run and its steps. A run span is
// the parent of every step span started from its context.
type SpanManager interface {
	StartRunSpan(ctx context.Context, threadID string) (context.Context, trace.Span)
	StartStepSpan(ctx context.Context, step string) (context.Context, trace.Span)

	// EndSpanWithError sets the span status from err and ends it.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent annotates the span in ctx, if it is recording.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type spanManager struct {
	tracer trace.Tracer
}

// NewSpanManager traces through the global provider. The global provider
// delegates, so otel.SetTracerProvider may be called before or after.
func NewSpanManager() SpanManager {
	return NewSpanManagerFor(otel.GetTracerProvider())
}

// NewSpanManagerFor traces through tp.
func NewSpanManagerFor(tp trace.TracerProvider) SpanManager {
	return &spanManager{tracer: tp.Tracer(instrumentation)}
}

// NoopSpanManager returns a SpanManager whose spans record nothing.
func NoopSpanManager() SpanManager {
	return NewSpanManagerFor(noop.NewTracerProvider())
}

func (m *spanManager) StartRunSpan(ctx context.Context, threadID string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "sqlflow.run", trace.WithAttributes(attribute.String("thread.id", threadID)))
}

func (m *spanManager) StartStepSpan(ctx context.Context, step string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "sqlflow.step."+step, trace.WithAttributes(attribute.String("step", step)))
}

func (m *spanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	defer span.End()
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (m *spanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}
