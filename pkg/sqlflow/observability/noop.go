package observability

import (
	"context"
	"time"
)

// NoopMetrics discards every measurement.
type NoopMetrics struct{}

var _ MetricsRecorder = NoopMetrics{}

func (NoopMetrics) RecordStep(context.Context, string, time.Duration, error) {}
func (NoopMetrics) RecordRun(context.Context, string, string, time.Duration) {}
func (NoopMetrics) RecordCheckpoint(context.Context, string, int64)          {}
func (NoopMetrics) RecordCacheLookup(context.Context, string, bool)          {}
func (NoopMetrics) RecordLLMRetry(context.Context, string)                   {}
