// Package observability provides structured logging, metrics and tracing
// for the sqlflow pipeline.
//
// Features:
//   - Structured logging via slog (nil-safe helpers)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds pipeline context to a logger.
// Returns a new logger with thread_id and step fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "thread-123", "generate_query")
//	enriched.Info("invoking model") // includes thread_id, step
func EnrichLogger(logger *slog.Logger, threadID, step string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("thread_id", threadID),
		slog.String("step", step),
	)
}

// LogRunStart logs the start of a pipeline run.
func LogRunStart(logger *slog.Logger, threadID, step string) {
	if logger == nil {
		return
	}
	logger.Info("pipeline run starting",
		slog.String("thread_id", threadID),
		slog.String("step", step),
	)
}

// LogRunComplete logs a run that stopped cleanly, finished or suspended.
func LogRunComplete(logger *slog.Logger, threadID string, durationMs float64, steps int) {
	if logger == nil {
		return
	}
	logger.Info("pipeline run completed",
		slog.String("thread_id", threadID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("steps_executed", steps),
	)
}

// LogRunError logs pipeline run failure.
func LogRunError(logger *slog.Logger, threadID string, err error, durationMs float64, lastStep string) {
	if logger == nil {
		return
	}
	logger.Error("pipeline run failed",
		slog.String("thread_id", threadID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("step", lastStep),
	)
}

// LogStepStart logs step execution start.
func LogStepStart(logger *slog.Logger, step string) {
	if logger == nil {
		return
	}
	logger.Debug("step starting",
		slog.String("step", step),
	)
}

// LogStepComplete logs successful step completion.
func LogStepComplete(logger *slog.Logger, step string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("step completed",
		slog.String("step", step),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogStepError logs step execution error.
func LogStepError(logger *slog.Logger, step string, err error) {
	if logger == nil {
		return
	}
	logger.Error("step failed",
		slog.String("step", step),
		slog.String("error", err.Error()),
	)
}

// LogCheckpoint logs checkpoint creation.
func LogCheckpoint(logger *slog.Logger, step string, sizeBytes int) {
	if logger == nil {
		return
	}
	logger.Debug("checkpoint saved",
		slog.String("step", step),
		slog.Int("size_bytes", sizeBytes),
	)
}

// LogCheckpointError logs a checkpoint failure.
func LogCheckpointError(logger *slog.Logger, step string, op string, err error) {
	if logger == nil {
		return
	}
	logger.Error("checkpoint failed",
		slog.String("step", step),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// LogSuspended logs a run parking at an approval point.
func LogSuspended(logger *slog.Logger, threadID, step string) {
	if logger == nil {
		return
	}
	logger.Info("pipeline suspended",
		slog.String("thread_id", threadID),
		slog.String("step", step),
	)
}

// LogResume logs a run continuing from a checkpoint.
func LogResume(logger *slog.Logger, threadID, step string, sequence int) {
	if logger == nil {
		return
	}
	logger.Info("pipeline resuming",
		slog.String("thread_id", threadID),
		slog.String("step", step),
		slog.Int("sequence", sequence),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
