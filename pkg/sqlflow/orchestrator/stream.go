package orchestrator

import (
	"context"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/pipeline"
)

// streamBuffer bounds how far the run may get ahead of a slow reader.
const streamBuffer = 32

// Stream submits question and returns its events as they happen. The
// pipeline's events are followed by a record event carrying the persisted
// QueryRecord (or an error event) and always end with a done event, after
// which the channel is closed. An empty sessionID runs sessionless.
//
// Cancelling ctx stops delivery; the channel is still closed.
func (o *Orchestrator) Stream(ctx context.Context, question, sessionID string) <-chan pipeline.Event {
	out := make(chan pipeline.Event, streamBuffer)
	go func() {
		defer close(out)
		send := func(ev pipeline.Event) {
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		}

		record, err := o.submit(ctx, question, sessionID, send)
		switch {
		case err != nil:
			send(pipeline.Event{Name: EventError, Data: map[string]any{"error": err.Error()}})
		default:
			send(pipeline.Event{Name: EventRecord, Data: map[string]any{"record": record}})
			if record.Status == sqlflow.StatusFailed {
				send(pipeline.Event{Name: EventError, Data: map[string]any{"error": record.Error}})
			}
		}
		send(pipeline.Event{Name: EventDone})
	}()
	return out
}
