package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/checkpoint"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/llm"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/observability"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/schema"
)

// Database is the SQL capability a run needs. database.Backend satisfies it.
type Database interface {
	Dialect() string
	ValidateSQL(ctx context.Context, query string) ([]string, error)
	ExecuteSQL(ctx context.Context, query string, timeout time.Duration) ([]sqlflow.Row, error)
}

// SchemaProvider supplies schema snapshots. *schema.Service satisfies it.
type SchemaProvider interface {
	GetSchema(ctx context.Context, force bool) (*sqlflow.SchemaInfo, error)
}

// Result is where a run stopped.
type Result struct {
	// State is the thread state after the last executed step.
	State *State

	// Next is End for a finished run, or StepHumanApproval when the run is
	// waiting for a Decision.
	Next Step
}

// Suspended reports whether the run is waiting for approval.
func (r *Result) Suspended() bool {
	return r != nil && r.Next == StepHumanApproval
}

// Engine drives pipeline runs. It is safe for concurrent use.
type Engine struct {
	client   llm.Client
	db       Database
	schemas  SchemaProvider
	selector *schema.Selector
	store    checkpoint.Store
	locks    *checkpoint.KeyedMutex
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  observability.MetricsRecorder
	spans    observability.SpanManager
	cfg      Config
}

// Option configures an Engine.
type Option func(*Engine)

// WithCheckpointStore sets where thread state is persisted. The default is
// an in-memory store, which does not survive a restart.
func WithCheckpointStore(store checkpoint.Store) Option {
	return func(e *Engine) { e.store = store }
}

// WithConfig replaces the default limits.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithClock sets the clock used for checkpoint timestamps and durations.
func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics observability.MetricsRecorder) Option {
	return func(e *Engine) { e.metrics = metrics }
}

// WithSpanManager sets the tracer wrapper.
func WithSpanManager(spans observability.SpanManager) Option {
	return func(e *Engine) { e.spans = spans }
}

// New creates an engine that asks client, runs SQL on db and reads the
// schema from schemas.
func New(client llm.Client, db Database, schemas SchemaProvider, opts ...Option) *Engine {
	e := &Engine{
		client:  client,
		db:      db,
		schemas: schemas,
		locks:   checkpoint.NewKeyedMutex(),
		clock:   clockwork.NewRealClock(),
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager(),
		cfg:     DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	if e.store == nil {
		e.store = checkpoint.NewMemoryStore()
	}
	e.selector = schema.NewSelector(client, e.logger)
	return e
}

// Config returns the engine's limits.
func (e *Engine) Config() Config {
	return e.cfg
}

// Run starts a new anonymous turn on threadID. See RunTurn.
func (e *Engine) Run(ctx context.Context, threadID, question string, emit Emitter) (*Result, error) {
	return e.RunTurn(ctx, threadID, "", question, emit)
}

// RunTurn starts a new turn named turnID on threadID. Conversation history
// from earlier turns on the thread is kept; everything else is reset.
//
// The returned Result is non-nil whenever the thread state was loaded, so
// callers can inspect a failed run.
func (e *Engine) RunTurn(ctx context.Context, threadID, turnID, question string, emit Emitter) (*Result, error) {
	if threadID == "" {
		return nil, ErrThreadRequired
	}
	unlock := e.locks.Lock(threadID)
	defer unlock()

	state, _, err := e.load(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		state, err = NewState(threadID), nil
	}
	if err != nil {
		return nil, err
	}
	state.BeginTurn(turnID, question)
	return e.drive(ctx, state, StepDiscoverSchema, emit)
}

// Resume continues a thread suspended before human approval. It fails with
// sqlflow.ErrNotFound for an unknown thread and sqlflow.ErrInvalidState
// when the thread is not waiting for a decision, or when decision.TurnID
// is set and a different turn is waiting.
func (e *Engine) Resume(ctx context.Context, threadID string, decision Decision, emit Emitter) (*Result, error) {
	if threadID == "" {
		return nil, ErrThreadRequired
	}
	unlock := e.locks.Lock(threadID)
	defer unlock()

	state, cp, err := e.load(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, fmt.Errorf("thread %s: %w", threadID, sqlflow.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if Step(cp.NextStep) != StepHumanApproval {
		return nil, fmt.Errorf("thread %s is not awaiting approval (next step %s): %w",
			threadID, Step(cp.NextStep), sqlflow.ErrInvalidState)
	}
	if decision.TurnID != "" && decision.TurnID != state.TurnID {
		return nil, fmt.Errorf("thread %s is awaiting turn %s, not %s: %w",
			threadID, state.TurnID, decision.TurnID, sqlflow.ErrInvalidState)
	}

	observability.LogResume(e.logger, threadID, cp.NextStep, cp.Sequence)
	state.Decision = &decision
	return e.drive(ctx, state, StepHumanApproval, emit)
}

// Inspect returns the latest persisted state of threadID and the step it
// would run next.
func (e *Engine) Inspect(ctx context.Context, threadID string) (*Result, error) {
	state, cp, err := e.load(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, fmt.Errorf("thread %s: %w", threadID, sqlflow.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &Result{State: state, Next: Step(cp.NextStep)}, nil
}

// load decodes the latest checkpoint of threadID.
func (e *Engine) load(ctx context.Context, threadID string) (*State, *checkpoint.Checkpoint, error) {
	cp, err := e.store.Latest(ctx, threadID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return nil, nil, err
		}
		return nil, nil, &CheckpointError{Op: "load", Err: err}
	}
	if cp.Version != checkpoint.Version {
		return nil, nil, &CheckpointError{
			Step: Step(cp.Step),
			Op:   "load",
			Err:  fmt.Errorf("%w: got %d, want %d", ErrCheckpointVersionMismatch, cp.Version, checkpoint.Version),
		}
	}
	state := NewState(threadID)
	if err := json.Unmarshal(cp.State, state); err != nil {
		return nil, nil, &CheckpointError{Step: Step(cp.Step), Op: "decode", Err: err}
	}
	return state, cp, nil
}

// drive executes steps from start until the run ends, suspends or fails.
func (e *Engine) drive(ctx context.Context, state *State, start Step, emit Emitter) (result *Result, runErr error) {
	began := e.clock.Now()
	observability.LogRunStart(e.logger, state.ThreadID, string(start))

	ctx, runSpan := e.spans.StartRunSpan(ctx, state.ThreadID)
	defer func() {
		e.spans.EndSpanWithError(runSpan, runErr)
	}()

	r := &runner{
		engine: e,
		state:  state,
		logger: e.logger.With("thread_id", state.ThreadID),
		emit: func(ctx context.Context, name string, data map[string]any) {
			e.spans.AddSpanEvent(ctx, name, attribute.String("thread_id", state.ThreadID))
			if emit != nil {
				emit(Event{Name: name, Data: data})
			}
		},
	}

	current := start
	iterations := 0
	steps := 0
	for current != End {
		if current == StepHumanApproval && state.Decision == nil {
			r.emit(ctx, EventAwaitingApproval, map[string]any{
				"sql":               state.GeneratedSQL,
				"validation_errors": state.ValidationErrors,
			})
			observability.LogSuspended(e.logger, state.ThreadID, string(current))
			e.metrics.RecordRun(ctx, string(state.QueryType), "suspended", e.clock.Since(began))
			return &Result{State: state, Next: current}, nil
		}

		iterations++
		if iterations > e.cfg.MaxIterations {
			return e.fail(ctx, state, current, &MaxIterationsError{Max: e.cfg.MaxIterations, LastStep: current}, began)
		}
		if err := ctx.Err(); err != nil {
			return e.fail(ctx, state, current, &StepError{Step: current, Err: err}, began)
		}

		next, err := e.execute(ctx, r, current)
		if err != nil {
			return e.fail(ctx, state, current, err, began)
		}
		steps++

		if err := e.save(ctx, state, current, next); err != nil {
			return e.fail(ctx, state, current, err, began)
		}
		current = next
	}

	if state.Answer != "" {
		r.emit(ctx, EventAnswer, map[string]any{"answer": state.Answer})
	}
	outcome := "completed"
	if state.Error != "" {
		outcome = "failed"
	}
	e.metrics.RecordRun(ctx, string(state.QueryType), outcome, e.clock.Since(began))
	observability.LogRunComplete(e.logger, state.ThreadID, float64(e.clock.Since(began).Milliseconds()), steps)
	return &Result{State: state}, nil
}

// execute runs one step with panic recovery and per-step observability.
func (e *Engine) execute(ctx context.Context, r *runner, step Step) (next Step, err error) {
	logger := observability.EnrichLogger(e.logger, r.state.ThreadID, string(step))
	observability.LogStepStart(logger, string(step))

	stepCtx, span := e.spans.StartStepSpan(ctx, string(step))
	began := e.clock.Now()
	defer func() {
		if p := recover(); p != nil {
			next, err = End, &PanicError{Step: step, Value: p, Stack: string(debug.Stack())}
		}
		duration := e.clock.Since(began)
		e.metrics.RecordStep(stepCtx, string(step), duration, err)
		e.spans.EndSpanWithError(span, err)
		if err != nil {
			observability.LogStepError(logger, string(step), err)
			return
		}
		observability.LogStepComplete(logger, string(step), float64(duration.Milliseconds()))
	}()

	next, err = r.exec(stepCtx, step)
	if err != nil {
		return End, &StepError{Step: step, Err: err}
	}
	return next, nil
}

// save checkpoints state after step, recording next as the resume point.
func (e *Engine) save(ctx context.Context, state *State, step, next Step) error {
	data, err := json.Marshal(state)
	if err != nil {
		observability.LogCheckpointError(e.logger, string(step), "marshal", err)
		return &CheckpointError{Step: step, Op: "marshal", Err: err}
	}
	cp := checkpoint.New(state.ThreadID, string(step), data, string(next), e.clock.Now())
	if err := e.store.Save(ctx, cp); err != nil {
		observability.LogCheckpointError(e.logger, string(step), "save", err)
		return &CheckpointError{Step: step, Op: "save", Err: err}
	}
	e.metrics.RecordCheckpoint(ctx, string(step), int64(len(data)))
	observability.LogCheckpoint(e.logger, string(step), len(data))
	return nil
}

// fail records err on the state and closes the thread with a terminal
// checkpoint, so the next turn starts from a finished run.
func (e *Engine) fail(ctx context.Context, state *State, step Step, err error, began time.Time) (*Result, error) {
	state.Error = err.Error()
	state.PendingCallID = ""
	state.Decision = nil

	var cpErr *CheckpointError
	if !errors.As(err, &cpErr) {
		if saveErr := e.save(context.WithoutCancel(ctx), state, step, End); saveErr != nil {
			e.logger.Warn("terminal checkpoint failed", "thread_id", state.ThreadID, "error", saveErr)
		}
	}

	duration := e.clock.Since(began)
	e.metrics.RecordRun(ctx, string(state.QueryType), "failed", duration)
	observability.LogRunError(e.logger, state.ThreadID, err, float64(duration.Milliseconds()), string(lastStep(err)))
	return &Result{State: state}, err
}
