// Package orchestrator is the entry point external surfaces call to turn
// questions into QueryRecords.
//
// It starts and resumes pipeline runs, persists the resulting records,
// consults the query cache for sessionless questions and drives the
// approval lifecycle:
//
//	Submit / SubmitInSession -> executed | failed | pending
//	Approve(approved=true)   -> approved -> ExecuteApproved -> executed | failed
//	Approve(approved=false)  -> rejected
//
// A sessionless record runs on a thread named after the record id. Records
// submitted in a session share the session's thread, so later questions see
// earlier turns. Each run is tagged with its record id, and a decision only
// resumes the run of the record it was made on.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/approval"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/checkpoint"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/observability"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/pipeline"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/querycache"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/store"
)

// Stream event names added around the pipeline's own events.
const (
	EventRecord = "record"
	EventError  = "error"
	EventDone   = "done"
)

// SchemaSource provides the schema snapshot used to fingerprint cache keys.
type SchemaSource interface {
	GetSchema(ctx context.Context, force bool) (*sqlflow.SchemaInfo, error)
	Dialect() string
}

// Orchestrator coordinates the pipeline, stores, cache and approvals.
type Orchestrator struct {
	engine    *pipeline.Engine
	schemas   SchemaSource
	records   store.RecordStore
	sessions  store.SessionStore
	approvals *approval.Manager
	cache     *querycache.Cache
	locks     *checkpoint.KeyedMutex
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCache enables result caching for sessionless questions. A nil cache
// disables it.
func WithCache(cache *querycache.Cache) Option {
	return func(o *Orchestrator) { o.cache = cache }
}

// WithClock sets the clock used for record timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics sets the recorder for cache lookups.
func WithMetrics(metrics observability.MetricsRecorder) Option {
	return func(o *Orchestrator) { o.metrics = metrics }
}

// New creates an Orchestrator. Records and sessions are persisted to the
// given stores; the approval manager shares the record store.
func New(engine *pipeline.Engine, schemas SchemaSource, records store.RecordStore, sessions store.SessionStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		engine:   engine,
		schemas:  schemas,
		records:  records,
		sessions: sessions,
		locks:    checkpoint.NewKeyedMutex(),
		clock:    clockwork.NewRealClock(),
		logger:   slog.New(slog.DiscardHandler),
		metrics:  observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.approvals = approval.NewManager(records,
		approval.WithClock(o.clock),
		approval.WithLogger(o.logger),
	)
	return o
}

// Submit runs question on a fresh thread and returns its record.
//
// A pipeline failure is reported through the record's failed status, not
// the error; the error is reserved for invalid input and storage failures.
func (o *Orchestrator) Submit(ctx context.Context, question string) (*sqlflow.QueryRecord, error) {
	return o.submit(ctx, question, "", nil)
}

// SubmitInSession runs question on the session's thread, so the model sees
// the session's earlier turns. Cached results are never used. Returns
// sqlflow.ErrNotFound for an unknown session.
func (o *Orchestrator) SubmitInSession(ctx context.Context, question, sessionID string) (*sqlflow.QueryRecord, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required: %w", sqlflow.ErrRejectedInput)
	}
	return o.submit(ctx, question, sessionID, nil)
}

func (o *Orchestrator) submit(ctx context.Context, question, sessionID string, emit pipeline.Emitter) (*sqlflow.QueryRecord, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question is required: %w", sqlflow.ErrRejectedInput)
	}
	if sessionID != "" {
		if _, err := o.sessions.Get(ctx, sessionID); err != nil {
			return nil, err
		}
	}

	record := sqlflow.NewQueryRecord(question, o.schemas.Dialect(), sessionID, o.clock.Now())
	logger := o.logger.With("query_id", record.ID)
	if sessionID != "" {
		logger = logger.With("session_id", sessionID)
	}
	logger.Info("question submitted", "question", question)

	var schemaHash string
	if o.cache != nil && sessionID == "" {
		schemaHash = o.schemaHash(ctx)
		if schemaHash != "" {
			if entry, ok := o.cache.Get(question, schemaHash); ok {
				o.metrics.RecordCacheLookup(ctx, "query", true)
				logger.Info("cache hit")
				return o.fromCache(ctx, record, entry, emit)
			}
			o.metrics.RecordCacheLookup(ctx, "query", false)
		}
	}

	res, runErr := o.engine.RunTurn(ctx, record.ThreadID(), record.ID, question, emit)
	if err := o.finish(ctx, record, res, runErr, logger); err != nil {
		return nil, err
	}
	if record.Status == sqlflow.StatusExecuted && schemaHash != "" {
		o.cache.Set(question, schemaHash, record.GeneratedSQL, record.Result, record.Answer)
	}

	if sessionID != "" {
		if _, err := o.sessions.UpdateActivity(ctx, sessionID, record.ID); err != nil {
			return nil, fmt.Errorf("update session %s: %w", sessionID, err)
		}
	}
	return record, nil
}

// schemaHash fingerprints the current schema. An empty result disables the
// cache for this question.
func (o *Orchestrator) schemaHash(ctx context.Context) string {
	info, err := o.schemas.GetSchema(ctx, false)
	if err != nil {
		o.logger.Warn("schema unavailable, skipping cache", "error", err)
		return ""
	}
	return querycache.SchemaHash(info)
}

func (o *Orchestrator) fromCache(ctx context.Context, record *sqlflow.QueryRecord, entry querycache.Entry, emit pipeline.Emitter) (*sqlflow.QueryRecord, error) {
	now := o.clock.Now().UTC()
	record.GeneratedSQL = entry.SQL
	record.Result = entry.Result
	record.Answer = entry.Answer
	record.Status = sqlflow.StatusExecuted
	record.ExecutedAt = &now
	if err := o.records.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("save record %s: %w", record.ID, err)
	}
	if emit != nil && entry.Answer != "" {
		emit(pipeline.Event{Name: pipeline.EventAnswer, Data: map[string]any{"answer": entry.Answer, "cached": true}})
	}
	return record, nil
}

// finish copies the run's outcome onto record and persists it.
func (o *Orchestrator) finish(ctx context.Context, record *sqlflow.QueryRecord, res *pipeline.Result, runErr error, logger *slog.Logger) error {
	if res != nil {
		apply(record, res.State)
	}

	switch {
	case runErr != nil:
		o.markFailed(record, runErr.Error())
		logger.Error("query execution failed", "error", runErr)
	case res.Suspended():
		if err := o.approvals.SubmitForApproval(ctx, record); err != nil {
			return err
		}
		return nil
	case res.State.Error != "":
		o.markFailed(record, res.State.Error)
		logger.Warn("query execution failed", "error", res.State.Error)
	default:
		now := o.clock.Now().UTC()
		record.Status = sqlflow.StatusExecuted
		record.Error = ""
		record.ExecutedAt = &now
		logger.Info("query executed",
			"query_type", record.QueryType,
			"rows", len(record.Result),
		)
	}

	if err := o.records.Save(ctx, record); err != nil {
		return fmt.Errorf("save record %s: %w", record.ID, err)
	}
	return nil
}

// markFailed sets the failed status. Only executed records carry a result
// or answer.
func (o *Orchestrator) markFailed(record *sqlflow.QueryRecord, msg string) {
	record.Status = sqlflow.StatusFailed
	record.Error = msg
	record.Result = nil
	record.Answer = ""
}

// apply copies the externally visible parts of a run's state onto record.
func apply(record *sqlflow.QueryRecord, state *pipeline.State) {
	record.GeneratedSQL = state.GeneratedSQL
	record.ValidationErrors = append([]string{}, state.ValidationErrors...)
	record.Result = sqlflow.CloneRows(state.Result)
	record.Answer = state.Answer
	record.QueryType = state.QueryType
	record.AnalysisPlan = append([]sqlflow.PlanStep(nil), state.Plan...)
	record.AnalysisSteps = append([]sqlflow.StepResult(nil), state.StepResults...)
	if record.QueryType == "" {
		record.QueryType = sqlflow.QuerySimple
	}
}

// Approve records a reviewer's decision on a pending record. Approval
// substitutes modifiedSQL when given and immediately executes the record;
// rejection closes the paused run.
//
// Returns sqlflow.ErrInvalidState if the record is not pending and
// sqlflow.ErrRejectedInput if modifiedSQL is not read-only.
func (o *Orchestrator) Approve(ctx context.Context, id string, approved bool, modifiedSQL string) (*sqlflow.QueryRecord, error) {
	if !approved {
		return o.reject(ctx, id)
	}
	if _, err := o.approvals.Approve(ctx, id, modifiedSQL); err != nil {
		return nil, err
	}
	return o.ExecuteApproved(ctx, id)
}

func (o *Orchestrator) reject(ctx context.Context, id string) (*sqlflow.QueryRecord, error) {
	unlock := o.locks.Lock(id)
	defer unlock()

	record, err := o.approvals.Reject(ctx, id)
	if err != nil {
		return nil, err
	}
	// The run only needs closing; the record is already final.
	if _, err := o.engine.Resume(ctx, record.ThreadID(), pipeline.Decision{Approved: false, TurnID: id}, nil); err != nil {
		o.logger.Warn("close rejected run", "query_id", id, "error", err)
	}
	return record, nil
}

// ExecuteApproved resumes the paused run of an approved record with its
// (possibly substituted) SQL and records the outcome. Returns
// sqlflow.ErrInvalidState unless the record is approved.
func (o *Orchestrator) ExecuteApproved(ctx context.Context, id string) (*sqlflow.QueryRecord, error) {
	unlock := o.locks.Lock(id)
	defer unlock()

	record, err := o.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status != sqlflow.StatusApproved {
		return nil, fmt.Errorf("cannot execute record %s in status %s: %w", id, record.Status, sqlflow.ErrInvalidState)
	}

	logger := o.logger.With("query_id", id)
	decision := pipeline.Decision{Approved: true, ModifiedSQL: record.GeneratedSQL, TurnID: id}
	res, runErr := o.engine.Resume(ctx, record.ThreadID(), decision, nil)
	if errors.Is(runErr, sqlflow.ErrInvalidState) || errors.Is(runErr, sqlflow.ErrNotFound) {
		// A later question in the session abandoned this run.
		runErr = fmt.Errorf("paused run is no longer available: %w", runErr)
	}
	if err := o.finish(ctx, record, res, runErr, logger); err != nil {
		return nil, err
	}
	return record, nil
}

// Record returns the record with id.
func (o *Orchestrator) Record(ctx context.Context, id string) (*sqlflow.QueryRecord, error) {
	return o.records.Get(ctx, id)
}

// HistoryPage is one page of records, newest first.
type HistoryPage struct {
	Records []*sqlflow.QueryRecord `json:"records"`
	Total   int                    `json:"total"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

// History lists records newest first.
func (o *Orchestrator) History(ctx context.Context, limit, offset int) (*HistoryPage, error) {
	if limit <= 0 {
		limit = store.DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	records, err := o.records.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	total, err := o.records.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &HistoryPage{Records: records, Total: total, Limit: limit, Offset: offset}, nil
}

// CreateSession starts a new conversation.
func (o *Orchestrator) CreateSession(ctx context.Context) (*sqlflow.SessionInfo, error) {
	session, err := o.sessions.Create(ctx)
	if err != nil {
		return nil, err
	}
	o.logger.Info("session created", "session_id", session.ID)
	return session, nil
}

// Session returns the session with id.
func (o *Orchestrator) Session(ctx context.Context, id string) (*sqlflow.SessionInfo, error) {
	return o.sessions.Get(ctx, id)
}

// Sessions lists sessions by most recent activity.
func (o *Orchestrator) Sessions(ctx context.Context, limit, offset int) ([]*sqlflow.SessionInfo, error) {
	return o.sessions.List(ctx, limit, offset)
}

// SessionHistory returns a session's records oldest first.
func (o *Orchestrator) SessionHistory(ctx context.Context, id string) ([]*sqlflow.QueryRecord, error) {
	if _, err := o.sessions.Get(ctx, id); err != nil {
		return nil, err
	}
	return o.records.ListBySession(ctx, id)
}

// CacheStats reports query cache counters. A disabled cache reports zeros.
func (o *Orchestrator) CacheStats() querycache.Stats {
	if o.cache == nil {
		return querycache.Stats{}
	}
	return o.cache.Stats()
}

// FlushCache drops every cached result.
func (o *Orchestrator) FlushCache() {
	if o.cache != nil {
		o.cache.InvalidateAll()
		o.logger.Info("query cache flushed")
	}
}
