// Package approval manages the human review lifecycle of query records.
//
// A record whose SQL failed validation is parked as pending. A reviewer
// then approves it (optionally substituting corrected SQL) or rejects it:
//
//	pending -> approved -> executed | failed
//	pending -> rejected
//
// The approved -> executed/failed transition belongs to whoever resumes the
// paused run, not to this package. Every call persists the mutated record.
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/sqlguard"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/store"
)

// Manager applies approval transitions to records in a RecordStore.
type Manager struct {
	records store.RecordStore
	clock   clockwork.Clock
	logger  *slog.Logger

	// mu serializes read-modify-write cycles so that two reviewers cannot
	// both approve the same record.
	mu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for approval timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a Manager backed by records.
func NewManager(records store.RecordStore, opts ...Option) *Manager {
	m := &Manager{
		records: records,
		clock:   clockwork.NewRealClock(),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SubmitForApproval marks record pending and persists it.
func (m *Manager) SubmitForApproval(ctx context.Context, record *sqlflow.QueryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record.Status = sqlflow.StatusPending
	if err := m.records.Save(ctx, record); err != nil {
		return fmt.Errorf("submit for approval: %w", err)
	}
	m.logger.Info("query awaiting approval",
		"query_id", record.ID,
		"validation_errors", len(record.ValidationErrors),
	)
	return nil
}

// Get returns the record with id.
func (m *Manager) Get(ctx context.Context, id string) (*sqlflow.QueryRecord, error) {
	return m.records.Get(ctx, id)
}

// Approve moves a pending record to approved. A non-empty modifiedSQL
// replaces the generated SQL and must pass the read-only guard.
//
// Returns sqlflow.ErrInvalidState if the record is not pending and
// sqlflow.ErrRejectedInput if modifiedSQL is unsafe. Neither mutates the
// record.
func (m *Manager) Approve(ctx context.Context, id, modifiedSQL string) (*sqlflow.QueryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, err := m.pending(ctx, id, "approve")
	if err != nil {
		return nil, err
	}

	if modifiedSQL = strings.TrimSpace(modifiedSQL); modifiedSQL != "" {
		modifiedSQL = sqlguard.StripFences(modifiedSQL)
		if reasons := sqlguard.CheckReadOnly(modifiedSQL); len(reasons) > 0 {
			return nil, fmt.Errorf("modified sql: %s: %w", strings.Join(reasons, "; "), sqlflow.ErrRejectedInput)
		}
		record.GeneratedSQL = modifiedSQL
	}

	now := m.clock.Now().UTC()
	record.Status = sqlflow.StatusApproved
	record.ApprovedAt = &now
	if err := m.records.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("approve %s: %w", id, err)
	}
	m.logger.Info("query approved", "query_id", id, "modified", modifiedSQL != "")
	return record, nil
}

// Reject moves a pending record to rejected.
// Returns sqlflow.ErrInvalidState if the record is not pending.
func (m *Manager) Reject(ctx context.Context, id string) (*sqlflow.QueryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, err := m.pending(ctx, id, "reject")
	if err != nil {
		return nil, err
	}
	record.Status = sqlflow.StatusRejected
	if err := m.records.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("reject %s: %w", id, err)
	}
	m.logger.Info("query rejected", "query_id", id)
	return record, nil
}

func (m *Manager) pending(ctx context.Context, id, op string) (*sqlflow.QueryRecord, error) {
	record, err := m.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status != sqlflow.StatusPending {
		return nil, fmt.Errorf("cannot %s record %s in status %s: %w", op, id, record.Status, sqlflow.ErrInvalidState)
	}
	return record, nil
}
