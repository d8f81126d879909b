package sqlflow

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Row is one result row keyed by column name.
type Row = map[string]any

// ColumnInfo describes one column of a discovered table.
type ColumnInfo struct {
	Name        string `json:"name"`
	DataType    string `json:"data_type"`
	Nullable    bool   `json:"nullable"`
	Description string `json:"description,omitempty"`
}

// TableInfo describes one discovered table or view.
// Values are never mutated after discovery; a refresh replaces them wholesale.
type TableInfo struct {
	Catalog     string       `json:"catalog,omitempty"`
	Schema      string       `json:"schema,omitempty"`
	Name        string       `json:"name"`
	Type        string       `json:"type,omitempty"`
	Description string       `json:"description,omitempty"`
	Columns     []ColumnInfo `json:"columns"`
}

// QualifiedName returns schema.table, or the bare name when no schema is set.
func (t TableInfo) QualifiedName() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// ColumnNames returns the table's column names in discovery order.
func (t TableInfo) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// SchemaInfo is an immutable snapshot of a database schema.
type SchemaInfo struct {
	Tables       []TableInfo `json:"tables"`
	DiscoveredAt time.Time   `json:"discovered_at"`
}

// TableNames returns the sorted qualified names of all tables.
func (s *SchemaInfo) TableNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.QualifiedName()
	}
	sort.Strings(names)
	return names
}

// ApprovalStatus is the lifecycle state of a QueryRecord.
type ApprovalStatus string

// Record statuses.
const (
	StatusPending  ApprovalStatus = "pending"
	StatusApproved ApprovalStatus = "approved"
	StatusRejected ApprovalStatus = "rejected"
	StatusExecuted ApprovalStatus = "executed"
	StatusFailed   ApprovalStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s ApprovalStatus) Terminal() bool {
	switch s {
	case StatusExecuted, StatusFailed, StatusRejected:
		return true
	default:
		return false
	}
}

// Message is a short human-readable description of the status.
func (s ApprovalStatus) Message() string {
	switch s {
	case StatusPending:
		return "Query has validation errors and is awaiting human review."
	case StatusApproved:
		return "Query approved and awaiting execution."
	case StatusRejected:
		return "Query was rejected by a reviewer."
	case StatusExecuted:
		return "Query executed successfully."
	case StatusFailed:
		return "Query execution failed."
	default:
		return ""
	}
}

// QueryType is the classification of a question.
type QueryType string

// Question classifications.
const (
	QuerySimple     QueryType = "simple"
	QueryAnalytical QueryType = "analytical"
)

// PlanStep is one unit of an analytical plan.
type PlanStep struct {
	Description string `json:"description"`
	SQLHint     string `json:"sql_hint"`
	Purpose     string `json:"purpose"`
}

// StepResult is the outcome of executing one PlanStep.
// Exactly one of Result and Error is meaningful.
type StepResult struct {
	Description string `json:"description"`
	SQL         string `json:"sql"`
	Result      []Row  `json:"result"`
	Error       string `json:"error,omitempty"`
}

// Succeeded reports whether the step produced a result.
func (r StepResult) Succeeded() bool {
	return r.Error == ""
}

// QueryRecord is the external-facing unit of work for one question.
//
// Result and Answer are set only when Status is executed; Error is set only
// when Status is failed.
type QueryRecord struct {
	ID               string         `json:"id"`
	Question         string         `json:"question"`
	DatabaseType     string         `json:"database_type,omitempty"`
	SessionID        string         `json:"session_id,omitempty"`
	GeneratedSQL     string         `json:"generated_sql"`
	ValidationErrors []string       `json:"validation_errors"`
	Status           ApprovalStatus `json:"approval_status"`
	Result           []Row          `json:"result"`
	Answer           string         `json:"answer,omitempty"`
	Error            string         `json:"error,omitempty"`
	QueryType        QueryType      `json:"query_type"`
	AnalysisPlan     []PlanStep     `json:"analysis_plan,omitempty"`
	AnalysisSteps    []StepResult   `json:"analysis_steps,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	ApprovedAt       *time.Time     `json:"approved_at,omitempty"`
	ExecutedAt       *time.Time     `json:"executed_at,omitempty"`
}

// NewQueryRecord creates a record for a freshly submitted question.
// Its status is assigned once the run stops.
func NewQueryRecord(question, databaseType, sessionID string, now time.Time) *QueryRecord {
	return &QueryRecord{
		ID:               uuid.NewString(),
		Question:         question,
		DatabaseType:     databaseType,
		SessionID:        sessionID,
		ValidationErrors: []string{},
		QueryType:        QuerySimple,
		CreatedAt:        now.UTC(),
	}
}

// ThreadID returns the checkpoint thread the record's run belongs to.
func (r *QueryRecord) ThreadID() string {
	if r.SessionID != "" {
		return r.SessionID
	}
	return r.ID
}

// Clone returns a deep copy of the record.
func (r *QueryRecord) Clone() *QueryRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.ValidationErrors = append([]string{}, r.ValidationErrors...)
	c.Result = CloneRows(r.Result)
	c.AnalysisPlan = append([]PlanStep(nil), r.AnalysisPlan...)
	if r.AnalysisSteps != nil {
		c.AnalysisSteps = make([]StepResult, len(r.AnalysisSteps))
		for i, s := range r.AnalysisSteps {
			s.Result = CloneRows(s.Result)
			c.AnalysisSteps[i] = s
		}
	}
	if r.ApprovedAt != nil {
		t := *r.ApprovedAt
		c.ApprovedAt = &t
	}
	if r.ExecutedAt != nil {
		t := *r.ExecutedAt
		c.ExecutedAt = &t
	}
	return &c
}

// CloneRows copies a result set. A nil input stays nil so that "no result"
// and "zero rows" remain distinguishable.
func CloneRows(rows []Row) []Row {
	if rows == nil {
		return nil
	}
	out := make([]Row, len(rows))
	for i, row := range rows {
		cp := make(Row, len(row))
		for k, v := range row {
			cp[k] = v
		}
		out[i] = cp
	}
	return out
}

// SessionInfo groups the questions of one multi-turn conversation.
type SessionInfo struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	QueryIDs     []string  `json:"query_ids"`
}

// NewSessionInfo creates an empty session.
func NewSessionInfo(now time.Time) *SessionInfo {
	now = now.UTC()
	return &SessionInfo{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		LastActivity: now,
		QueryIDs:     []string{},
	}
}

// Clone returns a deep copy of the session.
func (s *SessionInfo) Clone() *SessionInfo {
	if s == nil {
		return nil
	}
	c := *s
	c.QueryIDs = append([]string{}, s.QueryIDs...)
	return &c
}
