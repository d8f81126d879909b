package sqlflow

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared by all components.
var (
	// ErrNotFound indicates a record or session doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState indicates an operation was attempted from the wrong
	// lifecycle state, such as approving a non-pending record. No state is
	// mutated when it is returned.
	ErrInvalidState = errors.New("invalid state")

	// ErrRejectedInput indicates caller-supplied input failed a safety check,
	// such as unsafe modified SQL on approval.
	ErrRejectedInput = errors.New("rejected input")
)

// TransientLLMError indicates an LLM call failed for a reason that retrying
// may fix (connection reset, timeout, rate limit).
type TransientLLMError struct {
	// Op names the LLM operation, e.g. "classify" or "generate_query".
	Op string
	// Err is the underlying provider error.
	Err error
}

// Error implements the error interface.
func (e *TransientLLMError) Error() string {
	return fmt.Sprintf("llm %s: transient failure: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *TransientLLMError) Unwrap() error {
	return e.Err
}

// ValidationError indicates SQL failed the safety guard or dialect check.
// It is recoverable: the pipeline routes it to human approval.
type ValidationError struct {
	SQL    string
	Errors []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return "sql validation failed: " + strings.Join(e.Errors, "; ")
}

// ExecutionError indicates the database failed while running SQL.
type ExecutionError struct {
	SQL string
	Err error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute sql: %v", e.Err)
}

// Unwrap returns the underlying database error.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}
