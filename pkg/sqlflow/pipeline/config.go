package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow/schema"
)

// Config bounds and tunes a run.
type Config struct {
	// TopK is the default row limit the system prompt asks for.
	TopK int

	// TokenBudget caps the rendered schema context.
	TokenBudget int

	// Selection narrows tables to the question before rendering.
	Selection schema.Selection

	// MaxTables caps the tables kept by Selection.
	MaxTables int

	// MaxHistoryMessages is the conversation window sent to the model.
	MaxHistoryMessages int

	// MaxCorrections bounds result-validation feedback per turn.
	MaxCorrections int

	// MaxToolCalls is the run_query budget per turn. Once spent, the model
	// is called without tools and must answer in text.
	MaxToolCalls int

	// MaxPlanSteps caps an analysis plan; longer plans are truncated.
	MaxPlanSteps int

	// MaxSynthesisAttempts bounds synthesis including revisions.
	MaxSynthesisAttempts int

	// MaxIterations guards against runaway loops.
	MaxIterations int

	// QueryTimeout is passed to every SQL execution.
	QueryTimeout time.Duration

	// MaxTokens and Temperature are passed to every model call.
	MaxTokens   int
	Temperature float64
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		TopK:                 100,
		TokenBudget:          8000,
		Selection:            schema.SelectKeyword,
		MaxTables:            15,
		MaxHistoryMessages:   20,
		MaxCorrections:       2,
		MaxToolCalls:         8,
		MaxPlanSteps:         7,
		MaxSynthesisAttempts: 1,
		MaxIterations:        100,
		QueryTimeout:         30 * time.Second,
		MaxTokens:            4096,
	}
}

// Validate checks that every limit is usable.
func (c Config) Validate() error {
	var errs []error
	for _, limit := range []struct {
		name  string
		value int
	}{
		{"top_k", c.TopK},
		{"max_history_messages", c.MaxHistoryMessages},
		{"max_tool_calls", c.MaxToolCalls},
		{"max_plan_steps", c.MaxPlanSteps},
		{"max_synthesis_attempts", c.MaxSynthesisAttempts},
		{"max_iterations", c.MaxIterations},
	} {
		if limit.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", limit.name, limit.value))
		}
	}
	if c.MaxCorrections < 0 {
		errs = append(errs, fmt.Errorf("max_corrections must not be negative, got %d", c.MaxCorrections))
	}
	if c.TokenBudget < 0 {
		errs = append(errs, fmt.Errorf("token_budget must not be negative, got %d", c.TokenBudget))
	}
	if _, err := schema.ParseSelection(string(c.Selection)); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
