package pipeline

import (
	"github.com/randalmurphal/sqlflow/pkg/sqlflow"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/llm"
)

// Tool-result texts the pipeline writes into the conversation.
const (
	RejectedMessage    = "Query rejected by reviewer"
	NotExecutedMessage = "Query was not executed"
)

// Decision is the reviewer's verdict on a suspended run.
type Decision struct {
	Approved bool `json:"approved"`

	// ModifiedSQL, when set, replaces the generated SQL before execution.
	ModifiedSQL string `json:"modified_sql,omitempty"`

	// TurnID, when set, must name the paused turn. A thread shared by a
	// session may have moved on to a later question.
	TurnID string `json:"turn_id,omitempty"`
}

// State is the working state of one thread. It is serialized into a
// checkpoint after every step.
type State struct {
	ThreadID string `json:"thread_id"`
	TurnID   string `json:"turn_id,omitempty"`
	Question string `json:"question"`
	Dialect  string `json:"dialect"`

	// Messages is the conversation without the system prompt, which is
	// rendered from SchemaContext on every model call. It survives turns.
	Messages []llm.Message `json:"messages"`

	SchemaContext    string        `json:"schema_context"`
	GeneratedSQL     string        `json:"generated_sql"`
	ValidationErrors []string      `json:"validation_errors"`
	Result           []sqlflow.Row `json:"result"`
	Answer           string        `json:"answer"`
	Error            string        `json:"error"`

	// Corrections counts result-validation warnings fed back this turn.
	Corrections int `json:"corrections"`

	// ToolCalls counts run_query calls requested this turn.
	ToolCalls int `json:"tool_calls"`

	// Approved is set once a reviewer approves this turn's query. An
	// approved turn never suspends again.
	Approved bool `json:"approved,omitempty"`

	// PendingCallID is the run_query call awaiting its tool result.
	PendingCallID string `json:"pending_call_id,omitempty"`

	// Decision is set by Resume and consumed by human_approval.
	Decision *Decision `json:"decision,omitempty"`

	QueryType         sqlflow.QueryType    `json:"query_type"`
	Plan              []sqlflow.PlanStep   `json:"plan"`
	StepResults       []sqlflow.StepResult `json:"step_results"`
	CurrentStep       int                  `json:"current_step"`
	SynthesisAttempts int                  `json:"synthesis_attempts"`

	// SynthesisStart indexes the first message written by synthesis or
	// its revision requests this turn.
	SynthesisStart int `json:"synthesis_start"`
}

// NewState creates an empty state for threadID.
func NewState(threadID string) *State {
	return &State{
		ThreadID:         threadID,
		Messages:         []llm.Message{},
		ValidationErrors: []string{},
		QueryType:        sqlflow.QuerySimple,
	}
}

// BeginTurn resets the per-turn fields for question, identified by turnID,
// and appends it to the conversation. Tool calls left unanswered by an abandoned turn are closed
// first so every call keeps a result.
func (s *State) BeginTurn(turnID, question string) {
	s.closeDanglingToolCalls()

	s.TurnID = turnID
	s.Question = question
	s.SchemaContext = ""
	s.GeneratedSQL = ""
	s.ValidationErrors = []string{}
	s.Result = nil
	s.Answer = ""
	s.Error = ""
	s.Corrections = 0
	s.ToolCalls = 0
	s.Approved = false
	s.PendingCallID = ""
	s.Decision = nil
	s.QueryType = sqlflow.QuerySimple
	s.Plan = nil
	s.StepResults = nil
	s.CurrentStep = 0
	s.SynthesisAttempts = 0
	s.SynthesisStart = 0

	s.Messages = append(s.Messages, llm.UserMessage(question))
}

// closeDanglingToolCalls answers every tool call issued by the last
// assistant message that has no tool result yet.
func (s *State) closeDanglingToolCalls() {
	last := -1
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == llm.RoleAssistant {
			last = i
			break
		}
	}
	if last < 0 || len(s.Messages[last].ToolCalls) == 0 {
		return
	}
	answered := make(map[string]bool)
	for _, m := range s.Messages[last+1:] {
		if m.Role == llm.RoleTool {
			answered[m.ToolCallID] = true
		}
	}
	for _, call := range s.Messages[last].ToolCalls {
		if !answered[call.ID] {
			s.Messages = append(s.Messages, llm.ToolMessage(call.ID, NotExecutedMessage, true))
		}
	}
}

// answerPending appends the tool result for the pending run_query call.
func (s *State) answerPending(content string, isError bool) {
	if s.PendingCallID == "" {
		return
	}
	s.Messages = append(s.Messages, llm.ToolMessage(s.PendingCallID, content, isError))
	s.PendingCallID = ""
}

// appendToLastToolResult extends the most recent tool result.
func (s *State) appendToLastToolResult(text string) bool {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == llm.RoleTool {
			s.Messages[i].Content += text
			return true
		}
	}
	return false
}

// lastSuccessfulStep returns the newest plan step result that succeeded.
func (s *State) lastSuccessfulStep() (sqlflow.StepResult, bool) {
	for i := len(s.StepResults) - 1; i >= 0; i-- {
		if s.StepResults[i].Succeeded() {
			return s.StepResults[i], true
		}
	}
	return sqlflow.StepResult{}, false
}
