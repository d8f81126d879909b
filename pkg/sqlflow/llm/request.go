// Package llm defines the chat-model capability the pipeline depends on.
//
// A Client turns a Request (system prompt, conversation, optional tools)
// into a Response holding one assistant Message. The package ships an
// Anthropic-backed client, a retrying decorator, a fallback chain and a
// scripted MockClient for tests.
//
// Structured output goes through InvokeStructured, which extracts the first
// JSON object from the model's text and decodes it into the caller's type:
//
//	type verdict struct {
//	    QueryType string `json:"query_type"`
//	}
//	v, err := llm.InvokeStructured[verdict](ctx, client, req)
package llm

import (
	"encoding/json"
	"time"
)

// Request configures one model invocation.
type Request struct {
	// System is the system prompt. System-role entries in Messages are
	// appended to it by clients that take the prompt out of band.
	System string `json:"system,omitempty"`

	// Messages is the conversation so far.
	Messages []Message `json:"messages"`

	// Tools the model may call. Nil means a plain completion.
	Tools []Tool `json:"tools,omitempty"`

	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// Message is a conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCalls are the calls requested by an assistant message.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-role message to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// IsError marks a tool result as a failure.
	IsError bool `json:"is_error,omitempty"`
}

// Role identifies the message sender.
type Role string

// Standard message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// SystemMessage creates a system message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage creates an assistant message with optional tool calls.
func AssistantMessage(content string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolMessage creates a tool result answering callID.
func ToolMessage(callID, content string, isError bool) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID, IsError: isError}
}

// Tool defines a function the model may call.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Properties  map[string]any `json:"properties"`
	Required    []string       `json:"required,omitempty"`
}

// ToolCall represents a tool invocation request from the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// StringArg returns the named string argument, or "" when absent.
func (c ToolCall) StringArg(name string) string {
	var args map[string]any
	if err := json.Unmarshal(c.Arguments, &args); err != nil {
		return ""
	}
	s, _ := args[name].(string)
	return s
}

// Response is the output of one invocation.
type Response struct {
	Message    Message       `json:"message"`
	Usage      TokenUsage    `json:"usage"`
	Model      string        `json:"model,omitempty"`
	StopReason string        `json:"stop_reason,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Text returns the assistant text.
func (r *Response) Text() string {
	return r.Message.Content
}

// HasToolCalls reports whether the model requested any tool calls.
func (r *Response) HasToolCalls() bool {
	return len(r.Message.ToolCalls) > 0
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}
