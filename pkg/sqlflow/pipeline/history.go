package pipeline

import "github.com/randalmurphal/sqlflow/pkg/sqlflow/llm"

// TruncateHistory returns at most max trailing messages, widened or
// narrowed so the window starts on a user message. A window never begins
// with a tool result or an assistant turn, so every tool result stays
// paired with the call that requested it. A non-positive max keeps
// everything.
func TruncateHistory(messages []llm.Message, max int) []llm.Message {
	if max <= 0 || len(messages) <= max {
		return messages
	}
	start := len(messages) - max

	// Prefer shrinking: the first user message inside the window.
	for i := start; i < len(messages); i++ {
		if messages[i].Role == llm.RoleUser {
			return messages[i:]
		}
	}
	// The window is one long tool exchange; grow it back to its question.
	for i := start - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			return messages[i:]
		}
	}
	return messages
}
