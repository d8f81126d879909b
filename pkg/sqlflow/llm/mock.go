package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MockClient is a scripted Client for tests. Queued replies are consumed in
// order; once the queue is empty the handler, if any, answers, and after
// that the default text is returned.
type MockClient struct {
	mu          sync.Mutex
	queue       []mockReply
	handler     func(Request) (*Response, error)
	defaultText string
	nextID      int

	// Calls records every request received, in order.
	Calls []Request
}

type mockReply struct {
	resp *Response
	err  error
}

// NewMockClient creates a mock that answers defaultText when unscripted.
func NewMockClient(defaultText string) *MockClient {
	return &MockClient{defaultText: defaultText}
}

// Reply queues a plain text reply.
func (m *MockClient) Reply(text string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockReply{resp: textResponse(text)})
	return m
}

// ReplyJSON queues a reply whose text is v encoded as JSON.
func (m *MockClient) ReplyJSON(v any) *MockClient {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("mock: marshal reply: %v", err))
	}
	return m.Reply(string(b))
}

// ReplyToolCall queues an assistant reply requesting one tool call.
func (m *MockClient) ReplyToolCall(name string, args map[string]any) *MockClient {
	b, err := json.Marshal(args)
	if err != nil {
		panic(fmt.Sprintf("mock: marshal tool args: %v", err))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	call := ToolCall{ID: fmt.Sprintf("call_%d", m.nextID), Name: name, Arguments: b}
	m.queue = append(m.queue, mockReply{resp: &Response{
		Message:    AssistantMessage("", call),
		StopReason: "tool_use",
	}})
	return m
}

// ReplyError queues a failure.
func (m *MockClient) ReplyError(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockReply{err: err})
	return m
}

// WithHandler answers unscripted requests with fn.
func (m *MockClient) WithHandler(fn func(Request) (*Response, error)) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = fn
	return m
}

// Invoke implements Client.
func (m *MockClient) Invoke(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	if len(m.queue) > 0 {
		r := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		return r.resp, r.err
	}
	handler := m.handler
	m.mu.Unlock()

	if handler != nil {
		return handler(req)
	}
	return textResponse(m.defaultText), nil
}

// CallCount returns the number of requests received.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent request, or nil.
func (m *MockClient) LastCall() *Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return nil
	}
	req := m.Calls[len(m.Calls)-1]
	return &req
}

// Pending returns the number of queued replies not yet consumed.
func (m *MockClient) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// TextResponse builds a plain assistant reply, for use in handlers.
func TextResponse(text string) *Response {
	return textResponse(text)
}

func textResponse(text string) *Response {
	return &Response{
		Message:    AssistantMessage(text),
		StopReason: "end_turn",
	}
}
