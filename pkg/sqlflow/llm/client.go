package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sferrors "github.com/randalmurphal/sqlflow/pkg/sqlflow/errors"
	"github.com/randalmurphal/sqlflow/pkg/sqlflow/sqlguard"
)

// Client invokes a chat model.
type Client interface {
	// Invoke sends req and returns the model's reply.
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

// Invoke calls f.
func (f ClientFunc) Invoke(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// Validator is implemented by structured outputs that check their own fields.
type Validator interface {
	Validate() error
}

// InvokeStructured invokes client and decodes the first JSON object in the
// reply into T. Decoding failures are returned as *errors.JSONParseError.
// If *T implements Validator, its Validate result is returned as well.
func InvokeStructured[T any](ctx context.Context, client Client, req Request) (T, error) {
	var out T
	resp, err := client.Invoke(ctx, req)
	if err != nil {
		return out, err
	}

	raw, err := ExtractJSON(resp.Text())
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, &sferrors.JSONParseError{Input: raw, Message: err.Error()}
	}
	if v, ok := any(&out).(Validator); ok {
		if err := v.Validate(); err != nil {
			return out, fmt.Errorf("structured output: %w", err)
		}
	}
	return out, nil
}

// ExtractJSON returns the outermost JSON object or array in text, ignoring
// code fences and surrounding prose.
func ExtractJSON(text string) (string, error) {
	s := sqlguard.StripFences(text)
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", &sferrors.JSONParseError{Input: text, Message: "no JSON value found"}
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return "", &sferrors.JSONParseError{Input: text, Message: "unterminated JSON value"}
	}
	candidate := s[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return "", &sferrors.JSONParseError{Input: text, Message: "invalid JSON"}
	}
	return candidate, nil
}

// FallbackClient tries each client in order, moving on only when a failure
// is escalatable or exhausted its retries.
type FallbackClient struct {
	clients []Client
}

// NewFallbackClient creates a fallback chain. At least one client is required.
func NewFallbackClient(clients ...Client) *FallbackClient {
	return &FallbackClient{clients: clients}
}

// Invoke implements Client.
func (f *FallbackClient) Invoke(ctx context.Context, req Request) (*Response, error) {
	if len(f.clients) == 0 {
		return nil, errors.New("llm: fallback chain is empty")
	}
	var errs []error
	for _, c := range f.clients {
		resp, err := c.Invoke(ctx, req)
		if err == nil {
			return resp, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
		cat := sferrors.Categorize(err)
		if cat != sferrors.CategoryEscalatable && cat != sferrors.CategoryTransient {
			break
		}
	}
	return nil, errors.Join(errs...)
}
