package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	sferrors "github.com/randalmurphal/sqlflow/pkg/sqlflow/errors"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-5"

// AnthropicClient implements Client with the Anthropic Messages API.
type AnthropicClient struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// AnthropicOption configures AnthropicClient.
type AnthropicOption func(*anthropicConfig)

type anthropicConfig struct {
	apiKey    string
	baseURL   string
	model     string
	maxTokens int64
	timeout   time.Duration
}

// WithAPIKey sets the API key. Without it the SDK reads ANTHROPIC_API_KEY.
func WithAPIKey(key string) AnthropicOption {
	return func(c *anthropicConfig) { c.apiKey = key }
}

// WithBaseURL points the client at a different endpoint.
func WithBaseURL(url string) AnthropicOption {
	return func(c *anthropicConfig) { c.baseURL = url }
}

// WithModel sets the model name.
func WithModel(model string) AnthropicOption {
	return func(c *anthropicConfig) { c.model = model }
}

// WithMaxTokens sets the default output token limit.
func WithMaxTokens(n int) AnthropicOption {
	return func(c *anthropicConfig) { c.maxTokens = int64(n) }
}

// WithRequestTimeout bounds each HTTP request.
func WithRequestTimeout(d time.Duration) AnthropicOption {
	return func(c *anthropicConfig) { c.timeout = d }
}

// NewAnthropicClient creates an Anthropic-backed client. SDK-level retries
// are disabled; wrap the client in a RetryClient instead.
func NewAnthropicClient(opts ...AnthropicOption) *AnthropicClient {
	cfg := anthropicConfig{model: DefaultModel, maxTokens: 4096}
	for _, opt := range opts {
		opt(&cfg)
	}

	reqOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(cfg.apiKey))
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(cfg.timeout))
	}

	return &AnthropicClient{
		client:    anthropic.NewClient(reqOpts...),
		model:     anthropic.Model(cfg.model),
		maxTokens: cfg.maxTokens,
	}
}

// Invoke implements Client.
func (a *AnthropicClient) Invoke(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	system, msgs := toAnthropicMessages(req)
	maxTokens := a.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if len(req.Tools) > 0 {
		params.Tools = toAnthropicTools(req.Tools)
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if system != "" {
		// The system prompt carries the schema and is identical across turns.
		params.System = []anthropic.TextBlockParam{
			{
				Text:         system,
				CacheControl: anthropic.NewCacheControlEphemeralParam(),
			},
		}
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyAnthropicError(err)
	}

	resp := &Response{
		Message:    Message{Role: RoleAssistant},
		Model:      string(msg.Model),
		StopReason: string(msg.StopReason),
		Duration:   time.Since(start),
		Usage: TokenUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}

	var text []string
	for _, blk := range msg.Content {
		switch blk.Type {
		case "text":
			text = append(text, blk.AsText().Text)
		case "tool_use":
			tu := blk.AsToolUse()
			resp.Message.ToolCalls = append(resp.Message.ToolCalls, ToolCall{
				ID:        tu.ID,
				Name:      tu.Name,
				Arguments: json.RawMessage(tu.Input),
			})
		}
	}
	resp.Message.Content = strings.Join(text, "\n")
	return resp, nil
}

// classifyAnthropicError maps API failures onto HTTPError so the retry
// policy can categorize them by status code.
func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &sferrors.HTTPError{
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.Error(),
			Endpoint:   "messages",
		}
	}
	return err
}

// toAnthropicMessages converts the conversation, hoisting system messages
// into the system prompt and grouping tool results into user turns. The API
// requires strictly alternating roles, so consecutive same-role turns are
// merged.
func toAnthropicMessages(req Request) (string, []anthropic.MessageParam) {
	systemParts := []string{}
	if req.System != "" {
		systemParts = append(systemParts, req.System)
	}

	type turn struct {
		role   anthropic.MessageParamRole
		blocks []anthropic.ContentBlockParamUnion
	}
	var turns []turn
	push := func(role anthropic.MessageParamRole, blocks ...anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(turns); n > 0 && turns[n-1].role == role {
			turns[n-1].blocks = append(turns[n-1].blocks, blocks...)
			return
		}
		turns = append(turns, turn{role: role, blocks: blocks})
	}

	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			if m.Content != "" {
				systemParts = append(systemParts, m.Content)
			}
		case RoleUser:
			push(anthropic.MessageParamRoleUser, anthropic.NewTextBlock(m.Content))
		case RoleTool:
			push(anthropic.MessageParamRoleUser, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError))
		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any = map[string]any{}
				if len(tc.Arguments) > 0 {
					input = tc.Arguments
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			push(anthropic.MessageParamRoleAssistant, blocks...)
		}
	}

	out := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		out = append(out, anthropic.MessageParam{Role: t.role, Content: t.blocks})
	}
	return strings.Join(systemParts, "\n\n"), out
}

// toAnthropicTools converts tools to Anthropic tool parameters.
func toAnthropicTools(tools []Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		toolParam := anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Type:       "object",
				Properties: t.Properties,
				Required:   t.Required,
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return out
}
