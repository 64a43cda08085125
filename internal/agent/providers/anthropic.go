// Package providers implements LLM provider integrations for the agent
// core. AnthropicProvider is the one concrete backend: it converts the
// agent's synchronous CompletionRequest/CompletionResponse shapes to and
// from the Anthropic Messages API.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/codeframe-dev/codeframe/internal/agent"
	"github.com/codeframe-dev/codeframe/pkg/models"
)

// AnthropicProvider implements agent.LLMProvider against Anthropic's Claude
// API. Safe for concurrent use; each Complete call is independent.
type AnthropicProvider struct {
	client anthropic.Client
	base   BaseProvider

	defaultModel string
}

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	// APIKey is the Anthropic API authentication key (required).
	APIKey string

	// BaseURL overrides the default Anthropic API base URL.
	BaseURL string

	// MaxRetries sets the maximum number of attempts for transient
	// failures, including the first. Default: 3.
	MaxRetries int

	// RetryDelay sets the base delay between retry attempts. Default: 1s.
	RetryDelay time.Duration

	// DefaultModel is used when CompletionRequest.Model is empty.
	// Default: "claude-sonnet-4-20250514".
	DefaultModel string
}

// NewAnthropicProvider constructs an AnthropicProvider, applying defaults
// for any unset optional configuration.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		base:         NewBaseProvider("anthropic", config.MaxRetries, config.RetryDelay),
		defaultModel: config.DefaultModel,
	}, nil
}

// Name returns the provider identifier used for routing and logging.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Models returns the Claude models this provider can serve.
func (p *AnthropicProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200000},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextSize: 200000},
		{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", ContextSize: 200000},
		{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", ContextSize: 200000},
	}
}

// SupportsTools returns true; Claude models support tool use.
func (p *AnthropicProvider) SupportsTools() bool { return true }

// Complete sends req to Claude and blocks for the full response. Retryable
// errors (rate limits, server errors, timeouts) are retried with the base
// provider's backoff; other errors are returned immediately.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	var resp *anthropic.Message
	retryErr := p.base.Retry(ctx, p.isRetryableError, func() error {
		message, callErr := p.client.Messages.New(ctx, params)
		if callErr != nil {
			return callErr
		}
		resp = message
		return nil
	})
	if retryErr != nil {
		return nil, p.wrapError(retryErr, p.getModel(req.Model))
	}

	return convertResponse(resp), nil
}

func (p *AnthropicProvider) buildParams(req *agent.CompletionRequest) (anthropic.MessageNewParams, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.getModel(req.Model)),
		MaxTokens: int64(p.getMaxTokens(req.MaxTokens)),
		Messages:  messages,
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}

	return params, nil
}

// convertMessages translates the agent's CompletionMessage history into
// Anthropic's content-block message format. System-role messages are
// dropped; System is carried separately on MessageNewParams.
func convertMessages(messages []agent.CompletionMessage) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		var content []anthropic.ContentBlockParamUnion

		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}

		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}

		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if len(tc.Input) > 0 {
				if err := json.Unmarshal(tc.Input, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call input: %w", err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}

		if len(content) == 0 {
			continue
		}

		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

// convertTools translates agent.Tool definitions into Anthropic's tool
// schema format.
func convertTools(tools []agent.Tool) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam

	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name(), err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name())
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name())
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description())
		result = append(result, toolParam)
	}

	return result, nil
}

// convertResponse flattens an Anthropic Message's content blocks into a
// single CompletionResponse: concatenated text plus any tool_use blocks.
func convertResponse(msg *anthropic.Message) *agent.CompletionResponse {
	if msg == nil {
		return &agent.CompletionResponse{}
	}

	resp := &agent.CompletionResponse{
		StopReason:   string(msg.StopReason),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}

	var text strings.Builder
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			resp.ToolCalls = append(resp.ToolCalls, toolCallFromBlock(variant))
		}
	}
	resp.Text = text.String()

	return resp
}

func toolCallFromBlock(block anthropic.ToolUseBlock) models.ToolCall {
	input := json.RawMessage(block.Input)
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	return models.ToolCall{ID: block.ID, Name: block.Name, Input: input}
}

func (p *AnthropicProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *AnthropicProvider) getMaxTokens(maxTokens int) int {
	if maxTokens <= 0 {
		return 4096
	}
	return maxTokens
}

func (p *AnthropicProvider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		default:
			return false
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused")
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	reason := FailoverUnknown
	status := 0
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
		switch status {
		case 401, 403:
			reason = FailoverAuth
		case 402:
			reason = FailoverBilling
		case 429:
			reason = FailoverRateLimit
		case 400:
			reason = FailoverInvalidRequest
		case 500, 502, 503, 504:
			reason = FailoverServerError
		}
	}
	return &ProviderError{
		Reason:   reason,
		Provider: "anthropic",
		Model:    model,
		Status:   status,
		Cause:    err,
	}
}
