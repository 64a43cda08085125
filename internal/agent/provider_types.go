package agent

import (
	"context"
	"encoding/json"

	"github.com/codeframe-dev/codeframe/pkg/models"
)

// Purpose tags a completion request with why it is being made, letting a
// Router pick a different model/provider target for planning versus
// mechanical correction work.
type Purpose string

const (
	// PurposePlanning is the initial task breakdown before any tool use.
	PurposePlanning Purpose = "planning"
	// PurposeExecution is the main ReAct loop: deciding the next tool call
	// or producing the final answer.
	PurposeExecution Purpose = "execution"
	// PurposeGeneration is free-form content generation (e.g. a PR
	// description) that does not need tool access.
	PurposeGeneration Purpose = "generation"
	// PurposeCorrection is the mini-loop that runs after a verification
	// gate failure, correcting code against a concrete diagnostic.
	PurposeCorrection Purpose = "correction"
)

// LLMProvider is a synchronous completion backend. Implementations handle
// the specifics of a concrete API (Anthropic, OpenAI, ...) and return one
// finished response per call; there is no streaming surface because the
// loop only needs the final message and its tool calls to proceed.
//
// Implementations must be safe for concurrent use.
type LLMProvider interface {
	// Complete sends the conversation history and returns the model's next
	// message. req.Tools, if non-empty, makes tool calling available;
	// the returned response may carry ToolCalls instead of (or alongside)
	// text.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name (e.g. "anthropic").
	Name() string

	// Models returns the models this provider can serve.
	Models() []Model

	// SupportsTools returns whether the provider supports tool use.
	SupportsTools() bool
}

// CompletionRequest is the synchronous completion entry point:
// complete(messages, purpose, tools, max_tokens, temperature, system).
type CompletionRequest struct {
	// Model is the specific model ID to use. If empty, the provider's
	// default for Purpose is used.
	Model string `json:"model,omitempty"`

	// Purpose selects which model tier/target a Router assigns this
	// request to.
	Purpose Purpose `json:"purpose"`

	// System is the fully rendered system prompt (the loop's 3-layer
	// construction happens before this request is built).
	System string `json:"system,omitempty"`

	// Messages is the conversation history in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools are the tool definitions available to the model this call.
	Tools []Tool `json:"tools,omitempty"`

	// MaxTokens limits the generated response length. 0 uses the
	// provider's default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls sampling randomness. 0 uses the provider's
	// default.
	Temperature float64 `json:"temperature,omitempty"`
}

// CompletionMessage is a single turn of conversation handed to the
// provider. Role is "user" or "assistant"; tool calls/results travel
// alongside content the same way they do in models.Message.
type CompletionMessage struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// CompletionResponse is the model's complete reply to a CompletionRequest.
// Exactly one of Text or ToolCalls is typically populated; a model may also
// return both (narration followed by tool calls).
type CompletionResponse struct {
	Text      string            `json:"text,omitempty"`
	ToolCalls []models.ToolCall `json:"tool_calls,omitempty"`

	// StopReason is the provider's raw stop reason (e.g. "end_turn",
	// "tool_use", "max_tokens"), kept for diagnostics.
	StopReason string `json:"stop_reason,omitempty"`

	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Model describes an available LLM model and its capabilities.
type Model struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContextSize int    `json:"context_size"`
}

// Tool defines the interface for executable agent tools dispatched by the
// ToolRegistry.
type Tool interface {
	// Name returns the tool name for LLM function calling.
	Name() string

	// Description returns a natural language description of what the tool
	// does, shown to the model alongside Schema.
	Description() string

	// Schema returns the JSON Schema defining the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool with the given JSON parameters, which match
	// Schema.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult contains the output from a tool execution.
type ToolResult struct {
	Content   string     `json:"content"`
	IsError   bool       `json:"is_error,omitempty"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// Artifact represents a file produced by a tool execution (a diff, a patch,
// a generated file) that is surfaced alongside the tool's text content.
type Artifact struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename,omitempty"`
	Data     []byte `json:"data,omitempty"`
}
