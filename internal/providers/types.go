// Package providers implements chat-completion clients for the LLM backends
// tatty can run against. All backends speak the OpenAI-compatible wire format;
// provider-specific quirks are handled by thin wrappers around OpenAIProvider.
package providers

import "context"

// Message is a single conversation message.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set on role=tool messages
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // set on assistant messages requesting tools
}

// ToolCall is a tool invocation requested by the model, with arguments
// already decoded from the wire's JSON string.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolDefinition describes a callable tool in provider wire format.
type ToolDefinition struct {
	Type     string             `json:"type"` // always "function"
	Function ToolFunctionSchema `json:"function"`
}

// ToolFunctionSchema is the JSON Schema side of a tool definition.
type ToolFunctionSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ChatRequest is one provider round-trip. Options carries provider
// passthrough fields ("max_tokens", "temperature", ...) merged into the
// wire request as-is.
type ChatRequest struct {
	Model    string
	Messages []Message
	Tools    []ToolDefinition
	Options  map[string]interface{}
}

// Usage reports token accounting for a completed call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the model's reply to a ChatRequest.
type ChatResponse struct {
	Content      string
	Thinking     string // reasoning text, when the backend separates it
	ToolCalls    []ToolCall
	FinishReason string // "stop", "tool_calls", "length", ...
	Usage        Usage
}

// HasToolCalls reports whether the model asked for tool execution this turn.
func (r *ChatResponse) HasToolCalls() bool { return r != nil && len(r.ToolCalls) > 0 }

// StreamChunk is one increment of a streaming reply.
type StreamChunk struct {
	Thinking string
	Content  string
	Done     bool
}

// Provider is a chat-completion backend.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// ChatStream streams the reply through onChunk and returns the final
	// assembled response. Implementations that cannot stream a particular
	// request fall back to Chat and synthesize chunks.
	ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error)
}
