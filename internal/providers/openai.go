package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	openaiDefaultBase  = "https://api.openai.com/v1"
	openaiDefaultModel = "gpt-4"

	defaultRequestTimeout = 120 * time.Second
	maxRetries            = 3
)

// OpenAIProvider speaks the OpenAI chat-completions wire format. It is the
// base implementation for every backend tatty supports; compatible relays
// reuse it with a different apiBase.
type OpenAIProvider struct {
	name         string
	apiKey       string
	apiBase      string
	defaultModel string

	client  *http.Client
	limiter *rate.Limiter // client-side request pacing, nil = unlimited
}

// NewOpenAIProvider creates a provider against an OpenAI-compatible endpoint.
// name is the provider identifier used in config and logs.
func NewOpenAIProvider(name, apiKey, apiBase, defaultModel string) *OpenAIProvider {
	if apiBase == "" {
		apiBase = openaiDefaultBase
	}
	if defaultModel == "" {
		defaultModel = openaiDefaultModel
	}
	return &OpenAIProvider{
		name:         name,
		apiKey:       apiKey,
		apiBase:      strings.TrimRight(apiBase, "/"),
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: defaultRequestTimeout},
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

// DefaultModel returns the model used when a request leaves Model empty.
func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }

// SetTimeout overrides the per-request HTTP timeout.
func (p *OpenAIProvider) SetTimeout(d time.Duration) {
	if d > 0 {
		p.client = &http.Client{Timeout: d}
	}
}

// SetRateLimit caps outbound requests per minute. rpm <= 0 disables the cap.
func (p *OpenAIProvider) SetRateLimit(rpm int) {
	if rpm <= 0 {
		p.limiter = nil
		return
	}
	p.limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1)
}

// wire shapes — tool call arguments travel as a JSON string on the wire and
// are decoded into ToolCall.Arguments maps at the package boundary.

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content          string         `json:"content"`
			ReasoningContent string         `json:"reasoning_content"`
			ToolCalls        []wireToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			ToolCalls        []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Type     string `json:"type"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// Chat performs a non-streaming completion with bounded retry on 429/5xx.
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body, err := p.buildBody(req, false)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			slog.Debug("provider retry", "provider", p.name, "attempt", attempt, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, retryable, err := p.doChat(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%s: chat failed after %d attempts: %w", p.name, maxRetries, lastErr)
}

func (p *OpenAIProvider) doChat(ctx context.Context, body []byte) (*ChatResponse, bool, error) {
	httpResp, err := p.post(ctx, body)
	if err != nil {
		return nil, true, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 16<<20))
	if err != nil {
		return nil, true, fmt.Errorf("%s: read response: %w", p.name, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		retryable := httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= 500
		return nil, retryable, fmt.Errorf("%s: http %d: %s", p.name, httpResp.StatusCode, truncateErrBody(data))
	}

	var wire chatCompletionResponse
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, false, fmt.Errorf("%s: decode response: %w", p.name, err)
	}
	if wire.Error != nil {
		return nil, false, fmt.Errorf("%s: api error: %s", p.name, wire.Error.Message)
	}
	if len(wire.Choices) == 0 {
		return nil, false, fmt.Errorf("%s: empty choices in response", p.name)
	}

	choice := wire.Choices[0]
	return &ChatResponse{
		Content:      choice.Message.Content,
		Thinking:     choice.Message.ReasoningContent,
		ToolCalls:    decodeToolCalls(p.name, choice.Message.ToolCalls),
		FinishReason: choice.FinishReason,
		Usage:        wire.Usage,
	}, false, nil
}

// ChatStream performs a streaming completion, invoking onChunk per SSE delta.
// Tool call fragments are accumulated by index and returned assembled.
func (p *OpenAIProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	body, err := p.buildBody(req, true)
	if err != nil {
		return nil, err
	}

	httpResp, err := p.post(ctx, body)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
		return nil, fmt.Errorf("%s: http %d: %s", p.name, httpResp.StatusCode, truncateErrBody(data))
	}

	final := &ChatResponse{}
	var content, thinking strings.Builder
	partials := map[int]*wireToolCall{}
	maxIndex := -1

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var chunk chatCompletionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			slog.Debug("provider stream: skipping malformed chunk", "provider", p.name, "error", err)
			continue
		}
		if chunk.Usage != nil {
			final.Usage = *chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.ReasoningContent != "" {
			thinking.WriteString(delta.ReasoningContent)
			if onChunk != nil {
				onChunk(StreamChunk{Thinking: delta.ReasoningContent})
			}
		}
		if delta.Content != "" {
			content.WriteString(delta.Content)
			if onChunk != nil {
				onChunk(StreamChunk{Content: delta.Content})
			}
		}
		for _, tc := range delta.ToolCalls {
			entry, ok := partials[tc.Index]
			if !ok {
				entry = &wireToolCall{Type: "function"}
				partials[tc.Index] = entry
				if tc.Index > maxIndex {
					maxIndex = tc.Index
				}
			}
			if tc.ID != "" {
				entry.ID = tc.ID
			}
			if tc.Function.Name != "" {
				entry.Function.Name += tc.Function.Name
			}
			entry.Function.Arguments += tc.Function.Arguments
		}
		if fr := chunk.Choices[0].FinishReason; fr != "" {
			final.FinishReason = fr
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: stream read: %w", p.name, err)
	}

	final.Content = content.String()
	final.Thinking = thinking.String()
	var assembled []wireToolCall
	for i := 0; i <= maxIndex; i++ {
		if tc, ok := partials[i]; ok {
			assembled = append(assembled, *tc)
		}
	}
	final.ToolCalls = decodeToolCalls(p.name, assembled)
	if onChunk != nil {
		onChunk(StreamChunk{Done: true})
	}
	return final, nil
}

func (p *OpenAIProvider) buildBody(req ChatRequest, stream bool) ([]byte, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	payload := map[string]interface{}{
		"model":    model,
		"messages": encodeMessages(req.Messages),
	}
	if len(req.Tools) > 0 {
		payload["tools"] = CleanToolSchemas(p.name, req.Tools)
	}
	if stream {
		payload["stream"] = true
	}
	for k, v := range req.Options {
		payload[k] = v
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", p.name, err)
	}
	return body, nil
}

func (p *OpenAIProvider) post(ctx context.Context, body []byte) (*http.Response, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request: %w", p.name, err)
	}
	return httpResp, nil
}

// encodeMessages converts package messages to wire format, serializing
// decoded tool-call arguments back into JSON strings.
func encodeMessages(msgs []Message) []wireMessage {
	out := make([]wireMessage, len(msgs))
	for i, m := range msgs {
		wm := wireMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			var wtc wireToolCall
			wtc.ID = tc.ID
			wtc.Type = "function"
			wtc.Function.Name = tc.Name
			if tc.Arguments != nil {
				if raw, err := json.Marshal(tc.Arguments); err == nil {
					wtc.Function.Arguments = string(raw)
				}
			}
			if wtc.Function.Arguments == "" {
				wtc.Function.Arguments = "{}"
			}
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		out[i] = wm
	}
	return out
}

// decodeToolCalls parses wire tool calls into the package form. Malformed
// argument payloads decode to an empty map rather than failing the reply.
func decodeToolCalls(providerName string, wire []wireToolCall) []ToolCall {
	if len(wire) == 0 {
		return nil
	}
	out := make([]ToolCall, 0, len(wire))
	for _, wtc := range wire {
		args := map[string]interface{}{}
		raw := strings.TrimSpace(wtc.Function.Arguments)
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				slog.Warn("provider: malformed tool arguments",
					"provider", providerName, "tool", wtc.Function.Name, "error", err)
				args = map[string]interface{}{}
			}
		}
		out = append(out, ToolCall{ID: wtc.ID, Name: wtc.Function.Name, Arguments: args})
	}
	return out
}

func truncateErrBody(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 400 {
		s = s[:400] + "..."
	}
	return s
}
