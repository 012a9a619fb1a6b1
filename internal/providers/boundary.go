package providers

import (
	"context"
	"log/slog"
)

const (
	boundaryDefaultBase  = "https://api.boundaryml.com/v1"
	boundaryDefaultModel = "gpt-4"
)

// BoundaryProvider wraps OpenAIProvider to route calls through the Boundary
// relay. The relay does not support tools + streaming simultaneously; when
// tools are present, ChatStream falls back to non-streaming Chat().
type BoundaryProvider struct {
	*OpenAIProvider
}

func NewBoundaryProvider(apiKey, apiBase, defaultModel string) *BoundaryProvider {
	if apiBase == "" {
		apiBase = boundaryDefaultBase
	}
	if defaultModel == "" {
		defaultModel = boundaryDefaultModel
	}
	return &BoundaryProvider{
		OpenAIProvider: NewOpenAIProvider("boundary", apiKey, apiBase, defaultModel),
	}
}

func (p *BoundaryProvider) Name() string { return "boundary" }

// ChatStream handles the relay's limitation: tools + streaming cannot
// coexist. When tools are present, falls back to non-streaming Chat() and
// synthesizes chunk callbacks for the caller.
func (p *BoundaryProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	if len(req.Tools) > 0 {
		slog.Debug("boundary: tools present, falling back to non-streaming Chat")
		resp, err := p.Chat(ctx, req)
		if err != nil {
			return nil, err
		}
		if onChunk != nil {
			if resp.Thinking != "" {
				onChunk(StreamChunk{Thinking: resp.Thinking})
			}
			if resp.Content != "" {
				onChunk(StreamChunk{Content: resp.Content})
			}
			onChunk(StreamChunk{Done: true})
		}
		return resp, nil
	}
	return p.OpenAIProvider.ChatStream(ctx, req, onChunk)
}
