package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TraceData is one agent run recorded for observability. Spans created
// during the run reference it through TraceID.
type TraceData struct {
	ID            uuid.UUID  `json:"id"`
	AgentID       string     `json:"agent_id"`
	SessionKey    string     `json:"session_key"`
	RunID         string     `json:"run_id"`
	Name          string     `json:"name"`
	InputPreview  string     `json:"input_preview,omitempty"`
	OutputPreview string     `json:"output_preview,omitempty"`
	Status        string     `json:"status"` // "running", "completed", "error"
	Error         string     `json:"error,omitempty"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`

	// Aggregates maintained from the trace's spans.
	SpanCount    int `json:"span_count"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// TracingStore persists traces and their spans. Traces are written
// synchronously (one per run); spans arrive in batches from the collector.
type TracingStore interface {
	CreateTrace(ctx context.Context, trace *TraceData) error
	UpdateTrace(ctx context.Context, traceID uuid.UUID, updates map[string]any) error
	BatchCreateSpans(ctx context.Context, spans []SpanData) error
	// BatchUpdateTraceAggregates recomputes span_count and token totals
	// for one trace from its stored spans.
	BatchUpdateTraceAggregates(ctx context.Context, traceID uuid.UUID) error
	ListTraces(ctx context.Context, agentID string, limit int) ([]TraceData, error)
}
