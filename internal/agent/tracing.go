package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/tatty/internal/providers"
	"github.com/nextlevelbuilder/tatty/internal/store"
	"github.com/nextlevelbuilder/tatty/internal/tools"
	"github.com/nextlevelbuilder/tatty/internal/tracing"
)

// attachTracing creates a trace for the run and stashes it in the
// context so nested tool executions emit spans under it. Returns ctx
// unchanged when tracing is off.
func (l *Loop) attachTracing(ctx context.Context, req RunRequest) context.Context {
	if l.tracing == nil {
		return ctx
	}

	trace := &store.TraceData{
		ID:           store.GenNewID(),
		AgentID:      l.id,
		SessionKey:   req.SessionKey,
		RunID:        req.RunID,
		Name:         "run:" + req.RunID,
		InputPreview: headString(req.Message, 500),
		Status:       "running",
		StartTime:    time.Now().UTC(),
	}
	if err := l.tracing.CreateTrace(ctx, trace); err != nil {
		slog.Warn("tracing: create trace failed", "run", req.RunID, "error", err)
		return ctx
	}

	ctx = tracing.WithCollector(ctx, l.tracing)
	ctx = tracing.WithTraceID(ctx, trace.ID)
	return ctx
}

func (l *Loop) finishTracing(ctx context.Context, result *RunResult, runErr error) {
	if l.tracing == nil {
		return
	}
	traceID := tracing.TraceIDFromContext(ctx)
	if traceID == uuid.Nil {
		return
	}

	status, errMsg, preview := "completed", "", ""
	if runErr != nil {
		status, errMsg = "error", runErr.Error()
	} else if result != nil {
		preview = result.Content
	}
	l.tracing.FinishTrace(context.WithoutCancel(ctx), traceID, status, errMsg, preview)
}

func (l *Loop) emitLLMSpan(ctx context.Context, start time.Time, iteration int, resp *providers.ChatResponse, callErr error) {
	if l.tracing == nil || tracing.TraceIDFromContext(ctx) == uuid.Nil {
		return
	}

	now := time.Now().UTC()
	span := store.SpanData{
		TraceID:    tracing.TraceIDFromContext(ctx),
		SpanType:   "llm_call",
		Name:       fmt.Sprintf("%s/%s #%d", l.provider.Name(), l.model, iteration),
		StartTime:  start,
		EndTime:    &now,
		DurationMS: int(now.Sub(start).Milliseconds()),
		Model:      l.model,
		Provider:   l.provider.Name(),
		Status:     "completed",
		Level:      "DEFAULT",
	}
	if callErr != nil {
		span.Status = "error"
		span.Error = callErr.Error()
	} else if resp != nil {
		span.InputTokens = resp.Usage.PromptTokens
		span.OutputTokens = resp.Usage.CompletionTokens
		span.FinishReason = resp.FinishReason
		span.OutputPreview = headString(resp.Content, 500)
	}
	l.tracing.EmitSpan(span)
}

func (l *Loop) emitToolSpan(ctx context.Context, start time.Time, call providers.ToolCall, res *tools.Result) {
	if l.tracing == nil || tracing.TraceIDFromContext(ctx) == uuid.Nil {
		return
	}

	args, _ := json.Marshal(call.Arguments)
	now := time.Now().UTC()
	span := store.SpanData{
		TraceID:       tracing.TraceIDFromContext(ctx),
		SpanType:      "tool_call",
		Name:          call.Name,
		StartTime:     start,
		EndTime:       &now,
		DurationMS:    int(now.Sub(start).Milliseconds()),
		ToolName:      call.Name,
		ToolCallID:    call.ID,
		InputPreview:  headString(string(args), 500),
		OutputPreview: headString(res.ForLLM, 500),
		Status:        "completed",
		Level:         "DEFAULT",
	}
	if res.IsError {
		span.Status = "error"
		span.Error = headString(res.ForLLM, 200)
	}
	l.tracing.EmitSpan(span)
}
