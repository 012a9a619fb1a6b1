package tracing

import (
	"context"

	"github.com/google/uuid"
)

// Trace identity travels through the context so tool implementations
// (notably the subagent manager) can emit spans under the right trace
// without threading the collector through every call site.

type ctxKey int

const (
	ctxKeyCollector ctxKey = iota
	ctxKeyTraceID
	ctxKeyParentSpanID
)

// WithCollector attaches the collector to the context.
func WithCollector(ctx context.Context, c *Collector) context.Context {
	return context.WithValue(ctx, ctxKeyCollector, c)
}

// CollectorFromContext returns the attached collector, or nil.
func CollectorFromContext(ctx context.Context) *Collector {
	c, _ := ctx.Value(ctxKeyCollector).(*Collector)
	return c
}

// WithTraceID records the current trace.
func WithTraceID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxKeyTraceID, id)
}

// TraceIDFromContext returns the current trace ID, or uuid.Nil.
func TraceIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(ctxKeyTraceID).(uuid.UUID)
	return id
}

// WithParentSpanID records the span new child spans should parent to.
func WithParentSpanID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxKeyParentSpanID, id)
}

// ParentSpanIDFromContext returns the parent span ID, or uuid.Nil.
func ParentSpanIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(ctxKeyParentSpanID).(uuid.UUID)
	return id
}
