package store

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/tatty/internal/providers"
)

// SessionInfo summarizes one persisted session.
type SessionInfo struct {
	Key          string    `json:"key"`
	AgentID      string    `json:"agentId,omitempty"`
	MessageCount int       `json:"messageCount"`
	Created      time.Time `json:"created"`
	Updated      time.Time `json:"updated"`
}

// TodoItem is one entry in a session's todo list.
type TodoItem struct {
	ID     int    `json:"id"`
	Text   string `json:"text"`
	Status string `json:"status"` // "pending", "in_progress", "done"
}

// SessionStore manages conversation history persistence. The compaction
// bookkeeping methods let the runtime dedupe memory flushes per cycle:
// GetMemoryFlushCompactionCount returns -1 for sessions that never flushed.
type SessionStore interface {
	GetHistory(key string) []providers.Message
	SetHistory(key string, msgs []providers.Message)
	AddMessage(key string, msg providers.Message)
	GetSummary(key string) string
	SetSummary(key, summary string)
	GetCompactionCount(key string) int
	GetMemoryFlushCompactionCount(key string) int
	SetMemoryFlushDone(key string)
	GetTodos(key string) []TodoItem
	SetTodos(key string, todos []TodoItem)
	GetPlan(key string) string
	SetPlan(key, plan string)
	Save(key string)
	List(agentFilter string) []SessionInfo
	Delete(key string) error
	Reset(key string)
}

// CustomToolDef is a user-defined command-template tool.
type CustomToolDef struct {
	BaseModel
	AgentID        *uuid.UUID      `json:"agent_id,omitempty"` // nil = global
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Parameters     json.RawMessage `json:"parameters,omitempty"` // JSON schema
	Command        string          `json:"command"`              // template with {{.key}} placeholders
	WorkingDir     string          `json:"working_dir,omitempty"`
	Env            json.RawMessage `json:"env,omitempty"` // {"KEY":"VALUE"} map
	TimeoutSeconds int             `json:"timeout_seconds,omitempty"`
	Enabled        bool            `json:"enabled"`
}

// CustomToolStore manages custom tool definitions.
type CustomToolStore interface {
	ListGlobal(ctx context.Context) ([]CustomToolDef, error)
	ListByAgent(ctx context.Context, agentID uuid.UUID) ([]CustomToolDef, error)
	Create(ctx context.Context, def *CustomToolDef) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// SpanData is one observability span emitted by the runtime.
type SpanData struct {
	ID            uuid.UUID  `json:"id"`
	TraceID       uuid.UUID  `json:"trace_id"`
	ParentSpanID  *uuid.UUID `json:"parent_span_id,omitempty"`
	SpanType      string     `json:"span_type"` // "llm_call", "tool_call", "agent"
	Name          string     `json:"name"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	DurationMS    int        `json:"duration_ms"`
	Model         string     `json:"model,omitempty"`
	Provider      string     `json:"provider,omitempty"`
	ToolName      string     `json:"tool_name,omitempty"`
	ToolCallID    string     `json:"tool_call_id,omitempty"`
	InputPreview  string     `json:"input_preview,omitempty"`
	OutputPreview string     `json:"output_preview,omitempty"`
	InputTokens   int        `json:"input_tokens,omitempty"`
	OutputTokens  int        `json:"output_tokens,omitempty"`
	FinishReason  string     `json:"finish_reason,omitempty"`
	Status        string     `json:"status"` // "completed" or "error"
	Error         string     `json:"error,omitempty"`
	Level         string     `json:"level"`  // "DEFAULT", "WARNING", "ERROR"
	CreatedAt     time.Time  `json:"created_at"`
}

// SpanStore persists observability spans (managed mode only).
type SpanStore interface {
	WriteSpan(ctx context.Context, span *SpanData) error
	ListSpans(ctx context.Context, traceID uuid.UUID) ([]SpanData, error)
	ListRecentTraces(ctx context.Context, limit int) ([]SpanData, error)
}

// Stores bundles every store backend behind one handle. Standalone mode
// fills it from files and SQLite; managed mode from Postgres.
type Stores struct {
	Sessions    SessionStore
	Memory      MemoryStore
	Cron        CronStore
	Pairing     PairingStore
	Skills      SkillStore
	CustomTools CustomToolStore    // nil in standalone mode without custom tools
	Providers   ProviderStore      // nil in standalone mode
	Secrets     ConfigSecretsStore // nil in standalone mode
	Agents      AgentStore         // nil in standalone mode
	MCP         MCPServerStore     // nil in standalone mode
	Spans       SpanStore          // nil in standalone mode
	Tracing     TracingStore       // nil in standalone mode

	// DB is the shared connection pool in managed mode, nil otherwise.
	DB io.Closer
}

// Close releases underlying resources.
func (s *Stores) Close() error {
	if s == nil {
		return nil
	}
	var firstErr error
	if s.Memory != nil {
		firstErr = s.Memory.Close()
	}
	if s.DB != nil {
		if err := s.DB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
