package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/tatty/internal/store"
)

// PGSpanStore implements store.SpanStore backed by Postgres.
type PGSpanStore struct {
	db *sql.DB
}

func NewPGSpanStore(db *sql.DB) *PGSpanStore {
	return &PGSpanStore{db: db}
}

const spanCols = `id, trace_id, parent_span_id, span_type, name, start_time, end_time, duration_ms,
	model, provider, tool_name, tool_call_id, input_preview, output_preview,
	input_tokens, output_tokens, status, level, created_at`

func (s *PGSpanStore) WriteSpan(ctx context.Context, span *store.SpanData) error {
	if span.ID == uuid.Nil {
		span.ID = store.GenNewID()
	}
	if span.CreatedAt.IsZero() {
		span.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO spans (`+spanCols+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		 ON CONFLICT (id) DO UPDATE SET
		   end_time = EXCLUDED.end_time, duration_ms = EXCLUDED.duration_ms,
		   output_preview = EXCLUDED.output_preview, input_tokens = EXCLUDED.input_tokens,
		   output_tokens = EXCLUDED.output_tokens, status = EXCLUDED.status, level = EXCLUDED.level`,
		span.ID, span.TraceID, span.ParentSpanID, span.SpanType, span.Name,
		span.StartTime, span.EndTime, span.DurationMS,
		span.Model, span.Provider, span.ToolName, span.ToolCallID,
		span.InputPreview, span.OutputPreview,
		span.InputTokens, span.OutputTokens, span.Status, span.Level, span.CreatedAt,
	)
	return err
}

func (s *PGSpanStore) ListSpans(ctx context.Context, traceID uuid.UUID) ([]store.SpanData, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+spanCols+" FROM spans WHERE trace_id = $1 ORDER BY start_time", traceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSpans(rows)
}

// ListRecentTraces returns the spans of the most recently started traces,
// newest trace first.
func (s *PGSpanStore) ListRecentTraces(ctx context.Context, limit int) ([]store.SpanData, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT trace_id FROM spans GROUP BY trace_id ORDER BY MAX(created_at) DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	var traceIDs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		traceIDs = append(traceIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(traceIDs) == 0 {
		return nil, nil
	}

	spanRows, err := s.db.QueryContext(ctx,
		"SELECT "+spanCols+` FROM spans WHERE trace_id = ANY($1::uuid[])
		 ORDER BY created_at DESC, start_time`, uuidArray(traceIDs))
	if err != nil {
		return nil, err
	}
	defer spanRows.Close()
	return scanSpans(spanRows)
}

func scanSpans(rows *sql.Rows) ([]store.SpanData, error) {
	var result []store.SpanData
	for rows.Next() {
		var d store.SpanData
		if err := rows.Scan(
			&d.ID, &d.TraceID, &d.ParentSpanID, &d.SpanType, &d.Name,
			&d.StartTime, &d.EndTime, &d.DurationMS,
			&d.Model, &d.Provider, &d.ToolName, &d.ToolCallID,
			&d.InputPreview, &d.OutputPreview,
			&d.InputTokens, &d.OutputTokens, &d.Status, &d.Level, &d.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}
