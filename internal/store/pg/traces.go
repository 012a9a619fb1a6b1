package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/tatty/internal/store"
)

// PGTracingStore implements store.TracingStore backed by Postgres.
type PGTracingStore struct {
	db *sql.DB
}

func NewPGTracingStore(db *sql.DB) *PGTracingStore {
	return &PGTracingStore{db: db}
}

const traceCols = `id, agent_id, session_key, run_id, name, input_preview, output_preview,
	status, error, start_time, end_time, span_count, input_tokens, output_tokens`

func (s *PGTracingStore) CreateTrace(ctx context.Context, trace *store.TraceData) error {
	if trace.ID == uuid.Nil {
		trace.ID = store.GenNewID()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO traces (`+traceCols+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		trace.ID, trace.AgentID, trace.SessionKey, trace.RunID, trace.Name,
		trace.InputPreview, trace.OutputPreview, trace.Status, trace.Error,
		trace.StartTime, trace.EndTime, trace.SpanCount, trace.InputTokens, trace.OutputTokens,
	)
	return err
}

// allowed trace columns for UpdateTrace. Anything else is rejected.
var traceUpdateCols = map[string]bool{
	"output_preview": true,
	"status":         true,
	"error":          true,
	"end_time":       true,
	"span_count":     true,
	"input_tokens":   true,
	"output_tokens":  true,
}

func (s *PGTracingStore) UpdateTrace(ctx context.Context, traceID uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}

	var (
		sets []string
		args []any
	)
	for col, val := range updates {
		if !traceUpdateCols[col] {
			return fmt.Errorf("trace column %q is not updatable", col)
		}
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	args = append(args, traceID)

	query := fmt.Sprintf("UPDATE traces SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *PGTracingStore) BatchCreateSpans(ctx context.Context, spans []store.SpanData) error {
	if len(spans) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i := range spans {
		span := &spans[i]
		if span.ID == uuid.Nil {
			span.ID = store.GenNewID()
		}
		if span.CreatedAt.IsZero() {
			span.CreatedAt = time.Now()
		}
		_, err := tx.ExecContext(ctx,
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
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PGTracingStore) BatchUpdateTraceAggregates(ctx context.Context, traceID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE traces SET
		   span_count    = agg.n,
		   input_tokens  = agg.in_tok,
		   output_tokens = agg.out_tok
		 FROM (
		   SELECT COUNT(*) AS n,
		          COALESCE(SUM(input_tokens), 0)  AS in_tok,
		          COALESCE(SUM(output_tokens), 0) AS out_tok
		   FROM spans WHERE trace_id = $1
		 ) agg
		 WHERE traces.id = $1`, traceID)
	return err
}

func (s *PGTracingStore) ListTraces(ctx context.Context, agentID string, limit int) ([]store.TraceData, error) {
	if limit <= 0 {
		limit = 50
	}

	query := "SELECT " + traceCols + " FROM traces"
	args := []any{}
	if agentID != "" {
		query += " WHERE agent_id = $1"
		args = append(args, agentID)
	}
	query += fmt.Sprintf(" ORDER BY start_time DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.TraceData
	for rows.Next() {
		var t store.TraceData
		if err := rows.Scan(
			&t.ID, &t.AgentID, &t.SessionKey, &t.RunID, &t.Name,
			&t.InputPreview, &t.OutputPreview, &t.Status, &t.Error,
			&t.StartTime, &t.EndTime, &t.SpanCount, &t.InputTokens, &t.OutputTokens,
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
