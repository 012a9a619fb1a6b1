package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nextlevelbuilder/tatty/internal/providers"
	"github.com/nextlevelbuilder/tatty/internal/sessions"
	"github.com/nextlevelbuilder/tatty/internal/store"
)

// PGSessionStore persists conversation history in Postgres. It exposes the
// same method surface as sessions.Manager so the agent loop runs unchanged
// against either backend; messages live one row per message in
// session_messages, ordered by seq.
type PGSessionStore struct {
	db *sqlx.DB
}

func NewPGSessionStore(db *sql.DB) *PGSessionStore {
	return &PGSessionStore{db: sqlx.NewDb(db, "pgx")}
}

// ensureSession creates the session row if it does not exist yet.
func (s *PGSessionStore) ensureSession(ctx context.Context, key string) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (key, agent_id) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
		key, sessions.AgentFromKey(key))
	if err != nil {
		slog.Error("sessions: ensure failed", "key", key, "error", err)
	}
}

func (s *PGSessionStore) touch(ctx context.Context, key string) {
	s.db.ExecContext(ctx, "UPDATE sessions SET updated_at = NOW() WHERE key = $1", key)
}

// GetHistory returns the message history for a session.
func (s *PGSessionStore) GetHistory(key string) []providers.Message {
	ctx := context.Background()
	rows, err := s.db.QueryContext(ctx,
		"SELECT message FROM session_messages WHERE session_key = $1 ORDER BY seq", key)
	if err != nil {
		slog.Error("sessions: history query failed", "key", key, "error", err)
		return nil
	}
	defer rows.Close()

	var out []providers.Message
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			continue
		}
		var msg providers.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			slog.Warn("sessions: skipping unreadable message", "key", key, "error", err)
			continue
		}
		out = append(out, msg)
	}
	return out
}

// SetHistory replaces the message history (used by compaction and pruning).
func (s *PGSessionStore) SetHistory(key string, msgs []providers.Message) {
	ctx := context.Background()
	s.ensureSession(ctx, key)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		slog.Error("sessions: begin tx failed", "key", key, "error", err)
		return
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM session_messages WHERE session_key = $1", key); err != nil {
		slog.Error("sessions: clear history failed", "key", key, "error", err)
		return
	}
	for i, msg := range msgs {
		raw, err := json.Marshal(msg)
		if err != nil {
			slog.Error("sessions: marshal failed", "key", key, "error", err)
			return
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO session_messages (session_key, seq, message) VALUES ($1,$2,$3)",
			key, i, raw); err != nil {
			slog.Error("sessions: insert message failed", "key", key, "error", err)
			return
		}
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE sessions SET updated_at = NOW() WHERE key = $1", key); err != nil {
		slog.Error("sessions: touch failed", "key", key, "error", err)
		return
	}
	if err := tx.Commit(); err != nil {
		slog.Error("sessions: commit failed", "key", key, "error", err)
	}
}

// AddMessage appends one message to a session's history.
func (s *PGSessionStore) AddMessage(key string, msg providers.Message) {
	ctx := context.Background()
	s.ensureSession(ctx, key)

	raw, err := json.Marshal(msg)
	if err != nil {
		slog.Error("sessions: marshal failed", "key", key, "error", err)
		return
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO session_messages (session_key, seq, message)
		 VALUES ($1, (SELECT COALESCE(MAX(seq) + 1, 0) FROM session_messages WHERE session_key = $1), $2)`,
		key, raw)
	if err != nil {
		slog.Error("sessions: insert message failed", "key", key, "error", err)
		return
	}
	s.touch(ctx, key)
}

// GetSummary returns the compaction summary for a session.
func (s *PGSessionStore) GetSummary(key string) string {
	var summary string
	err := s.db.GetContext(context.Background(), &summary,
		"SELECT summary FROM sessions WHERE key = $1", key)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		slog.Error("sessions: summary query failed", "key", key, "error", err)
	}
	return summary
}

// SetSummary stores the compaction summary and bumps the compaction count.
func (s *PGSessionStore) SetSummary(key, summary string) {
	ctx := context.Background()
	s.ensureSession(ctx, key)
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET summary = $1, compaction_count = compaction_count + 1, updated_at = NOW()
		 WHERE key = $2`, summary, key)
	if err != nil {
		slog.Error("sessions: set summary failed", "key", key, "error", err)
	}
}

// GetCompactionCount returns how many times the session was compacted.
func (s *PGSessionStore) GetCompactionCount(key string) int {
	var count int
	err := s.db.GetContext(context.Background(), &count,
		"SELECT compaction_count FROM sessions WHERE key = $1", key)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		slog.Error("sessions: compaction count query failed", "key", key, "error", err)
	}
	return count
}

// GetMemoryFlushCompactionCount returns the compaction count at the
// last memory flush, or -1 if the session never flushed.
func (s *PGSessionStore) GetMemoryFlushCompactionCount(key string) int {
	count := -1
	err := s.db.GetContext(context.Background(), &count,
		"SELECT memory_flush_compaction FROM sessions WHERE key = $1", key)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			slog.Error("sessions: flush count query failed", "key", key, "error", err)
		}
		return -1
	}
	return count
}

// SetMemoryFlushDone records that a memory flush ran in the current
// compaction cycle.
func (s *PGSessionStore) SetMemoryFlushDone(key string) {
	ctx := context.Background()
	s.ensureSession(ctx, key)
	_, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET memory_flush_compaction = compaction_count WHERE key = $1", key)
	if err != nil {
		slog.Error("sessions: set flush failed", "key", key, "error", err)
	}
}

// GetTodos returns the session's todo list.
func (s *PGSessionStore) GetTodos(key string) []store.TodoItem {
	var raw []byte
	err := s.db.GetContext(context.Background(), &raw,
		"SELECT todos FROM sessions WHERE key = $1", key)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			slog.Error("sessions: todos query failed", "key", key, "error", err)
		}
		return nil
	}
	var todos []store.TodoItem
	if err := json.Unmarshal(raw, &todos); err != nil {
		slog.Error("sessions: todos decode failed", "key", key, "error", err)
		return nil
	}
	return todos
}

// SetTodos replaces the session's todo list.
func (s *PGSessionStore) SetTodos(key string, todos []store.TodoItem) {
	ctx := context.Background()
	s.ensureSession(ctx, key)
	raw, err := json.Marshal(todos)
	if err != nil {
		slog.Error("sessions: todos encode failed", "key", key, "error", err)
		return
	}
	if _, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET todos = $1, updated_at = NOW() WHERE key = $2", raw, key); err != nil {
		slog.Error("sessions: set todos failed", "key", key, "error", err)
	}
}

// GetPlan returns the recorded execution plan, if any.
func (s *PGSessionStore) GetPlan(key string) string {
	var plan string
	err := s.db.GetContext(context.Background(), &plan,
		"SELECT plan FROM sessions WHERE key = $1", key)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		slog.Error("sessions: plan query failed", "key", key, "error", err)
	}
	return plan
}

// SetPlan stores the execution plan.
func (s *PGSessionStore) SetPlan(key, plan string) {
	ctx := context.Background()
	s.ensureSession(ctx, key)
	if _, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET plan = $1, updated_at = NOW() WHERE key = $2", plan, key); err != nil {
		slog.Error("sessions: set plan failed", "key", key, "error", err)
	}
}

// Save is a no-op for the Postgres backend; every mutation writes through.
// It still ensures the session row exists so callers can rely on it.
func (s *PGSessionStore) Save(key string) {
	s.ensureSession(context.Background(), key)
}

// Reset clears a session's history and summary but keeps the session.
func (s *PGSessionStore) Reset(key string) {
	ctx := context.Background()
	s.ensureSession(ctx, key)
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM session_messages WHERE session_key = $1", key); err != nil {
		slog.Error("sessions: reset failed", "key", key, "error", err)
		return
	}
	s.db.ExecContext(ctx,
		`UPDATE sessions SET summary = '', todos = '[]', plan = '', compaction_count = 0,
		 memory_flush_compaction = -1, updated_at = NOW() WHERE key = $1`, key)
}

// Delete removes a session and its messages.
func (s *PGSessionStore) Delete(key string) error {
	_, err := s.db.ExecContext(context.Background(),
		"DELETE FROM sessions WHERE key = $1", key)
	return err
}

// List returns summaries of all persisted sessions, newest first.
// agentFilter restricts results to one agent when non-empty.
func (s *PGSessionStore) List(agentFilter string) []store.SessionInfo {
	type sessionRow struct {
		Key          string    `db:"key"`
		AgentID      string    `db:"agent_id"`
		MessageCount int       `db:"message_count"`
		Created      time.Time `db:"created_at"`
		Updated      time.Time `db:"updated_at"`
	}

	q := `SELECT s.key, s.agent_id,
	 (SELECT COUNT(*) FROM session_messages m WHERE m.session_key = s.key) AS message_count,
	 s.created_at, s.updated_at
	 FROM sessions s`
	args := []interface{}{}
	if agentFilter != "" {
		q += " WHERE s.agent_id = $1"
		args = append(args, agentFilter)
	}
	q += " ORDER BY s.updated_at DESC"

	var rows []sessionRow
	if err := s.db.SelectContext(context.Background(), &rows, q, args...); err != nil {
		slog.Error("sessions: list failed", "error", err)
		return nil
	}

	infos := make([]store.SessionInfo, len(rows))
	for i, r := range rows {
		infos[i] = store.SessionInfo{
			Key:          r.Key,
			AgentID:      r.AgentID,
			MessageCount: r.MessageCount,
			Created:      r.Created,
			Updated:      r.Updated,
		}
	}
	return infos
}
