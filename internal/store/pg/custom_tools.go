package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/tatty/internal/store"
)

// PGCustomToolStore implements store.CustomToolStore backed by Postgres.
type PGCustomToolStore struct {
	db *sql.DB
}

func NewPGCustomToolStore(db *sql.DB) *PGCustomToolStore {
	return &PGCustomToolStore{db: db}
}

const customToolCols = `id, agent_id, name, description, parameters, command, working_dir, env,
	timeout_seconds, enabled, created_at, updated_at`

func (s *PGCustomToolStore) ListGlobal(ctx context.Context) ([]store.CustomToolDef, error) {
	return s.list(ctx,
		"SELECT "+customToolCols+" FROM custom_tools WHERE agent_id IS NULL AND enabled ORDER BY name")
}

func (s *PGCustomToolStore) ListByAgent(ctx context.Context, agentID uuid.UUID) ([]store.CustomToolDef, error) {
	return s.list(ctx,
		"SELECT "+customToolCols+" FROM custom_tools WHERE agent_id = $1 AND enabled ORDER BY name", agentID)
}

func (s *PGCustomToolStore) list(ctx context.Context, query string, args ...interface{}) ([]store.CustomToolDef, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []store.CustomToolDef
	for rows.Next() {
		var d store.CustomToolDef
		// parameters/env are nullable, scan via *[]byte
		var params, env *[]byte
		if err := rows.Scan(&d.ID, &d.AgentID, &d.Name, &d.Description, &params,
			&d.Command, &d.WorkingDir, &env, &d.TimeoutSeconds, &d.Enabled,
			&d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		if params != nil {
			d.Parameters = json.RawMessage(*params)
		}
		if env != nil {
			d.Env = json.RawMessage(*env)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (s *PGCustomToolStore) Create(ctx context.Context, def *store.CustomToolDef) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if def.Command == "" {
		return fmt.Errorf("tool command is required")
	}
	if def.ID == uuid.Nil {
		def.ID = store.GenNewID()
	}
	now := time.Now()
	def.CreatedAt = now
	def.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO custom_tools (id, agent_id, name, description, parameters, command, working_dir, env,
		 timeout_seconds, enabled, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		def.ID, def.AgentID, def.Name, def.Description, jsonOrNull(def.Parameters),
		def.Command, def.WorkingDir, jsonOrNull(def.Env), def.TimeoutSeconds, def.Enabled, now, now,
	)
	return err
}

func (s *PGCustomToolStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM custom_tools WHERE id = $1", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("custom tool %s not found", id)
	}
	return nil
}
