package pg

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/tatty/internal/crypto"
	"github.com/nextlevelbuilder/tatty/internal/store"
)

// PGProviderStore implements store.ProviderStore backed by Postgres.
// API keys are encrypted at rest when an encryption key is configured.
type PGProviderStore struct {
	db     *sql.DB
	encKey string
}

func NewPGProviderStore(db *sql.DB, encryptionKey string) *PGProviderStore {
	return &PGProviderStore{db: db, encKey: encryptionKey}
}

func (s *PGProviderStore) CreateProvider(ctx context.Context, p *store.LLMProviderData) error {
	if p.Name == "" {
		return fmt.Errorf("provider name is required")
	}
	if p.ID == uuid.Nil {
		p.ID = store.GenNewID()
	}
	if p.ProviderType == "" {
		p.ProviderType = "openai_compat"
	}

	apiKey := p.APIKey
	if s.encKey != "" && apiKey != "" {
		encrypted, err := crypto.Encrypt(apiKey, s.encKey)
		if err != nil {
			return fmt.Errorf("encrypt api key: %w", err)
		}
		apiKey = encrypted
	}

	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO llm_providers (id, name, display_name, provider_type, api_base, api_key, enabled, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		p.ID, p.Name, p.DisplayName, p.ProviderType, p.APIBase, apiKey, p.Enabled, now, now,
	)
	return err
}

func (s *PGProviderStore) GetProvider(ctx context.Context, id uuid.UUID) (*store.LLMProviderData, error) {
	var p store.LLMProviderData
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, display_name, provider_type, api_base, api_key, enabled, created_at, updated_at
		 FROM llm_providers WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.DisplayName, &p.ProviderType, &p.APIBase, &p.APIKey, &p.Enabled, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.decryptKey(&p)
	return &p, nil
}

func (s *PGProviderStore) ListProviders(ctx context.Context) ([]store.LLMProviderData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, display_name, provider_type, api_base, api_key, enabled, created_at, updated_at
		 FROM llm_providers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []store.LLMProviderData
	for rows.Next() {
		var p store.LLMProviderData
		if err := rows.Scan(&p.ID, &p.Name, &p.DisplayName, &p.ProviderType, &p.APIBase, &p.APIKey, &p.Enabled, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		s.decryptKey(&p)
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *PGProviderStore) UpdateProvider(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	if key, ok := updates["api_key"]; ok {
		if keyStr, isStr := key.(string); isStr && keyStr != "" && s.encKey != "" {
			encrypted, err := crypto.Encrypt(keyStr, s.encKey)
			if err != nil {
				return fmt.Errorf("encrypt api key: %w", err)
			}
			updates["api_key"] = encrypted
		}
	}
	updates["updated_at"] = time.Now()
	return execMapUpdate(ctx, s.db, "llm_providers", id, updates)
}

func (s *PGProviderStore) DeleteProvider(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM llm_providers WHERE id = $1", id)
	return err
}

// decryptKey decrypts the api_key field in place. On failure the key is
// cleared rather than returned as ciphertext.
func (s *PGProviderStore) decryptKey(p *store.LLMProviderData) {
	if s.encKey == "" || p.APIKey == "" {
		return
	}
	decrypted, err := crypto.Decrypt(p.APIKey, s.encKey)
	if err != nil {
		slog.Warn("provider: failed to decrypt api key", "provider", p.Name, "error", err)
		p.APIKey = ""
		return
	}
	p.APIKey = decrypted
}
