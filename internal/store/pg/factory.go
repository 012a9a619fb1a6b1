package pg

import (
	"fmt"

	"github.com/nextlevelbuilder/tatty/internal/store"
)

// NewPGStores opens the Postgres pool, applies pending migrations, and wires
// every store against it (managed mode). The caller owns the returned Stores
// and releases the pool through Stores.Close.
func NewPGStores(cfg store.StoreConfig) (*store.Stores, error) {
	db, err := OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &store.Stores{
		Sessions:    NewPGSessionStore(db),
		Memory:      NewPGMemoryStore(db, DefaultPGMemoryConfig()),
		Cron:        NewPGCronStore(db),
		Pairing:     NewPGPairingStore(db),
		Skills:      NewPGSkillStore(db, cfg.SkillsStorageDir),
		CustomTools: NewPGCustomToolStore(db),
		Providers:   NewPGProviderStore(db, cfg.EncryptionKey),
		Secrets:     NewPGConfigSecretsStore(db, cfg.EncryptionKey),
		Agents:      NewPGAgentStore(db),
		MCP:         NewPGMCPServerStore(db, cfg.EncryptionKey),
		Spans:       NewPGSpanStore(db),
		Tracing:     NewPGTracingStore(db),
		DB:          db,
	}, nil
}
