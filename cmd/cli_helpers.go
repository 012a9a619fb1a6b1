package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/tatty/internal/config"
	"github.com/nextlevelbuilder/tatty/internal/store"
	storefile "github.com/nextlevelbuilder/tatty/internal/store/file"
	storepg "github.com/nextlevelbuilder/tatty/internal/store/pg"
)

// mustLoadConfig loads configuration or exits. Management commands use
// this instead of buildRuntime so they work without provider credentials.
func mustLoadConfig() *config.Config {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	return cfg
}

// openStores opens the store layer for the configured mode. The caller
// owns the returned Stores and must Close them.
func openStores(cfg *config.Config) (*store.Stores, error) {
	storeCfg := store.StoreConfig{
		PostgresDSN:      cfg.Database.PostgresDSN,
		Mode:             cfg.Database.Mode,
		SessionsDir:      cfg.SessionsDir(),
		Workspace:        cfg.Agent.Workspace,
		CronStorePath:    cfg.CronStorePath(),
		PairingStorePath: filepath.Join(config.DataDir(), "pairing.json"),
		GlobalSkillsDir:  filepath.Join(config.DataDir(), "skills"),
	}
	if cfg.IsManaged() {
		return storepg.NewPGStores(storeCfg)
	}
	return storefile.NewFileStores(storeCfg)
}

func mustOpenStores(cfg *config.Config) *store.Stores {
	stores, err := openStores(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening stores: %s\n", err)
		os.Exit(1)
	}
	return stores
}
