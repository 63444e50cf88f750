package database

import (
	"fmt"
	"os"
	"path/filepath"

	"tally-go/internal/config"
	"tally-go/internal/tally"
)

// StorePath returns the database file path for a sqlite config.
func StorePath(cfg config.DatabaseConfig, deviceID string) (string, error) {
	if cfg.Type != "sqlite" {
		return "", fmt.Errorf("database type %q has no file path", cfg.Type)
	}
	if cfg.DataDir == "" {
		return "", fmt.Errorf("data_dir required for sqlite database")
	}
	return filepath.Join(cfg.DataDir, deviceID+".db"), nil
}

// NewStoreFromConfig creates a Store implementation based on the database config type.
func NewStoreFromConfig(cfg config.DatabaseConfig, deviceID string, clock tally.Clock, idgen tally.IDGenerator) (*SQLiteStore, error) {
	switch cfg.Type {
	case "sqlite":
		path, err := StorePath(cfg, deviceID)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("%w: creating data directory: %w", tally.ErrStorageInit, err)
		}
		return NewSQLiteStore(path, clock, idgen)
	case "memory":
		return NewSQLiteStore(":memory:", clock, idgen)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
