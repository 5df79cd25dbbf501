package database

import (
	"fmt"
	"os"
	"path/filepath"

	"bml-go/internal/config"
	"bml-go/internal/database/migrations"
)

// DatabasePath returns where the store described by cfg lives: a sqlite
// store at <data_dir>/<storeID>.db, a memory store at ":memory:".
func DatabasePath(cfg config.DatabaseConfig, storeID string) (string, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return "", fmt.Errorf("data_dir required for sqlite database")
		}
		return filepath.Join(cfg.DataDir, storeID+".db"), nil
	case "memory":
		return ":memory:", nil
	default:
		return "", fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

// NewDatabaseFromConfig opens the store described by cfg and brings its
// schema up to date.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, storeID string) (*SQLiteDatabase, error) {
	path, err := DatabasePath(cfg, storeID)
	if err != nil {
		return nil, err
	}
	if cfg.Type == "sqlite" {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
	}

	db, err := NewSQLiteDatabase(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db.db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}
	return db, nil
}
