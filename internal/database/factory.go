package database

import (
	"fmt"
	"path/filepath"

	"drivesync/internal/config"
	"drivesync/internal/drive"
)

// NewIndexFromConfig creates an Index implementation based on the
// database config type.
func NewIndexFromConfig(cfg config.DatabaseConfig) (drive.Index, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		return NewSQLiteIndex(filepath.Join(cfg.DataDir, "index.db"))
	case "memory":
		return NewSQLiteIndex(":memory:")
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
