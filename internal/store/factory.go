package store

import (
	"context"
	"fmt"

	"drivesync/internal/config"
	"drivesync/internal/drive"
)

// NewStoreFromConfig creates a PermanentStore implementation based on
// the store config type.
func NewStoreFromConfig(ctx context.Context, cfg config.StoreConfig) (drive.PermanentStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(nil), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem store requires fs_root to be set")
		}
		return NewFileSystemStore(cfg.FSRoot, nil)
	case "s3":
		return NewS3Store(ctx, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		}, nil)
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}
