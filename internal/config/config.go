package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the main configuration for drivesync.
type Config struct {
	BaseDir  string         `toml:"base_dir"`
	LogDir   string         `toml:"log_dir"`
	Store    StoreConfig    `toml:"store"`
	Database DatabaseConfig `toml:"database"`
	Wallet   WalletConfig   `toml:"wallet"`
	Codec    CodecConfig    `toml:"codec"`
	Sync     SyncConfig     `toml:"sync"`
}

// StoreConfig selects and configures the permanent store backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StoreConfig struct {
	Type string `toml:"type"` // "memory", "filesystem", or "s3"

	// Filesystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// DatabaseConfig configures the local file index.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// WalletConfig holds paths to the wallet key pair used to authorize
// store writes.
type WalletConfig struct {
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// CodecConfig configures the upload codec.
type CodecConfig struct {
	Type           string `toml:"type"` // "age" (default) or "none"
	Compress       bool   `toml:"compress"`
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// SyncConfig tunes the batching and rescan policies. Zero values fall
// back to the built-in defaults.
type SyncConfig struct {
	BatchDelaySeconds  int `toml:"batch_delay_seconds"`
	ImmediateThreshold int `toml:"immediate_threshold"`
	MaxBatchSize       int `toml:"max_batch_size"`
	CooldownSeconds    int `toml:"cooldown_seconds"`
}

// ReadFromFile reads and parses a config file.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read parses a config from a reader.
func Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that required fields are present.
func (c *Config) Validate() error {
	if c.Store.Type == "" {
		return fmt.Errorf("store.type is required")
	}
	if c.Database.Type == "" {
		return fmt.Errorf("database.type is required")
	}
	if c.Wallet.PrivateKeyPath == "" {
		return fmt.Errorf("wallet.private_key_path is required")
	}
	return nil
}

// WriteToFile writes the config as TOML, creating parent directories.
func (c *Config) WriteToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return nil
}
