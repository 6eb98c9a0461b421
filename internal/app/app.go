package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"drivesync/internal/codec"
	"drivesync/internal/config"
	"drivesync/internal/database"
	"drivesync/internal/drive"
	"drivesync/internal/store"
	"drivesync/internal/wallet"
)

// App is the application layer between the CLI and the drive services.
// It constructs all collaborators from config, exposes high-level
// operations, and manages lifecycles on Close.
type App struct {
	cfg       *config.Config
	index     drive.Index
	store     drive.PermanentStore
	codec     drive.Codec
	manifests *drive.ManifestService
	scheduler *drive.Scheduler
	syncer    *drive.DirectSync
	cooldown  *drive.CooldownGate
	service   *drive.Service
	logger    drive.Logger
	logFile   *os.File

	wallet  *wallet.LocalWallet // nil until UnlockWallet
	address string              // derived from the public key, always set
}

// New creates a fully wired App from the given config. operation
// identifies the CLI command being run (e.g. "Upload", "Sync") and is
// stamped on every log line. The caller must call Close when done.
func New(ctx context.Context, cfg *config.Config, operation string) (*App, error) {
	slogger, logFile, err := newLogger(cfg.LogDir, operation)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	ps, err := store.NewStoreFromConfig(ctx, cfg.Store)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating permanent store: %w", err)
	}

	index, err := database.NewIndexFromConfig(cfg.Database)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating file index: %w", err)
	}

	cdc, err := codec.NewCodecFromConfig(cfg.Codec)
	if err != nil {
		index.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating codec: %w", err)
	}

	address, err := wallet.Address(cfg.Wallet)
	if err != nil {
		index.Close()
		logFile.Close()
		return nil, fmt.Errorf("reading wallet address: %w", err)
	}

	clock := drive.RealClock{}
	idgen := drive.UUIDGenerator{}

	manifests := drive.NewManifestService(ps, index, logger, clock)

	schedCfg := drive.DefaultSchedulerConfig()
	if cfg.Sync.BatchDelaySeconds > 0 {
		schedCfg.BatchDelay = time.Duration(cfg.Sync.BatchDelaySeconds) * time.Second
	}
	if cfg.Sync.ImmediateThreshold > 0 {
		schedCfg.ImmediateThreshold = cfg.Sync.ImmediateThreshold
	}
	if cfg.Sync.MaxBatchSize > 0 {
		schedCfg.MaxBatchSize = cfg.Sync.MaxBatchSize
	}
	scheduler := drive.NewScheduler(manifests, schedCfg, logger)

	syncer := drive.NewDirectSync(ps, index, drive.DefaultDirectSyncConfig(), logger, idgen, nil)

	cooldownPeriod := 5 * time.Minute
	if cfg.Sync.CooldownSeconds > 0 {
		cooldownPeriod = time.Duration(cfg.Sync.CooldownSeconds) * time.Second
	}
	cooldown := drive.NewCooldownGate(cooldownPeriod, clock)

	service := drive.NewService(index, ps, scheduler, syncer, cooldown, logger, clock, idgen)

	return &App{
		cfg:       cfg,
		index:     index,
		store:     ps,
		codec:     cdc,
		manifests: manifests,
		scheduler: scheduler,
		syncer:    syncer,
		cooldown:  cooldown,
		service:   service,
		logger:    logger,
		logFile:   logFile,
		address:   address,
	}, nil
}

// UnlockWallet decrypts the wallet key with the passphrase so writes can
// be signed.
func (a *App) UnlockWallet(passphrase string) error {
	w, err := wallet.Unlock(a.cfg.Wallet, passphrase)
	if err != nil {
		return err
	}
	if w.Address() != a.address {
		return fmt.Errorf("private key does not match public key file")
	}
	a.wallet = w
	return nil
}

// Wallet returns the unlocked wallet, or an error when UnlockWallet has
// not been called.
func (a *App) Wallet() (drive.Wallet, error) {
	if a.wallet == nil {
		return nil, fmt.Errorf("wallet is locked")
	}
	return a.wallet, nil
}

// Address returns the owner address. Available without unlocking.
func (a *App) Address() string { return a.address }

// Service returns the drive service.
func (a *App) Service() *drive.Service { return a.service }

// Manifests returns the manifest service.
func (a *App) Manifests() *drive.ManifestService { return a.manifests }

// Scheduler returns the manifest update scheduler.
func (a *App) Scheduler() *drive.Scheduler { return a.scheduler }

// Index returns the local file index.
func (a *App) Index() drive.Index { return a.index }

// Codec returns the configured upload codec.
func (a *App) Codec() drive.Codec { return a.codec }

// Config returns the loaded configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Close waits for detached background work and releases resources.
func (a *App) Close() error {
	a.service.Wait()
	err := a.index.Close()
	if a.logFile != nil {
		a.logFile.Close()
	}
	return err
}
