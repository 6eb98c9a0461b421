package drive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"drivesync/internal/model"
)

// SyncStats aggregates the outcome of a background sync pass. Background
// sync never fails a caller over a single bad record; it counts and
// moves on.
type SyncStats struct {
	Added   int
	Updated int
	Skipped int
	Errors  int
}

// DirectSyncConfig bounds the work done per slice so a large sync never
// blocks the host application.
type DirectSyncConfig struct {
	PageSize    int           // store query page size
	SliceSize   int           // max records processed per slice
	SliceBudget time.Duration // max wall-clock time per slice
	YieldHint   time.Duration // pause handed to the Yielder between slices
}

// DefaultDirectSyncConfig returns the production slicing policy.
func DefaultDirectSyncConfig() DirectSyncConfig {
	return DirectSyncConfig{
		PageSize:    100,
		SliceSize:   25,
		SliceBudget: 100 * time.Millisecond,
		YieldHint:   50 * time.Millisecond,
	}
}

// DirectSync rebuilds the local index straight from the permanent
// store's tagged records, without manifests. It is the ground-truth
// fallback when no manifest chain is trusted or available. Hashing a
// record requires downloading its full content, so existing hashes are
// reused whenever they are real (not placeholders).
type DirectSync struct {
	store   PermanentStore
	index   Index
	logger  Logger
	idgen   IDGenerator
	yielder Yielder
	cfg     DirectSyncConfig
}

// NewDirectSync creates a DirectSync. logger, idgen, and yielder may be
// nil and default to NopLogger, UUIDGenerator, and SleepYielder.
func NewDirectSync(store PermanentStore, index Index, cfg DirectSyncConfig, logger Logger, idgen IDGenerator, yielder Yielder) *DirectSync {
	def := DefaultDirectSyncConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.SliceSize <= 0 {
		cfg.SliceSize = def.SliceSize
	}
	if cfg.SliceBudget <= 0 {
		cfg.SliceBudget = def.SliceBudget
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	if idgen == nil {
		idgen = UUIDGenerator{}
	}
	if yielder == nil {
		yielder = SleepYielder{}
	}
	return &DirectSync{
		store:   store,
		index:   index,
		logger:  logger,
		idgen:   idgen,
		yielder: yielder,
		cfg:     cfg,
	}
}

// SyncFromStore pulls every file record the owner has on the permanent
// store and reconciles it into the local index. Records are fetched
// newest first through the store's cursor, then processed in small
// slices, yielding between slices.
func (d *DirectSync) SyncFromStore(ctx context.Context, ownerAddress string) (SyncStats, error) {
	var stats SyncStats

	candidates, parseErrors, err := d.collectCandidates(ctx, ownerAddress)
	if err != nil {
		return stats, err
	}
	stats.Errors += parseErrors

	sliceStart := time.Now()
	inSlice := 0
	for _, meta := range candidates {
		if inSlice >= d.cfg.SliceSize || time.Since(sliceStart) > d.cfg.SliceBudget {
			if err := d.yielder.Yield(ctx, d.cfg.YieldHint); err != nil {
				return stats, err
			}
			sliceStart = time.Now()
			inSlice = 0
		}
		inSlice++

		switch outcome, err := d.reconcile(ctx, ownerAddress, meta); {
		case err != nil:
			d.logger.Warn("sync record failed, skipping",
				"content", meta.ContentID, "error", err)
			stats.Errors++
		case outcome == appliedInsert:
			stats.Added++
		case outcome == appliedUpdate:
			stats.Updated++
		default:
			stats.Skipped++
		}
	}

	d.logger.Info("direct sync complete", "owner", ownerAddress,
		"records", len(candidates), "added", stats.Added, "updated", stats.Updated,
		"skipped", stats.Skipped, "errors", stats.Errors)
	return stats, nil
}

// collectCandidates pages through all of the owner's file records and
// parses their tags. Records that are not files of ours count as one
// error each and are dropped before processing.
func (d *DirectSync) collectCandidates(ctx context.Context, ownerAddress string) ([]FileMetadata, int, error) {
	var candidates []FileMetadata
	parseErrors := 0

	cursor := ""
	for {
		page, err := d.store.QueryByTags(ctx, StoreQuery{
			OwnerAddress: ownerAddress,
			Tags: []Tag{
				{Name: TagAppName, Value: FileAppID},
				{Name: TagOwnerAddress, Value: ownerAddress},
			},
			PageSize: d.cfg.PageSize,
			Cursor:   cursor,
		})
		if err != nil {
			return nil, parseErrors, fmt.Errorf("querying store records: %w", err)
		}

		for _, rec := range page.Records {
			meta, err := ParseFileTags(rec, ownerAddress)
			if err != nil {
				d.logger.Debug("record rejected", "record", rec.ID, "reason", err)
				parseErrors++
				continue
			}
			candidates = append(candidates, meta)
		}

		if page.NextCursor == "" || len(page.Records) == 0 {
			break
		}
		cursor = page.NextCursor
	}

	return candidates, parseErrors, nil
}

// reconcile applies one remote record to the local index. The stored
// hash is reused when real; a placeholder hash forces a download so the
// real hash gets backfilled even when timestamps are equal.
func (d *DirectSync) reconcile(ctx context.Context, ownerAddress string, meta FileMetadata) (applyOutcome, error) {
	existing, err := d.index.GetFileByContentID(meta.ContentID)
	if err != nil {
		return appliedSkip, err
	}

	if existing == nil {
		hash, err := d.fetchAndHash(ctx, meta.ContentID)
		if err != nil {
			return appliedSkip, err
		}
		inserted, err := d.index.InsertFileIfAbsent(d.recordFromMetadata(ownerAddress, meta, hash))
		if err != nil {
			return appliedSkip, err
		}
		if !inserted {
			// Lost a race with a concurrent sync pass. Not an error.
			return appliedSkip, nil
		}
		return appliedInsert, nil
	}

	remoteNewer := meta.CreatedAt.After(existing.UpdatedAt)
	if !remoteNewer && !existing.HasPlaceholderHash() {
		return appliedSkip, nil
	}

	hash := existing.ContentHash
	if existing.HasPlaceholderHash() {
		hash, err = d.fetchAndHash(ctx, meta.ContentID)
		if err != nil {
			return appliedSkip, err
		}
	}

	updatedAt := existing.UpdatedAt
	if remoteNewer {
		updatedAt = meta.CreatedAt
	}
	upd := FileUpdate{
		FileName:    &meta.FileName,
		ContentHash: &hash,
		UpdatedAt:   &updatedAt,
	}
	if meta.Size > 0 {
		upd.FileSize = &meta.Size
	}
	if meta.MimeType != "" {
		upd.MimeType = &meta.MimeType
	}
	if err := d.index.UpdateFile(existing.ID, upd); err != nil {
		return appliedSkip, err
	}
	return appliedUpdate, nil
}

// fetchAndHash downloads the record body and returns its SHA-256. This
// is the expensive step the placeholder optimization avoids.
func (d *DirectSync) fetchAndHash(ctx context.Context, contentID string) (string, error) {
	h := sha256.New()
	if err := d.store.Get(ctx, contentID, h); err != nil {
		return "", fmt.Errorf("downloading %s: %w", contentID, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (d *DirectSync) recordFromMetadata(ownerAddress string, meta FileMetadata, hash string) *model.FileIndexRecord {
	return &model.FileIndexRecord{
		ID:               d.idgen.New(),
		ContentID:        meta.ContentID,
		FileName:         meta.FileName,
		ContentHash:      hash,
		FileSize:         meta.Size,
		MimeType:         meta.MimeType,
		OwnerAddress:     ownerAddress,
		StorageKind:      "permanent",
		EncryptionAlgo:   meta.EncryptionAlgo,
		EncryptionParams: meta.EncryptionParams,
		Version:          1,
		CreatedAt:        meta.CreatedAt,
		UpdatedAt:        meta.CreatedAt,
	}
}
