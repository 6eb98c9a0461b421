package drive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"drivesync/internal/model"
)

// Service is the orchestration layer that coordinates the index, the
// permanent store, the manifest scheduler, and background sync to perform
// the high-level operations needed by the CLI.
type Service struct {
	index     Index
	store     PermanentStore
	scheduler *Scheduler
	syncer    *DirectSync
	cooldown  *CooldownGate
	logger    Logger
	clock     Clock
	idgen     IDGenerator

	bg sync.WaitGroup
}

// NewService creates a new Service with the provided dependencies.
// scheduler, syncer, and cooldown may be nil, which disables manifest
// scheduling and background resync (useful in tests exercising only the
// upload path).
func NewService(index Index, store PermanentStore, scheduler *Scheduler, syncer *DirectSync, cooldown *CooldownGate, logger Logger, clock Clock, idgen IDGenerator) *Service {
	if logger == nil {
		logger = NewNopLogger()
	}
	if clock == nil {
		clock = RealClock{}
	}
	if idgen == nil {
		idgen = UUIDGenerator{}
	}
	return &Service{
		index:     index,
		store:     store,
		scheduler: scheduler,
		syncer:    syncer,
		cooldown:  cooldown,
		logger:    logger,
		clock:     clock,
		idgen:     idgen,
	}
}

// UploadOptions describes one file upload.
type UploadOptions struct {
	FileName    string
	MimeType    string
	FolderID    string
	Description string
	Tags        []string

	// Codec processes the bytes before upload. The content hash and the
	// stored blob both cover the processed bytes, never the original
	// plaintext. Nil uploads the bytes as-is.
	Codec Codec

	// SkipScheduling suppresses the manifest schedule and background
	// resync that normally follow an upload. Used by batch mode.
	SkipScheduling bool
}

// UploadResult identifies what an upload produced.
type UploadResult struct {
	ContentID string
	RecordID  string
	Version   int64
}

// UploadFile encodes, stores, and indexes one file for the wallet's
// owner. If the owner already holds a record with the same content hash
// the new record continues its version chain. Upload failures surface to
// the caller; the manifest publish and resync that follow run detached.
func (s *Service) UploadFile(ctx context.Context, wallet Wallet, content io.Reader, opts UploadOptions) (*UploadResult, error) {
	if opts.FileName == "" {
		return nil, fmt.Errorf("file name is required")
	}
	owner := wallet.Address()

	var buf bytes.Buffer
	if opts.Codec != nil {
		if err := opts.Codec.Encode(content, &buf); err != nil {
			return nil, fmt.Errorf("encoding content: %w", err)
		}
	} else {
		if _, err := io.Copy(&buf, content); err != nil {
			return nil, fmt.Errorf("reading content: %w", err)
		}
	}

	// Hash the exact bytes being stored. Two uploads of the same
	// plaintext under different nonces must not collide, and identical
	// ciphertexts must.
	sum := sha256.Sum256(buf.Bytes())
	contentHash := hex.EncodeToString(sum[:])
	size := int64(buf.Len())

	tags := BuildFileTags(owner, opts.FileName, opts.MimeType, opts.Codec)
	contentID, err := s.store.Put(ctx, wallet, bytes.NewReader(buf.Bytes()), size, tags)
	if err != nil {
		return nil, fmt.Errorf("storing content: %w", err)
	}

	rec, err := s.recordUpload(owner, contentID, contentHash, size, opts)
	if err != nil {
		return nil, err
	}

	if !opts.SkipScheduling {
		s.scheduleFollowUps(wallet)
	}

	s.logger.Info("file uploaded", "file", opts.FileName,
		"content", contentID, "version", rec.Version, "owner", owner)
	return &UploadResult{ContentID: contentID, RecordID: rec.ID, Version: rec.Version}, nil
}

// recordUpload writes the index row for a stored blob, chaining versions
// on (owner, contentHash).
func (s *Service) recordUpload(owner, contentID, contentHash string, size int64, opts UploadOptions) (*model.FileIndexRecord, error) {
	existing, err := s.index.FindCurrentByHash(owner, contentHash)
	if err != nil {
		return nil, fmt.Errorf("looking up version chain: %w", err)
	}

	now := s.clock.Now()
	rec := &model.FileIndexRecord{
		ID:           s.idgen.New(),
		ContentID:    contentID,
		FileName:     opts.FileName,
		ContentHash:  contentHash,
		FileSize:     size,
		MimeType:     opts.MimeType,
		FolderID:     opts.FolderID,
		Description:  opts.Description,
		OwnerAddress: owner,
		StorageKind:  "permanent",
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
		Tags:         opts.Tags,
	}
	if opts.Codec != nil {
		rec.EncryptionAlgo = opts.Codec.Algo()
		rec.EncryptionParams = opts.Codec.Params()
	}
	if existing != nil {
		rec.Version = existing.Version + 1
		rec.PreviousContentID = existing.ContentID
	}

	if err := s.index.InsertFile(rec); err != nil {
		return nil, fmt.Errorf("indexing upload: %w", err)
	}
	return rec, nil
}

// scheduleFollowUps kicks off the manifest schedule and a cooldown-gated
// background resync. Both are non-blocking; failures there never reach
// the upload caller.
func (s *Service) scheduleFollowUps(wallet Wallet) {
	if s.scheduler != nil {
		s.scheduler.ScheduleUpdate(wallet)
	}
	if s.syncer == nil {
		return
	}
	owner := wallet.Address()
	if s.cooldown != nil && !s.cooldown.Allow(owner) {
		s.logger.Debug("resync suppressed by cooldown", "owner", owner)
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		if _, err := s.syncer.SyncFromStore(context.Background(), owner); err != nil {
			s.logger.Warn("background resync failed", "owner", owner, "error", err)
		}
	}()
}

// UploadItem is one file in a batch upload.
type UploadItem struct {
	Content io.Reader
	Options UploadOptions
}

// UploadOutcome is the per-file result of a batch upload.
type UploadOutcome struct {
	FileName string
	Result   *UploadResult
	Err      error
}

// UploadBatch uploads several files, suppressing per-file manifest
// scheduling and scheduling exactly one update after the batch when at
// least one file succeeded. One file's failure does not abort the batch.
func (s *Service) UploadBatch(ctx context.Context, wallet Wallet, items []UploadItem) []UploadOutcome {
	outcomes := make([]UploadOutcome, 0, len(items))
	succeeded := 0

	for _, item := range items {
		opts := item.Options
		opts.SkipScheduling = true
		result, err := s.UploadFile(ctx, wallet, item.Content, opts)
		if err != nil {
			s.logger.Warn("batch upload item failed", "file", opts.FileName, "error", err)
		} else {
			succeeded++
		}
		outcomes = append(outcomes, UploadOutcome{FileName: opts.FileName, Result: result, Err: err})
	}

	if succeeded > 0 {
		s.scheduleFollowUps(wallet)
	}
	return outcomes
}

// Download streams the blob with the given content id into out, decoding
// it when a decode context is supplied.
func (s *Service) Download(ctx context.Context, contentID string, out io.Writer, dec DecodeContext) error {
	if dec == nil {
		if err := s.store.Get(ctx, contentID, out); err != nil {
			return fmt.Errorf("downloading content: %w", err)
		}
		return nil
	}

	var buf bytes.Buffer
	if err := s.store.Get(ctx, contentID, &buf); err != nil {
		return fmt.Errorf("downloading content: %w", err)
	}
	if err := dec.Decode(&buf, out); err != nil {
		return fmt.Errorf("decoding content: %w", err)
	}
	return nil
}

// DeleteFile removes a file record from the local index: row, tags, and
// text-index entry. The historical blob on the permanent store is
// immutable and stays.
func (s *Service) DeleteFile(id string) error {
	rec, err := s.index.GetFileByID(id)
	if err != nil {
		return fmt.Errorf("looking up file: %w", err)
	}
	if rec == nil {
		return ErrNotFound
	}
	if err := s.index.DeleteFile(id); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	s.logger.Info("file deleted from index", "file", rec.FileName, "content", rec.ContentID)
	return nil
}

// Search runs an owner-scoped index search.
func (s *Service) Search(ownerAddress string, opts SearchOptions) ([]*model.FileIndexRecord, error) {
	return s.index.SearchFiles(ownerAddress, opts)
}

// VersionHistoryEntry is one version of a file, newest first.
type VersionHistoryEntry struct {
	ContentID   string
	ContentHash string
	Version     int64
	FileSize    int64
	CreatedAt   string
	IsCurrent   bool
}

// GetFileHistory walks a file's previousContentId chain and returns its
// version history, newest first. The walk is depth-capped the same way
// manifest traversal is.
func (s *Service) GetFileHistory(id string) ([]VersionHistoryEntry, error) {
	rec, err := s.index.GetFileByID(id)
	if err != nil {
		return nil, fmt.Errorf("looking up file: %w", err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}

	var history []VersionHistoryEntry
	visited := map[string]bool{}
	current := rec
	for current != nil && len(history) < maxChainDepth {
		if visited[current.ContentID] {
			s.logger.Warn("version chain cycle detected, stopping", "content", current.ContentID)
			break
		}
		visited[current.ContentID] = true
		history = append(history, VersionHistoryEntry{
			ContentID:   current.ContentID,
			ContentHash: current.ContentHash,
			Version:     current.Version,
			FileSize:    current.FileSize,
			CreatedAt:   current.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			IsCurrent:   current.ContentID == rec.ContentID,
		})
		if current.PreviousContentID == "" {
			break
		}
		prev, err := s.index.GetFileByContentID(current.PreviousContentID)
		if err != nil {
			return nil, fmt.Errorf("walking version chain: %w", err)
		}
		current = prev
	}
	return history, nil
}

// RequestSync runs a user-triggered direct sync, gated by the per-owner
// cooldown unless forced.
func (s *Service) RequestSync(ctx context.Context, ownerAddress string, force bool) (SyncStats, error) {
	if s.syncer == nil {
		return SyncStats{}, fmt.Errorf("sync is not configured")
	}
	if s.cooldown != nil {
		if force {
			s.cooldown.Reset(ownerAddress)
		}
		if !s.cooldown.Allow(ownerAddress) {
			return SyncStats{}, fmt.Errorf("%w for %s", ErrSyncCooldown, ownerAddress)
		}
	}
	return s.syncer.SyncFromStore(ctx, ownerAddress)
}

// Wait blocks until detached background work kicked off by uploads has
// completed. Used on shutdown and in tests.
func (s *Service) Wait() {
	s.bg.Wait()
	if s.scheduler != nil {
		s.scheduler.Wait()
	}
}
