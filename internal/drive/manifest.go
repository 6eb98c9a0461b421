package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"drivesync/internal/model"
)

// maxChainDepth bounds manifest chain traversal. A chain deeper than this
// is treated as corrupt: the walk stops and returns what it has.
const maxChainDepth = 1000

// ManifestService builds, publishes, and replays the per-owner chain of
// incremental manifests on the permanent store. Manifests are immutable
// once published; a new manifest supersedes the old one by pointing its
// previousManifestId at it.
type ManifestService struct {
	store  PermanentStore
	index  Index
	logger Logger
	clock  Clock
}

// NewManifestService creates a ManifestService. logger may be nil.
func NewManifestService(store PermanentStore, index Index, logger Logger, clock Clock) *ManifestService {
	if logger == nil {
		logger = NewNopLogger()
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &ManifestService{store: store, index: index, logger: logger, clock: clock}
}

// FindHead locates the most recently published manifest for the owner.
// Returns "" when the owner has never published. A record that claims to
// be a manifest but fails owner or app verification is treated as "no
// manifest found", not as an error, so spoofed tags cannot hijack the
// chain.
func (m *ManifestService) FindHead(ctx context.Context, ownerAddress string) (string, error) {
	page, err := m.store.QueryByTags(ctx, StoreQuery{
		OwnerAddress: ownerAddress,
		Tags: []Tag{
			{Name: TagAppName, Value: ManifestAppID},
			{Name: TagOwnerAddress, Value: ownerAddress},
		},
		PageSize: 1,
	})
	if err != nil {
		return "", fmt.Errorf("querying manifest head: %w", err)
	}
	if len(page.Records) == 0 {
		return "", nil
	}

	rec := page.Records[0]
	app, _ := rec.Tag(TagAppName)
	taggedOwner, _ := rec.Tag(TagOwnerAddress)
	if rec.OwnerAddress != ownerAddress || app != ManifestAppID || taggedOwner != ownerAddress {
		m.logger.Warn("manifest head failed verification, ignoring",
			"record", rec.ID, "attested_owner", rec.OwnerAddress)
		return "", nil
	}
	return rec.ID, nil
}

// Publish builds and publishes a new incremental manifest covering every
// local record of the wallet's owner not yet present in the chain.
// Returns the new manifest's content id. When there is nothing new to
// publish it returns the existing head id without writing; when there is
// nothing new and no chain at all it returns ErrNothingToPublish.
func (m *ManifestService) Publish(ctx context.Context, wallet Wallet) (string, error) {
	owner := wallet.Address()

	headID, err := m.FindHead(ctx, owner)
	if err != nil {
		return "", err
	}

	published := map[string]bool{}
	if headID != "" {
		flat, err := m.MergeChain(ctx, headID)
		if err != nil {
			return "", fmt.Errorf("replaying previous chain: %w", err)
		}
		for contentID := range flat.Entries {
			published[contentID] = true
		}
	}

	records, err := m.index.ListFilesByOwner(owner)
	if err != nil {
		return "", fmt.Errorf("listing local records: %w", err)
	}

	var added []model.ManifestEntry
	for _, rec := range records {
		if published[rec.ContentID] {
			continue
		}
		added = append(added, entryFromRecord(rec))
	}

	if len(added) == 0 {
		if headID != "" {
			m.logger.Debug("no new entries, keeping existing manifest", "manifest", headID)
			return headID, nil
		}
		return "", ErrNothingToPublish
	}

	manifest := model.IncrementalManifest{
		SchemaVersion:      model.ManifestSchemaVersion,
		OwnerAddress:       owner,
		LastUpdated:        m.clock.Now().UnixMilli(),
		PreviousManifestID: headID,
		Added:              added,
	}

	body, err := json.Marshal(&manifest)
	if err != nil {
		return "", fmt.Errorf("serializing manifest: %w", err)
	}

	tags := []Tag{
		{Name: TagContentType, Value: "application/json"},
		{Name: TagAppName, Value: ManifestAppID},
		{Name: TagOwnerAddress, Value: owner},
		{Name: TagManifestVersion, Value: model.ManifestSchemaVersion},
		{Name: TagFileCount, Value: strconv.Itoa(len(added))},
	}
	if headID != "" {
		// Redundant with the body so the chain can be discovered without
		// downloading every manifest.
		tags = append(tags, Tag{Name: TagPreviousManifest, Value: headID})
	}

	id, err := m.store.Put(ctx, wallet, bytes.NewReader(body), int64(len(body)), tags)
	if err != nil {
		return "", fmt.Errorf("publishing manifest: %w", err)
	}

	m.logger.Info("manifest published",
		"manifest", id, "owner", owner, "added", len(added), "previous", headID)
	return id, nil
}

// MergeChain replays the manifest chain starting at headID into a flat
// view of the owner's current file set. Entries from hops closer to the
// head win over older ones, and a deletion tombstones its content id for
// the rest of the walk. A hop that fails to download or validate breaks
// the chain: older history is unreachable, so the merge stops there and
// returns what it accumulated, logging rather than failing. The one
// exception is the head itself being unreadable, which is a hard error.
func (m *ManifestService) MergeChain(ctx context.Context, headID string) (*model.FlatManifest, error) {
	flat := &model.FlatManifest{Entries: map[string]model.ManifestEntry{}}
	seen := map[string]bool{}    // content ids settled by a newer hop
	visited := map[string]bool{} // manifest ids, cycle guard

	current := headID
	for current != "" {
		if visited[current] {
			m.logger.Warn("manifest chain cycle detected, stopping", "manifest", current)
			flat.Truncated = true
			break
		}
		if flat.Hops >= maxChainDepth {
			m.logger.Warn("manifest chain too deep, treating as corrupt",
				"depth", flat.Hops, "manifest", current)
			flat.Truncated = true
			break
		}
		visited[current] = true

		manifest, err := m.fetchManifest(ctx, current)
		if err == nil && flat.OwnerAddress != "" && manifest.OwnerAddress != flat.OwnerAddress {
			err = fmt.Errorf("owner changed mid-chain: %s", manifest.OwnerAddress)
		}
		if err != nil {
			if flat.Hops == 0 {
				return nil, fmt.Errorf("%w: %v", ErrChainBroken, err)
			}
			m.logger.Warn("manifest chain broken, returning partial merge",
				"manifest", current, "hops", flat.Hops, "error", err)
			flat.Truncated = true
			break
		}
		if flat.OwnerAddress == "" {
			flat.OwnerAddress = manifest.OwnerAddress
		}

		for _, entry := range manifest.Added {
			applyEntry(flat, seen, entry)
		}
		for _, entry := range manifest.Updated {
			applyEntry(flat, seen, entry)
		}
		for _, contentID := range manifest.Deleted {
			seen[contentID] = true
			delete(flat.Entries, contentID)
		}

		flat.Hops++
		current = manifest.PreviousManifestID
	}

	return flat, nil
}

// applyEntry sets a flat entry unless a more recent hop already settled
// the content id, so walking head to tail gives newest-wins semantics.
func applyEntry(flat *model.FlatManifest, seen map[string]bool, entry model.ManifestEntry) {
	if seen[entry.ContentID] {
		return
	}
	seen[entry.ContentID] = true
	flat.Entries[entry.ContentID] = entry
}

func (m *ManifestService) fetchManifest(ctx context.Context, id string) (*model.IncrementalManifest, error) {
	var buf bytes.Buffer
	if err := m.store.Get(ctx, id, &buf); err != nil {
		return nil, fmt.Errorf("downloading manifest %s: %w", id, err)
	}
	var manifest model.IncrementalManifest
	if err := json.Unmarshal(buf.Bytes(), &manifest); err != nil {
		return nil, fmt.Errorf("decoding manifest %s: %w", id, err)
	}
	if manifest.SchemaVersion == "" || manifest.OwnerAddress == "" {
		return nil, fmt.Errorf("manifest %s failed validation", id)
	}
	return &manifest, nil
}

// SyncFromChain merges the owner's manifest chain and writes the result
// into the local index: absent entries are inserted, present ones updated
// only when the manifest copy is strictly newer. Returns counts of what
// happened.
func (m *ManifestService) SyncFromChain(ctx context.Context, ownerAddress string) (SyncStats, error) {
	var stats SyncStats

	headID, err := m.FindHead(ctx, ownerAddress)
	if err != nil {
		return stats, err
	}
	if headID == "" {
		m.logger.Debug("no manifest chain for owner", "owner", ownerAddress)
		return stats, nil
	}

	flat, err := m.MergeChain(ctx, headID)
	if err != nil {
		return stats, err
	}

	for _, entry := range flat.Entries {
		applied, err := m.applyEntryToIndex(ownerAddress, entry)
		if err != nil {
			m.logger.Warn("applying manifest entry failed",
				"content", entry.ContentID, "error", err)
			stats.Errors++
			continue
		}
		switch applied {
		case appliedInsert:
			stats.Added++
		case appliedUpdate:
			stats.Updated++
		default:
			stats.Skipped++
		}
	}

	m.logger.Info("manifest sync complete", "owner", ownerAddress,
		"added", stats.Added, "updated", stats.Updated,
		"skipped", stats.Skipped, "errors", stats.Errors)
	return stats, nil
}

type applyOutcome int

const (
	appliedSkip applyOutcome = iota
	appliedInsert
	appliedUpdate
)

func (m *ManifestService) applyEntryToIndex(ownerAddress string, entry model.ManifestEntry) (applyOutcome, error) {
	existing, err := m.index.GetFileByContentID(entry.ContentID)
	if err != nil {
		return appliedSkip, err
	}

	updatedAt := time.UnixMilli(entry.UpdatedAt)

	if existing == nil {
		rec := recordFromEntry(ownerAddress, entry)
		inserted, err := m.index.InsertFileIfAbsent(rec)
		if err != nil {
			return appliedSkip, err
		}
		if !inserted {
			// Raced with a concurrent sync pass; the row exists now.
			return appliedSkip, nil
		}
		return appliedInsert, nil
	}

	if !updatedAt.After(existing.UpdatedAt) && !existing.HasPlaceholderHash() {
		return appliedSkip, nil
	}

	upd := FileUpdate{
		FileName:    &entry.FileName,
		Description: &entry.Description,
		ContentHash: &entry.ContentHash,
		Version:     &entry.Version,
		UpdatedAt:   &updatedAt,
	}
	if entry.FolderID != "" {
		upd.FolderID = &entry.FolderID
	}
	if err := m.index.UpdateFile(existing.ID, upd); err != nil {
		return appliedSkip, err
	}
	return appliedUpdate, nil
}

func entryFromRecord(rec *model.FileIndexRecord) model.ManifestEntry {
	return model.ManifestEntry{
		FileID:            rec.ID,
		ContentID:         rec.ContentID,
		FileName:          rec.FileName,
		ContentHash:       rec.ContentHash,
		FileSize:          rec.FileSize,
		MimeType:          rec.MimeType,
		FolderID:          rec.FolderID,
		Description:       rec.Description,
		StorageKind:       rec.StorageKind,
		EncryptionAlgo:    rec.EncryptionAlgo,
		EncryptionParams:  rec.EncryptionParams,
		Version:           rec.Version,
		PreviousContentID: rec.PreviousContentID,
		CreatedAt:         rec.CreatedAt.UnixMilli(),
		UpdatedAt:         rec.UpdatedAt.UnixMilli(),
		Tags:              rec.Tags,
	}
}

func recordFromEntry(ownerAddress string, entry model.ManifestEntry) *model.FileIndexRecord {
	id := entry.FileID
	if id == "" {
		id = entry.ContentID
	}
	return &model.FileIndexRecord{
		ID:                id,
		ContentID:         entry.ContentID,
		FileName:          entry.FileName,
		ContentHash:       entry.ContentHash,
		FileSize:          entry.FileSize,
		MimeType:          entry.MimeType,
		FolderID:          entry.FolderID,
		Description:       entry.Description,
		OwnerAddress:      ownerAddress,
		StorageKind:       entry.StorageKind,
		EncryptionAlgo:    entry.EncryptionAlgo,
		EncryptionParams:  entry.EncryptionParams,
		Version:           entry.Version,
		PreviousContentID: entry.PreviousContentID,
		CreatedAt:         time.UnixMilli(entry.CreatedAt),
		UpdatedAt:         time.UnixMilli(entry.UpdatedAt),
		Tags:              entry.Tags,
	}
}
