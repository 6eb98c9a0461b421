package model

// ManifestSchemaVersion is the schema version written into new manifests.
const ManifestSchemaVersion = "1"

// ManifestEntry is a denormalized snapshot of a FileIndexRecord embedded
// inside a published manifest. Timestamps are epoch milliseconds so the
// wire format is stable across devices regardless of locale or zone.
type ManifestEntry struct {
	FileID            string   `json:"fileId"`
	ContentID         string   `json:"contentId"`
	FileName          string   `json:"fileName"`
	ContentHash       string   `json:"contentHash"`
	FileSize          int64    `json:"fileSize"`
	MimeType          string   `json:"mimeType,omitempty"`
	FolderID          string   `json:"folderId,omitempty"`
	Description       string   `json:"description,omitempty"`
	StorageKind       string   `json:"storageKind,omitempty"`
	EncryptionAlgo    string   `json:"encryptionAlgo,omitempty"`
	EncryptionParams  string   `json:"encryptionParams,omitempty"`
	Version           int64    `json:"version"`
	PreviousContentID string   `json:"previousContentId,omitempty"`
	CreatedAt         int64    `json:"createdAt"`
	UpdatedAt         int64    `json:"updatedAt"`
	Tags              []string `json:"tags,omitempty"`
}

// IncrementalManifest is the unit published to the permanent store. It
// carries only the deltas since the manifest named by PreviousManifestID;
// replaying the chain back to the null terminator yields the full file set.
type IncrementalManifest struct {
	SchemaVersion      string          `json:"schemaVersion"`
	OwnerAddress       string          `json:"ownerAddress"`
	LastUpdated        int64           `json:"lastUpdated"` // epoch milliseconds
	PreviousManifestID string          `json:"previousManifestId,omitempty"`
	Added              []ManifestEntry `json:"added"`
	Updated            []ManifestEntry `json:"updated,omitempty"`
	Deleted            []string        `json:"deleted,omitempty"` // content ids
}

// EntryCount returns the number of entries this manifest touches.
func (m *IncrementalManifest) EntryCount() int {
	return len(m.Added) + len(m.Updated) + len(m.Deleted)
}

// FlatManifest is the result of replaying a manifest chain: the current
// file set for an owner, keyed by content id.
type FlatManifest struct {
	OwnerAddress string
	Entries      map[string]ManifestEntry
	// Hops is the number of manifests applied. When a chain link is broken
	// this is smaller than the published chain length.
	Hops int
	// Truncated is set when the walk stopped early on a broken or
	// over-deep chain; the accumulated entries are still valid.
	Truncated bool
}
