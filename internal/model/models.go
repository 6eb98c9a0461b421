package model

import "time"

// FileIndexRecord is one logical file at one point in its version history.
// ID is locally generated and stable; ContentID is the permanent store's
// identifier for the stored bytes and changes with every version.
type FileIndexRecord struct {
	ID                string // UUID
	ContentID         string // Permanent store transaction id (globally unique)
	FileName          string
	ContentHash       string // SHA-256 of the final (post-codec) bytes
	FileSize          int64
	MimeType          string
	FolderID          string // Empty when the file sits at the root
	Description       string
	OwnerAddress      string
	StorageKind       string // e.g. "permanent"
	EncryptionAlgo    string // Empty when stored in plaintext
	EncryptionParams  string // Opaque JSON from the codec
	Version           int64  // Starts at 1
	PreviousContentID string // Chain to the prior version's blob, empty for v1
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Tags              []string
}

// Encrypted reports whether the stored bytes were encrypted before upload.
func (r *FileIndexRecord) Encrypted() bool {
	return r.EncryptionAlgo != ""
}

// HasPlaceholderHash reports whether the content hash still carries the
// placeholder written by a sync pass that never downloaded the bytes.
// The placeholder is either empty or the content id itself.
func (r *FileIndexRecord) HasPlaceholderHash() bool {
	return r.ContentHash == "" || r.ContentHash == r.ContentID
}

// Folder groups files for display. Orphaned parent references are
// tolerated; the file falls back to the implicit root.
type Folder struct {
	ID           string // UUID
	Name         string
	ParentID     string // Empty for top-level folders
	OwnerAddress string
	Color        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
