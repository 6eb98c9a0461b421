package drive

import (
	"time"

	"drivesync/internal/model"
)

// SearchOptions narrows an owner-scoped file search. The zero value
// matches every current record for the owner, newest first.
type SearchOptions struct {
	// Query is matched against file name and description through the text
	// index. Empty means no text filter.
	Query string

	// FolderID restricts results to one folder. RootOnly restricts to
	// files with no folder; it takes precedence over FolderID.
	FolderID string
	RootOnly bool

	// Tags are ANDed: a file must carry every listed tag.
	Tags []string

	// MimePrefix matches MIME types by prefix, e.g. "image/".
	MimePrefix string

	// Encrypted filters on encryption state when non-nil.
	Encrypted *bool

	// CreatedAfter/CreatedBefore bound the creation time when non-zero.
	CreatedAfter  time.Time
	CreatedBefore time.Time

	Limit  int // 0 means no limit
	Offset int
}

// FileUpdate is a partial update of an index row. Nil fields are left
// unchanged.
type FileUpdate struct {
	FileName    *string
	Description *string
	FolderID    *string
	ContentHash *string
	FileSize    *int64
	MimeType    *string
	Version     *int64
	UpdatedAt   *time.Time
}

// Index is the local file index store: CRUD over file records, the tag
// table, and the full-text index. Implementations must keep the text
// index in sync with file name and description changes, and must not
// leave a dangling text-index row behind a failed insert.
type Index interface {
	// InsertFile adds a record along with its tags and text-index row.
	InsertFile(rec *model.FileIndexRecord) error

	// InsertFileIfAbsent adds a record unless one with the same content id
	// already exists. Returns true when a row was actually inserted.
	InsertFileIfAbsent(rec *model.FileIndexRecord) (bool, error)

	// UpdateFile applies a partial update to the record with the given id.
	UpdateFile(id string, upd FileUpdate) error

	// DeleteFile removes the record, its tags, and its text-index row.
	// The historical blob on the permanent store is untouched.
	DeleteFile(id string) error

	// GetFileByID returns the record with the given local id, or nil.
	GetFileByID(id string) (*model.FileIndexRecord, error)

	// GetFileByContentID returns the record with the given content id, or
	// nil. Content ids are globally unique; this is the sync join key.
	GetFileByContentID(contentID string) (*model.FileIndexRecord, error)

	// FindCurrentByHash returns the newest record for the owner with the
	// given content hash, or nil. Used for version chaining.
	FindCurrentByHash(ownerAddress, contentHash string) (*model.FileIndexRecord, error)

	// SearchFiles returns the owner's records matching the options,
	// newest first.
	SearchFiles(ownerAddress string, opts SearchOptions) ([]*model.FileIndexRecord, error)

	// ListFilesByOwner returns all of the owner's records, newest first.
	ListFilesByOwner(ownerAddress string) ([]*model.FileIndexRecord, error)

	// CountFilesByOwner returns the number of records the owner holds.
	CountFilesByOwner(ownerAddress string) (int64, error)

	// Folder operations.
	CreateFolder(folder *model.Folder) error
	GetFolderByID(id string) (*model.Folder, error)
	ListFoldersByOwner(ownerAddress string) ([]*model.Folder, error)
	DeleteFolder(id string) error

	// Close closes the underlying storage.
	Close() error
}
