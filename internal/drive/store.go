package drive

import (
	"context"
	"io"
	"time"
)

// Tag is a key/value pair attached to a permanent store record. Tags are
// queryable without downloading the record body.
type Tag struct {
	Name  string
	Value string
}

// StoreRecord is the queryable envelope of a record on the permanent
// store. OwnerAddress is cryptographically attested by the store and
// cannot be forged by tags.
type StoreRecord struct {
	ID           string
	OwnerAddress string
	Tags         []Tag
	BlockTime    time.Time
	Size         int64
}

// Tag returns the value of the first tag with the given name, and whether
// it was present.
func (r *StoreRecord) Tag(name string) (string, bool) {
	for _, t := range r.Tags {
		if t.Name == name {
			return t.Value, true
		}
	}
	return "", false
}

// StoreQuery selects records by owner and exact tag matches.
type StoreQuery struct {
	OwnerAddress string
	Tags         []Tag
	PageSize     int
	Cursor       string // empty for the first page
}

// StorePage is one page of query results, newest first. NextCursor is
// empty when the result set is exhausted.
type StorePage struct {
	Records    []StoreRecord
	NextCursor string
}

// PermanentStore is the append-only content store backing both file blobs
// and manifests. Records are immutable once written; updates are always
// expressed as new records.
type PermanentStore interface {
	// Put uploads size bytes from r as a new record owned by the wallet,
	// attaching the given tags. Returns the store-assigned content id.
	Put(ctx context.Context, w Wallet, r io.Reader, size int64, tags []Tag) (string, error)

	// Get streams the record body for the given content id into out.
	Get(ctx context.Context, contentID string, out io.Writer) error

	// QueryByTags returns one page of records matching the query, newest
	// first by block time.
	QueryByTags(ctx context.Context, q StoreQuery) (StorePage, error)
}
