package store

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"drivesync/internal/drive"
)

// MemoryStore is an in-memory implementation of the PermanentStore
// interface. Records are append-only and immutable once written, the
// same contract the real store gives. Safe for concurrent use; used by
// tests and store.type = "memory".
type MemoryStore struct {
	clock drive.Clock

	mu      sync.RWMutex
	records []memoryRecord // append order; seq is the index
}

type memoryRecord struct {
	id        string
	owner     string
	tags      []drive.Tag
	data      []byte
	blockTime int64 // unix nanos
	seq       int
}

// NewMemoryStore creates an empty in-memory store. clock may be nil.
func NewMemoryStore(clock drive.Clock) *MemoryStore {
	if clock == nil {
		clock = drive.RealClock{}
	}
	return &MemoryStore{clock: clock}
}

// Put appends a new record owned by the wallet's address. The returned
// id is unique per put: storing identical bytes twice yields two records.
func (m *MemoryStore) Put(ctx context.Context, w drive.Wallet, r io.Reader, size int64, tags []drive.Tag) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) != size {
		return "", fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	id, err := newRecordID()
	if err != nil {
		return "", err
	}
	if _, err := w.Sign([]byte(id)); err != nil {
		return "", fmt.Errorf("signing record: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, memoryRecord{
		id:        id,
		owner:     w.Address(),
		tags:      append([]drive.Tag(nil), tags...),
		data:      data,
		blockTime: m.clock.Now().UnixNano(),
		seq:       len(m.records),
	})
	return id, nil
}

// Get streams a record body into out.
func (m *MemoryStore) Get(ctx context.Context, contentID string, out io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	var data []byte
	found := false
	for i := range m.records {
		if m.records[i].id == contentID {
			data = m.records[i].data
			found = true
			break
		}
	}
	m.mu.RUnlock()

	if !found {
		return fmt.Errorf("content not found: %s", contentID)
	}
	if _, err := io.Copy(out, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing content: %w", err)
	}
	return nil
}

// QueryByTags returns matching records newest first. The cursor is the
// sequence number of the last record returned; records appended after
// the first page was taken do not shift later pages.
func (m *MemoryStore) QueryByTags(ctx context.Context, q drive.StoreQuery) (drive.StorePage, error) {
	if err := ctx.Err(); err != nil {
		return drive.StorePage{}, err
	}
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	cursor := -1
	if q.Cursor != "" {
		seq, err := strconv.Atoi(q.Cursor)
		if err != nil {
			return drive.StorePage{}, fmt.Errorf("bad cursor %q: %w", q.Cursor, err)
		}
		cursor = seq
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	after := len(m.records)
	if cursor >= 0 {
		after = cursor
	}

	var page drive.StorePage
	for i := min(after, len(m.records)) - 1; i >= 0; i-- {
		rec := &m.records[i]
		if q.OwnerAddress != "" && !m.matchesOwner(rec, q.OwnerAddress) {
			continue
		}
		if !matchesTags(rec.tags, q.Tags) {
			continue
		}
		page.Records = append(page.Records, m.toStoreRecord(rec))
		if len(page.Records) == pageSize {
			if i > 0 {
				page.NextCursor = strconv.Itoa(i)
			}
			break
		}
	}
	return page, nil
}

// matchesOwner matches on the Owner-Address tag, like a real tag query
// would: the query endpoint sees tags, not signatures. Spoofed records
// therefore show up in results and must be rejected by the caller's
// verification against the attested owner.
func (m *MemoryStore) matchesOwner(rec *memoryRecord, owner string) bool {
	if rec.owner == owner {
		return true
	}
	for _, t := range rec.tags {
		if t.Name == drive.TagOwnerAddress && t.Value == owner {
			return true
		}
	}
	return false
}

func matchesTags(have []drive.Tag, want []drive.Tag) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h.Name == w.Name && h.Value == w.Value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (m *MemoryStore) toStoreRecord(rec *memoryRecord) drive.StoreRecord {
	return drive.StoreRecord{
		ID:           rec.id,
		OwnerAddress: rec.owner,
		Tags:         append([]drive.Tag(nil), rec.tags...),
		BlockTime:    time.Unix(0, rec.blockTime),
		Size:         int64(len(rec.data)),
	}
}

// newRecordID returns a random 32-byte hex transaction id.
func newRecordID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating record id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
