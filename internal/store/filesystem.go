package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"drivesync/internal/drive"
)

// FileSystemStore is a PermanentStore backed by a local directory. Each
// record is a data file plus a JSON sidecar holding the envelope. Record
// keys carry a reverse-timestamp prefix so lexical directory order is
// newest first, which gives cursor pagination for free. Useful for
// development and as the cheapest durable backend.
type FileSystemStore struct {
	root  string
	clock drive.Clock
}

type sidecar struct {
	ID        string      `json:"id"`
	Owner     string      `json:"owner"`
	Signature string      `json:"signature"`
	Tags      []drive.Tag `json:"tags"`
	BlockTime time.Time   `json:"blockTime"`
	Size      int64       `json:"size"`
}

// NewFileSystemStore creates a store rooted at root, creating the
// directory if needed. clock may be nil.
func NewFileSystemStore(root string, clock drive.Clock) (*FileSystemStore, error) {
	if clock == nil {
		clock = drive.RealClock{}
	}
	if err := os.MkdirAll(filepath.Join(root, "records"), 0755); err != nil {
		return nil, fmt.Errorf("creating store root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "ids"), 0755); err != nil {
		return nil, fmt.Errorf("creating id directory: %w", err)
	}
	return &FileSystemStore{root: root, clock: clock}, nil
}

func (f *FileSystemStore) Put(ctx context.Context, w drive.Wallet, r io.Reader, size int64, tags []drive.Tag) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id, err := newRecordID()
	if err != nil {
		return "", err
	}
	sig, err := w.Sign([]byte(id))
	if err != nil {
		return "", fmt.Errorf("signing record: %w", err)
	}

	now := f.clock.Now()
	key := recordKey(now, id)

	dataPath := filepath.Join(f.root, "records", key+".bin")
	written, err := writeStream(dataPath, r)
	if err != nil {
		return "", fmt.Errorf("writing record data: %w", err)
	}
	if written != size {
		os.Remove(dataPath)
		return "", fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}

	meta := sidecar{
		ID:        id,
		Owner:     w.Address(),
		Signature: fmt.Sprintf("%x", sig),
		Tags:      tags,
		BlockTime: now,
		Size:      size,
	}
	metaBytes, err := json.Marshal(&meta)
	if err != nil {
		return "", fmt.Errorf("encoding sidecar: %w", err)
	}
	if err := os.WriteFile(filepath.Join(f.root, "records", key+".json"), metaBytes, 0644); err != nil {
		return "", fmt.Errorf("writing sidecar: %w", err)
	}

	// id -> key alias for O(1) Get.
	if err := os.WriteFile(filepath.Join(f.root, "ids", id), []byte(key), 0644); err != nil {
		return "", fmt.Errorf("writing id alias: %w", err)
	}
	return id, nil
}

func (f *FileSystemStore) Get(ctx context.Context, contentID string, out io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	keyBytes, err := os.ReadFile(filepath.Join(f.root, "ids", contentID))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("content not found: %s", contentID)
		}
		return fmt.Errorf("resolving content id: %w", err)
	}

	src, err := os.Open(filepath.Join(f.root, "records", string(keyBytes)+".bin"))
	if err != nil {
		return fmt.Errorf("opening record data: %w", err)
	}
	defer src.Close()

	if _, err := io.Copy(out, src); err != nil {
		return fmt.Errorf("reading record data: %w", err)
	}
	return nil
}

// QueryByTags walks the records directory in lexical (newest-first)
// order. The cursor is the key of the last record returned.
func (f *FileSystemStore) QueryByTags(ctx context.Context, q drive.StoreQuery) (drive.StorePage, error) {
	if err := ctx.Err(); err != nil {
		return drive.StorePage{}, err
	}
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	entries, err := os.ReadDir(filepath.Join(f.root, "records"))
	if err != nil {
		return drive.StorePage{}, fmt.Errorf("listing records: %w", err)
	}

	keys := make([]string, 0, len(entries)/2)
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".json"); ok {
			keys = append(keys, name)
		}
	}
	sort.Strings(keys) // reverse-timestamp prefix: lexical == newest first

	var page drive.StorePage
	for _, key := range keys {
		if q.Cursor != "" && key <= q.Cursor {
			continue
		}

		meta, err := f.readSidecar(key)
		if err != nil {
			return drive.StorePage{}, err
		}
		rec := drive.StoreRecord{
			ID:           meta.ID,
			OwnerAddress: meta.Owner,
			Tags:         meta.Tags,
			BlockTime:    meta.BlockTime,
			Size:         meta.Size,
		}
		if q.OwnerAddress != "" && !ownerMatches(rec, q.OwnerAddress) {
			continue
		}
		if !matchesTags(rec.Tags, q.Tags) {
			continue
		}

		page.Records = append(page.Records, rec)
		if len(page.Records) == pageSize {
			page.NextCursor = key
			break
		}
	}
	return page, nil
}

func (f *FileSystemStore) readSidecar(key string) (*sidecar, error) {
	data, err := os.ReadFile(filepath.Join(f.root, "records", key+".json"))
	if err != nil {
		return nil, fmt.Errorf("reading sidecar %s: %w", key, err)
	}
	var meta sidecar
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decoding sidecar %s: %w", key, err)
	}
	return &meta, nil
}

func ownerMatches(rec drive.StoreRecord, owner string) bool {
	if rec.OwnerAddress == owner {
		return true
	}
	if tagged, ok := rec.Tag(drive.TagOwnerAddress); ok && tagged == owner {
		return true
	}
	return false
}

// recordKey builds a key whose lexical order is reverse chronological.
func recordKey(now time.Time, id string) string {
	return fmt.Sprintf("%020d-%s", math.MaxInt64-now.UnixNano(), id)
}

func writeStream(path string, r io.Reader) (int64, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return 0, err
	}
	n, copyErr := io.Copy(file, r)
	closeErr := file.Close()
	if copyErr != nil {
		return n, copyErr
	}
	return n, closeErr
}
