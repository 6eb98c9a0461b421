package drive_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"drivesync/internal/drive"
	"drivesync/internal/model"
	"drivesync/internal/testutil"
)

// newFileRecord builds a minimal owned index record for tests.
func newFileRecord(id, owner, name string, at time.Time) *model.FileIndexRecord {
	return &model.FileIndexRecord{
		ID:           "rec-" + id,
		ContentID:    id,
		FileName:     name,
		ContentHash:  "hash-" + id,
		FileSize:     int64(len(name)),
		MimeType:     "text/plain",
		OwnerAddress: owner,
		StorageKind:  "permanent",
		Version:      1,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
}

func TestManifestService_Publish(t *testing.T) {
	ctx := context.Background()
	wallet := testutil.NewTestWallet(1)
	owner := wallet.Address()
	clock := testutil.FixedClock()

	t.Run("errors when the owner has no records and no chain", func(t *testing.T) {
		svc := drive.NewManifestService(testutil.NewTestStore(clock), testutil.NewTestIndex(t), nil, clock)

		_, err := svc.Publish(ctx, wallet)
		if !errors.Is(err, drive.ErrNothingToPublish) {
			t.Errorf("Publish() error = %v, want ErrNothingToPublish", err)
		}
	})

	t.Run("chains incremental manifests", func(t *testing.T) {
		index := testutil.NewTestIndex(t)
		store := testutil.NewTestStore(clock)
		svc := drive.NewManifestService(store, index, nil, clock)

		now := clock.Now()
		if err := index.InsertFile(newFileRecord("aaa", owner, "a.txt", now)); err != nil {
			t.Fatalf("InsertFile() error = %v", err)
		}
		if err := index.InsertFile(newFileRecord("bbb", owner, "b.txt", now)); err != nil {
			t.Fatalf("InsertFile() error = %v", err)
		}

		first, err := svc.Publish(ctx, wallet)
		if err != nil {
			t.Fatalf("first Publish() error = %v", err)
		}

		clock.Advance(time.Minute)
		if err := index.InsertFile(newFileRecord("ccc", owner, "c.txt", clock.Now())); err != nil {
			t.Fatalf("InsertFile() error = %v", err)
		}

		second, err := svc.Publish(ctx, wallet)
		if err != nil {
			t.Fatalf("second Publish() error = %v", err)
		}
		if second == first {
			t.Fatal("second Publish() reused the first manifest id")
		}

		// The second manifest carries only the new record and points back
		// at the first.
		var manifest model.IncrementalManifest
		var buf bytes.Buffer
		if err := store.Get(ctx, second, &buf); err != nil {
			t.Fatalf("Get(second) error = %v", err)
		}
		if err := json.Unmarshal(buf.Bytes(), &manifest); err != nil {
			t.Fatalf("decoding manifest: %v", err)
		}
		if manifest.PreviousManifestID != first {
			t.Errorf("previousManifestId = %q, want %q", manifest.PreviousManifestID, first)
		}
		if len(manifest.Added) != 1 || manifest.Added[0].ContentID != "ccc" {
			t.Errorf("added = %+v, want just ccc", manifest.Added)
		}

		// Replaying the chain yields the full file set.
		flat, err := svc.MergeChain(ctx, second)
		if err != nil {
			t.Fatalf("MergeChain() error = %v", err)
		}
		if len(flat.Entries) != 3 {
			t.Errorf("merged entries = %d, want 3", len(flat.Entries))
		}
		for _, id := range []string{"aaa", "bbb", "ccc"} {
			if _, ok := flat.Entries[id]; !ok {
				t.Errorf("merged chain is missing %s", id)
			}
		}
		if flat.Hops != 2 {
			t.Errorf("hops = %d, want 2", flat.Hops)
		}
	})

	t.Run("no new entries keeps the existing head", func(t *testing.T) {
		index := testutil.NewTestIndex(t)
		store := testutil.NewTestStore(clock)
		svc := drive.NewManifestService(store, index, nil, clock)

		if err := index.InsertFile(newFileRecord("aaa", owner, "a.txt", clock.Now())); err != nil {
			t.Fatalf("InsertFile() error = %v", err)
		}

		first, err := svc.Publish(ctx, wallet)
		if err != nil {
			t.Fatalf("first Publish() error = %v", err)
		}
		again, err := svc.Publish(ctx, wallet)
		if err != nil {
			t.Fatalf("second Publish() error = %v", err)
		}
		if again != first {
			t.Errorf("idle Publish() = %q, want existing head %q", again, first)
		}
	})
}

func TestManifestService_FindHead(t *testing.T) {
	ctx := context.Background()
	wallet := testutil.NewTestWallet(1)
	owner := wallet.Address()
	clock := testutil.FixedClock()

	t.Run("empty store has no head", func(t *testing.T) {
		svc := drive.NewManifestService(testutil.NewTestStore(clock), testutil.NewTestIndex(t), nil, clock)

		head, err := svc.FindHead(ctx, owner)
		if err != nil {
			t.Fatalf("FindHead() error = %v", err)
		}
		if head != "" {
			t.Errorf("FindHead() = %q, want empty", head)
		}
	})

	t.Run("rejects a manifest published by a different wallet", func(t *testing.T) {
		store := testutil.NewTestStore(clock)
		svc := drive.NewManifestService(store, testutil.NewTestIndex(t), nil, clock)

		// An attacker publishes under their own wallet but copies the
		// victim's tags. The store attests the attacker's address, so the
		// head must be rejected.
		attacker := testutil.NewTestWallet(9)
		body := []byte(`{"schemaVersion":"1","ownerAddress":"` + owner + `","lastUpdated":1}`)
		_, err := store.Put(ctx, attacker, bytes.NewReader(body), int64(len(body)), []drive.Tag{
			{Name: drive.TagAppName, Value: drive.ManifestAppID},
			{Name: drive.TagOwnerAddress, Value: owner},
		})
		if err != nil {
			t.Fatalf("Put() error = %v", err)
		}

		head, err := svc.FindHead(ctx, owner)
		if err != nil {
			t.Fatalf("FindHead() error = %v", err)
		}
		if head != "" {
			t.Errorf("FindHead() = %q, want empty for spoofed manifest", head)
		}
	})
}

// fakeStore serves hand-built manifest bodies by id. It gives chain
// tests full control over linkage, including loops and dangling links
// that a real append-only store cannot produce through the public API.
type fakeStore struct {
	bodies map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{bodies: map[string][]byte{}}
}

func (f *fakeStore) addManifest(id, owner, previous string, added ...model.ManifestEntry) {
	body, err := json.Marshal(model.IncrementalManifest{
		SchemaVersion:      model.ManifestSchemaVersion,
		OwnerAddress:       owner,
		LastUpdated:        1,
		PreviousManifestID: previous,
		Added:              added,
	})
	if err != nil {
		panic(err)
	}
	f.bodies[id] = body
}

func (f *fakeStore) Put(ctx context.Context, w drive.Wallet, r io.Reader, size int64, tags []drive.Tag) (string, error) {
	return "", errors.New("fakeStore is read-only")
}

func (f *fakeStore) Get(ctx context.Context, contentID string, out io.Writer) error {
	body, ok := f.bodies[contentID]
	if !ok {
		return fmt.Errorf("record %s: %w", contentID, drive.ErrNotFound)
	}
	_, err := out.Write(body)
	return err
}

func (f *fakeStore) QueryByTags(ctx context.Context, q drive.StoreQuery) (drive.StorePage, error) {
	return drive.StorePage{}, nil
}

func TestManifestService_MergeChain(t *testing.T) {
	ctx := context.Background()
	entry := func(id string, updatedAt int64, name string) model.ManifestEntry {
		return model.ManifestEntry{
			FileID:    "rec-" + id,
			ContentID: id,
			FileName:  name,
			Version:   1,
			UpdatedAt: updatedAt,
		}
	}

	t.Run("newer hops win", func(t *testing.T) {
		store := newFakeStore()
		store.addManifest("m1", "owner", "", entry("aaa", 1, "old-name.txt"))
		store.addManifest("m2", "owner", "m1", entry("aaa", 2, "new-name.txt"))

		svc := drive.NewManifestService(store, nil, nil, nil)
		flat, err := svc.MergeChain(ctx, "m2")
		if err != nil {
			t.Fatalf("MergeChain() error = %v", err)
		}
		if got := flat.Entries["aaa"].FileName; got != "new-name.txt" {
			t.Errorf("merged name = %q, want the head hop's value", got)
		}
	})

	t.Run("deletions tombstone older hops", func(t *testing.T) {
		store := newFakeStore()
		store.addManifest("m1", "owner", "", entry("aaa", 1, "a.txt"), entry("bbb", 1, "b.txt"))
		body, _ := json.Marshal(model.IncrementalManifest{
			SchemaVersion:      model.ManifestSchemaVersion,
			OwnerAddress:       "owner",
			LastUpdated:        2,
			PreviousManifestID: "m1",
			Deleted:            []string{"aaa"},
		})
		store.bodies["m2"] = body

		svc := drive.NewManifestService(store, nil, nil, nil)
		flat, err := svc.MergeChain(ctx, "m2")
		if err != nil {
			t.Fatalf("MergeChain() error = %v", err)
		}
		if _, ok := flat.Entries["aaa"]; ok {
			t.Error("deleted entry survived the merge")
		}
		if _, ok := flat.Entries["bbb"]; !ok {
			t.Error("unrelated entry was lost")
		}
	})

	t.Run("unreadable head is a hard error", func(t *testing.T) {
		svc := drive.NewManifestService(newFakeStore(), nil, nil, nil)

		_, err := svc.MergeChain(ctx, "missing")
		if !errors.Is(err, drive.ErrChainBroken) {
			t.Errorf("MergeChain() error = %v, want ErrChainBroken", err)
		}
	})

	t.Run("broken link mid-chain returns the partial merge", func(t *testing.T) {
		store := newFakeStore()
		store.addManifest("m2", "owner", "gone", entry("bbb", 2, "b.txt"))

		svc := drive.NewManifestService(store, nil, nil, nil)
		flat, err := svc.MergeChain(ctx, "m2")
		if err != nil {
			t.Fatalf("MergeChain() error = %v", err)
		}
		if !flat.Truncated {
			t.Error("Truncated = false, want true for a broken chain")
		}
		if _, ok := flat.Entries["bbb"]; !ok {
			t.Error("reachable entries were lost")
		}
	})

	t.Run("cycles stop the walk", func(t *testing.T) {
		store := newFakeStore()
		store.addManifest("m1", "owner", "m2", entry("aaa", 1, "a.txt"))
		store.addManifest("m2", "owner", "m1", entry("bbb", 2, "b.txt"))

		svc := drive.NewManifestService(store, nil, nil, nil)
		flat, err := svc.MergeChain(ctx, "m2")
		if err != nil {
			t.Fatalf("MergeChain() error = %v", err)
		}
		if !flat.Truncated {
			t.Error("Truncated = false, want true for a cyclic chain")
		}
		if len(flat.Entries) != 2 {
			t.Errorf("merged entries = %d, want 2", len(flat.Entries))
		}
	})

	t.Run("owner change mid-chain breaks the walk", func(t *testing.T) {
		store := newFakeStore()
		store.addManifest("m1", "other-owner", "", entry("aaa", 1, "a.txt"))
		store.addManifest("m2", "owner", "m1", entry("bbb", 2, "b.txt"))

		svc := drive.NewManifestService(store, nil, nil, nil)
		flat, err := svc.MergeChain(ctx, "m2")
		if err != nil {
			t.Fatalf("MergeChain() error = %v", err)
		}
		if !flat.Truncated {
			t.Error("Truncated = false, want true for an owner change")
		}
		if _, ok := flat.Entries["aaa"]; ok {
			t.Error("foreign owner's entry was merged")
		}
	})
}

func TestManifestService_SyncFromChain(t *testing.T) {
	ctx := context.Background()
	wallet := testutil.NewTestWallet(1)
	owner := wallet.Address()
	clock := testutil.FixedClock()

	t.Run("rebuilds an empty index from the chain", func(t *testing.T) {
		store := testutil.NewTestStore(clock)
		source := testutil.NewTestIndex(t)
		svc := drive.NewManifestService(store, source, nil, clock)

		now := clock.Now()
		for _, id := range []string{"aaa", "bbb"} {
			if err := source.InsertFile(newFileRecord(id, owner, id+".txt", now)); err != nil {
				t.Fatalf("InsertFile() error = %v", err)
			}
		}
		if _, err := svc.Publish(ctx, wallet); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}

		// A second device with a fresh index replays the chain.
		replica := testutil.NewTestIndex(t)
		replicaSvc := drive.NewManifestService(store, replica, nil, clock)

		stats, err := replicaSvc.SyncFromChain(ctx, owner)
		if err != nil {
			t.Fatalf("SyncFromChain() error = %v", err)
		}
		if stats.Added != 2 || stats.Errors != 0 {
			t.Errorf("stats = %+v, want 2 added", stats)
		}

		count, err := replica.CountFilesByOwner(owner)
		if err != nil {
			t.Fatalf("CountFilesByOwner() error = %v", err)
		}
		if count != 2 {
			t.Errorf("replica file count = %d, want 2", count)
		}
	})

	t.Run("replay is idempotent", func(t *testing.T) {
		store := testutil.NewTestStore(clock)
		index := testutil.NewTestIndex(t)
		svc := drive.NewManifestService(store, index, nil, clock)

		if err := index.InsertFile(newFileRecord("aaa", owner, "a.txt", clock.Now())); err != nil {
			t.Fatalf("InsertFile() error = %v", err)
		}
		if _, err := svc.Publish(ctx, wallet); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}

		for i := 0; i < 2; i++ {
			stats, err := svc.SyncFromChain(ctx, owner)
			if err != nil {
				t.Fatalf("SyncFromChain() #%d error = %v", i+1, err)
			}
			if stats.Added != 0 || stats.Updated != 0 {
				t.Errorf("replay #%d stats = %+v, want all skipped", i+1, stats)
			}
		}
	})

	t.Run("no chain is a no-op", func(t *testing.T) {
		svc := drive.NewManifestService(testutil.NewTestStore(clock), testutil.NewTestIndex(t), nil, clock)

		stats, err := svc.SyncFromChain(ctx, owner)
		if err != nil {
			t.Fatalf("SyncFromChain() error = %v", err)
		}
		if stats != (drive.SyncStats{}) {
			t.Errorf("stats = %+v, want zero", stats)
		}
	})
}
