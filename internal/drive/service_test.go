package drive_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"drivesync/internal/drive"
	"drivesync/internal/testutil"
)

func newTestService(t *testing.T) (*drive.Service, drive.Index, drive.PermanentStore, *testutil.StubClock) {
	t.Helper()
	clock := testutil.FixedClock()
	index := testutil.NewTestIndex(t)
	store := testutil.NewTestStore(clock)
	svc := drive.NewService(index, store, nil, nil, nil, nil, clock, testutil.NewStubIDGenerator())
	return svc, index, store, clock
}

func TestService_UploadFile(t *testing.T) {
	ctx := context.Background()
	wallet := testutil.NewTestWallet(1)
	owner := wallet.Address()

	t.Run("stores and indexes a file", func(t *testing.T) {
		svc, index, store, _ := newTestService(t)

		body := "plain file body"
		result, err := svc.UploadFile(ctx, wallet, strings.NewReader(body), drive.UploadOptions{
			FileName: "notes.txt",
			MimeType: "text/plain",
		})
		if err != nil {
			t.Fatalf("UploadFile() error = %v", err)
		}
		if result.Version != 1 {
			t.Errorf("Version = %d, want 1", result.Version)
		}

		rec, err := index.GetFileByContentID(result.ContentID)
		if err != nil {
			t.Fatalf("GetFileByContentID() error = %v", err)
		}
		if rec == nil {
			t.Fatal("uploaded record not in index")
		}
		if rec.ContentHash != sha256hex([]byte(body)) {
			t.Errorf("ContentHash = %q, want the stored bytes' hash", rec.ContentHash)
		}
		if rec.OwnerAddress != owner {
			t.Errorf("OwnerAddress = %q, want %q", rec.OwnerAddress, owner)
		}

		var buf bytes.Buffer
		if err := store.Get(ctx, result.ContentID, &buf); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if buf.String() != body {
			t.Errorf("stored body = %q, want %q", buf.String(), body)
		}
	})

	t.Run("requires a file name", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		_, err := svc.UploadFile(ctx, wallet, strings.NewReader("x"), drive.UploadOptions{})
		if err == nil {
			t.Error("UploadFile() expected error for missing file name")
		}
	})

	t.Run("identical content continues the version chain", func(t *testing.T) {
		svc, index, _, clock := newTestService(t)

		first, err := svc.UploadFile(ctx, wallet, strings.NewReader("same"), drive.UploadOptions{FileName: "v.txt"})
		if err != nil {
			t.Fatalf("first UploadFile() error = %v", err)
		}

		clock.Advance(time.Minute)
		second, err := svc.UploadFile(ctx, wallet, strings.NewReader("same"), drive.UploadOptions{FileName: "v.txt"})
		if err != nil {
			t.Fatalf("second UploadFile() error = %v", err)
		}

		if second.ContentID == first.ContentID {
			t.Error("re-upload reused the content id; each put must mint a fresh one")
		}
		if second.Version != 2 {
			t.Errorf("Version = %d, want 2", second.Version)
		}

		rec, err := index.GetFileByContentID(second.ContentID)
		if err != nil {
			t.Fatalf("GetFileByContentID() error = %v", err)
		}
		if rec.PreviousContentID != first.ContentID {
			t.Errorf("PreviousContentID = %q, want %q", rec.PreviousContentID, first.ContentID)
		}
	})

	t.Run("different owners never share a chain", func(t *testing.T) {
		svc, index, _, _ := newTestService(t)
		other := testutil.NewTestWallet(2)

		if _, err := svc.UploadFile(ctx, wallet, strings.NewReader("shared"), drive.UploadOptions{FileName: "a.txt"}); err != nil {
			t.Fatalf("UploadFile() error = %v", err)
		}
		result, err := svc.UploadFile(ctx, other, strings.NewReader("shared"), drive.UploadOptions{FileName: "a.txt"})
		if err != nil {
			t.Fatalf("UploadFile() error = %v", err)
		}
		if result.Version != 1 {
			t.Errorf("other owner's Version = %d, want 1", result.Version)
		}

		rec, err := index.GetFileByContentID(result.ContentID)
		if err != nil {
			t.Fatalf("GetFileByContentID() error = %v", err)
		}
		if rec.PreviousContentID != "" {
			t.Errorf("PreviousContentID = %q, want empty across owners", rec.PreviousContentID)
		}
	})
}

// failingReader errors after the first read.
type failingReader struct{ read bool }

func (r *failingReader) Read(p []byte) (int, error) {
	if r.read {
		return 0, errors.New("disk pulled")
	}
	r.read = true
	n := copy(p, "partial")
	return n, nil
}

func TestService_UploadBatch(t *testing.T) {
	ctx := context.Background()
	wallet := testutil.NewTestWallet(1)

	t.Run("one failure does not abort the batch", func(t *testing.T) {
		svc, index, _, _ := newTestService(t)

		outcomes := svc.UploadBatch(ctx, wallet, []drive.UploadItem{
			{Content: strings.NewReader("one"), Options: drive.UploadOptions{FileName: "one.txt"}},
			{Content: &failingReader{}, Options: drive.UploadOptions{FileName: "bad.txt"}},
			{Content: strings.NewReader("two"), Options: drive.UploadOptions{FileName: "two.txt"}},
		})

		if len(outcomes) != 3 {
			t.Fatalf("outcomes = %d, want 3", len(outcomes))
		}
		if outcomes[0].Err != nil || outcomes[2].Err != nil {
			t.Errorf("healthy items failed: %v, %v", outcomes[0].Err, outcomes[2].Err)
		}
		if outcomes[1].Err == nil {
			t.Error("failing item reported no error")
		}

		count, err := index.CountFilesByOwner(wallet.Address())
		if err != nil {
			t.Fatalf("CountFilesByOwner() error = %v", err)
		}
		if count != 2 {
			t.Errorf("indexed files = %d, want 2", count)
		}
	})
}

func TestService_Download(t *testing.T) {
	ctx := context.Background()
	wallet := testutil.NewTestWallet(1)

	t.Run("streams the raw blob without a decoder", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		result, err := svc.UploadFile(ctx, wallet, strings.NewReader("round trip"), drive.UploadOptions{FileName: "r.txt"})
		if err != nil {
			t.Fatalf("UploadFile() error = %v", err)
		}

		var out bytes.Buffer
		if err := svc.Download(ctx, result.ContentID, &out, nil); err != nil {
			t.Fatalf("Download() error = %v", err)
		}
		if out.String() != "round trip" {
			t.Errorf("downloaded = %q, want %q", out.String(), "round trip")
		}
	})

	t.Run("runs the decode context over the blob", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		result, err := svc.UploadFile(ctx, wallet, strings.NewReader("DECODE ME"), drive.UploadOptions{FileName: "d.txt"})
		if err != nil {
			t.Fatalf("UploadFile() error = %v", err)
		}

		var out bytes.Buffer
		if err := svc.Download(ctx, result.ContentID, &out, lowerDecode{}); err != nil {
			t.Fatalf("Download() error = %v", err)
		}
		if out.String() != "decode me" {
			t.Errorf("decoded = %q, want %q", out.String(), "decode me")
		}
	})
}

type lowerDecode struct{}

func (lowerDecode) Decode(r io.Reader, w io.Writer) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	_, err = w.Write([]byte(strings.ToLower(string(data))))
	return err
}

func TestService_DeleteFile(t *testing.T) {
	ctx := context.Background()
	wallet := testutil.NewTestWallet(1)

	t.Run("removes the index record but not the blob", func(t *testing.T) {
		svc, index, store, _ := newTestService(t)

		result, err := svc.UploadFile(ctx, wallet, strings.NewReader("keep the blob"), drive.UploadOptions{FileName: "k.txt"})
		if err != nil {
			t.Fatalf("UploadFile() error = %v", err)
		}

		if err := svc.DeleteFile(result.RecordID); err != nil {
			t.Fatalf("DeleteFile() error = %v", err)
		}

		rec, err := index.GetFileByID(result.RecordID)
		if err != nil {
			t.Fatalf("GetFileByID() error = %v", err)
		}
		if rec != nil {
			t.Error("record still present after delete")
		}

		// The permanent store is immutable; the blob survives.
		var buf bytes.Buffer
		if err := store.Get(ctx, result.ContentID, &buf); err != nil {
			t.Errorf("Get() after delete error = %v", err)
		}
	})

	t.Run("unknown id returns ErrNotFound", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		if err := svc.DeleteFile("nope"); !errors.Is(err, drive.ErrNotFound) {
			t.Errorf("DeleteFile() error = %v, want ErrNotFound", err)
		}
	})
}

func TestService_GetFileHistory(t *testing.T) {
	ctx := context.Background()
	wallet := testutil.NewTestWallet(1)

	t.Run("walks the chain newest first", func(t *testing.T) {
		svc, _, _, clock := newTestService(t)

		var last *drive.UploadResult
		for i := 0; i < 3; i++ {
			clock.Advance(time.Minute)
			result, err := svc.UploadFile(ctx, wallet, strings.NewReader("stable bytes"), drive.UploadOptions{FileName: "h.txt"})
			if err != nil {
				t.Fatalf("UploadFile() #%d error = %v", i+1, err)
			}
			last = result
		}

		history, err := svc.GetFileHistory(last.RecordID)
		if err != nil {
			t.Fatalf("GetFileHistory() error = %v", err)
		}
		if len(history) != 3 {
			t.Fatalf("history length = %d, want 3", len(history))
		}
		for i, want := range []int64{3, 2, 1} {
			if history[i].Version != want {
				t.Errorf("history[%d].Version = %d, want %d", i, history[i].Version, want)
			}
		}
		if !history[0].IsCurrent {
			t.Error("newest entry not marked current")
		}
		if history[1].IsCurrent || history[2].IsCurrent {
			t.Error("older entries marked current")
		}
	})

	t.Run("unknown id returns ErrNotFound", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		if _, err := svc.GetFileHistory("nope"); !errors.Is(err, drive.ErrNotFound) {
			t.Errorf("GetFileHistory() error = %v, want ErrNotFound", err)
		}
	})
}

func TestService_RequestSync(t *testing.T) {
	ctx := context.Background()
	wallet := testutil.NewTestWallet(1)
	owner := wallet.Address()

	newSyncService := func(t *testing.T, clock *testutil.StubClock, cooldown *drive.CooldownGate) (*drive.Service, drive.PermanentStore) {
		t.Helper()
		index := testutil.NewTestIndex(t)
		store := testutil.NewTestStore(clock)
		syncer := drive.NewDirectSync(store, index, drive.DirectSyncConfig{}, nil, testutil.NewStubIDGenerator(), drive.NopYielder{})
		svc := drive.NewService(index, store, nil, syncer, cooldown, nil, clock, testutil.NewStubIDGenerator())
		return svc, store
	}

	t.Run("cooldown rejects a rapid second sync", func(t *testing.T) {
		clock := testutil.FixedClock()
		svc, store := newSyncService(t, clock, drive.NewCooldownGate(5*time.Minute, clock))
		putFile(t, store, wallet, "a.txt", []byte("aaa"))

		if _, err := svc.RequestSync(ctx, owner, false); err != nil {
			t.Fatalf("first RequestSync() error = %v", err)
		}
		if _, err := svc.RequestSync(ctx, owner, false); !errors.Is(err, drive.ErrSyncCooldown) {
			t.Errorf("second RequestSync() error = %v, want ErrSyncCooldown", err)
		}
	})

	t.Run("force bypasses the cooldown", func(t *testing.T) {
		clock := testutil.FixedClock()
		svc, store := newSyncService(t, clock, drive.NewCooldownGate(5*time.Minute, clock))
		putFile(t, store, wallet, "a.txt", []byte("aaa"))

		if _, err := svc.RequestSync(ctx, owner, false); err != nil {
			t.Fatalf("first RequestSync() error = %v", err)
		}
		if _, err := svc.RequestSync(ctx, owner, true); err != nil {
			t.Errorf("forced RequestSync() error = %v", err)
		}
	})

	t.Run("cooldown expires on its own", func(t *testing.T) {
		clock := testutil.FixedClock()
		svc, store := newSyncService(t, clock, drive.NewCooldownGate(5*time.Minute, clock))
		putFile(t, store, wallet, "a.txt", []byte("aaa"))

		if _, err := svc.RequestSync(ctx, owner, false); err != nil {
			t.Fatalf("first RequestSync() error = %v", err)
		}
		clock.Advance(6 * time.Minute)
		if _, err := svc.RequestSync(ctx, owner, false); err != nil {
			t.Errorf("RequestSync() after expiry error = %v", err)
		}
	})
}
