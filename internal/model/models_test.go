package model_test

import (
	"encoding/json"
	"strings"
	"testing"

	"drivesync/internal/model"
)

func TestFileIndexRecord_HasPlaceholderHash(t *testing.T) {
	tests := []struct {
		name string
		rec  model.FileIndexRecord
		want bool
	}{
		{"empty hash", model.FileIndexRecord{ContentID: "abc"}, true},
		{"hash equals content id", model.FileIndexRecord{ContentID: "abc", ContentHash: "abc"}, true},
		{"real hash", model.FileIndexRecord{ContentID: "abc", ContentHash: "deadbeef"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.HasPlaceholderHash(); got != tt.want {
				t.Errorf("HasPlaceholderHash() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFileIndexRecord_Encrypted(t *testing.T) {
	plain := model.FileIndexRecord{}
	if plain.Encrypted() {
		t.Error("Encrypted() = true without an algorithm")
	}
	enc := model.FileIndexRecord{EncryptionAlgo: "age-x25519"}
	if !enc.Encrypted() {
		t.Error("Encrypted() = false with an algorithm set")
	}
}

func TestIncrementalManifest_JSON(t *testing.T) {
	manifest := model.IncrementalManifest{
		SchemaVersion: model.ManifestSchemaVersion,
		OwnerAddress:  "owner-1",
		LastUpdated:   1700000000000,
		Added: []model.ManifestEntry{{
			ContentID: "abc",
			FileName:  "a.txt",
			Version:   1,
		}},
	}

	body, err := json.Marshal(&manifest)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	// Empty chain fields must be omitted so a first manifest carries no
	// previousManifestId key at all.
	raw := string(body)
	if strings.Contains(raw, `"previousManifestId"`) {
		t.Error("first manifest serialized previousManifestId")
	}
	if strings.Contains(raw, `"updated"`) || strings.Contains(raw, `"deleted"`) {
		t.Error("empty updated/deleted lists were serialized")
	}

	var decoded model.IncrementalManifest
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.EntryCount() != 1 {
		t.Errorf("EntryCount() = %d, want 1", decoded.EntryCount())
	}
}
