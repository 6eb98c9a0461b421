package testutil

import (
	"testing"

	"drivesync/internal/database"
	"drivesync/internal/database/migrations"
	"drivesync/internal/drive"
)

// NewTestIndex creates a new in-memory SQLite index with migrations
// applied. The index is automatically closed when the test completes.
func NewTestIndex(t *testing.T) drive.Index {
	t.Helper()

	db, err := database.OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		t.Fatalf("failed to apply migrations: %v", err)
	}

	idx := database.NewSQLiteIndexFromDB(db)

	t.Cleanup(func() {
		idx.Close()
	})

	return idx
}
