package testutil

import (
	"drivesync/internal/drive"
	"drivesync/internal/store"
)

// NewTestStore creates an in-memory permanent store driven by the given
// clock.
func NewTestStore(clock drive.Clock) *store.MemoryStore {
	return store.NewMemoryStore(clock)
}
