package drive

import "errors"

var (
	// ErrNotFound is returned when a record or folder does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNothingToPublish is returned by a manifest publish when the owner
	// has no local records and no existing chain to continue.
	ErrNothingToPublish = errors.New("nothing to publish")

	// ErrChainBroken is returned when the very first hop of a manifest
	// chain cannot be read. Breaks further down the chain degrade to a
	// partial merge instead.
	ErrChainBroken = errors.New("manifest chain head unreadable")

	// ErrSyncCooldown is returned when a manual sync is requested again
	// before the per-owner cooldown has elapsed.
	ErrSyncCooldown = errors.New("sync is cooling down")
)
