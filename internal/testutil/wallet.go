package testutil

import (
	"crypto/ed25519"

	"drivesync/internal/wallet"
)

// NewTestWallet creates a deterministic wallet from a single-byte seed
// fill. Two calls with the same fill yield the same owner address.
func NewTestWallet(fill byte) *wallet.LocalWallet {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = fill
	}
	return wallet.New(ed25519.NewKeyFromSeed(seed))
}
