package drive

// Wallet authorizes writes to the permanent store. The address is the
// owner identity every record and manifest is scoped to.
type Wallet interface {
	// Address returns the stable owner address derived from the key pair.
	Address() string

	// Sign signs data with the wallet's private key.
	Sign(data []byte) ([]byte, error)
}
