package wallet

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"

	"drivesync/internal/config"
	"drivesync/internal/drive"
)

// LocalWallet signs store writes with an ed25519 key held in memory. The
// owner address is the hex SHA-256 of the public key, so it is stable
// across devices holding the same key.
type LocalWallet struct {
	address string
	priv    ed25519.PrivateKey
}

var _ drive.Wallet = (*LocalWallet)(nil)

func (w *LocalWallet) Address() string { return w.address }

func (w *LocalWallet) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(w.priv, data), nil
}

// New wraps an existing private key. Used by tests.
func New(priv ed25519.PrivateKey) *LocalWallet {
	return &LocalWallet{
		address: addressOf(priv.Public().(ed25519.PublicKey)),
		priv:    priv,
	}
}

// Generate creates a wallet with a fresh random key.
func Generate() (*LocalWallet, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating key pair: %w", err)
	}
	return New(priv), nil
}

// Setup performs one-time key generation: a fresh ed25519 key pair, the
// public key written in plaintext, the private key seed encrypted with
// the passphrase using age's scrypt recipient. Called by
// `drivesync config init`.
func Setup(cfg config.WalletConfig, passphrase string) (*LocalWallet, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating key pair: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.PublicKeyPath), 0700); err != nil {
		return nil, fmt.Errorf("creating public key directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.PrivateKeyPath), 0700); err != nil {
		return nil, fmt.Errorf("creating private key directory: %w", err)
	}

	if err := os.WriteFile(cfg.PublicKeyPath, []byte(hex.EncodeToString(pub)+"\n"), 0644); err != nil {
		return nil, fmt.Errorf("writing public key: %w", err)
	}

	privFile, err := os.OpenFile(cfg.PrivateKeyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("creating private key file: %w", err)
	}
	defer privFile.Close()

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt recipient: %w", err)
	}
	w, err := age.Encrypt(privFile, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, hex.EncodeToString(priv.Seed())+"\n"); err != nil {
		return nil, fmt.Errorf("writing encrypted private key: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing encrypted private key: %w", err)
	}

	return New(priv), nil
}

// Unlock decrypts the private key with the passphrase and returns a
// ready-to-sign wallet. The unlocked key is held in memory only.
func Unlock(cfg config.WalletConfig, passphrase string) (*LocalWallet, error) {
	encrypted, err := os.Open(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("opening private key file: %w", err)
	}
	defer encrypted.Close()

	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}
	r, err := age.Decrypt(encrypted, identity)
	if err != nil {
		return nil, fmt.Errorf("unlocking private key (wrong passphrase?): %w", err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(buf.String()))
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("private key file is malformed")
	}

	return New(ed25519.NewKeyFromSeed(seed)), nil
}

// Address derives the owner address from the plaintext public key file,
// for read-only operations that must not prompt for a passphrase.
func Address(cfg config.WalletConfig) (string, error) {
	data, err := os.ReadFile(cfg.PublicKeyPath)
	if err != nil {
		return "", fmt.Errorf("reading public key: %w", err)
	}
	pub, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("public key file is malformed")
	}
	return addressOf(pub), nil
}

// IsConfigured returns true if both key files exist at configured paths.
func IsConfigured(cfg config.WalletConfig) bool {
	if _, err := os.Stat(cfg.PublicKeyPath); err != nil {
		return false
	}
	if _, err := os.Stat(cfg.PrivateKeyPath); err != nil {
		return false
	}
	return true
}

func addressOf(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}
