package codec

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"

	"drivesync/internal/config"
	"drivesync/internal/drive"
)

// AgeCodec encodes upload bytes with age X25519 encryption, optionally
// gzip-compressing first. Encoding needs only the public recipient;
// decoding unlocks the identity file with a passphrase. The identity
// file is encrypted with age's scrypt-based passphrase encryption.
type AgeCodec struct {
	compress       bool
	publicKeyPath  string
	privateKeyPath string
}

var _ drive.Codec = (*AgeCodec)(nil)

// NewAgeCodec creates an AgeCodec from configuration.
func NewAgeCodec(cfg config.CodecConfig) *AgeCodec {
	return &AgeCodec{
		compress:       cfg.Compress,
		publicKeyPath:  cfg.PublicKeyPath,
		privateKeyPath: cfg.PrivateKeyPath,
	}
}

func (c *AgeCodec) Algo() string { return "age-x25519" }

func (c *AgeCodec) Params() string {
	params := map[string]any{"format": "age-x25519", "compress": c.compress}
	body, _ := json.Marshal(params)
	return string(body)
}

func (c *AgeCodec) Compression() string {
	if c.compress {
		return "gzip"
	}
	return ""
}

// Encode compresses (when configured) and encrypts r into w.
func (c *AgeCodec) Encode(r io.Reader, w io.Writer) error {
	recipient, err := c.loadRecipient()
	if err != nil {
		return err
	}

	encWriter, err := age.Encrypt(w, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}

	if c.compress {
		gz := gzip.NewWriter(encWriter)
		if _, err := io.Copy(gz, r); err != nil {
			return fmt.Errorf("compressing content: %w", err)
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("finalizing compression: %w", err)
		}
	} else {
		if _, err := io.Copy(encWriter, r); err != nil {
			return fmt.Errorf("encrypting content: %w", err)
		}
	}

	if err := encWriter.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	return nil
}

// Setup performs one-time key generation: an X25519 identity with the
// recipient written in plaintext and the identity encrypted with the
// passphrase. Called by `drivesync config init`.
func (c *AgeCodec) Setup(passphrase string) error {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.publicKeyPath), 0700); err != nil {
		return fmt.Errorf("creating public key directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.privateKeyPath), 0700); err != nil {
		return fmt.Errorf("creating private key directory: %w", err)
	}

	if err := os.WriteFile(c.publicKeyPath, []byte(identity.Recipient().String()+"\n"), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}

	privFile, err := os.OpenFile(c.privateKeyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating private key file: %w", err)
	}
	defer privFile.Close()

	scrypt, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}
	w, err := age.Encrypt(privFile, scrypt)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, identity.String()+"\n"); err != nil {
		return fmt.Errorf("writing encrypted private key: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encrypted private key: %w", err)
	}
	return nil
}

// IsConfigured returns true if both key files exist at configured paths.
func (c *AgeCodec) IsConfigured() bool {
	if _, err := os.Stat(c.publicKeyPath); err != nil {
		return false
	}
	if _, err := os.Stat(c.privateKeyPath); err != nil {
		return false
	}
	return true
}

// Unlock decrypts the identity file with the passphrase and returns a
// DecodeContext for the session. The unlocked identity stays in memory.
func (c *AgeCodec) Unlock(passphrase string) (drive.DecodeContext, error) {
	encrypted, err := os.Open(c.privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("opening private key file: %w", err)
	}
	defer encrypted.Close()

	scryptID, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}
	r, err := age.Decrypt(encrypted, scryptID)
	if err != nil {
		return nil, fmt.Errorf("unlocking private key (wrong passphrase?): %w", err)
	}
	keyText, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}

	identity, err := age.ParseX25519Identity(strings.TrimSpace(string(keyText)))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return &ageDecodeContext{identity: identity, compressed: c.compress}, nil
}

func (c *AgeCodec) loadRecipient() (*age.X25519Recipient, error) {
	data, err := os.ReadFile(c.publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	recipient, err := age.ParseX25519Recipient(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	return recipient, nil
}

type ageDecodeContext struct {
	identity   *age.X25519Identity
	compressed bool
}

func (d *ageDecodeContext) Decode(r io.Reader, w io.Writer) error {
	plain, err := age.Decrypt(r, d.identity)
	if err != nil {
		return fmt.Errorf("decrypting content: %w", err)
	}

	if d.compressed {
		gz, err := gzip.NewReader(plain)
		if err != nil {
			return fmt.Errorf("opening compressed content: %w", err)
		}
		defer gz.Close()
		plain = gz
	}

	if _, err := io.Copy(w, plain); err != nil {
		return fmt.Errorf("decoding content: %w", err)
	}
	return nil
}
