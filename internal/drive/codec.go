package drive

import "io"

// Codec transforms file bytes before upload (compression and/or
// encryption). The uploader hashes and stores the encoded bytes, never
// the originals.
type Codec interface {
	// Encode reads plaintext from r and writes the processed bytes to w.
	Encode(r io.Reader, w io.Writer) error

	// Algo names the encryption algorithm for the record's tags, or ""
	// when the codec does not encrypt.
	Algo() string

	// Params returns opaque JSON describing codec parameters, or "".
	Params() string

	// Compression names the compression algorithm, or "" when the codec
	// does not compress.
	Compression() string
}

// DecodeContext decodes bytes previously produced by a Codec. Obtaining
// one may require unlocking a key with a passphrase; the unlocked key is
// held in memory only.
type DecodeContext interface {
	Decode(r io.Reader, w io.Writer) error
}
