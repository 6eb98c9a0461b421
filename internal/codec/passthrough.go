package codec

import (
	"io"

	"drivesync/internal/drive"
)

// Passthrough uploads bytes unchanged. Used for store.codec = "none" and
// in tests where ciphertext would only get in the way.
type Passthrough struct{}

var _ drive.Codec = Passthrough{}

func (Passthrough) Encode(r io.Reader, w io.Writer) error {
	_, err := io.Copy(w, r)
	return err
}

func (Passthrough) Algo() string        { return "" }
func (Passthrough) Params() string      { return "" }
func (Passthrough) Compression() string { return "" }

// PassthroughDecode is the matching DecodeContext.
type PassthroughDecode struct{}

func (PassthroughDecode) Decode(r io.Reader, w io.Writer) error {
	_, err := io.Copy(w, r)
	return err
}
