package codec

import (
	"fmt"

	"drivesync/internal/config"
	"drivesync/internal/drive"
)

// NewCodecFromConfig creates a Codec implementation based on the codec
// config type.
func NewCodecFromConfig(cfg config.CodecConfig) (drive.Codec, error) {
	switch cfg.Type {
	case "age", "":
		return NewAgeCodec(cfg), nil
	case "none":
		return Passthrough{}, nil
	default:
		return nil, fmt.Errorf("unknown codec type: %s", cfg.Type)
	}
}
