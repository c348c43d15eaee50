// Package codec provides the zstd payload codec shared by snapshots and replication transport.
package codec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// ContentEncoding is the HTTP Content-Encoding token for zstd bodies.
const ContentEncoding = "zstd"

// Zstd compresses and decompresses whole payloads.
// Encoder and decoder are safe for concurrent EncodeAll/DecodeAll calls.
type Zstd struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewZstd creates a codec with the default compression level.
func NewZstd() (*Zstd, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &Zstd{encoder: encoder, decoder: decoder}, nil
}

// Encode compresses src.
func (z *Zstd) Encode(src []byte) []byte {
	return z.encoder.EncodeAll(src, make([]byte, 0, len(src)/2))
}

// Decode decompresses src.
func (z *Zstd) Decode(src []byte) ([]byte, error) {
	out, err := z.decoder.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}
