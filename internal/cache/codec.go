package cache

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
)

// DefaultCompressThreshold is the encoded size above which values are compressed.
const DefaultCompressThreshold = 4096

// zstdMagic starts every zstd frame. JSON text never begins with 0x28.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	decoderOnce sync.Once
	decoder     *zstd.Decoder
)

func zstdEncoder() *zstd.Encoder {
	encoderOnce.Do(func() {
		// A nil writer with only EncodeAll calls cannot fail to construct.
		encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return encoder
}

func zstdDecoder() *zstd.Decoder {
	decoderOnce.Do(func() {
		decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return decoder
}

// Encode serializes v as JSON, compressing it when larger than threshold bytes.
// A threshold <= 0 disables compression.
func Encode(v any, threshold int) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	if threshold > 0 && len(data) > threshold {
		return zstdEncoder().EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	}
	return data, nil
}

// Decode deserializes data produced by Encode into v.
func Decode(data []byte, v any) error {
	if bytes.HasPrefix(data, zstdMagic) {
		raw, err := zstdDecoder().DecodeAll(data, nil)
		if err != nil {
			return fmt.Errorf("decompress: %w", err)
		}
		data = raw
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// IsCompressed reports whether a stored value is a zstd frame.
func IsCompressed(data []byte) bool {
	return bytes.HasPrefix(data, zstdMagic)
}
