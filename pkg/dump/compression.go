package dump

import (
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// CompressionType defines the compression algorithm applied to the payload
type CompressionType int

const (
	// NoCompression stores the payload as is
	NoCompression CompressionType = iota
	// ZstdCompression stores the payload Zstandard compressed
	ZstdCompression
)

var (
	// DefaultCompression is the default compression algorithm
	DefaultCompression = ZstdCompression

	// encoder and decoder for zstd are reusable and thread-safe
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

func (c CompressionType) String() string {
	switch c {
	case NoCompression:
		return "none"
	case ZstdCompression:
		return "zstd"
	}
	return fmt.Sprintf("CompressionType(%d)", int(c))
}

// ParseCompression parses "none" or "zstd"
func ParseCompression(s string) (CompressionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "off", "":
		return NoCompression, nil
	case "zstd":
		return ZstdCompression, nil
	}
	return NoCompression, fmt.Errorf("unknown compression %q", s)
}

// CompressData compresses data with the given algorithm
func CompressData(data []byte, compressionType CompressionType) ([]byte, error) {
	if compressionType == NoCompression {
		return data, nil
	}
	return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data))), nil
}

// DecompressData reverses CompressData
func DecompressData(data []byte, compressionType CompressionType) ([]byte, error) {
	if compressionType == NoCompression {
		return data, nil
	}
	return zstdDecoder.DecodeAll(data, nil)
}
