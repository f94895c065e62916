// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies how a blob is compressed on disk. The
// values are stored in the metadata index; changing them breaks
// existing stores.
type CompressionTag uint8

const (
	// CompressionNone stores the bytes as-is. Used for content that
	// is already compressed (images, archives, packfiles).
	CompressionNone CompressionTag = 0

	// CompressionLZ4 is block-mode LZ4: a fast default for mixed or
	// unknown binary content.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd is zstd at the default level: better ratios
	// for text, JSON, and logs.
	CompressionZstd CompressionTag = 2

	// CompressionBG4LZ4 transposes 4-byte groups before LZ4. For
	// float32 tensor data, grouping bytes by position within the
	// float puts the similar exponent bytes together, which LZ4 then
	// compresses well. Prediction and encoding jobs emit exactly
	// this shape of output.
	CompressionBG4LZ4 CompressionTag = 3
)

func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	case CompressionBG4LZ4:
		return "bg4_lz4"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// ParseCompressionTag parses the string form back into a tag.
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	case "bg4_lz4":
		return CompressionBG4LZ4, nil
	default:
		return 0, fmt.Errorf("unknown compression tag: %q", name)
	}
}

// zstd encoder/decoder are safe for concurrent use and reused across
// all calls.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("artifact: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("artifact: zstd decoder initialization failed: " + err.Error())
	}
}

// errIncompressible signals that compressed output would not be
// smaller than the input; the caller falls back to CompressionNone.
var errIncompressible = errors.New("data is incompressible")

// Compress compresses data with the given algorithm. CompressionNone
// returns the input unchanged without copying.
func Compress(data []byte, tag CompressionTag) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return data, nil
	case CompressionLZ4:
		return compressLZ4(data)
	case CompressionZstd:
		return compressZstd(data)
	case CompressionBG4LZ4:
		transposed := bg4Transpose(data)
		return compressLZ4(transposed)
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

// Decompress reverses Compress. uncompressedSize must match the
// original length exactly; a mismatch is an error, not a truncation.
func Decompress(compressed []byte, tag CompressionTag, uncompressedSize int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(compressed) != uncompressedSize {
			return nil, fmt.Errorf("uncompressed blob: size %d does not match expected %d",
				len(compressed), uncompressedSize)
		}
		return compressed, nil
	case CompressionLZ4:
		return decompressLZ4(compressed, uncompressedSize)
	case CompressionZstd:
		return decompressZstd(compressed, uncompressedSize)
	case CompressionBG4LZ4:
		transposed, err := decompressLZ4(compressed, uncompressedSize)
		if err != nil {
			return nil, err
		}
		return bg4Untranspose(transposed), nil
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

// CompressAuto picks an algorithm for the content and compresses.
// Incompressible data comes back unchanged with CompressionNone.
func CompressAuto(data []byte, mimeType string) ([]byte, CompressionTag, error) {
	tag := SelectCompression(data, mimeType)
	compressed, err := Compress(data, tag)
	if err != nil {
		if errors.Is(err, errIncompressible) {
			return data, CompressionNone, nil
		}
		return nil, 0, err
	}
	return compressed, tag, nil
}

// SelectCompression picks an algorithm. Known MIME types short-circuit;
// otherwise a zstd probe decides by achieved ratio: >=1.5x zstd,
// >=1.1x LZ4, below that none.
func SelectCompression(data []byte, mimeType string) CompressionTag {
	switch mimeType {
	case "text/plain", "text/html", "text/csv", "text/markdown", "text/xml",
		"application/json", "application/x-ndjson", "application/xml":
		return CompressionZstd
	case "application/x-aether-tensor", "application/x-safetensors":
		return CompressionBG4LZ4
	}

	if len(data) == 0 {
		return CompressionNone
	}
	compressed := zstdEncoder.EncodeAll(data, nil)
	ratio := float64(len(data)) / float64(len(compressed))
	switch {
	case ratio >= 1.5:
		return CompressionZstd
	case ratio >= 1.1:
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(data))
	destination := make([]byte, bound)
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, uncompressedSize int) ([]byte, error) {
	destination := make([]byte, uncompressedSize)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != uncompressedSize {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, uncompressedSize)
	}
	return destination, nil
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, uncompressedSize int) ([]byte, error) {
	result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, uncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(result) != uncompressedSize {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), uncompressedSize)
	}
	return result, nil
}

// bg4Transpose groups bytes by position within each 4-byte word.
// Trailing bytes past the last full word pass through unchanged.
func bg4Transpose(data []byte) []byte {
	length := len(data)
	groupCount := length / 4
	output := make([]byte, length)
	for i := 0; i < groupCount; i++ {
		output[i] = data[i*4]
		output[groupCount+i] = data[i*4+1]
		output[groupCount*2+i] = data[i*4+2]
		output[groupCount*3+i] = data[i*4+3]
	}
	copy(output[groupCount*4:], data[groupCount*4:])
	return output
}

func bg4Untranspose(data []byte) []byte {
	length := len(data)
	groupCount := length / 4
	output := make([]byte, length)
	for i := 0; i < groupCount; i++ {
		output[i*4] = data[i]
		output[i*4+1] = data[groupCount+i]
		output[i*4+2] = data[groupCount*2+i]
		output[i*4+3] = data[groupCount*3+i]
	}
	copy(output[groupCount*4:], data[groupCount*4:])
	return output
}
