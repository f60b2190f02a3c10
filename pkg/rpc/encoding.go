package rpc

import (
	"encoding/base64"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/fortiblox/intcode/internal/codec"
)

// EncodeMemory encodes memory words according to the specified encoding.
// Binary encodings pack each word as a little-endian int64.
func EncodeMemory(words []int64, encoding Encoding) (interface{}, error) {
	switch encoding {
	case EncodingJSON:
		if words == nil {
			return []int64{}, nil
		}
		return words, nil

	case EncodingBase58:
		return base58.Encode(codec.EncodeWords(words)), nil

	case EncodingBase64:
		return base64.StdEncoding.EncodeToString(codec.EncodeWords(words)), nil

	case EncodingBase64Zstd:
		compressed := codec.Compress(codec.EncodeWords(words))
		return base64.StdEncoding.EncodeToString(compressed), nil

	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
}

// DecodeMemory decodes a binary memory dump produced by EncodeMemory.
func DecodeMemory(encoded string, encoding Encoding) ([]int64, error) {
	var raw []byte
	var err error

	switch encoding {
	case EncodingBase58:
		raw, err = base58.Decode(encoded)
	case EncodingBase64:
		raw, err = base64.StdEncoding.DecodeString(encoded)
	case EncodingBase64Zstd:
		var compressed []byte
		compressed, err = base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("base64 decode failed: %w", err)
		}
		raw, err = codec.Decompress(compressed)
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", encoding, err)
	}
	return codec.DecodeWords(raw)
}

// ParseEncoding parses an encoding string. The empty string selects base64.
func ParseEncoding(s string) (Encoding, bool) {
	switch s {
	case "", "base64":
		return EncodingBase64, true
	case "base58":
		return EncodingBase58, true
	case "base64+zstd":
		return EncodingBase64Zstd, true
	case "json":
		return EncodingJSON, true
	default:
		return "", false
	}
}

// sliceWords applies an offset/length window to memory. A zero length means
// to the end of memory.
func sliceWords(words []int64, offset, length int64) []int64 {
	if offset >= int64(len(words)) {
		return []int64{}
	}
	end := int64(len(words))
	if length > 0 && offset+length < end {
		end = offset + length
	}
	return words[offset:end]
}
