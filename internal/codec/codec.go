// Package codec serializes stored records: canonical CBOR compressed with
// zstd behind a one-byte format version.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// FormatVersion is the leading byte of every encoded record.
const FormatVersion byte = 1

var (
	// ErrUnknownFormat is returned for records with an unknown version byte.
	ErrUnknownFormat = errors.New("unknown record format")

	// ErrTruncated is returned when word data is not a multiple of 8 bytes.
	ErrTruncated = errors.New("truncated word data")
)

var (
	encMode cbor.EncMode
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: failed to create CBOR enc mode: %v", err))
	}
	encMode = em

	// EncodeAll and DecodeAll are safe for concurrent use.
	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("codec: failed to create zstd encoder: %v", err))
	}
	decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("codec: failed to create zstd decoder: %v", err))
	}
}

// Marshal encodes v as a versioned, compressed CBOR record.
func Marshal(v interface{}) ([]byte, error) {
	raw, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cbor marshal: %w", err)
	}
	out := make([]byte, 1, 1+len(raw)/2)
	out[0] = FormatVersion
	return encoder.EncodeAll(raw, out), nil
}

// Unmarshal decodes a record produced by Marshal into v.
func Unmarshal(data []byte, v interface{}) error {
	if len(data) == 0 || data[0] != FormatVersion {
		return ErrUnknownFormat
	}
	raw, err := Decompress(data[1:])
	if err != nil {
		return err
	}
	if err := cbor.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("cbor unmarshal: %w", err)
	}
	return nil
}

// Compress compresses data with zstd.
func Compress(data []byte) []byte {
	return encoder.EncodeAll(data, nil)
}

// Decompress decompresses zstd data.
func Decompress(data []byte) ([]byte, error) {
	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}

// EncodeWords packs words as little-endian 64-bit integers.
func EncodeWords(words []int64) []byte {
	out := make([]byte, 8*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint64(out[8*i:], uint64(w))
	}
	return out
}

// DecodeWords unpacks data produced by EncodeWords.
func DecodeWords(data []byte) ([]int64, error) {
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(data))
	}
	words := make([]int64, len(data)/8)
	for i := range words {
		words[i] = int64(binary.LittleEndian.Uint64(data[8*i:]))
	}
	return words, nil
}
