// Package types defines the identifiers shared by the intcode service.
//
// Program images are content addressed: an ImageID is the BLAKE3 hash of the
// image's words, so loading the same program twice yields the same ID.
// Sessions are identified by random UUIDs.
package types

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
)

// ImageIDSize is the size of an image ID in bytes.
const ImageIDSize = 32

var (
	// ErrInvalidImageID is returned when an image ID has invalid length.
	ErrInvalidImageID = errors.New("invalid image id: must be 32 bytes")

	// ErrInvalidSessionID is returned when a session ID does not parse.
	ErrInvalidSessionID = errors.New("invalid session id")
)

// ImageID identifies a program image by content.
type ImageID [ImageIDSize]byte

// HashImage computes the ID of a program image. Words are hashed as
// little-endian 64-bit integers.
func HashImage(words []int64) ImageID {
	h := blake3.New()
	var buf [8]byte
	for _, w := range words {
		binary.LittleEndian.PutUint64(buf[:], uint64(w))
		h.Write(buf[:])
	}
	var id ImageID
	copy(id[:], h.Sum(nil))
	return id
}

// ImageIDFromBase58 parses a base58-encoded image ID.
func ImageIDFromBase58(s string) (ImageID, error) {
	var id ImageID
	data, err := base58.Decode(s)
	if err != nil {
		return id, fmt.Errorf("base58 decode: %w", err)
	}
	return ImageIDFromBytes(data)
}

// ImageIDFromHex parses a hex-encoded image ID.
func ImageIDFromHex(s string) (ImageID, error) {
	var id ImageID
	data, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("hex decode: %w", err)
	}
	return ImageIDFromBytes(data)
}

// ImageIDFromBytes creates an ImageID from a byte slice.
func ImageIDFromBytes(b []byte) (ImageID, error) {
	var id ImageID
	if len(b) != ImageIDSize {
		return id, ErrInvalidImageID
	}
	copy(id[:], b)
	return id, nil
}

// String returns the base58-encoded representation.
func (id ImageID) String() string {
	return base58.Encode(id[:])
}

// Hex returns the hex-encoded representation.
func (id ImageID) Hex() string {
	return hex.EncodeToString(id[:])
}

// IsZero returns true if the ID is all zeros.
func (id ImageID) IsZero() bool {
	return id == ImageID{}
}

// Bytes returns the ID as a byte slice.
func (id ImageID) Bytes() []byte {
	return id[:]
}

// MarshalText implements encoding.TextMarshaler.
func (id ImageID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ImageID) UnmarshalText(text []byte) error {
	parsed, err := ImageIDFromBase58(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// SessionID identifies a live machine session.
type SessionID uuid.UUID

// NewSessionID returns a random session ID.
func NewSessionID() SessionID {
	return SessionID(uuid.New())
}

// ParseSessionID parses the canonical UUID form.
func ParseSessionID(s string) (SessionID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return SessionID{}, fmt.Errorf("%w: %v", ErrInvalidSessionID, err)
	}
	return SessionID(u), nil
}

// String returns the canonical UUID form.
func (id SessionID) String() string {
	return uuid.UUID(id).String()
}

// IsZero returns true if the ID is unset.
func (id SessionID) IsZero() bool {
	return id == SessionID{}
}

// Bytes returns the ID as a byte slice.
func (id SessionID) Bytes() []byte {
	return id[:]
}

// MarshalText implements encoding.TextMarshaler.
func (id SessionID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *SessionID) UnmarshalText(text []byte) error {
	parsed, err := ParseSessionID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
