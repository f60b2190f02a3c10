// Package checkpoint persists machine snapshots so suspended sessions
// survive a restart.
package checkpoint

import (
	"errors"
	"fmt"
	"time"

	"github.com/fortiblox/intcode/internal/codec"
	"github.com/fortiblox/intcode/internal/types"
	"github.com/fortiblox/intcode/pkg/intcode"
)

var (
	// ErrCheckpointNotFound is returned when no checkpoint exists for a session.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("checkpoint store closed")

	// ErrConfigInvalid is returned for an invalid configuration.
	ErrConfigInvalid = errors.New("invalid checkpoint store config")
)

// Record is a saved machine together with the image it was created from.
type Record struct {
	Session types.SessionID `json:"session"`
	Image   types.ImageID   `json:"image"`
	State   intcode.State   `json:"state"`
	SavedAt time.Time       `json:"savedAt"`
}

// Summary describes a checkpoint without its machine state.
type Summary struct {
	Session    types.SessionID `json:"session"`
	Image      types.ImageID   `json:"image"`
	Status     intcode.Status  `json:"status"`
	MemorySize int             `json:"memorySize"`
	SavedAt    time.Time       `json:"savedAt"`
}

// Summary returns the record's summary.
func (r *Record) Summary() Summary {
	return Summary{
		Session:    r.Session,
		Image:      r.Image,
		Status:     r.State.Status,
		MemorySize: len(r.State.Memory),
		SavedAt:    r.SavedAt,
	}
}

// Store is the checkpoint store interface.
type Store interface {
	// Save stores rec under its session, replacing any earlier checkpoint.
	Save(rec *Record) error
	Load(session types.SessionID) (*Record, error)
	Delete(session types.SessionID) error
	List() ([]Summary, error)
	Close() error
}

// entry is the encoded form of a record.
type entry struct {
	Session      []byte  `cbor:"1,keyasint"`
	Image        []byte  `cbor:"2,keyasint"`
	Memory       []byte  `cbor:"3,keyasint"`
	Pointer      int64   `cbor:"4,keyasint"`
	RelativeBase int64   `cbor:"5,keyasint"`
	Inputs       []int64 `cbor:"6,keyasint,omitempty"`
	Outputs      []int64 `cbor:"7,keyasint,omitempty"`
	Status       int     `cbor:"8,keyasint"`
	Steps        uint64  `cbor:"9,keyasint"`
	Fault        string  `cbor:"10,keyasint,omitempty"`
	SavedAt      int64   `cbor:"11,keyasint"`
}

// encodeRecord serializes a record. Memory is packed as raw words before
// compression since it is usually mostly zeros.
func encodeRecord(r *Record) ([]byte, error) {
	e := entry{
		Session:      r.Session.Bytes(),
		Image:        r.Image.Bytes(),
		Memory:       codec.EncodeWords(r.State.Memory),
		Pointer:      r.State.Pointer,
		RelativeBase: r.State.RelativeBase,
		Inputs:       r.State.Inputs,
		Outputs:      r.State.Outputs,
		Status:       int(r.State.Status),
		Steps:        r.State.Steps,
		Fault:        r.State.Fault,
		SavedAt:      r.SavedAt.UnixNano(),
	}
	data, err := codec.Marshal(&e)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*Record, error) {
	var e entry
	if err := codec.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}

	r := &Record{
		State: intcode.State{
			Pointer:      e.Pointer,
			RelativeBase: e.RelativeBase,
			Inputs:       e.Inputs,
			Outputs:      e.Outputs,
			Status:       intcode.Status(e.Status),
			Steps:        e.Steps,
			Fault:        e.Fault,
		},
		SavedAt: time.Unix(0, e.SavedAt),
	}
	if len(e.Session) != len(r.Session) {
		return nil, fmt.Errorf("decode checkpoint: %w", types.ErrInvalidSessionID)
	}
	copy(r.Session[:], e.Session)

	img, err := types.ImageIDFromBytes(e.Image)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	r.Image = img

	mem, err := codec.DecodeWords(e.Memory)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	r.State.Memory = mem
	return r, nil
}
