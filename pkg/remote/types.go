package remote

import (
	"github.com/fortiblox/intcode/internal/types"
)

// LoadProgramRequest stores a program in the node's image store.
type LoadProgramRequest struct {
	Name   string `json:"name,omitempty"`
	Source string `json:"source"`
}

// LoadProgramResponse identifies the stored image.
type LoadProgramResponse struct {
	Image types.ImageID `json:"image"`
	Size  int           `json:"size"`
}

// CreateRequest starts a machine. Program is a base58 image ID or a name.
type CreateRequest struct {
	Program string  `json:"program"`
	Inputs  []int64 `json:"inputs,omitempty"`
}

// PushRequest queues input values.
type PushRequest struct {
	Session types.SessionID `json:"session"`
	Values  []int64         `json:"values"`
}

// PushResponse reports the input queue length after the push.
type PushResponse struct {
	PendingInputs int `json:"pendingInputs"`
}

// RunRequest runs a machine for at most MaxSteps instructions; zero uses
// the node's run slice.
type RunRequest struct {
	Session  types.SessionID `json:"session"`
	MaxSteps uint64          `json:"maxSteps,omitempty"`
}

// SessionRequest names a session.
type SessionRequest struct {
	Session types.SessionID `json:"session"`
}

// DrainResponse carries drained outputs in emission order.
type DrainResponse struct {
	Outputs []int64 `json:"outputs"`
}

// PokeRequest writes one memory word.
type PokeRequest struct {
	Session types.SessionID `json:"session"`
	Addr    int64           `json:"addr"`
	Value   int64           `json:"value"`
}

// Empty is the response of calls with no result.
type Empty struct{}
