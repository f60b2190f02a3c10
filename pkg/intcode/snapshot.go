package intcode

import (
	"errors"
	"fmt"
)

// ErrInvalidState is returned when restoring a snapshot that could not have
// been produced by a machine.
var ErrInvalidState = errors.New("invalid machine state")

// State is a serializable copy of a machine's full state.
type State struct {
	Memory       []int64 `json:"memory"`
	Pointer      int64   `json:"pointer"`
	RelativeBase int64   `json:"relativeBase"`
	Inputs       []int64 `json:"inputs,omitempty"`
	Outputs      []int64 `json:"outputs,omitempty"`
	Status       Status  `json:"status"`
	Steps        uint64  `json:"steps"`
	Fault        string  `json:"fault,omitempty"`
}

// Snapshot captures the machine's state. The returned value shares nothing
// with the machine.
func (m *Machine) Snapshot() State {
	s := State{
		Memory:       m.Memory(),
		Pointer:      m.ptr,
		RelativeBase: m.base,
		Inputs:       m.input.values(),
		Outputs:      m.output.values(),
		Status:       m.status,
		Steps:        m.steps,
	}
	if m.err != nil {
		s.Fault = m.err.Error()
	}
	return s
}

// Restore rebuilds a machine from a snapshot. Limits are not part of the
// snapshot and come from opts.
func Restore(s State, opts Options) (*Machine, error) {
	if s.Pointer < 0 {
		return nil, fmt.Errorf("%w: pointer %d", ErrInvalidState, s.Pointer)
	}
	if _, ok := statusNames[s.Status]; !ok {
		return nil, fmt.Errorf("%w: status %d", ErrInvalidState, int(s.Status))
	}
	if opts.MaxMemory > 0 && len(s.Memory) > opts.MaxMemory {
		return nil, fmt.Errorf("%w: %d words, limit %d", ErrMemoryLimit, len(s.Memory), opts.MaxMemory)
	}

	m := NewWithOptions(s.Memory, opts, s.Inputs...)
	m.output.push(s.Outputs...)
	m.ptr = s.Pointer
	m.base = s.RelativeBase
	m.status = s.Status
	m.steps = s.Steps
	if s.Status == StatusFaulted {
		msg := s.Fault
		if msg == "" {
			msg = "unknown fault"
		}
		m.err = fmt.Errorf("%w: %s", ErrFaulted, msg)
	}
	return m, nil
}
