// Package intcode implements the Intcode virtual machine.
//
// A Machine is a word-addressed interpreter with a growable memory, an
// instruction pointer, a relative base register and two FIFO queues for
// input and output. Instructions are variable length: the first word holds
// the opcode in its two low decimal digits and one addressing mode per
// parameter in the digits above.
//
// Machines never block. An input instruction that finds the input queue
// empty suspends the machine without consuming anything; the caller pushes
// more input and calls Run again, which re-executes the same instruction.
// This is what lets several machines be scheduled cooperatively by a driver
// that shuttles outputs of one machine into the inputs of another (see the
// network package).
//
// A Machine is not safe for concurrent use. Machines created from the same
// program image share no state, so separate machines may run on separate
// goroutines without locking.
package intcode

import (
	"errors"
	"fmt"
)

// Errors.
var (
	ErrInvalidOpcode  = errors.New("invalid opcode")
	ErrInvalidMode    = errors.New("invalid parameter mode")
	ErrInvalidAddress = errors.New("invalid address")
	ErrStepLimit      = errors.New("step limit exceeded")
	ErrMemoryLimit    = errors.New("memory limit exceeded")
	ErrFaulted        = errors.New("machine faulted")
)

// Status is the outcome of running a machine.
type Status int

// Machine statuses.
const (
	// StatusRunnable means the machine can execute more instructions.
	StatusRunnable Status = iota
	// StatusSuspended means the machine is waiting on an input instruction.
	StatusSuspended
	// StatusHalted means a halt instruction executed. Terminal.
	StatusHalted
	// StatusFaulted means the machine hit an undecodable instruction or a
	// resource limit. Terminal.
	StatusFaulted
)

var statusNames = map[Status]string{
	StatusRunnable:  "runnable",
	StatusSuspended: "suspended",
	StatusHalted:    "halted",
	StatusFaulted:   "faulted",
}

// String returns the status name.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	for status, name := range statusNames {
		if name == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}

// Terminal reports whether no instruction can execute in this status.
func (s Status) Terminal() bool {
	return s == StatusHalted || s == StatusFaulted
}

// Options configures resource limits. Zero values mean unlimited.
type Options struct {
	// MaxSteps bounds the number of instructions a machine executes over
	// its lifetime.
	MaxSteps uint64

	// MaxMemory bounds memory growth, in words.
	MaxMemory int
}

// Machine is an Intcode interpreter instance.
type Machine struct {
	mem  []int64
	ptr  int64
	base int64

	input  queue
	output queue

	status Status
	err    error
	steps  uint64
	opts   Options
}

// New creates a machine from a copy of image, seeded with inputs in order.
func New(image []int64, inputs ...int64) *Machine {
	return NewWithOptions(image, Options{}, inputs...)
}

// NewWithOptions creates a machine with resource limits.
func NewWithOptions(image []int64, opts Options, inputs ...int64) *Machine {
	mem := make([]int64, len(image))
	copy(mem, image)
	return &Machine{
		mem:    mem,
		input:  newQueue(inputs),
		output: newQueue(nil),
		status: StatusRunnable,
		opts:   opts,
	}
}

// Run executes instructions until the machine halts, suspends for input or
// faults. Running a halted machine is a no-op that reports StatusHalted.
// Running a faulted machine reports the original fault again.
func (m *Machine) Run() (Status, error) {
	for {
		status, err := m.Step()
		if status != StatusRunnable {
			return status, err
		}
	}
}

// RunFor executes at most n instructions. It returns StatusRunnable when the
// slice was used up before the machine halted, suspended or faulted.
func (m *Machine) RunFor(n uint64) (Status, error) {
	for i := uint64(0); i < n; i++ {
		status, err := m.Step()
		if status != StatusRunnable {
			return status, err
		}
	}
	return m.status, m.err
}

// Step executes a single instruction.
func (m *Machine) Step() (Status, error) {
	switch m.status {
	case StatusHalted:
		return StatusHalted, nil
	case StatusFaulted:
		return StatusFaulted, m.err
	}

	if m.opts.MaxSteps > 0 && m.steps >= m.opts.MaxSteps {
		return m.fault(fmt.Errorf("%w: %d instructions", ErrStepLimit, m.steps))
	}

	in, err := Decode(m.read(m.ptr))
	if err != nil {
		return m.fault(fmt.Errorf("at %d: %w", m.ptr, err))
	}

	next := m.ptr + int64(in.Op.Width())

	switch in.Op {
	case OpAdd:
		err = m.store(in, 2, m.load(in, 0)+m.load(in, 1))
	case OpMultiply:
		err = m.store(in, 2, m.load(in, 0)*m.load(in, 1))
	case OpLessThan:
		err = m.store(in, 2, boolWord(m.load(in, 0) < m.load(in, 1)))
	case OpEquals:
		err = m.store(in, 2, boolWord(m.load(in, 0) == m.load(in, 1)))

	case OpInput:
		v, ok := m.input.pop()
		if !ok {
			m.status = StatusSuspended
			return StatusSuspended, nil
		}
		err = m.store(in, 0, v)

	case OpOutput:
		m.output.push(m.load(in, 0))

	case OpJumpIfTrue:
		if m.load(in, 0) != 0 {
			next = m.load(in, 1)
		}
	case OpJumpIfFalse:
		if m.load(in, 0) == 0 {
			next = m.load(in, 1)
		}

	case OpAdjustBase:
		m.base += m.load(in, 0)

	case OpHalt:
		m.steps++
		m.status = StatusHalted
		return StatusHalted, nil
	}

	if err != nil {
		return m.fault(fmt.Errorf("%s at %d: %w", in.Op, m.ptr, err))
	}
	if next < 0 {
		return m.fault(fmt.Errorf("%w: jump to %d from %d", ErrInvalidAddress, next, m.ptr))
	}

	m.ptr = next
	m.steps++
	m.status = StatusRunnable
	return StatusRunnable, nil
}

// addr resolves parameter i of the current instruction to an address.
func (m *Machine) addr(in Instruction, i int) int64 {
	slot := m.ptr + 1 + int64(i)
	switch in.Modes[i] {
	case ModeImmediate:
		return slot
	case ModeRelative:
		return m.read(slot) + m.base
	default:
		return m.read(slot)
	}
}

// load reads parameter i of the current instruction.
func (m *Machine) load(in Instruction, i int) int64 {
	return m.read(m.addr(in, i))
}

// store writes v through parameter i of the current instruction.
func (m *Machine) store(in Instruction, i int, v int64) error {
	return m.write(m.addr(in, i), v)
}

func (m *Machine) fault(err error) (Status, error) {
	m.status = StatusFaulted
	m.err = err
	return StatusFaulted, err
}

func boolWord(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// PushInput appends values to the back of the input queue. A suspended
// machine becomes runnable again.
func (m *Machine) PushInput(values ...int64) {
	m.input.push(values...)
	if m.status == StatusSuspended && len(values) > 0 {
		m.status = StatusRunnable
	}
}

// PopOutput removes and returns the oldest output. ok is false when no
// output is pending.
func (m *Machine) PopOutput() (v int64, ok bool) {
	return m.output.pop()
}

// DrainOutputs removes and returns all pending outputs in production order.
func (m *Machine) DrainOutputs() []int64 {
	return m.output.drain()
}

// PendingInputs returns the number of unconsumed inputs.
func (m *Machine) PendingInputs() int {
	return m.input.len()
}

// PendingOutputs returns the number of undrained outputs.
func (m *Machine) PendingOutputs() int {
	return m.output.len()
}

// Status returns the machine's current status.
func (m *Machine) Status() Status {
	return m.status
}

// Halted reports whether a halt instruction has executed.
func (m *Machine) Halted() bool {
	return m.status == StatusHalted
}

// Err returns the fault that stopped the machine, if any.
func (m *Machine) Err() error {
	return m.err
}

// Pointer returns the address of the next instruction.
func (m *Machine) Pointer() int64 {
	return m.ptr
}

// RelativeBase returns the relative base register.
func (m *Machine) RelativeBase() int64 {
	return m.base
}

// Steps returns the number of instructions executed so far.
func (m *Machine) Steps() uint64 {
	return m.steps
}

// Clone returns an independent copy of the machine, queues and registers
// included.
func (m *Machine) Clone() *Machine {
	c := *m
	c.mem = make([]int64, len(m.mem))
	copy(c.mem, m.mem)
	c.input = newQueue(m.input.values())
	c.output = newQueue(m.output.values())
	return &c
}
