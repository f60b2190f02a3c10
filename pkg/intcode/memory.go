package intcode

import (
	"fmt"
	"math"
)

// maxAddress is the highest address memory can grow to. Larger writes would
// overflow the word count or exceed the largest allocatable slice.
const maxAddress = math.MaxInt/8 - 1

// Memory access methods for the interpreter.
//
// Memory is a flat word array addressed from zero. Reads past the end yield
// zero; writes past the end grow the array with zeros up to and including the
// target. The array never shrinks.

// read returns the word at addr, or zero when addr is past the end.
func (m *Machine) read(addr int64) int64 {
	if addr < 0 || addr >= int64(len(m.mem)) {
		return 0
	}
	return m.mem[addr]
}

// write stores v at addr, growing memory when needed.
func (m *Machine) write(addr int64, v int64) error {
	if addr < 0 || addr > maxAddress {
		return fmt.Errorf("%w: write to %d", ErrInvalidAddress, addr)
	}
	if addr >= int64(len(m.mem)) {
		if err := m.grow(addr + 1); err != nil {
			return err
		}
	}
	m.mem[addr] = v
	return nil
}

// grow extends memory with zeros to size words.
func (m *Machine) grow(size int64) error {
	if m.opts.MaxMemory > 0 && size > int64(m.opts.MaxMemory) {
		return fmt.Errorf("%w: need %d words, limit %d", ErrMemoryLimit, size, m.opts.MaxMemory)
	}
	if size <= int64(cap(m.mem)) {
		m.mem = m.mem[:size]
		return nil
	}
	grown := make([]int64, size, growCap(len(m.mem), size))
	copy(grown, m.mem)
	m.mem = grown
	return nil
}

// growCap doubles capacity so runs of ascending writes stay amortized.
func growCap(current int, need int64) int64 {
	c := int64(current) * 2
	if c < need {
		c = need
	}
	return c
}

// Peek returns the word at addr. Addresses outside memory read as zero.
func (m *Machine) Peek(addr int64) int64 {
	return m.read(addr)
}

// Poke overwrites the word at addr, growing memory as a write would.
// It is meant for patching configuration cells before a run.
func (m *Machine) Poke(addr int64, v int64) error {
	return m.write(addr, v)
}

// Memory returns a copy of the machine's memory.
func (m *Machine) Memory() []int64 {
	out := make([]int64, len(m.mem))
	copy(out, m.mem)
	return out
}

// MemorySize returns the current memory length in words.
func (m *Machine) MemorySize() int {
	return len(m.mem)
}
