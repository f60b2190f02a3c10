package intcode

import (
	"fmt"
)

// Opcode is the low two decimal digits of an instruction word.
type Opcode int64

// Opcodes.
const (
	OpAdd         Opcode = 1  // c = a + b
	OpMultiply    Opcode = 2  // c = a * b
	OpInput       Opcode = 3  // a = next input
	OpOutput      Opcode = 4  // emit a
	OpJumpIfTrue  Opcode = 5  // a != 0 => pointer = b
	OpJumpIfFalse Opcode = 6  // a == 0 => pointer = b
	OpLessThan    Opcode = 7  // c = a < b
	OpEquals      Opcode = 8  // c = a == b
	OpAdjustBase  Opcode = 9  // relative base += a
	OpHalt        Opcode = 99 // stop
)

// Mode selects how a parameter is turned into an address.
type Mode int64

// Parameter modes.
const (
	ModePosition  Mode = 0 // parameter is an address
	ModeImmediate Mode = 1 // parameter slot itself
	ModeRelative  Mode = 2 // parameter + relative base
)

// MaxParams is the widest instruction's parameter count.
const MaxParams = 3

// opInfo describes the shape of an opcode.
type opInfo struct {
	name   string
	params int  // parameter words after the opcode word
	writes bool // last parameter is a write target
}

var opTable = map[Opcode]opInfo{
	OpAdd:         {"add", 3, true},
	OpMultiply:    {"mul", 3, true},
	OpInput:       {"in", 1, true},
	OpOutput:      {"out", 1, false},
	OpJumpIfTrue:  {"jnz", 2, false},
	OpJumpIfFalse: {"jz", 2, false},
	OpLessThan:    {"lt", 3, true},
	OpEquals:      {"eq", 3, true},
	OpAdjustBase:  {"arb", 1, false},
	OpHalt:        {"halt", 0, false},
}

// Valid reports whether op is in the instruction set.
func (op Opcode) Valid() bool {
	_, ok := opTable[op]
	return ok
}

// Params returns the number of parameter words following the opcode word.
func (op Opcode) Params() int {
	return opTable[op].params
}

// Writes reports whether the last parameter is a write target.
func (op Opcode) Writes() bool {
	return opTable[op].writes
}

// Width returns the instruction length in words, opcode word included.
func (op Opcode) Width() int {
	return 1 + op.Params()
}

// String returns the mnemonic.
func (op Opcode) String() string {
	if info, ok := opTable[op]; ok {
		return info.name
	}
	return fmt.Sprintf("op(%d)", int64(op))
}

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModePosition:
		return "position"
	case ModeImmediate:
		return "immediate"
	case ModeRelative:
		return "relative"
	default:
		return fmt.Sprintf("mode(%d)", int64(m))
	}
}

// Instruction is a decoded instruction word.
type Instruction struct {
	Op    Opcode
	Modes [MaxParams]Mode
}

// Decode splits an instruction word into its opcode and parameter modes.
// Only the modes of parameters the opcode actually takes are validated.
func Decode(word int64) (Instruction, error) {
	var in Instruction
	in.Op = Opcode(word % 100)
	if !in.Op.Valid() {
		return in, fmt.Errorf("%w: %d", ErrInvalidOpcode, word)
	}

	digits := word / 100
	for i := 0; i < in.Op.Params(); i++ {
		mode := Mode(digits % 10)
		digits /= 10
		switch mode {
		case ModePosition, ModeImmediate, ModeRelative:
		default:
			return in, fmt.Errorf("%w: %d in word %d (param %d)", ErrInvalidMode, int64(mode), word, i+1)
		}
		in.Modes[i] = mode
	}
	return in, nil
}

// Encode packs an opcode and parameter modes into an instruction word.
func Encode(op Opcode, modes ...Mode) int64 {
	word := int64(op)
	scale := int64(100)
	for _, m := range modes {
		word += int64(m) * scale
		scale *= 10
	}
	return word
}
