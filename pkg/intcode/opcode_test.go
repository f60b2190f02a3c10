package intcode

import (
	"errors"
	"testing"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		word  int64
		op    Opcode
		modes [MaxParams]Mode
	}{
		{1, OpAdd, [MaxParams]Mode{}},
		{1002, OpMultiply, [MaxParams]Mode{ModePosition, ModeImmediate, ModePosition}},
		{21101, OpAdd, [MaxParams]Mode{ModeImmediate, ModeImmediate, ModeRelative}},
		{203, OpInput, [MaxParams]Mode{ModeRelative}},
		{104, OpOutput, [MaxParams]Mode{ModeImmediate}},
		{1105, OpJumpIfTrue, [MaxParams]Mode{ModeImmediate, ModeImmediate}},
		{109, OpAdjustBase, [MaxParams]Mode{ModeImmediate}},
		{99, OpHalt, [MaxParams]Mode{}},
		// Digits above the last parameter are ignored.
		{99099, OpHalt, [MaxParams]Mode{}},
	}

	for _, tt := range tests {
		in, err := Decode(tt.word)
		if err != nil {
			t.Errorf("Decode(%d) error = %v", tt.word, err)
			continue
		}
		if in.Op != tt.op {
			t.Errorf("Decode(%d).Op = %v, want %v", tt.word, in.Op, tt.op)
		}
		if in.Modes != tt.modes {
			t.Errorf("Decode(%d).Modes = %v, want %v", tt.word, in.Modes, tt.modes)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		word int64
		want error
	}{
		{0, ErrInvalidOpcode},
		{42, ErrInvalidOpcode},
		{-1, ErrInvalidOpcode},
		{98, ErrInvalidOpcode},
		{301, ErrInvalidMode},
		{10901, ErrInvalidMode},
		{504, ErrInvalidMode},
	}

	for _, tt := range tests {
		if _, err := Decode(tt.word); !errors.Is(err, tt.want) {
			t.Errorf("Decode(%d) error = %v, want %v", tt.word, err, tt.want)
		}
	}
}

func TestEncode(t *testing.T) {
	tests := []struct {
		op    Opcode
		modes []Mode
		want  int64
	}{
		{OpMultiply, []Mode{ModePosition, ModeImmediate}, 1002},
		{OpAdd, []Mode{ModeImmediate, ModeImmediate, ModeRelative}, 21101},
		{OpOutput, []Mode{ModeRelative}, 204},
		{OpHalt, nil, 99},
	}

	for _, tt := range tests {
		if got := Encode(tt.op, tt.modes...); got != tt.want {
			t.Errorf("Encode(%v, %v) = %d, want %d", tt.op, tt.modes, got, tt.want)
		}
		in, err := Decode(tt.want)
		if err != nil || in.Op != tt.op {
			t.Errorf("Decode(%d) = %v, %v", tt.want, in, err)
		}
	}
}

func TestOpcodeShape(t *testing.T) {
	tests := []struct {
		op     Opcode
		width  int
		writes bool
		name   string
	}{
		{OpAdd, 4, true, "add"},
		{OpMultiply, 4, true, "mul"},
		{OpInput, 2, true, "in"},
		{OpOutput, 2, false, "out"},
		{OpJumpIfTrue, 3, false, "jnz"},
		{OpJumpIfFalse, 3, false, "jz"},
		{OpLessThan, 4, true, "lt"},
		{OpEquals, 4, true, "eq"},
		{OpAdjustBase, 2, false, "arb"},
		{OpHalt, 1, false, "halt"},
	}

	for _, tt := range tests {
		if got := tt.op.Width(); got != tt.width {
			t.Errorf("%v.Width() = %d, want %d", tt.op, got, tt.width)
		}
		if got := tt.op.Writes(); got != tt.writes {
			t.Errorf("%v.Writes() = %v, want %v", tt.op, got, tt.writes)
		}
		if got := tt.op.String(); got != tt.name {
			t.Errorf("String() = %q, want %q", got, tt.name)
		}
	}

	if Opcode(42).Valid() {
		t.Error("Opcode(42).Valid() = true")
	}
	if got := Opcode(42).String(); got != "op(42)" {
		t.Errorf("Opcode(42).String() = %q", got)
	}
}
