package intcode

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		src  string
		want Program
	}{
		{"1,0,0,0,99", Program{1, 0, 0, 0, 99}},
		{" 1, -2 ,3 \n", Program{1, -2, 3}},
		{"99", Program{99}},
		{"+5,-9223372036854775808,9223372036854775807", Program{5, -9223372036854775808, 9223372036854775807}},
	}

	for _, tt := range tests {
		got, err := Parse(tt.src)
		if err != nil {
			t.Errorf("Parse(%q) error = %v", tt.src, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Parse(%q) = %v, want %v", tt.src, got, tt.want)
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		src  string
		want error
	}{
		{"", ErrEmptyProgram},
		{"  \n", ErrEmptyProgram},
		{"1,,2", ErrParse},
		{"1,a,2", ErrParse},
		{"1,2,", ErrParse},
		{"1.5", ErrParse},
		{"1 2", ErrParse},
		{"9223372036854775808", ErrParse},
	}

	for _, tt := range tests {
		if _, err := Parse(tt.src); !errors.Is(err, tt.want) {
			t.Errorf("Parse(%q) error = %v, want %v", tt.src, err, tt.want)
		}
	}
}

func TestParseReader(t *testing.T) {
	got, err := ParseReader(strings.NewReader("1,2,3\n4,5,6\n"))
	if err != nil {
		t.Fatalf("ParseReader() error = %v", err)
	}
	if !reflect.DeepEqual(got, Program{1, 2, 3}) {
		t.Errorf("ParseReader() = %v, want [1 2 3]", got)
	}

	got, err = ParseReader(strings.NewReader("7,8"))
	if err != nil {
		t.Fatalf("ParseReader() without newline error = %v", err)
	}
	if !reflect.DeepEqual(got, Program{7, 8}) {
		t.Errorf("ParseReader() = %v, want [7 8]", got)
	}

	if _, err := ParseReader(strings.NewReader("")); !errors.Is(err, ErrEmptyProgram) {
		t.Errorf("ParseReader(empty) error = %v, want ErrEmptyProgram", err)
	}
}

func TestProgramString(t *testing.T) {
	src := "109,1,204,-1,1001,100,1,100,1008,100,16,101,1006,101,0,99"
	if got := MustParse(src).String(); got != src {
		t.Errorf("String() = %s, want %s", got, src)
	}
	if got := (Program{}).String(); got != "" {
		t.Errorf("empty String() = %q", got)
	}
}

func TestProgramClone(t *testing.T) {
	p := Program{1, 2, 3}
	c := p.Clone()
	c[0] = 9
	if p[0] != 1 {
		t.Errorf("Clone() shares storage: p[0] = %d", p[0])
	}
	if Program(nil).Clone() != nil {
		t.Error("nil Clone() != nil")
	}
}

func TestMustParsePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustParse(bad) did not panic")
		}
	}()
	MustParse("x")
}

func TestDisassemble(t *testing.T) {
	lines := Disassemble(MustParse("1002,4,3,4,33"))
	want := []string{
		"0000  mul [4], #3, [4]",
		"0004  data 33",
	}
	if len(lines) != len(want) {
		t.Fatalf("Disassemble() = %d lines, want %d", len(lines), len(want))
	}
	for i, l := range lines {
		if l.String() != want[i] {
			t.Errorf("line %d = %q, want %q", i, l.String(), want[i])
		}
	}

	var buf bytes.Buffer
	if err := WriteListing(&buf, MustParse("109,-1,204,-1,21101,1,2,3,99")); err != nil {
		t.Fatalf("WriteListing() error = %v", err)
	}
	wantListing := "0000  arb #-1\n" +
		"0002  out [rb-1]\n" +
		"0004  add #1, #2, [rb+3]\n" +
		"0008  halt\n"
	if buf.String() != wantListing {
		t.Errorf("WriteListing() =\n%s\nwant\n%s", buf.String(), wantListing)
	}
}

func TestDisassembleTruncated(t *testing.T) {
	// An add with only two parameters left in the image.
	lines := Disassemble(Program{1, 2, 3})
	if len(lines) != 3 {
		t.Fatalf("Disassemble() = %d lines, want 3", len(lines))
	}
	for _, l := range lines {
		if !strings.HasPrefix(l.Text, "data ") {
			t.Errorf("line %q, want data", l.String())
		}
	}
}
