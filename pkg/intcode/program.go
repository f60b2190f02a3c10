package intcode

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Program errors.
var (
	ErrEmptyProgram = errors.New("empty program")
	ErrParse        = errors.New("malformed program source")
	ErrTooLarge     = errors.New("program source too large")
)

// MaxSourceSize bounds the length of a program source line.
const MaxSourceSize = 16 * 1024 * 1024 // 16 MB

// Program is an Intcode program image.
type Program []int64

// Parse reads a program from its textual form: signed decimal integers
// separated by commas, with optional whitespace around each token.
func Parse(src string) (Program, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, ErrEmptyProgram
	}

	fields := strings.Split(src, ",")
	prog := make(Program, 0, len(fields))
	for i, field := range fields {
		tok := strings.TrimSpace(field)
		v, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: token %d %q", ErrParse, i, tok)
		}
		prog = append(prog, v)
	}
	return prog, nil
}

// ParseReader parses the first line read from r. Anything after the first
// newline is ignored.
func ParseReader(r io.Reader) (Program, error) {
	br := bufio.NewReader(io.LimitReader(r, MaxSourceSize+1))
	line, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read program: %w", err)
	}
	if len(strings.TrimRight(line, "\r\n")) > MaxSourceSize {
		return nil, ErrTooLarge
	}
	return Parse(line)
}

// MustParse is like Parse but panics on error. It is intended for tests and
// program literals.
func MustParse(src string) Program {
	p, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return p
}

// Clone returns a copy of the image.
func (p Program) Clone() Program {
	if p == nil {
		return nil
	}
	c := make(Program, len(p))
	copy(c, p)
	return c
}

// String returns the canonical comma-separated form.
func (p Program) String() string {
	var b strings.Builder
	for i, v := range p {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(v, 10))
	}
	return b.String()
}

// New creates a machine running the program.
func (p Program) New(inputs ...int64) *Machine {
	return New(p, inputs...)
}
