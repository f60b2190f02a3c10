package intcode

import (
	"fmt"
	"io"
	"strings"
)

// Line is one entry of a disassembly listing.
type Line struct {
	Addr  int64   `json:"addr"`
	Words []int64 `json:"words"`
	Text  string  `json:"text"`
}

// String formats the line as "addr  text".
func (l Line) String() string {
	return fmt.Sprintf("%04d  %s", l.Addr, l.Text)
}

// Disassemble decodes p from address zero. Words that do not decode, and
// instructions cut short by the end of the image, are listed as data.
// Intcode programs freely mix code and data, so the listing is a best-effort
// linear sweep.
func Disassemble(p Program) []Line {
	var lines []Line
	for addr := 0; addr < len(p); {
		in, err := Decode(p[addr])
		width := in.Op.Width()
		if err != nil || addr+width > len(p) {
			lines = append(lines, Line{
				Addr:  int64(addr),
				Words: []int64{p[addr]},
				Text:  fmt.Sprintf("data %d", p[addr]),
			})
			addr++
			continue
		}

		words := p[addr : addr+width]
		operands := make([]string, 0, in.Op.Params())
		for i := 0; i < in.Op.Params(); i++ {
			operands = append(operands, formatOperand(in.Modes[i], words[1+i]))
		}
		text := in.Op.String()
		if len(operands) > 0 {
			text += " " + strings.Join(operands, ", ")
		}

		lines = append(lines, Line{
			Addr:  int64(addr),
			Words: append([]int64(nil), words...),
			Text:  text,
		})
		addr += width
	}
	return lines
}

// WriteListing writes the disassembly of p to w, one instruction per line.
func WriteListing(w io.Writer, p Program) error {
	for _, line := range Disassemble(p) {
		if _, err := fmt.Fprintln(w, line.String()); err != nil {
			return err
		}
	}
	return nil
}

func formatOperand(mode Mode, v int64) string {
	switch mode {
	case ModeImmediate:
		return fmt.Sprintf("#%d", v)
	case ModeRelative:
		if v < 0 {
			return fmt.Sprintf("[rb%d]", v)
		}
		return fmt.Sprintf("[rb+%d]", v)
	default:
		return fmt.Sprintf("[%d]", v)
	}
}
