package program

import (
	"fmt"
	"strings"
)

// Disassemble renders the program one instruction per line, prefixed with
// the pc in hex. Undefined bytes are shown as data.
func (p *Program) Disassemble() string {
	var sb strings.Builder
	for _, in := range p.Instructions {
		if !in.Op.Defined() {
			fmt.Fprintf(&sb, "%04x: .byte 0x%02x\n", in.PC, byte(in.Op))
			continue
		}
		fmt.Fprintf(&sb, "%04x: %s", in.PC, in.String())
		if in.Truncated {
			sb.WriteString(" (truncated)")
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Disassemble decodes code and renders it.
func Disassemble(code []byte) string {
	return Decode(code).Disassemble()
}
