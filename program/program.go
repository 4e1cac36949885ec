package program

import (
	"fmt"
	"strings"

	"github.com/colorfulnotion/rvm/common"
)

// K bitmask flags, one entry per code byte.
const (
	kInstruction byte = 1 << iota // an instruction starts here
	kBlockStart                   // a basic block starts here
	kJumpDest                     // a JUMPDEST instruction starts here
)

// Instruction is one decoded instruction.
type Instruction struct {
	PC        uint64
	Op        OpCode
	Immediate []byte // always ImmediateSize() bytes; missing trailing bytes read as zero
	Truncated bool   // the immediate ran past the end of the code
}

// Size is the number of code bytes the instruction covers, including any
// immediate bytes that lie beyond the end of the code.
func (in *Instruction) Size() uint64 {
	return 1 + uint64(in.Op.ImmediateSize())
}

// Next is the pc of the following instruction.
func (in *Instruction) Next() uint64 {
	return in.PC + in.Size()
}

func (in Instruction) String() string {
	if len(in.Immediate) == 0 {
		return in.Op.String()
	}
	return fmt.Sprintf("%s %s", in.Op, common.Bytes2Hex(in.Immediate))
}

// Program is bytecode decoded into instruction boundaries.
type Program struct {
	Code         []byte
	K            []byte
	Instructions []Instruction
	index        []int32 // pc -> position in Instructions, -1 inside an immediate
}

// Decode walks code once, recording where every instruction starts so that
// execution and navigation always land on instruction boundaries.
func Decode(code []byte) *Program {
	p := &Program{
		Code:  code,
		K:     make([]byte, len(code)),
		index: make([]int32, len(code)),
	}
	for i := range p.index {
		p.index[i] = -1
	}

	blockStart := true
	for pc := uint64(0); pc < uint64(len(code)); {
		op := OpCode(code[pc])
		in := Instruction{PC: pc, Op: op}
		if n := op.ImmediateSize(); n > 0 {
			in.Immediate = make([]byte, n)
			end := pc + 1 + uint64(n)
			if end > uint64(len(code)) {
				end = uint64(len(code))
				in.Truncated = true
			}
			copy(in.Immediate, code[pc+1:end])
		}

		p.K[pc] |= kInstruction
		if op == JUMPDEST {
			p.K[pc] |= kJumpDest
			blockStart = true
		}
		if blockStart {
			p.K[pc] |= kBlockStart
		}
		blockStart = op.EndsBlock()

		p.index[pc] = int32(len(p.Instructions))
		p.Instructions = append(p.Instructions, in)
		pc = in.Next()
	}
	return p
}

// DecodeHex decodes a hex string, with or without 0x, into a Program.
func DecodeHex(s string) (*Program, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Decode(nil), nil
	}
	code := common.FromHex(s)
	if len(code) == 0 {
		return nil, fmt.Errorf("invalid bytecode hex %q", s)
	}
	return Decode(code), nil
}

// Len is the code size in bytes.
func (p *Program) Len() uint64 {
	return uint64(len(p.Code))
}

// At returns the instruction starting at pc. ok is false when pc is past the
// end of the code or points into a push immediate.
func (p *Program) At(pc uint64) (Instruction, bool) {
	if pc >= uint64(len(p.index)) {
		return Instruction{}, false
	}
	i := p.index[pc]
	if i < 0 {
		return Instruction{}, false
	}
	return p.Instructions[i], true
}

// IsInstructionStart reports whether pc is an instruction boundary.
func (p *Program) IsInstructionStart(pc uint64) bool {
	return pc < uint64(len(p.K)) && p.K[pc]&kInstruction != 0
}

// IsJumpDest reports whether pc is a valid jump destination: a JUMPDEST
// byte that is not part of a push immediate.
func (p *Program) IsJumpDest(pc uint64) bool {
	return pc < uint64(len(p.K)) && p.K[pc]&kJumpDest != 0
}
