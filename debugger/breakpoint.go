package debugger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/colorfulnotion/rvm/config"
	"github.com/colorfulnotion/rvm/journal"
	"github.com/colorfulnotion/rvm/program"
	"github.com/colorfulnotion/rvm/state"
	"github.com/colorfulnotion/rvm/timetravel"
	"github.com/holiman/uint256"
)

// BreakpointID names a breakpoint for the lifetime of a Debugger. IDs start at 1.
type BreakpointID int

// BreakpointKind selects the condition a Breakpoint tests.
type BreakpointKind uint8

const (
	BreakPC       BreakpointKind = iota + 1 // next instruction is at PC
	BreakOpcode                             // next instruction is Op
	BreakStep                               // timeline reached Step
	BreakGasBelow                           // remaining gas < Gas
	BreakStorage                            // last step read or wrote Key
	BreakMemory                             // last step wrote into [Offset, Offset+Length)
	BreakScript                             // JavaScript condition holds
)

var kindPrefixes = map[BreakpointKind]string{
	BreakPC:       "pc",
	BreakOpcode:   "op",
	BreakStep:     "step",
	BreakGasBelow: "gas<",
	BreakStorage:  "storage",
	BreakMemory:   "memory",
	BreakScript:   "js",
}

func (k BreakpointKind) String() string {
	if s, ok := kindPrefixes[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Breakpoint is a stop condition checked after every step of Run and
// RunBackward. Only the fields its Kind names are meaningful.
type Breakpoint struct {
	Kind   BreakpointKind
	PC     uint64
	Op     program.OpCode
	Step   uint64
	Gas    uint64
	Key    uint256.Int
	Offset uint64
	Length uint64
	Script *ScriptCondition
}

func PCBreakpoint(pc uint64) Breakpoint {
	return Breakpoint{Kind: BreakPC, PC: pc}
}

func OpcodeBreakpoint(op program.OpCode) Breakpoint {
	return Breakpoint{Kind: BreakOpcode, Op: op}
}

func StepBreakpoint(step uint64) Breakpoint {
	return Breakpoint{Kind: BreakStep, Step: step}
}

func GasBelowBreakpoint(gas uint64) Breakpoint {
	return Breakpoint{Kind: BreakGasBelow, Gas: gas}
}

func StorageBreakpoint(key *uint256.Int) Breakpoint {
	return Breakpoint{Kind: BreakStorage, Key: *key}
}

func MemoryBreakpoint(offset, length uint64) Breakpoint {
	return Breakpoint{Kind: BreakMemory, Offset: offset, Length: length}
}

// ScriptBreakpoint compiles src and wraps it in a breakpoint.
func ScriptBreakpoint(src string) (Breakpoint, error) {
	cond, err := NewScriptCondition(src)
	if err != nil {
		return Breakpoint{}, err
	}
	return Breakpoint{Kind: BreakScript, Script: cond}, nil
}

// String renders the breakpoint in the form ParseBreakpoint accepts.
func (bp Breakpoint) String() string {
	switch bp.Kind {
	case BreakPC:
		return fmt.Sprintf("pc:%d", bp.PC)
	case BreakOpcode:
		return "op:" + bp.Op.String()
	case BreakStep:
		return fmt.Sprintf("step:%d", bp.Step)
	case BreakGasBelow:
		return fmt.Sprintf("gas<:%d", bp.Gas)
	case BreakStorage:
		return "storage:" + bp.Key.Hex()
	case BreakMemory:
		return fmt.Sprintf("memory:%#x+%d", bp.Offset, bp.Length)
	case BreakScript:
		if bp.Script == nil {
			return "js:"
		}
		return "js:" + bp.Script.Source()
	default:
		return bp.Kind.String()
	}
}

// ParseBreakpoint reads the text forms used by the console and the websocket
// server:
//
//	pc:12  op:SSTORE  step:100  gas<:5000  storage:0x1  memory:0x40+32  js:gas < 100
func ParseBreakpoint(s string) (Breakpoint, error) {
	s = strings.TrimSpace(s)
	kind, arg, ok := strings.Cut(s, ":")
	if !ok {
		return Breakpoint{}, fmt.Errorf("breakpoint %q: want kind:value", s)
	}
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "pc":
		pc, err := parseUint(arg)
		if err != nil {
			return Breakpoint{}, fmt.Errorf("breakpoint %q: %w", s, err)
		}
		return PCBreakpoint(pc), nil
	case "op":
		op, ok := program.StringToOp(strings.ToUpper(arg))
		if !ok {
			return Breakpoint{}, fmt.Errorf("breakpoint %q: unknown opcode %s", s, arg)
		}
		return OpcodeBreakpoint(op), nil
	case "step":
		n, err := parseUint(arg)
		if err != nil {
			return Breakpoint{}, fmt.Errorf("breakpoint %q: %w", s, err)
		}
		return StepBreakpoint(n), nil
	case "gas<":
		g, err := parseUint(arg)
		if err != nil {
			return Breakpoint{}, fmt.Errorf("breakpoint %q: %w", s, err)
		}
		return GasBelowBreakpoint(g), nil
	case "storage":
		key, err := config.ParseWord(arg)
		if err != nil {
			return Breakpoint{}, fmt.Errorf("breakpoint %q: %w", s, err)
		}
		return StorageBreakpoint(key), nil
	case "memory":
		off, length, ok := strings.Cut(arg, "+")
		if !ok {
			return Breakpoint{}, fmt.Errorf("breakpoint %q: want memory:offset+length", s)
		}
		o, err := parseUint(off)
		if err != nil {
			return Breakpoint{}, fmt.Errorf("breakpoint %q: %w", s, err)
		}
		n, err := parseUint(length)
		if err != nil {
			return Breakpoint{}, fmt.Errorf("breakpoint %q: %w", s, err)
		}
		if n == 0 {
			return Breakpoint{}, fmt.Errorf("breakpoint %q: empty memory range", s)
		}
		return MemoryBreakpoint(o, n), nil
	case "js":
		return ScriptBreakpoint(arg)
	default:
		return Breakpoint{}, fmt.Errorf("breakpoint %q: unknown kind %s", s, kind)
	}
}

// parseUint accepts decimal or 0x-prefixed hex.
func parseUint(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(s), 0, 64)
}

// matches tests every kind except BreakScript against the position reached.
func (bp *Breakpoint) matches(pos timetravel.Position) bool {
	switch bp.Kind {
	case BreakPC:
		return pos.PC == bp.PC
	case BreakOpcode:
		return pos.Op == bp.Op
	case BreakStep:
		return pos.Step == bp.Step
	case BreakGasBelow:
		return pos.Gas < bp.Gas
	case BreakStorage:
		return touchesKey(pos.Last, &bp.Key)
	case BreakMemory:
		return writesRange(pos.Last, bp.Offset, bp.Length)
	}
	return false
}

func (bp *Breakpoint) evaluate(pos timetravel.Position, c *state.Containers) (bool, error) {
	if bp.Kind == BreakScript {
		if bp.Script == nil {
			return false, nil
		}
		return bp.Script.Eval(pos, c)
	}
	return bp.matches(pos), nil
}

// touchesKey reports an SSTORE to key, or an SLOAD whose popped operand was key.
func touchesKey(rec *journal.StepRecord, key *uint256.Int) bool {
	if rec == nil {
		return false
	}
	for i := range rec.Deltas {
		d := &rec.Deltas[i]
		switch {
		case d.Kind == journal.StorageWrite && d.Key.Eq(key):
			return true
		case program.OpCode(rec.Op) == program.SLOAD && d.Kind == journal.StackPop && d.Prev.Eq(key):
			return true
		}
	}
	return false
}

func writesRange(rec *journal.StepRecord, offset, length uint64) bool {
	if rec == nil {
		return false
	}
	end := offset + length
	for i := range rec.Deltas {
		d := &rec.Deltas[i]
		if d.Kind != journal.MemoryWrite || len(d.NewBytes) == 0 {
			continue
		}
		if d.Index < end && offset < d.Index+uint64(len(d.NewBytes)) {
			return true
		}
	}
	return false
}
