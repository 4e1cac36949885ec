package vm

import (
	"errors"
	"fmt"

	"github.com/colorfulnotion/rvm/common"
	"github.com/colorfulnotion/rvm/journal"
	"github.com/colorfulnotion/rvm/log"
	"github.com/colorfulnotion/rvm/program"
	"github.com/colorfulnotion/rvm/rvmerrors"
	"github.com/colorfulnotion/rvm/state"
	"github.com/colorfulnotion/rvm/types"
)

var errGasUintOverflow = errors.New("gas uint64 overflow")

// Executor runs one instruction at a time against a set of containers and
// returns the delta batch describing every mutation it made. It holds no
// execution state of its own: the containers are the whole state.
type Executor struct {
	program *program.Program
	table   *JumpTable
	block   types.BlockContext
}

// NewExecutor binds a decoded program and block context to a jump table
// sized for stackLimit.
func NewExecutor(prog *program.Program, stackLimit int, block types.BlockContext) *Executor {
	return &Executor{
		program: prog,
		table:   NewJumpTable(stackLimit),
		block:   block,
	}
}

func (e *Executor) Program() *program.Program {
	return e.program
}

func (e *Executor) BlockContext() types.BlockContext {
	return e.block
}

// SetBlockContext replaces the block values seen by later instructions.
func (e *Executor) SetBlockContext(bc types.BlockContext) {
	e.block = bc
}

// Forward executes the instruction at the current pc as step and returns its
// batch. On any error the containers are exactly as they were on entry.
// Running past the end of the code is an implicit STOP.
func (e *Executor) Forward(c *state.Containers, step uint64) (*journal.StepRecord, error) {
	f := c.Frame
	pc := f.PC
	rec := &journal.StepRecord{
		Step:      step,
		PC:        pc,
		GasBefore: f.Gas,
		GasAfter:  f.Gas,
	}

	instr, ok := e.program.At(pc)
	if !ok {
		if pc < e.program.Len() {
			return nil, rvmerrors.NewFault(rvmerrors.ErrInvariantViolation, step, pc, "", "pc inside an instruction immediate")
		}
		rec.Op = byte(program.STOP)
		rec.Halt = types.HaltEndOfCode
		log.Trace(log.VM, "End of code", "step", step, "pc", pc)
		return rec, nil
	}
	rec.Op = byte(instr.Op)
	name := instr.Op.String()

	fault := func(kind error, format string, args ...interface{}) error {
		return rvmerrors.NewFault(kind, step, pc, name, format, args...)
	}

	operation := e.table[instr.Op]
	if operation == nil {
		return nil, fault(rvmerrors.ErrInvalidOpcode, "byte 0x%02x", byte(instr.Op))
	}

	if sLen := c.Stack.Len(); sLen < operation.minStack {
		return nil, fault(rvmerrors.ErrStackUnderflow, "stack %d, need %d", sLen, operation.minStack)
	} else if sLen > operation.maxStack {
		return nil, fault(rvmerrors.ErrStackOverflow, "stack %d, limit %d", sLen, c.Stack.Limit())
	}

	if f.Gas < operation.constantGas {
		return nil, fault(rvmerrors.ErrOutOfGas, "need %d, have %d", operation.constantGas, f.Gas)
	}
	cost := operation.constantGas

	var memorySize uint64
	if operation.memorySize != nil {
		size, overflow := operation.memorySize(c.Stack)
		if overflow {
			return nil, fault(rvmerrors.ErrMemoryOutOfBounds, "memory offset overflows 64 bits")
		}
		if err := c.Memory.CheckBounds(0, size); err != nil {
			return nil, fault(rvmerrors.ErrMemoryOutOfBounds, "%v", err)
		}
		memorySize = common.CeilWords(size) * 32
		if memorySize > c.Memory.Limit() {
			return nil, fault(rvmerrors.ErrMemoryOutOfBounds, "memory size %d limit %d", memorySize, c.Memory.Limit())
		}
	}

	s := &scope{exec: e, c: c, instr: instr}
	if operation.dynamicGas != nil {
		dynamicCost, err := operation.dynamicGas(s, memorySize)
		if err != nil {
			return nil, fault(rvmerrors.ErrOutOfGas, "%v", err)
		}
		var overflow bool
		if cost, overflow = safeAdd(cost, dynamicCost); overflow || f.Gas < cost {
			return nil, fault(rvmerrors.ErrOutOfGas, "need %d, have %d", cost, f.Gas)
		}
	}

	s.setGas(f.Gas - cost)
	if err := s.growMemory(memorySize); err != nil {
		e.rollback(s, c)
		return nil, fault(rvmerrors.ErrMemoryOutOfBounds, "%v", err)
	}
	if err := operation.execute(s); err != nil {
		e.rollback(s, c)
		if _, ok := rvmerrors.AsFault(err); ok {
			return nil, err
		}
		kind := rvmerrors.ErrInvariantViolation
		for _, k := range []error{rvmerrors.ErrInvalidJump, rvmerrors.ErrMemoryOutOfBounds} {
			if errors.Is(err, k) {
				kind = k
			}
		}
		return nil, fault(kind, "%s", trimKind(err, kind))
	}
	switch {
	case operation.halts:
	case operation.jumps && s.jumped:
	default:
		s.setPC(instr.Next())
	}

	rec.GasAfter = f.Gas
	rec.Deltas = s.deltas
	rec.Halt = s.halt

	log.Trace(log.VM, name,
		"step", step,
		"pc", pc,
		"gas", cost,
		"deltas", len(rec.Deltas),
		"stack", c.Stack.Len())
	return rec, nil
}

// rollback undoes the partial batch of a faulting instruction.
func (e *Executor) rollback(s *scope, c *state.Containers) {
	partial := &journal.StepRecord{Deltas: s.deltas}
	if err := Invert(partial, c); err != nil {
		log.Error(log.VM, "Rollback failed", "pc", s.instr.PC, "err", err)
	}
}

// trimKind drops the sentinel text from a wrapped error so the fault reason
// only carries the detail.
func trimKind(err, kind error) string {
	msg := err.Error()
	prefix := kind.Error() + ": "
	if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
		return msg[len(prefix):]
	}
	return msg
}

// Invert applies the previous value of every delta in rec in reverse order,
// turning the post-state of rec back into its pre-state. Allocated memory
// pages are kept.
func Invert(rec *journal.StepRecord, c *state.Containers) error {
	for i := len(rec.Deltas) - 1; i >= 0; i-- {
		if err := invertDelta(&rec.Deltas[i], c); err != nil {
			return fmt.Errorf("invert step %d delta %d (%s): %w", rec.Step, i, rec.Deltas[i].Kind, err)
		}
	}
	return nil
}

// Redo applies the new value of every delta in rec in order, turning the
// pre-state of rec into its post-state without executing the instruction.
func Redo(rec *journal.StepRecord, c *state.Containers) error {
	for i := range rec.Deltas {
		if err := redoDelta(&rec.Deltas[i], c); err != nil {
			return fmt.Errorf("redo step %d delta %d (%s): %w", rec.Step, i, rec.Deltas[i].Kind, err)
		}
	}
	return nil
}

func invertDelta(d *journal.Delta, c *state.Containers) error {
	f := c.Frame
	switch d.Kind {
	case journal.StackPush:
		v, err := c.Stack.Pop()
		if err != nil {
			return err
		}
		if !v.Eq(&d.New) {
			return fmt.Errorf("%w: popped %s, recorded %s", rvmerrors.ErrInvariantViolation, v.Hex(), d.New.Hex())
		}
	case journal.StackPop:
		prev := d.Prev
		return c.Stack.Push(&prev)
	case journal.StackSet:
		if err := checkDepth(c.Stack, d.Index); err != nil {
			return err
		}
		prev := d.Prev
		c.Stack.Set(int(d.Index), &prev)
	case journal.MemoryGrow:
		return c.Memory.SetLen(d.PrevSize)
	case journal.MemoryWrite:
		return c.Memory.Write(d.Index, d.PrevBytes)
	case journal.StorageWrite:
		key, prev := d.Key, d.Prev
		c.Storage.Revert(&key, &prev, d.FirstWrite)
	case journal.PC:
		f.PC = d.PrevSize
	case journal.Gas:
		f.Gas = d.PrevSize
	case journal.Refund:
		f.Refund = d.PrevSize
	case journal.ReturnData:
		f.ReturnData = append([]byte(nil), d.PrevBytes...)
	case journal.LogAppend:
		if len(f.Logs) == 0 {
			return fmt.Errorf("%w: no log to remove", rvmerrors.ErrInvariantViolation)
		}
		f.Logs = f.Logs[:len(f.Logs)-1]
	default:
		return fmt.Errorf("%w: unknown delta kind %d", rvmerrors.ErrInvariantViolation, d.Kind)
	}
	return nil
}

func redoDelta(d *journal.Delta, c *state.Containers) error {
	f := c.Frame
	switch d.Kind {
	case journal.StackPush:
		v := d.New
		return c.Stack.Push(&v)
	case journal.StackPop:
		v, err := c.Stack.Pop()
		if err != nil {
			return err
		}
		if !v.Eq(&d.Prev) {
			return fmt.Errorf("%w: popped %s, recorded %s", rvmerrors.ErrInvariantViolation, v.Hex(), d.Prev.Hex())
		}
	case journal.StackSet:
		if err := checkDepth(c.Stack, d.Index); err != nil {
			return err
		}
		v := d.New
		c.Stack.Set(int(d.Index), &v)
	case journal.MemoryGrow:
		return c.Memory.SetLen(d.NewSize)
	case journal.MemoryWrite:
		return c.Memory.Write(d.Index, d.NewBytes)
	case journal.StorageWrite:
		key, v := d.Key, d.New
		c.Storage.Set(&key, &v)
	case journal.PC:
		f.PC = d.NewSize
	case journal.Gas:
		f.Gas = d.NewSize
	case journal.Refund:
		f.Refund = d.NewSize
	case journal.ReturnData:
		f.ReturnData = append([]byte(nil), d.NewBytes...)
	case journal.LogAppend:
		f.Logs = append(f.Logs, state.Log{
			Address: d.Log.Address,
			Topics:  append([]common.Hash(nil), d.Log.Topics...),
			Data:    append([]byte(nil), d.Log.Data...),
		})
	default:
		return fmt.Errorf("%w: unknown delta kind %d", rvmerrors.ErrInvariantViolation, d.Kind)
	}
	return nil
}

func checkDepth(st *state.Stack, n uint64) error {
	if n >= uint64(st.Len()) {
		return fmt.Errorf("%w: stack item %d of %d", rvmerrors.ErrInvariantViolation, n, st.Len())
	}
	return nil
}
