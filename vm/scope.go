package vm

import (
	"github.com/colorfulnotion/rvm/common"
	"github.com/colorfulnotion/rvm/journal"
	"github.com/colorfulnotion/rvm/program"
	"github.com/colorfulnotion/rvm/state"
	"github.com/colorfulnotion/rvm/types"
	"github.com/holiman/uint256"
)

// scope is the execution scope of one instruction. Every container mutation
// goes through it so the batch records the previous and new value of each
// location it touches.
type scope struct {
	exec   *Executor
	c      *state.Containers
	instr  program.Instruction
	deltas []journal.Delta

	jumped bool
	halt   types.HaltReason
}

func (s *scope) record(d journal.Delta) {
	s.deltas = append(s.deltas, d)
}

// pop removes the top word. Stack depth is validated before execute runs.
func (s *scope) pop() uint256.Int {
	v, _ := s.c.Stack.Pop()
	s.record(journal.Delta{Kind: journal.StackPop, Prev: v})
	return v
}

func (s *scope) push(v *uint256.Int) {
	_ = s.c.Stack.Push(v)
	s.record(journal.Delta{Kind: journal.StackPush, New: *v})
}

func (s *scope) peek(n int) *uint256.Int {
	return s.c.Stack.Back(n)
}

// set overwrites the n'th item from the top in place.
func (s *scope) set(n int, v *uint256.Int) {
	prev := *s.c.Stack.Back(n)
	s.c.Stack.Set(n, v)
	s.record(journal.Delta{Kind: journal.StackSet, Index: uint64(n), Prev: prev, New: *v})
}

// growMemory raises the logical memory size to size. It never shrinks.
func (s *scope) growMemory(size uint64) error {
	prev := s.c.Memory.Len()
	if size <= prev {
		return nil
	}
	if err := s.c.Memory.SetLen(size); err != nil {
		return err
	}
	s.record(journal.Delta{Kind: journal.MemoryGrow, PrevSize: prev, NewSize: size})
	return nil
}

func (s *scope) writeMemory(offset uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	prev := s.c.Memory.Read(offset, uint64(len(data)))
	if err := s.c.Memory.Write(offset, data); err != nil {
		return err
	}
	s.record(journal.Delta{
		Kind:      journal.MemoryWrite,
		Index:     offset,
		PrevBytes: prev,
		NewBytes:  append([]byte(nil), data...),
	})
	return nil
}

func (s *scope) readMemory(offset, size uint64) []byte {
	return s.c.Memory.Read(offset, size)
}

func (s *scope) sstore(key, value *uint256.Int) {
	prev, first := s.c.Storage.Set(key, value)
	s.record(journal.Delta{Kind: journal.StorageWrite, Key: *key, Prev: prev, New: *value, FirstWrite: first})
}

func (s *scope) setGas(gas uint64) {
	f := s.c.Frame
	s.record(journal.Delta{Kind: journal.Gas, PrevSize: f.Gas, NewSize: gas})
	f.Gas = gas
}

func (s *scope) setRefund(refund uint64) {
	f := s.c.Frame
	if refund == f.Refund {
		return
	}
	s.record(journal.Delta{Kind: journal.Refund, PrevSize: f.Refund, NewSize: refund})
	f.Refund = refund
}

func (s *scope) setPC(pc uint64) {
	f := s.c.Frame
	s.record(journal.Delta{Kind: journal.PC, PrevSize: f.PC, NewSize: pc})
	f.PC = pc
}

func (s *scope) setReturnData(data []byte) {
	f := s.c.Frame
	s.record(journal.Delta{
		Kind:      journal.ReturnData,
		PrevBytes: append([]byte(nil), f.ReturnData...),
		NewBytes:  append([]byte(nil), data...),
	})
	f.ReturnData = append([]byte(nil), data...)
}

func (s *scope) appendLog(l state.Log) {
	f := s.c.Frame
	f.Logs = append(f.Logs, l)
	rec := state.Log{
		Address: l.Address,
		Topics:  append([]common.Hash(nil), l.Topics...),
		Data:    append([]byte(nil), l.Data...),
	}
	s.record(journal.Delta{Kind: journal.LogAppend, Log: &rec})
}

func (s *scope) jump(dest uint64) {
	s.setPC(dest)
	s.jumped = true
}
