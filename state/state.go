package state

import (
	"encoding/binary"

	"github.com/colorfulnotion/rvm/common"
	"github.com/colorfulnotion/rvm/types"
	"github.com/holiman/uint256"
)

// Containers groups every mutable part of one VM instance. Instances are
// never shared between VMs.
type Containers struct {
	Stack   *Stack
	Memory  *Memory
	Storage *Storage
	Frame   *CallFrame
}

// Limits bounds the containers.
type Limits struct {
	StackLimit  int
	MemoryLimit uint64
}

func DefaultLimits() Limits {
	return Limits{StackLimit: types.StackLimit, MemoryLimit: types.MemoryLimit}
}

// New builds empty containers for a call with the given gas budget.
func New(limits Limits, call *types.CallContext, gas uint64) *Containers {
	return &Containers{
		Stack:   NewStack(limits.StackLimit),
		Memory:  NewMemory(limits.MemoryLimit),
		Storage: NewStorage(),
		Frame:   NewCallFrame(call, gas),
	}
}

// Snapshot is a deep copy of all containers at one step.
type Snapshot struct {
	Stack     []uint256.Int  `cbor:"1,keyasint"`
	Memory    []byte         `cbor:"2,keyasint"`
	Storage   []StorageEntry `cbor:"3,keyasint"`
	Originals []StorageEntry `cbor:"4,keyasint"`
	Frame     CallFrame      `cbor:"5,keyasint"`
}

// Snapshot copies the live state.
func (c *Containers) Snapshot() *Snapshot {
	return &Snapshot{
		Stack:     c.Stack.Data(),
		Memory:    c.Memory.Data(),
		Storage:   c.Storage.Entries(),
		Originals: c.Storage.originals(),
		Frame:     c.Frame.clone(),
	}
}

// Restore replaces the live state with a copy of s. Memory pages already
// allocated stay allocated.
func (c *Containers) Restore(s *Snapshot) {
	c.Stack.restore(s.Stack)
	c.Memory.restore(s.Memory)
	c.Storage.restore(s.Storage, s.Originals)
	frame := s.Frame.clone()
	*c.Frame = frame
}

// Hash is the keccak256 of a canonical encoding of the live state.
func (c *Containers) Hash() common.Hash {
	return c.Snapshot().Hash()
}

// Hash is the keccak256 of a canonical encoding of s.
func (s *Snapshot) Hash() common.Hash {
	var buf []byte
	u64 := func(v uint64) {
		buf = binary.BigEndian.AppendUint64(buf, v)
	}
	word := func(w *uint256.Int) {
		b := w.Bytes32()
		buf = append(buf, b[:]...)
	}
	blob := func(b []byte) {
		u64(uint64(len(b)))
		buf = append(buf, b...)
	}

	u64(uint64(len(s.Stack)))
	for i := range s.Stack {
		word(&s.Stack[i])
	}
	blob(s.Memory)
	for _, entries := range [][]StorageEntry{s.Storage, s.Originals} {
		u64(uint64(len(entries)))
		for i := range entries {
			word(&entries[i].Key)
			word(&entries[i].Value)
		}
	}

	f := &s.Frame
	u64(f.PC)
	u64(f.Gas)
	u64(f.Refund)
	buf = append(buf, f.Caller[:]...)
	buf = append(buf, f.Address[:]...)
	buf = append(buf, f.Origin[:]...)
	word(&f.Value)
	word(&f.GasPrice)
	word(&f.Balance)
	blob(f.CallData)
	blob(f.ReturnData)
	u64(uint64(len(f.Logs)))
	for _, l := range f.Logs {
		buf = append(buf, l.Address[:]...)
		u64(uint64(len(l.Topics)))
		for _, t := range l.Topics {
			buf = append(buf, t[:]...)
		}
		blob(l.Data)
	}
	return common.Keccak256(buf)
}

// MemoryUsage approximates the bytes held by the snapshot.
func (s *Snapshot) MemoryUsage() int {
	n := len(s.Stack)*32 + len(s.Memory) + (len(s.Storage)+len(s.Originals))*64
	n += len(s.Frame.CallData) + len(s.Frame.ReturnData)
	for _, l := range s.Frame.Logs {
		n += len(l.Topics)*32 + len(l.Data)
	}
	return n
}
