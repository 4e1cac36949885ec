package trace

import (
	"github.com/colorfulnotion/rvm/common"
	"github.com/colorfulnotion/rvm/journal"
	"github.com/colorfulnotion/rvm/program"
	"github.com/colorfulnotion/rvm/state"
)

// StorageChange is one SSTORE seen by a step.
type StorageChange struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// TraceStep is the post-state of one executed instruction.
type TraceStep struct {
	Step    uint64 `json:"step"`
	PC      uint64 `json:"pc"`
	Opcode  uint8  `json:"opcode"`
	OpName  string `json:"opName"`
	GasCost uint64 `json:"gasCost"`
	PostGas uint64 `json:"postGas"`

	PostStack           []string        `json:"postStack,omitempty"`
	PostMemorySize      uint64          `json:"postMemorySize"`
	ChangedMemoryAddr   *uint64         `json:"changedMemoryAddr,omitempty"`
	ChangedMemoryLength *uint64         `json:"changedMemoryLength,omitempty"`
	ChangedMemoryBytes  []byte          `json:"changedMemoryBytes,omitempty"` // if more than 32 bytes changed -> store the hash of the bytes
	ChangedStorage      []StorageChange `json:"changedStorage,omitempty"`
	Refund              uint64          `json:"refund,omitempty"`
	Halt                string          `json:"halt,omitempty"`
	StateHash           *common.Hash    `json:"stateHash,omitempty"`
}

// NewTraceStep describes rec against the containers it produced.
func NewTraceStep(rec *journal.StepRecord, c *state.Containers) *TraceStep {
	ts := &TraceStep{
		Step:           rec.Step,
		PC:             rec.PC,
		Opcode:         rec.Op,
		OpName:         program.OpCode(rec.Op).String(),
		GasCost:        rec.GasCost(),
		PostGas:        rec.GasAfter,
		PostMemorySize: c.Memory.Len(),
		Refund:         c.Frame.Refund,
		Halt:           rec.Halt.String(),
	}
	stack := c.Stack.Data()
	ts.PostStack = make([]string, len(stack))
	for i := range stack {
		ts.PostStack[i] = stack[i].Hex()
	}
	for i := range rec.Deltas {
		d := &rec.Deltas[i]
		switch d.Kind {
		case journal.MemoryWrite:
			ts.SetChangedMemory(d.Index, uint64(len(d.NewBytes)), d.NewBytes)
		case journal.StorageWrite:
			ts.ChangedStorage = append(ts.ChangedStorage, StorageChange{Key: d.Key.Hex(), Value: d.New.Hex()})
		}
	}
	if rec.StateHash != (common.Hash{}) {
		h := rec.StateHash
		ts.StateHash = &h
	}
	return ts
}

func (ts *TraceStep) SetChangedMemory(addr uint64, length uint64, bytes []byte) {
	ts.ChangedMemoryAddr = &addr
	ts.ChangedMemoryLength = &length
	ts.ChangedMemoryBytes = make([]byte, len(bytes))
	copy(ts.ChangedMemoryBytes, bytes)
	if len(ts.ChangedMemoryBytes) == 0 {
		ts.ChangedMemoryBytes = nil
	} else if len(ts.ChangedMemoryBytes) > 32 {
		ts.ChangedMemoryBytes = common.Blake2Hash(ts.ChangedMemoryBytes).Bytes()
	}
}
