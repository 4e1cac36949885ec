package journal

import (
	"fmt"

	"github.com/colorfulnotion/rvm/common"
	"github.com/colorfulnotion/rvm/state"
	"github.com/colorfulnotion/rvm/types"
	"github.com/holiman/uint256"
)

// Kind tags the container location a Delta mutates.
type Kind uint8

const (
	StackPush   Kind = iota + 1 // New pushed
	StackPop                    // Prev popped
	StackSet                    // item Index from the top, Prev -> New
	MemoryGrow                  // logical size PrevSize -> NewSize
	MemoryWrite                 // bytes at Index, PrevBytes -> NewBytes
	StorageWrite                // Key, Prev -> New; FirstWrite records the original
	PC                          // PrevSize -> NewSize hold the pc
	Gas                         // PrevSize -> NewSize hold the gas
	Refund                      // PrevSize -> NewSize hold the refund counter
	ReturnData                  // PrevBytes -> NewBytes
	LogAppend                   // Log appended
)

var kindNames = map[Kind]string{
	StackPush: "stack_push", StackPop: "stack_pop", StackSet: "stack_set",
	MemoryGrow: "memory_grow", MemoryWrite: "memory_write", StorageWrite: "storage_write",
	PC: "pc", Gas: "gas", Refund: "refund", ReturnData: "return_data", LogAppend: "log",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Delta is one atomic, invertible container mutation. Only the fields its
// Kind names are meaningful.
type Delta struct {
	Kind       Kind        `cbor:"1,keyasint"`
	Index      uint64      `cbor:"2,keyasint,omitempty"`
	Key        uint256.Int `cbor:"3,keyasint,omitempty"`
	Prev       uint256.Int `cbor:"4,keyasint,omitempty"`
	New        uint256.Int `cbor:"5,keyasint,omitempty"`
	PrevSize   uint64      `cbor:"6,keyasint,omitempty"`
	NewSize    uint64      `cbor:"7,keyasint,omitempty"`
	PrevBytes  []byte      `cbor:"8,keyasint,omitempty"`
	NewBytes   []byte      `cbor:"9,keyasint,omitempty"`
	FirstWrite bool        `cbor:"10,keyasint,omitempty"`
	Log        *state.Log  `cbor:"11,keyasint,omitempty"`
}

func (d *Delta) String() string {
	switch d.Kind {
	case StackPush:
		return fmt.Sprintf("%s %s", d.Kind, d.New.Hex())
	case StackPop:
		return fmt.Sprintf("%s %s", d.Kind, d.Prev.Hex())
	case StackSet:
		return fmt.Sprintf("%s [%d] %s -> %s", d.Kind, d.Index, d.Prev.Hex(), d.New.Hex())
	case MemoryWrite:
		return fmt.Sprintf("%s @%d %s -> %s", d.Kind, d.Index, common.Bytes2Hex(d.PrevBytes), common.Bytes2Hex(d.NewBytes))
	case StorageWrite:
		return fmt.Sprintf("%s %s: %s -> %s", d.Kind, d.Key.Hex(), d.Prev.Hex(), d.New.Hex())
	case ReturnData:
		return fmt.Sprintf("%s %s -> %s", d.Kind, common.Bytes2Hex(d.PrevBytes), common.Bytes2Hex(d.NewBytes))
	case LogAppend:
		return fmt.Sprintf("%s topics=%d data=%s", d.Kind, len(d.Log.Topics), common.Bytes2Hex(d.Log.Data))
	default:
		return fmt.Sprintf("%s %d -> %d", d.Kind, d.PrevSize, d.NewSize)
	}
}

// memoryUsage approximates the bytes held by the delta.
func (d *Delta) memoryUsage() int {
	n := 160 + len(d.PrevBytes) + len(d.NewBytes)
	if d.Log != nil {
		n += len(d.Log.Topics)*32 + len(d.Log.Data)
	}
	return n
}

// StepRecord is the delta batch of one executed instruction.
type StepRecord struct {
	Step      uint64           `cbor:"1,keyasint"`
	PC        uint64           `cbor:"2,keyasint"`
	Op        byte             `cbor:"3,keyasint"`
	GasBefore uint64           `cbor:"4,keyasint"`
	GasAfter  uint64           `cbor:"5,keyasint"`
	Deltas    []Delta          `cbor:"6,keyasint"`
	Halt      types.HaltReason `cbor:"7,keyasint,omitempty"`
	StateHash common.Hash      `cbor:"8,keyasint,omitempty"`
}

// GasCost is the gas the instruction consumed.
func (r *StepRecord) GasCost() uint64 {
	return r.GasBefore - r.GasAfter
}

func (r *StepRecord) MemoryUsage() int {
	n := 96
	for i := range r.Deltas {
		n += r.Deltas[i].memoryUsage()
	}
	return n
}
