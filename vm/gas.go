package vm

import (
	"math"

	"github.com/colorfulnotion/rvm/common"
	"github.com/colorfulnotion/rvm/state"
	"github.com/holiman/uint256"
)

// Gas costs of the instruction set.
const (
	GasZeroStep    uint64 = 0
	GasJumpdest    uint64 = 1
	GasQuickStep   uint64 = 2
	GasFastestStep uint64 = 3
	GasFastStep    uint64 = 5
	GasMidStep     uint64 = 8
	GasSlowStep    uint64 = 10
	GasExtStep     uint64 = 20

	ExpGas           uint64 = 10
	ExpByteGas       uint64 = 50
	Keccak256Gas     uint64 = 30
	Keccak256WordGas uint64 = 6
	CopyGas          uint64 = 3
	MemoryGas        uint64 = 3
	QuadCoeffDiv     uint64 = 512
	LogGas           uint64 = 375
	LogTopicGas      uint64 = 375
	LogDataGas       uint64 = 8
	SloadGas         uint64 = 100

	SstoreNoopGas  uint64 = 100 // value unchanged, or slot already dirty
	SstoreSetGas   uint64 = 20000
	SstoreResetGas uint64 = 5000

	SstoreClearsRefund uint64 = 4800
	SstoreSetRefund    uint64 = 19900
	SstoreResetRefund  uint64 = 2800
)

type (
	gasFunc func(s *scope, memorySize uint64) (uint64, error)
	// memorySizeFunc returns the required memory size and whether it overflowed.
	memorySizeFunc func(st *state.Stack) (size uint64, overflow bool)
)

// memoryGasCost is the cost of expanding memory from its current logical
// size to newSize bytes, which must be word aligned.
func memoryGasCost(mem *state.Memory, newSize uint64) uint64 {
	cur := mem.Len()
	if newSize <= cur {
		return 0
	}
	return memoryFee(newSize/32) - memoryFee(cur/32)
}

func memoryFee(words uint64) uint64 {
	return words*MemoryGas + words*words/QuadCoeffDiv
}

func safeAdd(a, b uint64) (uint64, bool) {
	sum := a + b
	return sum, sum < a
}

func safeMul(a, b uint64) (uint64, bool) {
	if a == 0 || b == 0 {
		return 0, false
	}
	if a > math.MaxUint64/b {
		return 0, true
	}
	return a * b, false
}

// memoryCopierGas charges per word copied plus expansion; stackpos is the
// position of the size operand.
func memoryCopierGas(stackpos int) gasFunc {
	return func(s *scope, memorySize uint64) (uint64, error) {
		gas := memoryGasCost(s.c.Memory, memorySize)
		size := s.peek(stackpos)
		words, overflow := size.Uint64WithOverflow()
		if overflow {
			return 0, errGasUintOverflow
		}
		copyGas, overflow := safeMul(common.CeilWords(words), CopyGas)
		if overflow {
			return 0, errGasUintOverflow
		}
		if gas, overflow = safeAdd(gas, copyGas); overflow {
			return 0, errGasUintOverflow
		}
		return gas, nil
	}
}

var (
	gasCallDataCopy   = memoryCopierGas(2)
	gasCodeCopy       = memoryCopierGas(2)
	gasReturnDataCopy = memoryCopierGas(2)
)

func gasMemoryOnly(s *scope, memorySize uint64) (uint64, error) {
	return memoryGasCost(s.c.Memory, memorySize), nil
}

func gasKeccak256(s *scope, memorySize uint64) (uint64, error) {
	gas := memoryGasCost(s.c.Memory, memorySize)
	size, overflow := s.peek(1).Uint64WithOverflow()
	if overflow {
		return 0, errGasUintOverflow
	}
	wordGas, overflow := safeMul(common.CeilWords(size), Keccak256WordGas)
	if overflow {
		return 0, errGasUintOverflow
	}
	if gas, overflow = safeAdd(gas, wordGas); overflow {
		return 0, errGasUintOverflow
	}
	return gas, nil
}

func gasExp(s *scope, memorySize uint64) (uint64, error) {
	expByteLen := uint64((s.peek(1).BitLen() + 7) / 8)
	return expByteLen * ExpByteGas, nil
}

func makeGasLog(n uint64) gasFunc {
	return func(s *scope, memorySize uint64) (uint64, error) {
		size, overflow := s.peek(1).Uint64WithOverflow()
		if overflow {
			return 0, errGasUintOverflow
		}
		gas := memoryGasCost(s.c.Memory, memorySize)
		dataGas, overflow := safeMul(size, LogDataGas)
		if overflow {
			return 0, errGasUintOverflow
		}
		if gas, overflow = safeAdd(gas, dataGas); overflow {
			return 0, errGasUintOverflow
		}
		return gas, nil
	}
}

// sstoreCost applies the original-value schedule. The refund change is
// returned as an addition and a subtraction so the counter never goes
// through a negative value.
func sstoreCost(original, current, value *uint256.Int) (gas, refundAdd, refundSub uint64) {
	if current.Eq(value) {
		return SstoreNoopGas, 0, 0
	}
	if original.Eq(current) {
		if original.IsZero() {
			return SstoreSetGas, 0, 0
		}
		if value.IsZero() {
			refundAdd = SstoreClearsRefund
		}
		return SstoreResetGas, refundAdd, 0
	}
	if !original.IsZero() {
		if current.IsZero() {
			refundSub += SstoreClearsRefund
		} else if value.IsZero() {
			refundAdd += SstoreClearsRefund
		}
	}
	if original.Eq(value) {
		if original.IsZero() {
			refundAdd += SstoreSetRefund
		} else {
			refundAdd += SstoreResetRefund
		}
	}
	return SstoreNoopGas, refundAdd, refundSub
}

func gasSStore(s *scope, memorySize uint64) (uint64, error) {
	key, value := s.peek(0), s.peek(1)
	current := s.c.Storage.Get(key)
	original, _ := s.c.Storage.Original(key)
	gas, _, _ := sstoreCost(&original, &current, value)
	return gas, nil
}
