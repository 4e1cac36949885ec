package vm

import (
	"github.com/colorfulnotion/rvm/state"
	"github.com/holiman/uint256"
)

// calcMemSize returns offset+length, or overflow when either does not fit
// in 64 bits. A zero length never touches memory.
func calcMemSize(off, l *uint256.Int) (uint64, bool) {
	if !l.IsUint64() {
		return 0, true
	}
	if l.Uint64() == 0 {
		return 0, false
	}
	if !off.IsUint64() {
		return 0, true
	}
	return safeAdd(off.Uint64(), l.Uint64())
}

func calcMemSize64(off *uint256.Int, l uint64) (uint64, bool) {
	if !off.IsUint64() {
		return 0, true
	}
	return safeAdd(off.Uint64(), l)
}

func memoryKeccak256(st *state.Stack) (uint64, bool) {
	return calcMemSize(st.Back(0), st.Back(1))
}

func memoryCallDataCopy(st *state.Stack) (uint64, bool) {
	return calcMemSize(st.Back(0), st.Back(2))
}

func memoryCodeCopy(st *state.Stack) (uint64, bool) {
	return calcMemSize(st.Back(0), st.Back(2))
}

func memoryReturnDataCopy(st *state.Stack) (uint64, bool) {
	return calcMemSize(st.Back(0), st.Back(2))
}

func memoryMLoad(st *state.Stack) (uint64, bool) {
	return calcMemSize64(st.Back(0), 32)
}

func memoryMStore(st *state.Stack) (uint64, bool) {
	return calcMemSize64(st.Back(0), 32)
}

func memoryMStore8(st *state.Stack) (uint64, bool) {
	return calcMemSize64(st.Back(0), 1)
}

func memoryLog(st *state.Stack) (uint64, bool) {
	return calcMemSize(st.Back(0), st.Back(1))
}

func memoryReturn(st *state.Stack) (uint64, bool) {
	return calcMemSize(st.Back(0), st.Back(1))
}

func memoryRevert(st *state.Stack) (uint64, bool) {
	return calcMemSize(st.Back(0), st.Back(1))
}
