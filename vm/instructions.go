package vm

import (
	"fmt"

	"github.com/colorfulnotion/rvm/common"
	"github.com/colorfulnotion/rvm/rvmerrors"
	"github.com/colorfulnotion/rvm/state"
	"github.com/colorfulnotion/rvm/types"
	"github.com/holiman/uint256"
)

func binaryOp(s *scope, f func(z, x, y *uint256.Int)) error {
	x, y := s.pop(), s.pop()
	var z uint256.Int
	f(&z, &x, &y)
	s.push(&z)
	return nil
}

func boolWord(b bool) *uint256.Int {
	if b {
		return uint256.NewInt(1)
	}
	return new(uint256.Int)
}

func opStop(s *scope) error {
	s.halt = types.HaltStop
	return nil
}

func opAdd(s *scope) error {
	return binaryOp(s, func(z, x, y *uint256.Int) { z.Add(x, y) })
}

func opSub(s *scope) error {
	return binaryOp(s, func(z, x, y *uint256.Int) { z.Sub(x, y) })
}

func opMul(s *scope) error {
	return binaryOp(s, func(z, x, y *uint256.Int) { z.Mul(x, y) })
}

func opDiv(s *scope) error {
	return binaryOp(s, func(z, x, y *uint256.Int) { z.Div(x, y) })
}

func opSdiv(s *scope) error {
	return binaryOp(s, func(z, x, y *uint256.Int) { z.SDiv(x, y) })
}

func opMod(s *scope) error {
	return binaryOp(s, func(z, x, y *uint256.Int) { z.Mod(x, y) })
}

func opSmod(s *scope) error {
	return binaryOp(s, func(z, x, y *uint256.Int) { z.SMod(x, y) })
}

func opExp(s *scope) error {
	return binaryOp(s, func(z, base, exponent *uint256.Int) { z.Exp(base, exponent) })
}

func opSignExtend(s *scope) error {
	return binaryOp(s, func(z, back, num *uint256.Int) { z.ExtendSign(num, back) })
}

func opAddmod(s *scope) error {
	x, y, m := s.pop(), s.pop(), s.pop()
	var z uint256.Int
	z.AddMod(&x, &y, &m)
	s.push(&z)
	return nil
}

func opMulmod(s *scope) error {
	x, y, m := s.pop(), s.pop(), s.pop()
	var z uint256.Int
	z.MulMod(&x, &y, &m)
	s.push(&z)
	return nil
}

func opLt(s *scope) error {
	x, y := s.pop(), s.pop()
	s.push(boolWord(x.Lt(&y)))
	return nil
}

func opGt(s *scope) error {
	x, y := s.pop(), s.pop()
	s.push(boolWord(x.Gt(&y)))
	return nil
}

func opSlt(s *scope) error {
	x, y := s.pop(), s.pop()
	s.push(boolWord(x.Slt(&y)))
	return nil
}

func opSgt(s *scope) error {
	x, y := s.pop(), s.pop()
	s.push(boolWord(x.Sgt(&y)))
	return nil
}

func opEq(s *scope) error {
	x, y := s.pop(), s.pop()
	s.push(boolWord(x.Eq(&y)))
	return nil
}

func opIszero(s *scope) error {
	x := s.pop()
	s.push(boolWord(x.IsZero()))
	return nil
}

func opAnd(s *scope) error {
	return binaryOp(s, func(z, x, y *uint256.Int) { z.And(x, y) })
}

func opOr(s *scope) error {
	return binaryOp(s, func(z, x, y *uint256.Int) { z.Or(x, y) })
}

func opXor(s *scope) error {
	return binaryOp(s, func(z, x, y *uint256.Int) { z.Xor(x, y) })
}

func opNot(s *scope) error {
	x := s.pop()
	var z uint256.Int
	z.Not(&x)
	s.push(&z)
	return nil
}

func opByte(s *scope) error {
	th, val := s.pop(), s.pop()
	val.Byte(&th)
	s.push(&val)
	return nil
}

// opSHL implements Shift Left: the top word is the shift, the second the value.
func opSHL(s *scope) error {
	shift, value := s.pop(), s.pop()
	if shift.LtUint64(256) {
		value.Lsh(&value, uint(shift.Uint64()))
	} else {
		value.Clear()
	}
	s.push(&value)
	return nil
}

// opSHR implements Logical Shift Right.
func opSHR(s *scope) error {
	shift, value := s.pop(), s.pop()
	if shift.LtUint64(256) {
		value.Rsh(&value, uint(shift.Uint64()))
	} else {
		value.Clear()
	}
	s.push(&value)
	return nil
}

// opSAR implements Arithmetic Shift Right.
func opSAR(s *scope) error {
	shift, value := s.pop(), s.pop()
	if shift.GtUint64(255) {
		if value.Sign() >= 0 {
			value.Clear()
		} else {
			value.SetAllOne()
		}
	} else {
		value.SRsh(&value, uint(shift.Uint64()))
	}
	s.push(&value)
	return nil
}

func opKeccak256(s *scope) error {
	offset, size := s.pop(), s.pop()
	data := s.readMemory(offset.Uint64(), size.Uint64())
	h := common.Keccak256(data)
	var z uint256.Int
	z.SetBytes32(h[:])
	s.push(&z)
	return nil
}

func addressWord(a common.Address) *uint256.Int {
	return new(uint256.Int).SetBytes20(a[:])
}

func opAddress(s *scope) error {
	s.push(addressWord(s.c.Frame.Address))
	return nil
}

func opOrigin(s *scope) error {
	s.push(addressWord(s.c.Frame.Origin))
	return nil
}

func opCaller(s *scope) error {
	s.push(addressWord(s.c.Frame.Caller))
	return nil
}

func opCallValue(s *scope) error {
	v := s.c.Frame.Value
	s.push(&v)
	return nil
}

// getData returns size bytes of data starting at start, zero-padded past the end.
func getData(data []byte, start uint64, size uint64) []byte {
	length := uint64(len(data))
	if start > length {
		start = length
	}
	end := start + size
	if end > length || end < start {
		end = length
	}
	out := make([]byte, size)
	copy(out, data[start:end])
	return out
}

func opCallDataLoad(s *scope) error {
	x := s.pop()
	var z uint256.Int
	if off, overflow := x.Uint64WithOverflow(); !overflow {
		z.SetBytes32(getData(s.c.Frame.CallData, off, 32))
	}
	s.push(&z)
	return nil
}

func opCallDataSize(s *scope) error {
	s.push(uint256.NewInt(uint64(len(s.c.Frame.CallData))))
	return nil
}

func copyToMemory(s *scope, src []byte) error {
	memOffset, dataOffset, length := s.pop(), s.pop(), s.pop()
	off, overflow := dataOffset.Uint64WithOverflow()
	if overflow {
		off = 0xffffffffffffffff
	}
	return s.writeMemory(memOffset.Uint64(), getData(src, off, length.Uint64()))
}

func opCallDataCopy(s *scope) error {
	return copyToMemory(s, s.c.Frame.CallData)
}

func opCodeSize(s *scope) error {
	s.push(uint256.NewInt(s.exec.program.Len()))
	return nil
}

func opCodeCopy(s *scope) error {
	return copyToMemory(s, s.exec.program.Code)
}

func opGasprice(s *scope) error {
	v := s.c.Frame.GasPrice
	s.push(&v)
	return nil
}

func opReturnDataSize(s *scope) error {
	s.push(uint256.NewInt(uint64(len(s.c.Frame.ReturnData))))
	return nil
}

func opReturnDataCopy(s *scope) error {
	memOffset, dataOffset, length := s.pop(), s.pop(), s.pop()
	off, overflow := dataOffset.Uint64WithOverflow()
	if overflow {
		return fmt.Errorf("%w: return data offset %s", rvmerrors.ErrMemoryOutOfBounds, dataOffset.Hex())
	}
	end, overflow := safeAdd(off, length.Uint64())
	if overflow || end > uint64(len(s.c.Frame.ReturnData)) {
		return fmt.Errorf("%w: return data [%d, %d+%d) beyond size %d",
			rvmerrors.ErrMemoryOutOfBounds, off, off, length.Uint64(), len(s.c.Frame.ReturnData))
	}
	return s.writeMemory(memOffset.Uint64(), s.c.Frame.ReturnData[off:end])
}

func opBlockhash(s *scope) error {
	num := s.pop()
	var z uint256.Int
	if n, overflow := num.Uint64WithOverflow(); !overflow {
		h := s.exec.block.BlockHash(n)
		z.SetBytes32(h[:])
	}
	s.push(&z)
	return nil
}

func opCoinbase(s *scope) error {
	s.push(addressWord(s.exec.block.Coinbase))
	return nil
}

func opTimestamp(s *scope) error {
	s.push(uint256.NewInt(s.exec.block.Timestamp))
	return nil
}

func opNumber(s *scope) error {
	s.push(uint256.NewInt(s.exec.block.Number))
	return nil
}

func opRandom(s *scope) error {
	r := s.exec.block.PrevRandao
	s.push(new(uint256.Int).SetBytes32(r[:]))
	return nil
}

func opGasLimit(s *scope) error {
	s.push(uint256.NewInt(s.exec.block.GasLimit))
	return nil
}

func opChainID(s *scope) error {
	s.push(uint256.NewInt(s.exec.block.ChainID))
	return nil
}

func opSelfBalance(s *scope) error {
	v := s.c.Frame.Balance
	s.push(&v)
	return nil
}

func opBaseFee(s *scope) error {
	v := s.exec.block.BaseFee
	s.push(&v)
	return nil
}

func opPop(s *scope) error {
	s.pop()
	return nil
}

func opMload(s *scope) error {
	offset := s.pop()
	var z uint256.Int
	z.SetBytes32(s.readMemory(offset.Uint64(), 32))
	s.push(&z)
	return nil
}

func opMstore(s *scope) error {
	offset, val := s.pop(), s.pop()
	b := val.Bytes32()
	return s.writeMemory(offset.Uint64(), b[:])
}

func opMstore8(s *scope) error {
	offset, val := s.pop(), s.pop()
	return s.writeMemory(offset.Uint64(), []byte{byte(val.Uint64())})
}

func opSload(s *scope) error {
	key := s.pop()
	v := s.c.Storage.Get(&key)
	s.push(&v)
	return nil
}

func opSstore(s *scope) error {
	key, value := s.pop(), s.pop()
	current := s.c.Storage.Get(&key)
	original, _ := s.c.Storage.Original(&key)
	_, add, sub := sstoreCost(&original, &current, &value)

	refund := s.c.Frame.Refund + add
	if sub > refund {
		return fmt.Errorf("%w: refund counter below zero (%d - %d)", rvmerrors.ErrInvariantViolation, refund, sub)
	}
	s.sstore(&key, &value)
	s.setRefund(refund - sub)
	return nil
}

func (s *scope) validJump(dest *uint256.Int) (uint64, error) {
	d, overflow := dest.Uint64WithOverflow()
	if overflow || !s.exec.program.IsJumpDest(d) {
		return 0, fmt.Errorf("%w: destination %s", rvmerrors.ErrInvalidJump, dest.Hex())
	}
	return d, nil
}

func opJump(s *scope) error {
	dest := s.pop()
	d, err := s.validJump(&dest)
	if err != nil {
		return err
	}
	s.jump(d)
	return nil
}

func opJumpi(s *scope) error {
	dest, cond := s.pop(), s.pop()
	if cond.IsZero() {
		return nil
	}
	d, err := s.validJump(&dest)
	if err != nil {
		return err
	}
	s.jump(d)
	return nil
}

func opPc(s *scope) error {
	s.push(uint256.NewInt(s.instr.PC))
	return nil
}

func opMsize(s *scope) error {
	s.push(uint256.NewInt(s.c.Memory.Len()))
	return nil
}

// opGas pushes the gas left after paying for this instruction.
func opGas(s *scope) error {
	s.push(uint256.NewInt(s.c.Frame.Gas))
	return nil
}

func opJumpdest(s *scope) error {
	return nil
}

func opPush0(s *scope) error {
	s.push(new(uint256.Int))
	return nil
}

// makePush pushes the size-byte immediate. Decode zero-pads immediates that
// run past the end of the code.
func makePush(size int) executionFunc {
	return func(s *scope) error {
		var z uint256.Int
		z.SetBytes(s.instr.Immediate[:size])
		s.push(&z)
		return nil
	}
}

func makeDup(n int) executionFunc {
	return func(s *scope) error {
		v := *s.peek(n - 1)
		s.push(&v)
		return nil
	}
}

func makeSwap(n int) executionFunc {
	return func(s *scope) error {
		top, other := *s.peek(0), *s.peek(n)
		s.set(0, &other)
		s.set(n, &top)
		return nil
	}
}

func makeLog(n int) executionFunc {
	return func(s *scope) error {
		offset, size := s.pop(), s.pop()
		topics := make([]common.Hash, n)
		for i := 0; i < n; i++ {
			t := s.pop()
			topics[i] = t.Bytes32()
		}
		s.appendLog(state.Log{
			Address: s.c.Frame.Address,
			Topics:  topics,
			Data:    s.readMemory(offset.Uint64(), size.Uint64()),
		})
		return nil
	}
}

func opReturn(s *scope) error {
	offset, size := s.pop(), s.pop()
	s.setReturnData(s.readMemory(offset.Uint64(), size.Uint64()))
	s.halt = types.HaltReturn
	return nil
}

func opRevert(s *scope) error {
	offset, size := s.pop(), s.pop()
	s.setReturnData(s.readMemory(offset.Uint64(), size.Uint64()))
	s.halt = types.HaltRevert
	return nil
}
