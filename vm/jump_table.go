package vm

import (
	"github.com/colorfulnotion/rvm/program"
)

type executionFunc func(s *scope) error

type operation struct {
	// execute is the operation function
	execute     executionFunc
	constantGas uint64
	dynamicGas  gasFunc
	// minStack tells how many stack items are required
	minStack int
	// maxStack specifies the max length the stack can have for this operation
	// to not overflow the stack.
	maxStack int

	// memorySize returns the memory size required for the operation
	memorySize memorySizeFunc

	halts bool // the operation ends execution
	jumps bool // the operation may set the pc itself
}

// JumpTable contains the instruction set. A nil entry is an invalid opcode.
type JumpTable [256]*operation

func minStack(pops, push int) int {
	return pops
}

func minDupStack(n int) int {
	return n
}

func minSwapStack(n int) int {
	return n
}

// NewJumpTable returns the instruction set for a stack bounded by stackLimit.
func NewJumpTable(stackLimit int) *JumpTable {
	maxStack := func(pop, push int) int {
		return stackLimit + pop - push
	}
	op := func(exec executionFunc, gas uint64, pops, pushes int) *operation {
		return &operation{
			execute:     exec,
			constantGas: gas,
			minStack:    minStack(pops, pushes),
			maxStack:    maxStack(pops, pushes),
		}
	}

	tbl := JumpTable{
		program.STOP:       {execute: opStop, constantGas: GasZeroStep, minStack: 0, maxStack: maxStack(0, 0), halts: true},
		program.ADD:        op(opAdd, GasFastestStep, 2, 1),
		program.MUL:        op(opMul, GasFastStep, 2, 1),
		program.SUB:        op(opSub, GasFastestStep, 2, 1),
		program.DIV:        op(opDiv, GasFastStep, 2, 1),
		program.SDIV:       op(opSdiv, GasFastStep, 2, 1),
		program.MOD:        op(opMod, GasFastStep, 2, 1),
		program.SMOD:       op(opSmod, GasFastStep, 2, 1),
		program.ADDMOD:     op(opAddmod, GasMidStep, 3, 1),
		program.MULMOD:     op(opMulmod, GasMidStep, 3, 1),
		program.EXP:        op(opExp, ExpGas, 2, 1),
		program.SIGNEXTEND: op(opSignExtend, GasFastStep, 2, 1),

		program.LT:     op(opLt, GasFastestStep, 2, 1),
		program.GT:     op(opGt, GasFastestStep, 2, 1),
		program.SLT:    op(opSlt, GasFastestStep, 2, 1),
		program.SGT:    op(opSgt, GasFastestStep, 2, 1),
		program.EQ:     op(opEq, GasFastestStep, 2, 1),
		program.ISZERO: op(opIszero, GasFastestStep, 1, 1),
		program.AND:    op(opAnd, GasFastestStep, 2, 1),
		program.OR:     op(opOr, GasFastestStep, 2, 1),
		program.XOR:    op(opXor, GasFastestStep, 2, 1),
		program.NOT:    op(opNot, GasFastestStep, 1, 1),
		program.BYTE:   op(opByte, GasFastestStep, 2, 1),
		program.SHL:    op(opSHL, GasFastestStep, 2, 1),
		program.SHR:    op(opSHR, GasFastestStep, 2, 1),
		program.SAR:    op(opSAR, GasFastestStep, 2, 1),

		program.KECCAK256: op(opKeccak256, Keccak256Gas, 2, 1),

		program.ADDRESS:        op(opAddress, GasQuickStep, 0, 1),
		program.ORIGIN:         op(opOrigin, GasQuickStep, 0, 1),
		program.CALLER:         op(opCaller, GasQuickStep, 0, 1),
		program.CALLVALUE:      op(opCallValue, GasQuickStep, 0, 1),
		program.CALLDATALOAD:   op(opCallDataLoad, GasFastestStep, 1, 1),
		program.CALLDATASIZE:   op(opCallDataSize, GasQuickStep, 0, 1),
		program.CALLDATACOPY:   op(opCallDataCopy, CopyGas, 3, 0),
		program.CODESIZE:       op(opCodeSize, GasQuickStep, 0, 1),
		program.CODECOPY:       op(opCodeCopy, CopyGas, 3, 0),
		program.GASPRICE:       op(opGasprice, GasQuickStep, 0, 1),
		program.RETURNDATASIZE: op(opReturnDataSize, GasQuickStep, 0, 1),
		program.RETURNDATACOPY: op(opReturnDataCopy, CopyGas, 3, 0),

		program.BLOCKHASH:   op(opBlockhash, GasExtStep, 1, 1),
		program.COINBASE:    op(opCoinbase, GasQuickStep, 0, 1),
		program.TIMESTAMP:   op(opTimestamp, GasQuickStep, 0, 1),
		program.NUMBER:      op(opNumber, GasQuickStep, 0, 1),
		program.PREVRANDAO:  op(opRandom, GasQuickStep, 0, 1),
		program.GASLIMIT:    op(opGasLimit, GasQuickStep, 0, 1),
		program.CHAINID:     op(opChainID, GasQuickStep, 0, 1),
		program.SELFBALANCE: op(opSelfBalance, GasQuickStep, 0, 1),
		program.BASEFEE:     op(opBaseFee, GasQuickStep, 0, 1),

		program.POP:      op(opPop, GasQuickStep, 1, 0),
		program.MLOAD:    op(opMload, GasFastestStep, 1, 1),
		program.MSTORE:   op(opMstore, GasFastestStep, 2, 0),
		program.MSTORE8:  op(opMstore8, GasFastestStep, 2, 0),
		program.SLOAD:    op(opSload, SloadGas, 1, 1),
		program.SSTORE:   op(opSstore, 0, 2, 0),
		program.JUMP:     op(opJump, GasMidStep, 1, 0),
		program.JUMPI:    op(opJumpi, GasSlowStep, 2, 0),
		program.PC:       op(opPc, GasQuickStep, 0, 1),
		program.MSIZE:    op(opMsize, GasQuickStep, 0, 1),
		program.GAS:      op(opGas, GasQuickStep, 0, 1),
		program.JUMPDEST: op(opJumpdest, GasJumpdest, 0, 0),
		program.PUSH0:    op(opPush0, GasQuickStep, 0, 1),

		program.RETURN: op(opReturn, GasZeroStep, 2, 0),
		program.REVERT: op(opRevert, GasZeroStep, 2, 0),
	}

	tbl[program.KECCAK256].dynamicGas = gasKeccak256
	tbl[program.KECCAK256].memorySize = memoryKeccak256
	tbl[program.CALLDATACOPY].dynamicGas = gasCallDataCopy
	tbl[program.CALLDATACOPY].memorySize = memoryCallDataCopy
	tbl[program.CODECOPY].dynamicGas = gasCodeCopy
	tbl[program.CODECOPY].memorySize = memoryCodeCopy
	tbl[program.RETURNDATACOPY].dynamicGas = gasReturnDataCopy
	tbl[program.RETURNDATACOPY].memorySize = memoryReturnDataCopy
	tbl[program.EXP].dynamicGas = gasExp
	tbl[program.MLOAD].dynamicGas = gasMemoryOnly
	tbl[program.MLOAD].memorySize = memoryMLoad
	tbl[program.MSTORE].dynamicGas = gasMemoryOnly
	tbl[program.MSTORE].memorySize = memoryMStore
	tbl[program.MSTORE8].dynamicGas = gasMemoryOnly
	tbl[program.MSTORE8].memorySize = memoryMStore8
	tbl[program.SSTORE].dynamicGas = gasSStore
	tbl[program.JUMP].jumps = true
	tbl[program.JUMPI].jumps = true
	tbl[program.RETURN].dynamicGas = gasMemoryOnly
	tbl[program.RETURN].memorySize = memoryReturn
	tbl[program.RETURN].halts = true
	tbl[program.REVERT].dynamicGas = gasMemoryOnly
	tbl[program.REVERT].memorySize = memoryRevert
	tbl[program.REVERT].halts = true

	for i := 1; i <= 32; i++ {
		tbl[program.PUSH1+program.OpCode(i-1)] = op(makePush(i), GasFastestStep, 0, 1)
	}
	for i := 1; i <= 16; i++ {
		tbl[program.DUP1+program.OpCode(i-1)] = &operation{
			execute:     makeDup(i),
			constantGas: GasFastestStep,
			minStack:    minDupStack(i),
			maxStack:    maxStack(i, i+1),
		}
		tbl[program.SWAP1+program.OpCode(i-1)] = &operation{
			execute:     makeSwap(i),
			constantGas: GasFastestStep,
			minStack:    minSwapStack(i + 1),
			maxStack:    maxStack(i+1, i+1),
		}
	}
	for n := 0; n <= 4; n++ {
		tbl[program.LOG0+program.OpCode(n)] = &operation{
			execute:     makeLog(n),
			constantGas: LogGas + LogTopicGas*uint64(n),
			dynamicGas:  makeGasLog(uint64(n)),
			minStack:    minStack(n+2, 0),
			maxStack:    maxStack(n+2, 0),
			memorySize:  memoryLog,
		}
	}
	return &tbl
}
