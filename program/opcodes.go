package program

import "fmt"

// OpCode is a single instruction byte.
type OpCode byte

// 0x0 range - arithmetic ops.
const (
	STOP       OpCode = 0x00
	ADD        OpCode = 0x01
	MUL        OpCode = 0x02
	SUB        OpCode = 0x03
	DIV        OpCode = 0x04
	SDIV       OpCode = 0x05
	MOD        OpCode = 0x06
	SMOD       OpCode = 0x07
	ADDMOD     OpCode = 0x08
	MULMOD     OpCode = 0x09
	EXP        OpCode = 0x0a
	SIGNEXTEND OpCode = 0x0b
)

// 0x10 range - comparison and bitwise ops.
const (
	LT     OpCode = 0x10
	GT     OpCode = 0x11
	SLT    OpCode = 0x12
	SGT    OpCode = 0x13
	EQ     OpCode = 0x14
	ISZERO OpCode = 0x15
	AND    OpCode = 0x16
	OR     OpCode = 0x17
	XOR    OpCode = 0x18
	NOT    OpCode = 0x19
	BYTE   OpCode = 0x1a
	SHL    OpCode = 0x1b
	SHR    OpCode = 0x1c
	SAR    OpCode = 0x1d
)

const KECCAK256 OpCode = 0x20

// 0x30 range - call context.
const (
	ADDRESS      OpCode = 0x30
	ORIGIN       OpCode = 0x32
	CALLER       OpCode = 0x33
	CALLVALUE    OpCode = 0x34
	CALLDATALOAD OpCode = 0x35
	CALLDATASIZE OpCode = 0x36
	CALLDATACOPY OpCode = 0x37
	CODESIZE     OpCode = 0x38
	CODECOPY     OpCode = 0x39
	GASPRICE     OpCode = 0x3a

	RETURNDATASIZE OpCode = 0x3d
	RETURNDATACOPY OpCode = 0x3e
)

// 0x40 range - block context.
const (
	BLOCKHASH   OpCode = 0x40
	COINBASE    OpCode = 0x41
	TIMESTAMP   OpCode = 0x42
	NUMBER      OpCode = 0x43
	PREVRANDAO  OpCode = 0x44
	GASLIMIT    OpCode = 0x45
	CHAINID     OpCode = 0x46
	SELFBALANCE OpCode = 0x47
	BASEFEE     OpCode = 0x48
)

// 0x50 range - stack, memory, storage and flow ops.
const (
	POP      OpCode = 0x50
	MLOAD    OpCode = 0x51
	MSTORE   OpCode = 0x52
	MSTORE8  OpCode = 0x53
	SLOAD    OpCode = 0x54
	SSTORE   OpCode = 0x55
	JUMP     OpCode = 0x56
	JUMPI    OpCode = 0x57
	PC       OpCode = 0x58
	MSIZE    OpCode = 0x59
	GAS      OpCode = 0x5a
	JUMPDEST OpCode = 0x5b
	PUSH0    OpCode = 0x5f
)

// 0x60 through 0x9f - push, dup and swap.
const (
	PUSH1  OpCode = 0x60
	PUSH32 OpCode = 0x7f
	DUP1   OpCode = 0x80
	DUP16  OpCode = 0x8f
	SWAP1  OpCode = 0x90
	SWAP16 OpCode = 0x9f
)

// 0xa0 range - logging ops.
const (
	LOG0 OpCode = 0xa0
	LOG4 OpCode = 0xa4
)

const (
	RETURN  OpCode = 0xf3
	REVERT  OpCode = 0xfd
	INVALID OpCode = 0xfe
)

var opCodeToString = map[OpCode]string{
	STOP: "STOP", ADD: "ADD", MUL: "MUL", SUB: "SUB", DIV: "DIV", SDIV: "SDIV", MOD: "MOD",
	SMOD: "SMOD", ADDMOD: "ADDMOD", MULMOD: "MULMOD", EXP: "EXP", SIGNEXTEND: "SIGNEXTEND",

	LT: "LT", GT: "GT", SLT: "SLT", SGT: "SGT", EQ: "EQ", ISZERO: "ISZERO", AND: "AND",
	OR: "OR", XOR: "XOR", NOT: "NOT", BYTE: "BYTE", SHL: "SHL", SHR: "SHR", SAR: "SAR",

	KECCAK256: "KECCAK256",

	ADDRESS: "ADDRESS", ORIGIN: "ORIGIN", CALLER: "CALLER", CALLVALUE: "CALLVALUE",
	CALLDATALOAD: "CALLDATALOAD", CALLDATASIZE: "CALLDATASIZE", CALLDATACOPY: "CALLDATACOPY",
	CODESIZE: "CODESIZE", CODECOPY: "CODECOPY", GASPRICE: "GASPRICE",
	RETURNDATASIZE: "RETURNDATASIZE", RETURNDATACOPY: "RETURNDATACOPY",

	BLOCKHASH: "BLOCKHASH", COINBASE: "COINBASE", TIMESTAMP: "TIMESTAMP", NUMBER: "NUMBER",
	PREVRANDAO: "PREVRANDAO", GASLIMIT: "GASLIMIT", CHAINID: "CHAINID", SELFBALANCE: "SELFBALANCE",
	BASEFEE: "BASEFEE",

	POP: "POP", MLOAD: "MLOAD", MSTORE: "MSTORE", MSTORE8: "MSTORE8", SLOAD: "SLOAD",
	SSTORE: "SSTORE", JUMP: "JUMP", JUMPI: "JUMPI", PC: "PC", MSIZE: "MSIZE", GAS: "GAS",
	JUMPDEST: "JUMPDEST", PUSH0: "PUSH0",

	RETURN: "RETURN", REVERT: "REVERT", INVALID: "INVALID",
}

var stringToOpCode = make(map[string]OpCode)

func init() {
	for i := 0; i < 32; i++ {
		opCodeToString[PUSH1+OpCode(i)] = fmt.Sprintf("PUSH%d", i+1)
	}
	for i := 0; i < 16; i++ {
		opCodeToString[DUP1+OpCode(i)] = fmt.Sprintf("DUP%d", i+1)
		opCodeToString[SWAP1+OpCode(i)] = fmt.Sprintf("SWAP%d", i+1)
	}
	for i := 0; i <= 4; i++ {
		opCodeToString[LOG0+OpCode(i)] = fmt.Sprintf("LOG%d", i)
	}
	for op, name := range opCodeToString {
		stringToOpCode[name] = op
	}
}

func (op OpCode) String() string {
	if s, ok := opCodeToString[op]; ok {
		return s
	}
	return fmt.Sprintf("opcode 0x%02x not defined", byte(op))
}

// Defined reports whether op is part of the instruction set. INVALID is
// defined: it is the designated invalid instruction.
func (op OpCode) Defined() bool {
	_, ok := opCodeToString[op]
	return ok
}

// StringToOp finds the opcode whose name is stored in str.
func StringToOp(str string) (OpCode, bool) {
	op, ok := stringToOpCode[str]
	return op, ok
}

func (op OpCode) IsPush() bool {
	return op >= PUSH1 && op <= PUSH32
}

// ImmediateSize is the number of inline operand bytes following op.
func (op OpCode) ImmediateSize() int {
	if op.IsPush() {
		return int(op-PUSH1) + 1
	}
	return 0
}

// Terminates reports whether op ends execution.
func (op OpCode) Terminates() bool {
	switch op {
	case STOP, RETURN, REVERT, INVALID:
		return true
	}
	return false
}

// EndsBlock reports whether the instruction following op starts a new basic block.
func (op OpCode) EndsBlock() bool {
	return op == JUMP || op == JUMPI || op.Terminates()
}
