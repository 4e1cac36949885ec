package types

import (
	"fmt"

	"github.com/colorfulnotion/rvm/common"
	"github.com/holiman/uint256"
)

// BlockContext holds the read-only block values visible to instructions.
// None of its fields are ever journaled.
type BlockContext struct {
	Number      uint64                 `json:"number"`
	Timestamp   uint64                 `json:"timestamp"`
	Coinbase    common.Address         `json:"coinbase"`
	ChainID     uint64                 `json:"chain_id"`
	GasLimit    uint64                 `json:"gas_limit"`
	BaseFee     uint256.Int            `json:"-"`
	PrevRandao  common.Hash            `json:"prev_randao"`
	BlockHashes map[uint64]common.Hash `json:"block_hashes,omitempty"`
}

// DefaultBlockContext mirrors a fresh devnet block.
func DefaultBlockContext() BlockContext {
	return BlockContext{
		Number:   1,
		ChainID:  DefaultChainID,
		GasLimit: 30_000_000,
		Coinbase: common.DevAccount(0),
	}
}

// BlockHash returns the hash recorded for number, or zero when it is not one
// of the 256 blocks preceding the current one.
func (b *BlockContext) BlockHash(number uint64) common.Hash {
	if number >= b.Number || b.Number-number > 256 {
		return common.Hash{}
	}
	return b.BlockHashes[number]
}

func (b *BlockContext) String() string {
	return fmt.Sprintf("block #%d ts=%d chain=%d coinbase=%s", b.Number, b.Timestamp, b.ChainID, b.Coinbase.Hex())
}

// CallContext describes the single invocation a VM instance executes.
type CallContext struct {
	Caller   common.Address `json:"caller"`
	Address  common.Address `json:"address"`
	Origin   common.Address `json:"origin"`
	Value    uint256.Int    `json:"-"`
	GasPrice uint256.Int    `json:"-"`
	Balance  uint256.Int    `json:"-"` // reported by SELFBALANCE
	CallData []byte         `json:"calldata,omitempty"`
}

// DefaultCallContext calls a contract at DevAccount(1) from DevAccount(0).
func DefaultCallContext() CallContext {
	return CallContext{
		Caller:  common.DevAccount(0),
		Origin:  common.DevAccount(0),
		Address: common.DevAccount(1),
	}
}
