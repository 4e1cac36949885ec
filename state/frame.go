package state

import (
	"github.com/colorfulnotion/rvm/common"
	"github.com/colorfulnotion/rvm/types"
	"github.com/holiman/uint256"
)

// Log is an event emitted by LOG0..LOG4.
type Log struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    []byte         `json:"data"`
}

// CallFrame is the state of the single active invocation.
type CallFrame struct {
	PC         uint64
	Gas        uint64
	Refund     uint64
	Caller     common.Address
	Address    common.Address
	Origin     common.Address
	Value      uint256.Int
	GasPrice   uint256.Int
	Balance    uint256.Int
	CallData   []byte
	ReturnData []byte
	Logs       []Log
}

// NewCallFrame enters a call with the given gas budget.
func NewCallFrame(call *types.CallContext, gas uint64) *CallFrame {
	return &CallFrame{
		Gas:      gas,
		Caller:   call.Caller,
		Address:  call.Address,
		Origin:   call.Origin,
		Value:    call.Value,
		GasPrice: call.GasPrice,
		Balance:  call.Balance,
		CallData: append([]byte(nil), call.CallData...),
	}
}

func (f *CallFrame) clone() CallFrame {
	c := *f
	c.CallData = append([]byte(nil), f.CallData...)
	c.ReturnData = append([]byte(nil), f.ReturnData...)
	c.Logs = make([]Log, len(f.Logs))
	for i, l := range f.Logs {
		c.Logs[i] = l.clone()
	}
	return c
}

func (l Log) clone() Log {
	return Log{
		Address: l.Address,
		Topics:  append([]common.Hash(nil), l.Topics...),
		Data:    append([]byte(nil), l.Data...),
	}
}
