package state

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	errStackUnderflow = errors.New("stack underflow")
	errStackOverflow  = errors.New("stack overflow")
)

// Stack is a bounded LIFO of words. Index 0 of data is the bottom.
type Stack struct {
	data  []uint256.Int
	limit int
}

func NewStack(limit int) *Stack {
	return &Stack{data: make([]uint256.Int, 0, 16), limit: limit}
}

func (st *Stack) Len() int {
	return len(st.data)
}

func (st *Stack) Limit() int {
	return st.limit
}

func (st *Stack) Push(v *uint256.Int) error {
	if len(st.data) >= st.limit {
		return errStackOverflow
	}
	st.data = append(st.data, *v)
	return nil
}

func (st *Stack) Pop() (uint256.Int, error) {
	if len(st.data) == 0 {
		return uint256.Int{}, errStackUnderflow
	}
	v := st.data[len(st.data)-1]
	st.data = st.data[:len(st.data)-1]
	return v, nil
}

// Back returns the n'th item from the top without removing it; Back(0) is the top.
func (st *Stack) Back(n int) *uint256.Int {
	return &st.data[len(st.data)-1-n]
}

// Set overwrites the n'th item from the top.
func (st *Stack) Set(n int, v *uint256.Int) {
	st.data[len(st.data)-1-n] = *v
}

// Data returns a copy of the stack, bottom first.
func (st *Stack) Data() []uint256.Int {
	out := make([]uint256.Int, len(st.data))
	copy(out, st.data)
	return out
}

func (st *Stack) restore(data []uint256.Int) {
	st.data = append(st.data[:0], data...)
}
