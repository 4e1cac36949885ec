package rvmerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetErrorName(t *testing.T) {
	testCases := []struct {
		err  error
		name string
		code string
	}{
		{ErrStackUnderflow, "StackUnderflow", "E1"},
		{ErrAtGenesis, "AtGenesis", "N1"},
		{ErrInvariantViolation, "InvariantViolation", "I1"},
		{NewFault(ErrOutOfGas, 3, 7, "ADD", "need %d, have %d", 3, 1), "OutOfGas", "E3"},
		{nil, "No Error", ""},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.name, GetErrorName(tc.err))
		assert.Equal(t, tc.code, GetErrorCode(tc.err))
	}
}

func TestFaultUnwrap(t *testing.T) {
	f := NewFault(ErrInvalidJump, 12, 40, "JUMP", "destination %d", 99)
	var err error = fmt.Errorf("step: %w", f)

	require.True(t, errors.Is(err, ErrInvalidJump))
	require.True(t, IsExecutionFault(err))
	require.False(t, IsExecutionFault(ErrAtGenesis))

	got, ok := AsFault(err)
	require.True(t, ok)
	assert.Equal(t, uint64(12), got.Step)
	assert.Equal(t, "InvalidJump at step 12 pc 40 (JUMP): destination 99", got.Error())
}
