package trace

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/colorfulnotion/rvm/program"
	"github.com/colorfulnotion/rvm/timetravel"
	"github.com/colorfulnotion/rvm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const src = `
	NUMBER
	PUSH1 0x00
	SSTORE
	PUSH32 0x0102030405060708091011121314151617181920212223242526272829303132
	PUSH1 0x00
	MSTORE
	PUSH1 0x40
	PUSH1 0x00
	RETURN
`

func record(t *testing.T, number uint64, w *JSONLTraceWriter) {
	t.Helper()
	bc := types.DefaultBlockContext()
	bc.Number = number
	ctrl, err := timetravel.New(program.MustAssemble(src), 100_000, bc, timetravel.WithStepHook(w.Observe))
	require.NoError(t, err)
	res, err := ctrl.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, timetravel.StopHalted, res.Reason)
	require.NoError(t, w.Close())
}

func TestRecordAndRead(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLTraceWriter(&buf)
	record(t, 5, w)
	assert.Equal(t, 9, w.Count())

	steps, err := ReadJSONL(&buf)
	require.NoError(t, err)
	require.Len(t, steps, 9)

	sstore := steps[2]
	assert.Equal(t, "SSTORE", sstore.OpName)
	require.Len(t, sstore.ChangedStorage, 1)
	assert.Equal(t, "0x5", sstore.ChangedStorage[0].Value)
	assert.Empty(t, sstore.PostStack)

	mstore := steps[5]
	require.NotNil(t, mstore.ChangedMemoryAddr)
	assert.Equal(t, uint64(0), *mstore.ChangedMemoryAddr)
	assert.Equal(t, uint64(32), *mstore.ChangedMemoryLength)
	assert.Len(t, mstore.ChangedMemoryBytes, 32)
	assert.Equal(t, uint64(32), mstore.PostMemorySize)

	last := steps[8]
	assert.Equal(t, "RETURN", last.Halt)
	assert.Equal(t, uint64(64), last.PostMemorySize)
}

func TestChangedMemoryIsHashedPast32Bytes(t *testing.T) {
	ts := &TraceStep{}
	ts.SetChangedMemory(7, 33, make([]byte, 33))
	assert.Len(t, ts.ChangedMemoryBytes, 32)
	assert.Equal(t, uint64(33), *ts.ChangedMemoryLength)

	ts.SetChangedMemory(7, 0, nil)
	assert.Nil(t, ts.ChangedMemoryBytes)
}

func TestCompare(t *testing.T) {
	dir := t.TempDir()
	paths := map[uint64]string{}
	for _, number := range []uint64{5, 6} {
		paths[number] = filepath.Join(dir, fmt.Sprintf("trace-%d.jsonl", number))
		w, err := NewJSONLTraceWriterFile(paths[number])
		require.NoError(t, err)
		record(t, number, w)
	}
	a, err := ReadJSONLFile(paths[5])
	require.NoError(t, err)
	b, err := ReadJSONLFile(paths[6])
	require.NoError(t, err)

	div, err := Compare(a, a)
	require.NoError(t, err)
	assert.Nil(t, div)

	div, err = Compare(a, b)
	require.NoError(t, err)
	require.NotNil(t, div)
	assert.Equal(t, uint64(1), div.Step)
	assert.Equal(t, "NUMBER", div.Expected.OpName)
	assert.NotEmpty(t, div.Diff)
	assert.Contains(t, div.Error(), "step 1")

	div, err = Compare(a, a[:4])
	require.NoError(t, err)
	require.NotNil(t, div)
	assert.Nil(t, div.Actual)
	assert.Equal(t, uint64(5), div.Step)
}

func TestWriterClosed(t *testing.T) {
	w := NewJSONLTraceWriter(&bytes.Buffer{})
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.WriteStep(&TraceStep{}), ErrTraceWriterClosed)
	assert.ErrorIs(t, w.Flush(), ErrTraceWriterClosed)
}
