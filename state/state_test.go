package state

import (
	"testing"

	"github.com/colorfulnotion/rvm/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStackBounds(t *testing.T) {
	st := NewStack(2)
	_, err := st.Pop()
	require.ErrorIs(t, err, errStackUnderflow)

	require.NoError(t, st.Push(uint256.NewInt(1)))
	require.NoError(t, st.Push(uint256.NewInt(2)))
	require.ErrorIs(t, st.Push(uint256.NewInt(3)), errStackOverflow)

	assert.Equal(t, uint64(2), st.Back(0).Uint64())
	st.Set(1, uint256.NewInt(7))
	assert.Equal(t, []uint256.Int{*uint256.NewInt(7), *uint256.NewInt(2)}, st.Data())

	v, err := st.Pop()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v.Uint64())
	assert.Equal(t, 1, st.Len())
}

func TestMemoryGrowsLazily(t *testing.T) {
	m := NewMemory(1 << 20)
	require.NoError(t, m.SetLen(3*types.PageSize))
	// zero writes to untouched pages allocate nothing
	require.NoError(t, m.Write(0, make([]byte, 32)))
	assert.Equal(t, uint64(0), m.Footprint())

	require.NoError(t, m.Write(types.PageSize-1, []byte{0xaa, 0xbb}))
	assert.Equal(t, uint64(2*types.PageSize), m.Footprint())
	assert.Equal(t, []byte{0x00, 0xaa, 0xbb, 0x00}, m.Read(types.PageSize-2, 4))

	require.Error(t, m.Write(3*types.PageSize-1, []byte{1, 2}))
	require.Error(t, m.CheckBounds(1<<20-1, 2))
	require.NoError(t, m.CheckBounds(1<<20-2, 2))
	require.Error(t, m.CheckBounds(^uint64(0), 2))
}

func TestMemoryShrinkKeepsFootprint(t *testing.T) {
	m := NewMemory(1 << 20)
	require.NoError(t, m.SetLen(64))
	require.NoError(t, m.Write(40, []byte{0xff}))
	footprint := m.Footprint()

	require.NoError(t, m.SetLen(32))
	assert.Equal(t, uint64(32), m.Len())
	assert.Equal(t, footprint, m.Footprint())

	// regrowing exposes zeroes, not the byte written before the shrink
	require.NoError(t, m.SetLen(64))
	assert.Equal(t, byte(0), m.Read(40, 1)[0])
}

func TestStorageOriginalTracking(t *testing.T) {
	s := NewStorage()
	key := uint256.NewInt(1)

	prev, first := s.Set(key, uint256.NewInt(5))
	assert.True(t, prev.IsZero())
	assert.True(t, first)

	prev, first = s.Set(key, uint256.NewInt(6))
	assert.Equal(t, uint64(5), prev.Uint64())
	assert.False(t, first)

	orig, written := s.Original(key)
	assert.True(t, written)
	assert.True(t, orig.IsZero())

	s.Revert(key, uint256.NewInt(5), false)
	s.Revert(key, uint256.NewInt(0), true)
	_, written = s.Original(key)
	assert.False(t, written)
	assert.Equal(t, 0, s.Len())
}

func TestSnapshotRestore(t *testing.T) {
	call := types.DefaultCallContext()
	c := New(DefaultLimits(), &call, 1000)
	require.NoError(t, c.Stack.Push(uint256.NewInt(0x42)))
	require.NoError(t, c.Memory.SetLen(32))
	require.NoError(t, c.Memory.Write(0, []byte{1, 2, 3}))
	c.Storage.Set(uint256.NewInt(9), uint256.NewInt(10))
	c.Frame.PC = 7
	c.Frame.Logs = append(c.Frame.Logs, Log{Data: []byte{1}})

	snap := c.Snapshot()
	hash := c.Hash()
	assert.Equal(t, hash, snap.Hash())

	require.NoError(t, c.Stack.Push(uint256.NewInt(1)))
	require.NoError(t, c.Memory.SetLen(64))
	require.NoError(t, c.Memory.Write(33, []byte{9}))
	c.Storage.Set(uint256.NewInt(9), uint256.NewInt(0))
	c.Frame.PC = 9
	c.Frame.Logs[0].Data[0] = 2
	assert.NotEqual(t, hash, c.Hash())

	c.Restore(snap)
	assert.Equal(t, hash, c.Hash())
	assert.Equal(t, uint64(32), c.Memory.Len())
	assert.Equal(t, byte(1), snap.Frame.Logs[0].Data[0], "snapshot must not alias live logs")
}
