package checkpoint

import (
	"testing"

	"github.com/colorfulnotion/rvm/state"
	"github.com/colorfulnotion/rvm/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// snapshotWith returns a snapshot whose stack holds a single marker value.
func snapshotWith(marker uint64) *state.Snapshot {
	call := types.DefaultCallContext()
	c := state.New(state.DefaultLimits(), &call, 1000)
	if marker != 0 {
		if err := c.Stack.Push(uint256.NewInt(marker)); err != nil {
			panic(err)
		}
	}
	return c.Snapshot()
}

func TestDeriveInterval(t *testing.T) {
	tests := []struct {
		reason string
		maxGas uint64
		want   uint64
	}{
		{"tiny budget clamps to minimum", 300, 16},
		{"exact square", 3 * 10_000, 100},
		{"rounds up", 3*10_000 + 3, 101},
		{"default gas", types.DefaultGas, 1826},
		{"huge budget clamps to maximum", 1 << 40, 4096},
	}
	for _, tc := range tests {
		t.Run(tc.reason, func(t *testing.T) {
			got := DeriveInterval(tc.maxGas, types.GasPerStepEstimate, types.MinCheckpointInterval, types.MaxCheckpointInterval)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGenesisPinned(t *testing.T) {
	idx := New(snapshotWith(0), Config{Interval: 4})

	require.Equal(t, []uint64{0}, idx.List())
	assert.Equal(t, uint64(0), idx.NearestAtOrBefore(0).Step)
	assert.Equal(t, uint64(0), idx.NearestAtOrBefore(1000).Step)

	idx.Create(4, snapshotWith(4))
	assert.Equal(t, 1, idx.TruncateAfter(0))
	assert.Equal(t, 0, idx.TruncateAfter(0), "genesis is never dropped")
	assert.Equal(t, []uint64{0}, idx.List())
}

func TestShouldCheckpoint(t *testing.T) {
	idx := New(snapshotWith(0), Config{Interval: 4})
	assert.False(t, idx.ShouldCheckpoint(0))
	assert.False(t, idx.ShouldCheckpoint(3))
	assert.True(t, idx.ShouldCheckpoint(4))
	assert.True(t, idx.ShouldCheckpoint(8))
}

func TestNearestAtOrBefore(t *testing.T) {
	idx := New(snapshotWith(0), Config{Interval: 4})
	for _, s := range []uint64{4, 8, 12} {
		idx.Create(s, snapshotWith(s))
	}

	tests := []struct {
		step uint64
		want uint64
	}{
		{0, 0}, {3, 0}, {4, 4}, {7, 4}, {8, 8}, {11, 8}, {12, 12}, {99, 12},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, idx.NearestAtOrBefore(tc.step).Step, "step %d", tc.step)
	}

	cp, ok := idx.At(8)
	require.True(t, ok)
	assert.Equal(t, uint64(8), cp.Snapshot.Stack[0].Uint64())
	_, ok = idx.At(9)
	assert.False(t, ok)
}

func TestCreateReplacesSameStep(t *testing.T) {
	idx := New(snapshotWith(0), Config{Interval: 4})
	first := idx.Create(4, snapshotWith(1))
	second := idx.Create(4, snapshotWith(2))

	assert.Equal(t, []uint64{0, 4}, idx.List())
	assert.NotEqual(t, first.Hash, second.Hash)
	assert.Equal(t, second.Hash, idx.NearestAtOrBefore(5).Hash)
}

func TestTruncateAfterMirrorsJournal(t *testing.T) {
	idx := New(snapshotWith(0), Config{Interval: 2})
	for s := uint64(2); s <= 10; s += 2 {
		idx.Create(s, snapshotWith(s))
	}

	assert.Equal(t, 3, idx.TruncateAfter(5))
	assert.Equal(t, []uint64{0, 2, 4}, idx.List())
	assert.Equal(t, 0, idx.TruncateAfter(4))
	assert.Equal(t, uint64(4), idx.NearestAtOrBefore(9).Step)
}

func TestAdaptiveDoubling(t *testing.T) {
	idx := New(snapshotWith(0), Config{Interval: 2, Adaptive: true, MaxInterval: 8})

	// 2K = 4 checkpoints fit, the fifth doubles K to 4.
	for s := uint64(2); s <= 10; s += 2 {
		idx.Create(s, snapshotWith(s))
	}
	assert.Equal(t, uint64(4), idx.Interval())
	assert.Equal(t, []uint64{0, 4, 8}, idx.List())

	for s := uint64(12); idx.Interval() == 4; s += 4 {
		idx.Create(s, snapshotWith(s))
	}
	assert.Equal(t, uint64(8), idx.Interval())
	for _, s := range idx.List() {
		assert.Zero(t, s%8)
	}

	// Capped at MaxInterval.
	for s := uint64(48); s <= 400; s += 8 {
		idx.Create(s, snapshotWith(s))
	}
	assert.Equal(t, uint64(8), idx.Interval())

	stats := idx.Stats()
	assert.Equal(t, 2, stats["doublings"])
}

func point(step uint64) *Checkpoint {
	snap := snapshotWith(step)
	return &Checkpoint{Step: step, Snapshot: snap, Hash: snap.Hash()}
}

func TestLoad(t *testing.T) {
	idx := New(snapshotWith(0), Config{Interval: 4})

	err := idx.Load([]*Checkpoint{point(4)}, 4)
	require.Error(t, err)

	err = idx.Load([]*Checkpoint{point(0), point(8), point(4)}, 4)
	require.Error(t, err)

	tampered := point(8)
	tampered.Hash = point(9).Hash
	err = idx.Load([]*Checkpoint{point(0), tampered}, 8)
	require.Error(t, err)

	err = idx.Load([]*Checkpoint{point(0), point(8)}, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), idx.Interval())
	assert.Equal(t, []uint64{0, 8}, idx.List())
}
