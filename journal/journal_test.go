package journal

import (
	"testing"

	"github.com/colorfulnotion/rvm/rvmerrors"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(step uint64) *StepRecord {
	return &StepRecord{
		Step:      step,
		PC:        step * 2,
		GasBefore: 100 - step,
		GasAfter:  99 - step,
		Deltas:    []Delta{{Kind: StackPush, New: *uint256.NewInt(step)}},
	}
}

func TestAppendRequiresContiguousSteps(t *testing.T) {
	j := New()
	require.NoError(t, j.Append(record(1)))
	require.NoError(t, j.Append(record(2)))

	testCases := []struct {
		step   uint64
		reason string
	}{
		{2, "duplicate step"},
		{4, "gap"},
		{0, "genesis has no record"},
	}
	for _, tc := range testCases {
		err := j.Append(record(tc.step))
		require.ErrorIs(t, err, rvmerrors.ErrInvariantViolation, tc.reason)
	}
	assert.Equal(t, uint64(2), j.Last())
}

func TestTruncateAfter(t *testing.T) {
	j := New()
	for s := uint64(1); s <= 10; s++ {
		require.NoError(t, j.Append(record(s)))
	}
	usage := j.MemoryUsage()

	assert.Equal(t, 0, j.TruncateAfter(10))
	assert.Equal(t, 6, j.TruncateAfter(4))
	assert.Equal(t, uint64(4), j.Last())
	assert.Less(t, j.MemoryUsage(), usage)

	_, ok := j.At(5)
	assert.False(t, ok)
	rec, ok := j.At(4)
	require.True(t, ok)
	assert.Equal(t, uint64(4), rec.Step)

	// the freed slot takes the next step
	require.NoError(t, j.Append(record(5)))
}

func TestBetween(t *testing.T) {
	j := New()
	for s := uint64(1); s <= 10; s++ {
		require.NoError(t, j.Append(record(s)))
	}

	recs, err := j.Between(4, 7)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []uint64{5, 6, 7}, []uint64{recs[0].Step, recs[1].Step, recs[2].Step})

	recs, err = j.Between(7, 7)
	require.NoError(t, err)
	assert.Empty(t, recs)

	_, err = j.Between(3, 11)
	require.ErrorIs(t, err, rvmerrors.ErrStepOutOfRange)

	j.records[5].Step = 99
	_, err = j.Between(0, 10)
	require.ErrorIs(t, err, rvmerrors.ErrInvariantViolation)
}

func TestLoadRejectsGaps(t *testing.T) {
	j := New()
	require.Error(t, j.Load([]*StepRecord{record(1), record(3)}))
	assert.Equal(t, uint64(0), j.Last())
	require.NoError(t, j.Load([]*StepRecord{record(1), record(2)}))
	assert.Equal(t, uint64(2), j.Last())
}

func TestRecordsSurviveTruncation(t *testing.T) {
	j := New()
	for s := uint64(1); s <= 6; s++ {
		require.NoError(t, j.Append(record(s)))
	}
	held := j.Records()

	j.TruncateAfter(2)
	require.NoError(t, j.Append(record(3)))

	require.Len(t, held, 6)
	for i, rec := range held {
		require.NotNil(t, rec, "record %d", i+1)
		assert.Equal(t, uint64(i+1), rec.Step)
	}
	assert.NotSame(t, held[2], j.Records()[2])
}
