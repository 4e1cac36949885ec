package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/colorfulnotion/rvm/program"
	"github.com/colorfulnotion/rvm/timetravel"
	"github.com/colorfulnotion/rvm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const storeLoop = `
	PUSH1 0x00
loop:
	JUMPDEST
	PUSH1 0x01
	ADD
	DUP1
	DUP1
	SSTORE
	DUP1
	PUSH1 0x40
	MSTORE
	PUSH1 0x01
	PUSH1 0x00
	LOG0
	DUP1
	PUSH1 0x14
	GT
	PUSH @loop
	JUMPI
	STOP
`

func newSessionController(t *testing.T) *timetravel.Controller {
	t.Helper()
	bc := types.DefaultBlockContext()
	bc.Number = 77
	bc.BaseFee.SetUint64(7)
	call := types.DefaultCallContext()
	call.CallData = []byte{1, 2, 3}
	call.Value.SetUint64(1000)
	ctrl, err := timetravel.New(program.MustAssemble(storeLoop), 5_000_000, bc,
		timetravel.WithCallContext(call),
		timetravel.WithCheckpointInterval(16),
		timetravel.WithVerifyReplay(true),
	)
	require.NoError(t, err)
	return ctrl
}

func newArchive(t *testing.T) (*Archive, *PersistenceStore) {
	t.Helper()
	ps, err := NewMemoryPersistenceStore()
	require.NoError(t, err)
	t.Cleanup(func() { ps.Close() })
	return NewArchive(ps), ps
}

func TestArchiveRoundTrip(t *testing.T) {
	ctrl := newSessionController(t)
	_, err := ctrl.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, types.StatusHalted, ctrl.Status())
	require.NoError(t, ctrl.Seek(123))

	archive, _ := newArchive(t)
	digest, err := archive.Save("loop", Capture(ctrl))
	require.NoError(t, err)

	s, got, err := archive.Load("loop")
	require.NoError(t, err)
	assert.Equal(t, digest, got)
	assert.Equal(t, uint64(123), s.Step)
	assert.Equal(t, uint64(77), s.Block.Number)
	assert.Equal(t, uint64(7), s.Block.BaseFee.Uint64())
	assert.Equal(t, uint64(1000), s.Call.Value.Uint64())

	restored, err := s.Controller()
	require.NoError(t, err)
	assert.Equal(t, ctrl.Step(), restored.Step())
	assert.Equal(t, ctrl.MaxStep(), restored.MaxStep())
	assert.Equal(t, ctrl.Checkpoints().List(), restored.Checkpoints().List())
	assert.Equal(t, ctrl.State().Hash(), restored.State().Hash())
	assert.True(t, restored.VerifyReplay())

	// the restored timeline replays and re-executes identically
	require.NoError(t, restored.VerifyDeterminism(context.Background()))
	require.NoError(t, ctrl.Seek(ctrl.MaxStep()))
	require.NoError(t, restored.Seek(restored.MaxStep()))
	assert.Equal(t, ctrl.Result(), restored.Result())
	for _, step := range []uint64{0, 1, 17, 200} {
		require.NoError(t, ctrl.Seek(step))
		require.NoError(t, restored.Seek(step))
		assert.Equal(t, ctrl.State().Hash(), restored.State().Hash(), "step %d", step)
	}
}

func TestEncodingIsCanonical(t *testing.T) {
	ctrl := newSessionController(t)
	_, err := ctrl.StepN(context.Background(), 40)
	require.NoError(t, err)

	s := Capture(ctrl)
	a, err := EncodeSession(s)
	require.NoError(t, err)
	decoded, err := DecodeSession(a)
	require.NoError(t, err)
	b, err := EncodeSession(decoded)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecodeKeepsCheckpointSnapshots(t *testing.T) {
	ctrl := newSessionController(t)
	_, err := ctrl.StepN(context.Background(), 40)
	require.NoError(t, err)

	s := Capture(ctrl)
	require.Greater(t, len(s.Checkpoints), 1)
	data, err := EncodeSession(s)
	require.NoError(t, err)
	decoded, err := DecodeSession(data)
	require.NoError(t, err)

	require.Len(t, decoded.Checkpoints, len(s.Checkpoints))
	for i, cp := range decoded.Checkpoints {
		require.NotNil(t, cp.Snapshot, "checkpoint %d", cp.Step)
		assert.Equal(t, s.Checkpoints[i].Step, cp.Step)
		assert.Equal(t, s.Checkpoints[i].Hash, cp.Hash)
		assert.Equal(t, cp.Hash, cp.Snapshot.Hash(), "checkpoint %d", cp.Step)
	}

	restored, err := decoded.Controller()
	require.NoError(t, err)
	assert.Equal(t, ctrl.State().Hash(), restored.State().Hash())
}

func TestArchiveDetectsCorruption(t *testing.T) {
	ctrl := newSessionController(t)
	_, err := ctrl.StepN(context.Background(), 10)
	require.NoError(t, err)

	archive, ps := newArchive(t)
	digest, err := archive.Save("s", Capture(ctrl))
	require.NoError(t, err)

	data, ok, err := ps.Get(blobKey(digest))
	require.NoError(t, err)
	require.True(t, ok)
	data[len(data)/2] ^= 0xff
	require.NoError(t, ps.Put(blobKey(digest), data))

	_, _, err = archive.Load("s")
	assert.True(t, errors.Is(err, ErrCorruptSession))
}

func TestDecodeRejectsOtherVersions(t *testing.T) {
	ctrl := newSessionController(t)
	s := Capture(ctrl)
	s.Version = SessionVersion + 1
	data, err := EncodeSession(s)
	require.NoError(t, err)
	_, err = DecodeSession(data)
	assert.Error(t, err)
}

func TestArchiveListAndDelete(t *testing.T) {
	archive, ps := newArchive(t)
	ctrl := newSessionController(t)
	s := Capture(ctrl)

	digest, err := archive.Save("b", s)
	require.NoError(t, err)
	_, err = archive.Save("a", s)
	require.NoError(t, err)

	names, err := archive.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	// "a" still references the blob
	require.NoError(t, archive.Delete("b"))
	ok, err := ps.Has(blobKey(digest))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, archive.Delete("a"))
	ok, err = ps.Has(blobKey(digest))
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = archive.Load("a")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
	assert.True(t, errors.Is(archive.Delete("a"), ErrSessionNotFound))

	_, err = archive.Save("", s)
	assert.Error(t, err)
}

func TestSaveReplacesSession(t *testing.T) {
	archive, ps := newArchive(t)
	ctrl := newSessionController(t)

	first, err := archive.Save("run", Capture(ctrl))
	require.NoError(t, err)
	_, err = ctrl.StepN(context.Background(), 5)
	require.NoError(t, err)
	second, err := archive.Save("run", Capture(ctrl))
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	ok, err := ps.Has(blobKey(first))
	require.NoError(t, err)
	assert.False(t, ok)

	s, _, err := archive.Load("run")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), s.Step)
}
