package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/colorfulnotion/rvm/checkpoint"
	"github.com/colorfulnotion/rvm/common"
	"github.com/colorfulnotion/rvm/journal"
	"github.com/colorfulnotion/rvm/log"
	"github.com/colorfulnotion/rvm/state"
	"github.com/colorfulnotion/rvm/timetravel"
	"github.com/colorfulnotion/rvm/types"
	"github.com/fxamacker/cbor/v2"
	"github.com/holiman/uint256"
)

// SessionVersion is bumped whenever the encoded layout changes.
const SessionVersion = 1

const (
	sessionPrefix = "session/"
	blobPrefix    = "blob/"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrCorruptSession  = errors.New("archived session does not match its digest")
)

var (
	cborEncMode cbor.EncMode
	cborDecMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("storage: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em

	// long runs journal far more batches than the default element cap
	dm, err := cbor.DecOptions{MaxArrayElements: 1<<31 - 1, MaxMapPairs: 1<<31 - 1}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("storage: failed to create CBOR dec mode: %v", err))
	}
	cborDecMode = dm
}

// Session is everything needed to rebuild a controller and its timeline.
type Session struct {
	Version      uint8                    `cbor:"1,keyasint"`
	Code         []byte                   `cbor:"2,keyasint"`
	MaxGas       uint64                   `cbor:"3,keyasint"`
	StackLimit   int                      `cbor:"4,keyasint"`
	MemoryLimit  uint64                   `cbor:"5,keyasint"`
	Block        BlockRecord              `cbor:"6,keyasint"`
	Call         CallRecord               `cbor:"7,keyasint"`
	Interval     uint64                   `cbor:"8,keyasint"`
	Adaptive     bool                     `cbor:"9,keyasint,omitempty"`
	VerifyReplay bool                     `cbor:"10,keyasint,omitempty"`
	Step         uint64                   `cbor:"11,keyasint"`
	Records      []*journal.StepRecord    `cbor:"12,keyasint"`
	Checkpoints  []*checkpoint.Checkpoint `cbor:"13,keyasint"`
	Created      int64                    `cbor:"14,keyasint"`
}

// BlockRecord is the encoded form of types.BlockContext.
type BlockRecord struct {
	Number      uint64                 `cbor:"1,keyasint"`
	Timestamp   uint64                 `cbor:"2,keyasint"`
	Coinbase    common.Address         `cbor:"3,keyasint"`
	ChainID     uint64                 `cbor:"4,keyasint"`
	GasLimit    uint64                 `cbor:"5,keyasint"`
	BaseFee     uint256.Int            `cbor:"6,keyasint"`
	PrevRandao  common.Hash            `cbor:"7,keyasint"`
	BlockHashes map[uint64]common.Hash `cbor:"8,keyasint,omitempty"`
}

// CallRecord is the encoded form of types.CallContext.
type CallRecord struct {
	Caller   common.Address `cbor:"1,keyasint"`
	Address  common.Address `cbor:"2,keyasint"`
	Origin   common.Address `cbor:"3,keyasint"`
	Value    uint256.Int    `cbor:"4,keyasint"`
	GasPrice uint256.Int    `cbor:"5,keyasint"`
	Balance  uint256.Int    `cbor:"6,keyasint"`
	CallData []byte         `cbor:"7,keyasint,omitempty"`
}

func blockRecord(bc types.BlockContext) BlockRecord {
	return BlockRecord{
		Number: bc.Number, Timestamp: bc.Timestamp, Coinbase: bc.Coinbase, ChainID: bc.ChainID,
		GasLimit: bc.GasLimit, BaseFee: bc.BaseFee, PrevRandao: bc.PrevRandao, BlockHashes: bc.BlockHashes,
	}
}

func (r *BlockRecord) Context() types.BlockContext {
	return types.BlockContext{
		Number: r.Number, Timestamp: r.Timestamp, Coinbase: r.Coinbase, ChainID: r.ChainID,
		GasLimit: r.GasLimit, BaseFee: r.BaseFee, PrevRandao: r.PrevRandao, BlockHashes: r.BlockHashes,
	}
}

func callRecord(call types.CallContext) CallRecord {
	return CallRecord{
		Caller: call.Caller, Address: call.Address, Origin: call.Origin,
		Value: call.Value, GasPrice: call.GasPrice, Balance: call.Balance, CallData: call.CallData,
	}
}

func (r *CallRecord) Context() types.CallContext {
	return types.CallContext{
		Caller: r.Caller, Address: r.Address, Origin: r.Origin,
		Value: r.Value, GasPrice: r.GasPrice, Balance: r.Balance, CallData: r.CallData,
	}
}

// Capture records the controller's timeline and current position.
func Capture(ctrl *timetravel.Controller) *Session {
	limits := ctrl.Limits()
	index := ctrl.Checkpoints()
	return &Session{
		Version:      SessionVersion,
		Code:         ctrl.Code(),
		MaxGas:       ctrl.MaxGas(),
		StackLimit:   limits.StackLimit,
		MemoryLimit:  limits.MemoryLimit,
		Block:        blockRecord(ctrl.BlockContext()),
		Call:         callRecord(ctrl.CallContext()),
		Interval:     index.Interval(),
		Adaptive:     index.Adaptive(),
		VerifyReplay: ctrl.VerifyReplay(),
		Step:         ctrl.Step(),
		Records:      ctrl.Journal().Records(),
		Checkpoints:  index.Checkpoints(),
		Created:      time.Now().Unix(),
	}
}

// Controller rebuilds a controller positioned where the session was captured.
// opts are applied after the session's own settings.
func (s *Session) Controller(opts ...timetravel.Option) (*timetravel.Controller, error) {
	base := []timetravel.Option{
		timetravel.WithCallContext(s.Call.Context()),
		timetravel.WithLimits(state.Limits{StackLimit: s.StackLimit, MemoryLimit: s.MemoryLimit}),
		timetravel.WithCheckpointInterval(s.Interval),
		timetravel.WithAdaptiveCheckpoints(s.Adaptive, 0),
		timetravel.WithVerifyReplay(s.VerifyReplay),
	}
	ctrl, err := timetravel.New(s.Code, s.MaxGas, s.Block.Context(), append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	if err := ctrl.LoadTimeline(s.Records, s.Checkpoints, s.Interval); err != nil {
		return nil, fmt.Errorf("load timeline: %w", err)
	}
	if s.Step > 0 {
		if err := ctrl.Seek(s.Step); err != nil {
			return nil, fmt.Errorf("seek to captured step %d: %w", s.Step, err)
		}
	}
	return ctrl, nil
}

// EncodeSession serializes s as canonical CBOR.
func EncodeSession(s *Session) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

func DecodeSession(data []byte) (*Session, error) {
	var s Session
	if err := cborDecMode.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("storage: unmarshal session: %w", err)
	}
	if s.Version != SessionVersion {
		return nil, fmt.Errorf("storage: session version %d, want %d", s.Version, SessionVersion)
	}
	return &s, nil
}

// Archive stores sessions by name. Each name points at a blob keyed by the
// blake2b digest of its encoding, so identical sessions share storage.
type Archive struct {
	store *PersistenceStore
}

func NewArchive(store *PersistenceStore) *Archive {
	return &Archive{store: store}
}

func sessionKey(name string) []byte {
	return []byte(sessionPrefix + name)
}

func blobKey(digest common.Hash) []byte {
	return append([]byte(blobPrefix), digest.Bytes()...)
}

// Save encodes s under name, replacing any earlier session of that name.
func (a *Archive) Save(name string, s *Session) (common.Hash, error) {
	if name == "" {
		return common.Hash{}, errors.New("storage: empty session name")
	}
	data, err := EncodeSession(s)
	if err != nil {
		return common.Hash{}, fmt.Errorf("storage: encode session %s: %w", name, err)
	}
	digest := common.Blake2Hash(data)
	puts := [][2][]byte{
		{blobKey(digest), data},
		{sessionKey(name), digest.Bytes()},
	}
	var deletes [][]byte
	if prev, ok, err := a.store.Get(sessionKey(name)); err != nil {
		return common.Hash{}, err
	} else if ok && common.BytesToHash(prev) != digest {
		shared, err := a.referenced(name, common.BytesToHash(prev))
		if err != nil {
			return common.Hash{}, err
		}
		if !shared {
			deletes = append(deletes, blobKey(common.BytesToHash(prev)))
		}
	}
	if err := a.store.Write(puts, deletes); err != nil {
		return common.Hash{}, err
	}
	log.Info(log.Storage, "Saved session",
		"name", name,
		"digest", digest.String_short(),
		"steps", len(s.Records),
		"checkpoints", len(s.Checkpoints),
		"bytes", len(data))
	return digest, nil
}

// Load fetches and verifies the session stored under name.
func (a *Archive) Load(name string) (*Session, common.Hash, error) {
	ref, ok, err := a.store.Get(sessionKey(name))
	if err != nil {
		return nil, common.Hash{}, err
	}
	if !ok {
		return nil, common.Hash{}, fmt.Errorf("%w: %s", ErrSessionNotFound, name)
	}
	digest := common.BytesToHash(ref)
	data, ok, err := a.store.Get(blobKey(digest))
	if err != nil {
		return nil, digest, err
	}
	if !ok {
		return nil, digest, fmt.Errorf("%w: %s blob %s missing", ErrCorruptSession, name, digest.String_short())
	}
	if got := common.Blake2Hash(data); got != digest {
		return nil, digest, fmt.Errorf("%w: %s hashes to %s", ErrCorruptSession, name, got.String_short())
	}
	s, err := DecodeSession(data)
	if err != nil {
		return nil, digest, err
	}
	log.Debug(log.Storage, "Loaded session", "name", name, "digest", digest.String_short(), "steps", len(s.Records))
	return s, digest, nil
}

// List returns the stored session names in order.
func (a *Archive) List() ([]string, error) {
	kvs, err := a.store.GetWithPrefix([]byte(sessionPrefix))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(kvs))
	for _, kv := range kvs {
		names = append(names, strings.TrimPrefix(string(kv[0]), sessionPrefix))
	}
	return names, nil
}

// Delete removes name and its blob unless another session still references it.
func (a *Archive) Delete(name string) error {
	ref, ok, err := a.store.Get(sessionKey(name))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, name)
	}
	deletes := [][]byte{sessionKey(name)}
	shared, err := a.referenced(name, common.BytesToHash(ref))
	if err != nil {
		return err
	}
	if !shared {
		deletes = append(deletes, blobKey(common.BytesToHash(ref)))
	}
	return a.store.Write(nil, deletes)
}

func (a *Archive) referenced(except string, digest common.Hash) (bool, error) {
	kvs, err := a.store.GetWithPrefix([]byte(sessionPrefix))
	if err != nil {
		return false, err
	}
	for _, kv := range kvs {
		if string(kv[0]) != sessionPrefix+except && common.BytesToHash(kv[1]) == digest {
			return true, nil
		}
	}
	return false, nil
}
