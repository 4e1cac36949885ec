package checkpoint

import (
	"fmt"
	"math"

	"github.com/colorfulnotion/rvm/common"
	"github.com/colorfulnotion/rvm/log"
	"github.com/colorfulnotion/rvm/rvmerrors"
	"github.com/colorfulnotion/rvm/state"
	"github.com/colorfulnotion/rvm/types"
	"golang.org/x/exp/slices"
)

// Checkpoint is a full copy of the containers taken at the boundary after Step.
type Checkpoint struct {
	Step     uint64          `json:"step" cbor:"1,keyasint"`
	Snapshot *state.Snapshot `json:"-" cbor:"2,keyasint"`
	Hash     common.Hash     `json:"hash" cbor:"3,keyasint"`
}

// Config controls the checkpoint cadence. A zero Interval is derived from the
// gas budget with DeriveInterval.
type Config struct {
	Interval    uint64
	Adaptive    bool
	MinInterval uint64
	MaxInterval uint64
}

// Index holds checkpoints ordered by step. The genesis checkpoint is pinned:
// it is never truncated or thinned away, so NearestAtOrBefore always succeeds.
//
// An Index belongs to a single controller and is not safe for concurrent use.
type Index struct {
	points      []*Checkpoint // points[0] is genesis
	interval    uint64
	adaptive    bool
	maxInterval uint64

	created uint64
	thinned uint64
	grown   int
}

// DeriveInterval picks K = ceil(sqrt(maxGas/gasPerStep)) clamped to [lo, hi].
// maxGas/gasPerStep bounds the number of steps a run can take.
func DeriveInterval(maxGas, gasPerStep, lo, hi uint64) uint64 {
	if gasPerStep == 0 {
		gasPerStep = types.GasPerStepEstimate
	}
	n := maxGas / gasPerStep
	k := uint64(math.Sqrt(float64(n)))
	for k*k < n {
		k++
	}
	for k > 0 && (k-1)*(k-1) >= n {
		k--
	}
	if k < lo {
		k = lo
	}
	if hi > 0 && k > hi {
		k = hi
	}
	if k == 0 {
		k = 1
	}
	return k
}

// New pins genesis and returns an empty index.
func New(genesis *state.Snapshot, cfg Config) *Index {
	interval := cfg.Interval
	if interval == 0 {
		interval = types.MinCheckpointInterval
	}
	maxInterval := cfg.MaxInterval
	if maxInterval == 0 {
		maxInterval = types.MaxCheckpointInterval
	}
	idx := &Index{
		points:      []*Checkpoint{{Step: 0, Snapshot: genesis, Hash: genesis.Hash()}},
		interval:    interval,
		adaptive:    cfg.Adaptive,
		maxInterval: max(maxInterval, interval),
	}
	log.Debug(log.Checkpoint, "Pinned genesis checkpoint",
		"interval", interval,
		"adaptive", cfg.Adaptive,
		"hash", idx.points[0].Hash.String_short())
	return idx
}

// Interval is the current cadence K.
func (idx *Index) Interval() uint64 {
	return idx.interval
}

func (idx *Index) Adaptive() bool {
	return idx.adaptive
}

// ShouldCheckpoint reports whether the boundary after step is a cadence point.
func (idx *Index) ShouldCheckpoint(step uint64) bool {
	return step > 0 && step%idx.interval == 0
}

// Create stores snap as the checkpoint for step, replacing any existing one.
func (idx *Index) Create(step uint64, snap *state.Snapshot) *Checkpoint {
	cp := &Checkpoint{Step: step, Snapshot: snap, Hash: snap.Hash()}
	if step == 0 {
		idx.points[0] = cp
		return cp
	}
	i, found := slices.BinarySearchFunc(idx.points, step, cmpStep)
	if found {
		idx.points[i] = cp
	} else {
		idx.points = slices.Insert(idx.points, i, cp)
	}
	idx.created++

	log.Trace(log.Checkpoint, "Created checkpoint",
		"step", step,
		"hash", cp.Hash.String_short(),
		"count", len(idx.points))

	if idx.adaptive && uint64(len(idx.points)-1) > 2*idx.interval && idx.interval*2 <= idx.maxInterval {
		idx.grow()
	}
	return cp
}

// grow doubles K and keeps only multiples of the new cadence.
func (idx *Index) grow() {
	prev := idx.interval
	idx.interval *= 2
	idx.grown++

	kept := idx.points[:1]
	for _, cp := range idx.points[1:] {
		if cp.Step%idx.interval == 0 {
			kept = append(kept, cp)
		} else {
			idx.thinned++
		}
	}
	clear(idx.points[len(kept):])
	idx.points = kept

	log.Info(log.Checkpoint, "Checkpoint interval doubled",
		"from", prev,
		"to", idx.interval,
		"remaining", len(idx.points))
}

// NearestAtOrBefore returns the highest checkpoint whose step is <= step.
func (idx *Index) NearestAtOrBefore(step uint64) *Checkpoint {
	i, found := slices.BinarySearchFunc(idx.points, step, cmpStep)
	if found {
		return idx.points[i]
	}
	return idx.points[i-1]
}

// At returns the checkpoint taken exactly at step.
func (idx *Index) At(step uint64) (*Checkpoint, bool) {
	i, found := slices.BinarySearchFunc(idx.points, step, cmpStep)
	if !found {
		return nil, false
	}
	return idx.points[i], true
}

// Genesis returns the pinned step 0 checkpoint.
func (idx *Index) Genesis() *Checkpoint {
	return idx.points[0]
}

// TruncateAfter drops every checkpoint beyond step. Genesis always survives.
func (idx *Index) TruncateAfter(step uint64) int {
	i, found := slices.BinarySearchFunc(idx.points, step, cmpStep)
	if found {
		i++
	}
	i = max(i, 1)
	dropped := len(idx.points) - i
	if dropped <= 0 {
		return 0
	}
	clear(idx.points[i:])
	idx.points = idx.points[:i]

	log.Debug(log.Checkpoint, "Truncated checkpoints",
		"after", step,
		"dropped", dropped)
	return dropped
}

// Len is the number of live checkpoints, genesis included.
func (idx *Index) Len() int {
	return len(idx.points)
}

// List returns the checkpointed steps in increasing order.
func (idx *Index) List() []uint64 {
	steps := make([]uint64, len(idx.points))
	for i, cp := range idx.points {
		steps[i] = cp.Step
	}
	return steps
}

// Checkpoints returns the stored checkpoints in increasing step order.
func (idx *Index) Checkpoints() []*Checkpoint {
	return slices.Clone(idx.points)
}

// Load replaces the index contents, e.g. from an archived session. The list
// must start with genesis and be strictly increasing.
func (idx *Index) Load(points []*Checkpoint, interval uint64) error {
	if len(points) == 0 || points[0].Step != 0 {
		return fmt.Errorf("%w: checkpoint list has no genesis", rvmerrors.ErrInvariantViolation)
	}
	for i := 1; i < len(points); i++ {
		if points[i].Step <= points[i-1].Step {
			return fmt.Errorf("%w: checkpoint %d follows %d", rvmerrors.ErrInvariantViolation, points[i].Step, points[i-1].Step)
		}
	}
	if interval == 0 {
		return fmt.Errorf("%w: zero checkpoint interval", rvmerrors.ErrInvariantViolation)
	}
	for _, cp := range points {
		if cp.Snapshot == nil || cp.Snapshot.Hash() != cp.Hash {
			return fmt.Errorf("%w: checkpoint %d does not match its hash", rvmerrors.ErrInvariantViolation, cp.Step)
		}
	}

	idx.points = slices.Clone(points)
	idx.interval = interval
	return nil
}

// MemoryUsage approximates the bytes held by all snapshots.
func (idx *Index) MemoryUsage() int {
	n := 0
	for _, cp := range idx.points {
		n += cp.Snapshot.MemoryUsage()
	}
	return n
}

// Stats returns checkpoint index statistics
func (idx *Index) Stats() map[string]interface{} {
	last := idx.points[len(idx.points)-1].Step
	return map[string]interface{}{
		"interval":  idx.interval,
		"adaptive":  idx.adaptive,
		"count":     len(idx.points),
		"last_step": last,
		"created":   idx.created,
		"thinned":   idx.thinned,
		"doublings": idx.grown,
	}
}

func cmpStep(cp *Checkpoint, step uint64) int {
	switch {
	case cp.Step < step:
		return -1
	case cp.Step > step:
		return 1
	}
	return 0
}
