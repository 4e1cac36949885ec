package timetravel

import (
	"context"
	"errors"
	"fmt"

	"github.com/colorfulnotion/rvm/checkpoint"
	"github.com/colorfulnotion/rvm/common"
	"github.com/colorfulnotion/rvm/journal"
	"github.com/colorfulnotion/rvm/log"
	"github.com/colorfulnotion/rvm/program"
	"github.com/colorfulnotion/rvm/rvmerrors"
	"github.com/colorfulnotion/rvm/state"
	"github.com/colorfulnotion/rvm/telemetry"
	"github.com/colorfulnotion/rvm/types"
	"github.com/colorfulnotion/rvm/vm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/colorfulnotion/rvm/timetravel"

// SeekStats describes the most recent seek: the checkpoint (or live step)
// replay started from and how many batches were re-applied.
type SeekStats struct {
	Target   uint64 `json:"target"`
	From     uint64 `json:"from"`
	Replayed int    `json:"replayed"`
}

// Position is where the controller stands. The instruction at PC is the next
// one to execute.
type Position struct {
	Step   uint64
	PC     uint64
	Op     program.OpCode
	Gas    uint64
	Status types.Status
	Last   *journal.StepRecord // batch that produced this position, nil at genesis
}

// Predicate is evaluated after every step of RunUntil and RunBackward.
type Predicate func(Position) bool

// Controller owns one VM instance and moves it along its timeline. It is not
// safe for concurrent use.
type Controller struct {
	code    []byte
	maxGas  uint64
	call    types.CallContext
	limits  state.Limits
	exec    *vm.Executor
	c       *state.Containers
	journal *journal.Journal
	index   *checkpoint.Index
	cpCfg   checkpoint.Config

	step     uint64
	status   types.Status
	halt     types.HaltReason
	fault    *rvmerrors.Fault
	abortErr error
	lastSeek SeekStats

	interval     uint64
	adaptive     *bool
	minInterval  uint64
	maxInterval  uint64
	gasPerStep   uint64
	verifyReplay bool

	hooks   []StepHook
	metrics *telemetry.Metrics
	tracer  trace.Tracer
}

// New builds a controller at genesis for code with a gas budget of maxGas.
func New(code []byte, maxGas uint64, bc types.BlockContext, opts ...Option) (*Controller, error) {
	c := &Controller{
		code:        append([]byte(nil), code...),
		maxGas:      maxGas,
		call:        types.DefaultCallContext(),
		limits:      state.DefaultLimits(),
		minInterval: types.MinCheckpointInterval,
		maxInterval: types.MaxCheckpointInterval,
		gasPerStep:  types.GasPerStepEstimate,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.limits.StackLimit <= 0 {
		return nil, fmt.Errorf("stack limit must be positive, got %d", c.limits.StackLimit)
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}

	k, adaptive := c.interval, false
	if k == 0 {
		k = checkpoint.DeriveInterval(maxGas, c.gasPerStep, c.minInterval, c.maxInterval)
		adaptive = true
	}
	if c.adaptive != nil {
		adaptive = *c.adaptive
	}
	c.cpCfg = checkpoint.Config{Interval: k, Adaptive: adaptive, MinInterval: c.minInterval, MaxInterval: c.maxInterval}

	prog := program.Decode(c.code)
	c.exec = vm.NewExecutor(prog, c.limits.StackLimit, bc)
	c.c = state.New(c.limits, &c.call, maxGas)
	c.journal = journal.New()
	c.index = checkpoint.New(c.c.Snapshot(), c.cpCfg)
	c.status = types.StatusReady

	log.Debug(log.TimeTravel, "Controller ready", "code", len(c.code), "gas", maxGas, "interval", k, "adaptive", adaptive)
	return c, nil
}

// StepForward executes the instruction at the current pc. When the
// controller stands behind the end of its timeline the recorded future is
// discarded first, so the new batch always becomes the last one.
func (c *Controller) StepForward() (types.StepOutcome, error) {
	if err := c.guard(); err != nil {
		return types.StepOutcome{}, err
	}
	switch c.status {
	case types.StatusHalted:
		return c.outcome(nil), rvmerrors.NewFault(rvmerrors.ErrAtHalt, c.step, c.c.Frame.PC, "", "halted by %s", c.halt)
	case types.StatusFaulted:
		return c.outcome(nil), rvmerrors.NewFault(rvmerrors.ErrAtFault, c.step, c.c.Frame.PC, c.fault.Op, "%s", rvmerrors.GetErrorName(c.fault.Kind))
	}

	rec, err := c.exec.Forward(c.c, c.step+1)
	if err != nil {
		if rvmerrors.IsExecutionFault(err) {
			f, _ := rvmerrors.AsFault(err)
			c.status = types.StatusFaulted
			c.fault = f
			c.metrics.Fault(rvmerrors.GetErrorName(err))
			log.Debug(log.TimeTravel, "Faulted", "step", c.step, "err", err)
			return c.outcome(nil), err
		}
		return types.StepOutcome{}, c.abort(err)
	}

	if c.step < c.journal.Last() {
		dropped := c.journal.TruncateAfter(c.step)
		c.index.TruncateAfter(c.step)
		c.metrics.Truncated(dropped)
		log.Debug(log.TimeTravel, "Timeline diverged", "at", c.step, "dropped", dropped)
	}
	if c.verifyReplay {
		rec.StateHash = c.c.Hash()
	}
	if err := c.journal.Append(rec); err != nil {
		return types.StepOutcome{}, c.abort(err)
	}
	c.step = rec.Step
	if c.index.ShouldCheckpoint(c.step) {
		c.index.Create(c.step, c.c.Snapshot())
	}

	if rec.Halt != types.HaltNone {
		c.status = types.StatusHalted
		c.halt = rec.Halt
		c.metrics.Halt(rec.Halt.String())
		log.Debug(log.TimeTravel, "Halted", "step", c.step, "reason", rec.Halt)
	} else {
		c.status = types.StatusRunning
	}
	for _, h := range c.hooks {
		h(rec, c.c)
	}
	c.metrics.StepForward()
	c.metrics.Sizes(c.index.Len(), c.journal.MemoryUsage())
	return c.outcome(rec), nil
}

// StepBackward undoes the batch of the current step. At genesis it returns an
// AtGenesis fault and changes nothing.
func (c *Controller) StepBackward() error {
	if err := c.guard(); err != nil {
		return err
	}
	if c.step == 0 {
		return rvmerrors.NewFault(rvmerrors.ErrAtGenesis, 0, c.c.Frame.PC, "", "already at step 0")
	}
	rec, ok := c.journal.At(c.step)
	if !ok {
		return c.abort(fmt.Errorf("%w: no record for step %d", rvmerrors.ErrInvariantViolation, c.step))
	}
	if err := vm.Invert(rec, c.c); err != nil {
		return c.abort(err)
	}
	c.step--
	c.settle()
	c.metrics.StepBackward()
	return nil
}

// Seek moves to target by restoring the nearest checkpoint at or before it
// and replaying the recorded batches in between.
func (c *Controller) Seek(target uint64) error {
	return c.SeekContext(context.Background(), target)
}

func (c *Controller) SeekContext(ctx context.Context, target uint64) (err error) {
	if err := c.guard(); err != nil {
		return err
	}
	_, span := c.tracer.Start(ctx, "timetravel.Seek", trace.WithAttributes(
		attribute.Int64("from_step", int64(c.step)),
		attribute.Int64("target", int64(target)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, rvmerrors.GetErrorName(err))
		}
		span.End()
	}()

	if target > c.journal.Last() {
		err = rvmerrors.NewFault(rvmerrors.ErrStepOutOfRange, c.step, c.c.Frame.PC, "", "seek to %d beyond last recorded step %d", target, c.journal.Last())
		c.metrics.Seek(0, err)
		return err
	}
	cp := c.index.NearestAtOrBefore(target)
	if cp == nil {
		return c.abort(fmt.Errorf("%w: no checkpoint at or before step %d", rvmerrors.ErrInvariantViolation, target))
	}

	from := cp.Step
	if c.step <= target && c.step > cp.Step {
		// The live state is closer than the checkpoint.
		from = c.step
	} else {
		c.c.Restore(cp.Snapshot)
	}
	recs, err := c.journal.Between(from, target)
	if err != nil {
		return c.abort(err)
	}
	for _, rec := range recs {
		if err := c.replay(rec); err != nil {
			return c.abort(err)
		}
	}

	c.step = target
	c.lastSeek = SeekStats{Target: target, From: from, Replayed: len(recs)}
	c.settle()
	c.metrics.Seek(len(recs), nil)
	span.SetAttributes(attribute.Int64("checkpoint", int64(from)), attribute.Int("replayed", len(recs)))
	log.Trace(log.TimeTravel, "Seek", "target", target, "from", from, "replayed", len(recs))
	return nil
}

// Rewind moves n steps back, stopping at genesis.
func (c *Controller) Rewind(n uint64) error {
	if err := c.guard(); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	if c.step == 0 {
		return rvmerrors.NewFault(rvmerrors.ErrAtGenesis, 0, c.c.Frame.PC, "", "already at step 0")
	}
	if n > c.step {
		n = c.step
	}
	return c.Seek(c.step - n)
}

// replay re-applies a recorded batch, checking its state hash when one was stored.
func (c *Controller) replay(rec *journal.StepRecord) error {
	if err := vm.Redo(rec, c.c); err != nil {
		return err
	}
	if c.verifyReplay && rec.StateHash != (common.Hash{}) {
		if got := c.c.Hash(); got != rec.StateHash {
			return fmt.Errorf("%w: replayed step %d hashes to %s, recorded %s", rvmerrors.ErrInvariantViolation, rec.Step, got.Hex(), rec.StateHash.Hex())
		}
	}
	return nil
}

// settle derives the status of a position reached by navigation.
func (c *Controller) settle() {
	c.fault = nil
	c.halt = types.HaltNone
	if c.step == 0 {
		c.status = types.StatusReady
		return
	}
	c.status = types.StatusRunning
	if rec, ok := c.journal.At(c.step); ok && rec.Halt != types.HaltNone {
		c.status = types.StatusHalted
		c.halt = rec.Halt
	}
}

func (c *Controller) guard() error {
	if c.status == types.StatusAborted {
		return rvmerrors.NewFault(rvmerrors.ErrAborted, c.step, c.c.Frame.PC, "", "%v", c.abortErr)
	}
	return nil
}

func (c *Controller) abort(err error) error {
	c.status = types.StatusAborted
	c.abortErr = err
	c.metrics.Abort()
	log.Error(log.TimeTravel, "Controller aborted", "step", c.step, "err", err)
	if f, ok := rvmerrors.AsFault(err); ok && errors.Is(err, rvmerrors.ErrInvariantViolation) {
		return f
	}
	return rvmerrors.NewFault(rvmerrors.ErrInvariantViolation, c.step, c.c.Frame.PC, "", "%v", err)
}

func (c *Controller) outcome(rec *journal.StepRecord) types.StepOutcome {
	out := types.StepOutcome{Step: c.step, PC: c.c.Frame.PC, GasLeft: c.c.Frame.Gas, Status: c.status, Halt: c.halt}
	if rec != nil {
		out.PC = rec.PC
		out.Op = program.OpCode(rec.Op).String()
		out.GasCost = rec.GasCost()
	} else if instr, ok := c.exec.Program().At(c.c.Frame.PC); ok {
		out.Op = instr.Op.String()
	}
	return out
}

// Position reports the current step and the instruction about to execute.
func (c *Controller) Position() Position {
	p := Position{Step: c.step, PC: c.c.Frame.PC, Op: program.STOP, Gas: c.c.Frame.Gas, Status: c.status}
	if instr, ok := c.exec.Program().At(p.PC); ok {
		p.Op = instr.Op
	}
	p.Last, _ = c.journal.At(c.step)
	return p
}

// SetBlockContext replaces the block values seen by future instructions.
// Recorded batches are unaffected.
func (c *Controller) SetBlockContext(bc types.BlockContext) {
	c.exec.SetBlockContext(bc)
}

func (c *Controller) BlockContext() types.BlockContext {
	return c.exec.BlockContext()
}

func (c *Controller) CallContext() types.CallContext {
	return c.call
}

func (c *Controller) Step() uint64 {
	return c.step
}

// MaxStep is the last recorded step.
func (c *Controller) MaxStep() uint64 {
	return c.journal.Last()
}

func (c *Controller) Status() types.Status {
	return c.status
}

func (c *Controller) HaltReason() types.HaltReason {
	return c.halt
}

// Fault is the execution fault that stopped the controller, if any.
func (c *Controller) Fault() *rvmerrors.Fault {
	return c.fault
}

// Err is the invariant violation that aborted the controller.
func (c *Controller) Err() error {
	return c.abortErr
}

func (c *Controller) LastSeek() SeekStats {
	return c.lastSeek
}

func (c *Controller) Code() []byte {
	return c.code
}

func (c *Controller) MaxGas() uint64 {
	return c.maxGas
}

func (c *Controller) VerifyReplay() bool {
	return c.verifyReplay
}

func (c *Controller) Limits() state.Limits {
	return c.limits
}

func (c *Controller) Program() *program.Program {
	return c.exec.Program()
}

// State exposes the live containers. Callers must treat them as read-only.
func (c *Controller) State() *state.Containers {
	return c.c
}

func (c *Controller) Journal() *journal.Journal {
	return c.journal
}

func (c *Controller) Checkpoints() *checkpoint.Index {
	return c.index
}

// Record returns the batch recorded for step.
func (c *Controller) Record(step uint64) (*journal.StepRecord, bool) {
	return c.journal.At(step)
}

// Result summarises the current position as an execution result.
func (c *Controller) Result() types.ExecutionResult {
	f := c.c.Frame
	res := types.ExecutionResult{
		Status:     c.status,
		Halt:       c.halt,
		Steps:      c.step,
		GasUsed:    c.maxGas - f.Gas,
		Refund:     f.Refund,
		ReturnData: append([]byte(nil), f.ReturnData...),
		StateHash:  c.c.Hash(),
	}
	if c.fault != nil {
		res.Err = c.fault.Error()
	} else if c.abortErr != nil {
		res.Err = c.abortErr.Error()
	}
	return res
}

// LoadTimeline replaces the journal and checkpoints with a previously
// recorded timeline and moves to genesis.
func (c *Controller) LoadTimeline(recs []*journal.StepRecord, points []*checkpoint.Checkpoint, interval uint64) error {
	if err := c.guard(); err != nil {
		return err
	}
	j := journal.New()
	if err := j.Load(recs); err != nil {
		return err
	}
	idx := checkpoint.New(c.index.Genesis().Snapshot, c.cpCfg)
	if err := idx.Load(points, interval); err != nil {
		return err
	}
	c.journal, c.index = j, idx
	c.c.Restore(idx.Genesis().Snapshot)
	c.step = 0
	c.lastSeek = SeekStats{}
	c.settle()
	c.metrics.Sizes(c.index.Len(), c.journal.MemoryUsage())
	log.Debug(log.TimeTravel, "Timeline loaded", "steps", j.Last(), "checkpoints", idx.Len(), "interval", interval)
	return nil
}

// VerifyDeterminism re-executes the whole journal from genesis on fresh
// containers and checks every step lands on the recorded state.
func (c *Controller) VerifyDeterminism(ctx context.Context) error {
	if err := c.guard(); err != nil {
		return err
	}
	genesis := c.index.Genesis().Snapshot
	fresh := state.New(c.limits, &c.call, c.maxGas)
	fresh.Restore(genesis)
	replayed := state.New(c.limits, &c.call, c.maxGas)
	replayed.Restore(genesis)

	for _, rec := range c.journal.Records() {
		if err := ctx.Err(); err != nil {
			return err
		}
		got, err := c.exec.Forward(fresh, rec.Step)
		if err != nil {
			return fmt.Errorf("re-execute step %d: %w", rec.Step, err)
		}
		if err := vm.Redo(rec, replayed); err != nil {
			return err
		}
		if got.PC != rec.PC || got.Op != rec.Op || got.GasAfter != rec.GasAfter || got.Halt != rec.Halt || fresh.Hash() != replayed.Hash() {
			return rvmerrors.NewFault(rvmerrors.ErrInvariantViolation, rec.Step, rec.PC, program.OpCode(rec.Op).String(), "re-execution diverged from the journal")
		}
	}
	return nil
}

// StateAt rebuilds the containers at step on scratch state, from the nearest
// checkpoint. The live position is left alone.
func (c *Controller) StateAt(step uint64) (*state.Containers, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	if step > c.journal.Last() {
		return nil, rvmerrors.NewFault(rvmerrors.ErrStepOutOfRange, c.step, c.c.Frame.PC, "", "step %d beyond last recorded step %d", step, c.journal.Last())
	}
	if step == c.step {
		out := state.New(c.limits, &c.call, c.maxGas)
		out.Restore(c.c.Snapshot())
		return out, nil
	}
	cp := c.index.NearestAtOrBefore(step)
	if cp == nil {
		return nil, fmt.Errorf("%w: no checkpoint at or before step %d", rvmerrors.ErrInvariantViolation, step)
	}
	out := state.New(c.limits, &c.call, c.maxGas)
	out.Restore(cp.Snapshot)
	recs, err := c.journal.Between(cp.Step, step)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if err := vm.Redo(rec, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}
