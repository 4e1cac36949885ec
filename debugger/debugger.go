package debugger

import (
	"context"
	"fmt"

	"github.com/colorfulnotion/rvm/log"
	"github.com/colorfulnotion/rvm/state"
	"github.com/colorfulnotion/rvm/timetravel"
	"github.com/colorfulnotion/rvm/types"
	"github.com/holiman/uint256"
)

// BreakpointInfo is a registered breakpoint as reported by Breakpoints.
type BreakpointInfo struct {
	ID         BreakpointID `json:"id"`
	Breakpoint Breakpoint   `json:"-"`
	Condition  string       `json:"condition"`
	Enabled    bool         `json:"enabled"`
	Hits       int          `json:"hits"`
}

type entry struct {
	id      BreakpointID
	bp      Breakpoint
	enabled bool
	hits    int
}

// Stop explains why Run or RunBackward returned.
type Stop struct {
	timetravel.RunResult
	Breakpoint BreakpointID `json:"breakpoint,omitempty"` // 0 unless Reason is StopPredicate
}

// Debugger is a thin façade over a Controller. It holds breakpoint
// configuration only; every piece of timeline state lives in the controller.
type Debugger struct {
	ctrl        *timetravel.Controller
	breakpoints []*entry
	nextID      BreakpointID
}

func New(ctrl *timetravel.Controller) *Debugger {
	return &Debugger{ctrl: ctrl, nextID: 1}
}

func (d *Debugger) Controller() *timetravel.Controller {
	return d.ctrl
}

func (d *Debugger) Position() timetravel.Position {
	return d.ctrl.Position()
}

func (d *Debugger) StepForward() (types.StepOutcome, error) {
	return d.ctrl.StepForward()
}

func (d *Debugger) StepBackward() error {
	return d.ctrl.StepBackward()
}

func (d *Debugger) Seek(step uint64) error {
	return d.ctrl.Seek(step)
}

func (d *Debugger) Rewind(n uint64) error {
	return d.ctrl.Rewind(n)
}

// InspectStack returns a copy of the stack, bottom first.
func (d *Debugger) InspectStack() []uint256.Int {
	return d.ctrl.State().Stack.Data()
}

// InspectMemory copies length bytes at offset. Bytes past the logical size
// read as zero; ranges past the memory cap are refused.
func (d *Debugger) InspectMemory(offset, length uint64) ([]byte, error) {
	mem := d.ctrl.State().Memory
	end := offset + length
	if end < offset || end > mem.Limit() {
		return nil, fmt.Errorf("memory range [%d, %d+%d) beyond cap %d", offset, offset, length, mem.Limit())
	}
	return mem.Read(offset, length), nil
}

func (d *Debugger) InspectStorage(key *uint256.Int) uint256.Int {
	return d.ctrl.State().Storage.Get(key)
}

// InspectStorageEntries returns every non-zero slot ordered by key.
func (d *Debugger) InspectStorageEntries() []state.StorageEntry {
	return d.ctrl.State().Storage.Entries()
}

func (d *Debugger) SetBreakpoint(bp Breakpoint) BreakpointID {
	id := d.nextID
	d.nextID++
	d.breakpoints = append(d.breakpoints, &entry{id: id, bp: bp, enabled: true})
	log.Debug(log.Debugger, "Breakpoint set", "id", id, "condition", bp.String())
	return id
}

// RemoveBreakpoint reports whether id was registered.
func (d *Debugger) RemoveBreakpoint(id BreakpointID) bool {
	for i, e := range d.breakpoints {
		if e.id == id {
			d.breakpoints = append(d.breakpoints[:i], d.breakpoints[i+1:]...)
			return true
		}
	}
	return false
}

// EnableBreakpoint toggles id without forgetting its hit count.
func (d *Debugger) EnableBreakpoint(id BreakpointID, on bool) bool {
	for _, e := range d.breakpoints {
		if e.id == id {
			e.enabled = on
			return true
		}
	}
	return false
}

func (d *Debugger) ClearBreakpoints() {
	d.breakpoints = nil
}

// Breakpoints lists the registered breakpoints in the order they were set.
func (d *Debugger) Breakpoints() []BreakpointInfo {
	out := make([]BreakpointInfo, len(d.breakpoints))
	for i, e := range d.breakpoints {
		out[i] = BreakpointInfo{ID: e.id, Breakpoint: e.bp, Condition: e.bp.String(), Enabled: e.enabled, Hits: e.hits}
	}
	return out
}

// Run executes forward until an enabled breakpoint matches, execution halts
// or faults, or ctx is cancelled. Breakpoints are checked after each step,
// so a breakpoint matching the starting position does not stop the run
// before it moves. A script error stops the run and is returned.
func (d *Debugger) Run(ctx context.Context) (Stop, error) {
	pred, hit, scriptErr := d.predicate()
	res, err := d.ctrl.RunUntil(ctx, pred)
	return d.stop(res, err, *hit, *scriptErr)
}

// RunBackward is Run toward genesis.
func (d *Debugger) RunBackward(ctx context.Context) (Stop, error) {
	pred, hit, scriptErr := d.predicate()
	res, err := d.ctrl.RunBackward(ctx, pred)
	return d.stop(res, err, *hit, *scriptErr)
}

func (d *Debugger) predicate() (timetravel.Predicate, *BreakpointID, *error) {
	var hit BreakpointID
	var scriptErr error
	pred := func(pos timetravel.Position) bool {
		for _, e := range d.breakpoints {
			if !e.enabled {
				continue
			}
			ok, err := e.bp.evaluate(pos, d.ctrl.State())
			if err != nil {
				hit, scriptErr = e.id, err
				return true
			}
			if ok {
				e.hits++
				hit = e.id
				return true
			}
		}
		return false
	}
	return pred, &hit, &scriptErr
}

func (d *Debugger) stop(res timetravel.RunResult, err error, hit BreakpointID, scriptErr error) (Stop, error) {
	s := Stop{RunResult: res}
	if res.Reason == timetravel.StopPredicate {
		s.Breakpoint = hit
	}
	if err == nil && scriptErr != nil {
		err = fmt.Errorf("breakpoint %d: %w", hit, scriptErr)
	}
	if err != nil {
		log.Warn(log.Debugger, "Run stopped with error", "step", res.Step, "err", err)
	} else {
		log.Debug(log.Debugger, "Run stopped", "step", res.Step, "reason", res.Reason, "breakpoint", s.Breakpoint)
	}
	return s, err
}
