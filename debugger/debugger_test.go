package debugger

import (
	"bytes"
	"context"
	"testing"

	"github.com/colorfulnotion/rvm/program"
	"github.com/colorfulnotion/rvm/rvmerrors"
	"github.com/colorfulnotion/rvm/timetravel"
	"github.com/colorfulnotion/rvm/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeAndLoad runs ten steps:
//
//	step  pc  op
//	1     0   PUSH1 0x2a
//	2     2   PUSH1 0x01
//	3     4   SSTORE       storage[1] = 0x2a
//	4     5   PUSH1 0x01
//	5     7   SLOAD
//	6     8   PUSH1 0x40
//	7     10  MSTORE       memory[0x40:0x60], size 96
//	8     11  PUSH1 0x20
//	9     13  PUSH1 0x40
//	10    15  RETURN
const storeAndLoad = `
	PUSH1 0x2a
	PUSH1 0x01
	SSTORE
	PUSH1 0x01
	SLOAD
	PUSH1 0x40
	MSTORE
	PUSH1 0x20
	PUSH1 0x40
	RETURN
`

const storeAndLoadSteps = 10

func newDebugger(t *testing.T) *Debugger {
	t.Helper()
	ctrl, err := timetravel.New(program.MustAssemble(storeAndLoad), 100_000, types.DefaultBlockContext(),
		timetravel.WithCheckpointInterval(4))
	require.NoError(t, err)
	return New(ctrl)
}

// recorded runs the program to completion and seeks back to step.
func recorded(t *testing.T, step uint64) *Debugger {
	t.Helper()
	d := newDebugger(t)
	stop, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, timetravel.StopHalted, stop.Reason)
	require.Equal(t, uint64(storeAndLoadSteps), stop.Step)
	require.NoError(t, d.Seek(step))
	return d
}

func TestRunStopsAtBreakpoint(t *testing.T) {
	key := uint256.NewInt(1)
	cases := []struct {
		name string
		bp   Breakpoint
		want uint64
	}{
		{"pc", PCBreakpoint(8), 5},
		{"opcode", OpcodeBreakpoint(program.MSTORE), 6},
		{"step", StepBreakpoint(4), 4},
		{"gas below", GasBelowBreakpoint(90_000), 3},
		{"storage write", StorageBreakpoint(key), 3},
		{"memory write", MemoryBreakpoint(0x50, 4), 7},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := newDebugger(t)
			id := d.SetBreakpoint(tc.bp)

			stop, err := d.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, timetravel.StopPredicate, stop.Reason)
			assert.Equal(t, id, stop.Breakpoint)
			assert.Equal(t, tc.want, stop.Step)
			assert.Equal(t, tc.want, d.Position().Step)
			assert.Equal(t, 1, d.Breakpoints()[0].Hits)
		})
	}
}

func TestStorageBreakpointSeesReads(t *testing.T) {
	d := newDebugger(t)
	id := d.SetBreakpoint(StorageBreakpoint(uint256.NewInt(1)))

	stop, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), stop.Step)

	stop, err = d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, stop.Breakpoint)
	assert.Equal(t, uint64(5), stop.Step, "SLOAD of the same key")
	assert.Equal(t, 2, d.Breakpoints()[0].Hits)
}

func TestRunWithoutMatchHalts(t *testing.T) {
	d := newDebugger(t)
	d.SetBreakpoint(MemoryBreakpoint(0, 32))

	stop, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, timetravel.StopHalted, stop.Reason)
	assert.Zero(t, stop.Breakpoint)
	assert.Equal(t, types.StatusHalted, d.Position().Status)

	_, err = d.Run(context.Background())
	assert.ErrorIs(t, err, rvmerrors.ErrAtHalt)
}

func TestDisabledBreakpointIsSkipped(t *testing.T) {
	d := newDebugger(t)
	first := d.SetBreakpoint(StepBreakpoint(2))
	second := d.SetBreakpoint(StepBreakpoint(6))
	require.True(t, d.EnableBreakpoint(first, false))

	stop, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, second, stop.Breakpoint)
	assert.Equal(t, uint64(6), stop.Step)

	infos := d.Breakpoints()
	require.Len(t, infos, 2)
	assert.False(t, infos[0].Enabled)
	assert.Zero(t, infos[0].Hits)
	assert.Equal(t, "step:2", infos[0].Condition)
}

func TestRemoveBreakpoint(t *testing.T) {
	d := newDebugger(t)
	a := d.SetBreakpoint(PCBreakpoint(2))
	b := d.SetBreakpoint(PCBreakpoint(4))
	assert.NotEqual(t, a, b)

	assert.True(t, d.RemoveBreakpoint(a))
	assert.False(t, d.RemoveBreakpoint(a))
	require.Len(t, d.Breakpoints(), 1)
	assert.Equal(t, b, d.Breakpoints()[0].ID)

	d.ClearBreakpoints()
	assert.Empty(t, d.Breakpoints())
	assert.False(t, d.EnableBreakpoint(b, true))
}

func TestRunBackward(t *testing.T) {
	d := recorded(t, storeAndLoadSteps)
	id := d.SetBreakpoint(StepBreakpoint(4))

	stop, err := d.RunBackward(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, stop.Breakpoint)
	assert.Equal(t, uint64(4), stop.Step)
	assert.Equal(t, types.StatusRunning, d.Position().Status)

	d.ClearBreakpoints()
	stop, err = d.RunBackward(context.Background())
	require.NoError(t, err)
	assert.Equal(t, timetravel.StopGenesis, stop.Reason)
	assert.Zero(t, d.Position().Step)
}

func TestScriptBreakpoint(t *testing.T) {
	d := newDebugger(t)
	bp, err := ScriptBreakpoint(`storage(1) == "0x2a" && depth == 1`)
	require.NoError(t, err)
	id := d.SetBreakpoint(bp)

	stop, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, stop.Breakpoint)
	assert.Equal(t, uint64(4), stop.Step)
	assert.Equal(t, "js:"+`storage(1) == "0x2a" && depth == 1`, bp.String())
}

func TestScriptErrorStopsRun(t *testing.T) {
	d := newDebugger(t)
	bp, err := ScriptBreakpoint(`step > 2 && nosuch()`)
	require.NoError(t, err)
	id := d.SetBreakpoint(bp)

	stop, err := d.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nosuch")
	assert.Equal(t, id, stop.Breakpoint)
	assert.Equal(t, uint64(3), stop.Step)

	_, err = ScriptBreakpoint(`(`)
	assert.Error(t, err)
}

func TestScriptBindings(t *testing.T) {
	d := recorded(t, 7)
	cases := []struct {
		expr string
		want bool
	}{
		{`step == 7 && pc == 11 && op == "PUSH1"`, true},
		{`msize == 96`, true},
		{`memory(0x5f, 1) == "0x2a"`, true},
		{`stack(0) === undefined`, true},
		{`storage("0x1") == "0x2a" && storage(2) == "0x0"`, true},
		{`status == "Running" && gas < 100000`, true},
		{`depth > 0`, false},
	}
	for _, tc := range cases {
		cond, err := NewScriptCondition(tc.expr)
		require.NoError(t, err, tc.expr)
		got, err := cond.Eval(d.Position(), d.Controller().State())
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, got, tc.expr)
	}
}

func TestScriptTimeout(t *testing.T) {
	d := newDebugger(t)
	cond, err := NewScriptCondition(`while (true) {}`)
	require.NoError(t, err)
	_, err = cond.Eval(d.Position(), d.Controller().State())
	assert.Error(t, err)

	ok, err := cond.Eval(d.Position(), d.Controller().State())
	assert.False(t, ok)
	assert.Error(t, err, "every evaluation is bounded")
}

func TestParseBreakpoint(t *testing.T) {
	cases := []struct {
		in      string
		kind    BreakpointKind
		canon   string
		wantErr bool
	}{
		{in: "pc:12", kind: BreakPC, canon: "pc:12"},
		{in: "pc:0x0c", kind: BreakPC, canon: "pc:12"},
		{in: "op:sstore", kind: BreakOpcode, canon: "op:SSTORE"},
		{in: "step:100", kind: BreakStep, canon: "step:100"},
		{in: "gas<:5000", kind: BreakGasBelow, canon: "gas<:5000"},
		{in: "storage:0x01", kind: BreakStorage, canon: "storage:0x1"},
		{in: "storage:16", kind: BreakStorage, canon: "storage:0x10"},
		{in: "memory:0x40+32", kind: BreakMemory, canon: "memory:0x40+32"},
		{in: "js: gas < 100", kind: BreakScript, canon: "js:gas < 100"},
		{in: "pc", wantErr: true},
		{in: "pc:abc", wantErr: true},
		{in: "op:NOPE", wantErr: true},
		{in: "memory:0x40", wantErr: true},
		{in: "memory:0x40+0", wantErr: true},
		{in: "watch:1", wantErr: true},
		{in: "js:(", wantErr: true},
	}
	for _, tc := range cases {
		bp, err := ParseBreakpoint(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.kind, bp.Kind, tc.in)
		assert.Equal(t, tc.canon, bp.String(), tc.in)

		again, err := ParseBreakpoint(bp.String())
		require.NoError(t, err, tc.in)
		assert.Equal(t, bp.String(), again.String(), tc.in)
	}
}

func TestInspect(t *testing.T) {
	d := recorded(t, 7)

	assert.Empty(t, d.InspectStack())
	mem, err := d.InspectMemory(0x40, 32)
	require.NoError(t, err)
	assert.Equal(t, byte(0x2a), mem[31])
	assert.Equal(t, make([]byte, 31), mem[:31])

	past, err := d.InspectMemory(0x1000, 4)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 4), past)

	_, err = d.InspectMemory(0, 1<<40)
	assert.Error(t, err)

	v := d.InspectStorage(uint256.NewInt(1))
	assert.Equal(t, uint64(0x2a), v.Uint64())
	require.Len(t, d.InspectStorageEntries(), 1)

	require.NoError(t, d.Seek(2))
	stack := d.InspectStack()
	require.Len(t, stack, 2)
	assert.Equal(t, uint64(0x2a), stack[0].Uint64())
	assert.Equal(t, uint64(1), stack[1].Uint64())
	v = d.InspectStorage(uint256.NewInt(1))
	assert.True(t, v.IsZero())

	// the returned stack is a copy
	stack[0].SetUint64(7)
	assert.Equal(t, uint64(0x2a), d.InspectStack()[0].Uint64())
}

func TestNavigationPassesThrough(t *testing.T) {
	d := newDebugger(t)
	assert.ErrorIs(t, d.StepBackward(), rvmerrors.ErrAtGenesis)

	out, err := d.StepForward()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), out.Step)
	assert.Equal(t, "PUSH1", out.Op)

	require.NoError(t, d.StepBackward())
	assert.ErrorIs(t, d.Seek(3), rvmerrors.ErrStepOutOfRange)
	assert.ErrorIs(t, d.Rewind(1), rvmerrors.ErrAtGenesis)
}

func TestStateDiff(t *testing.T) {
	d := recorded(t, 5)

	df, err := d.StateDiff(2, 3, false)
	require.NoError(t, err)
	assert.True(t, df.Modified)
	assert.Contains(t, df.Text, `"0x1"`)
	assert.Contains(t, df.Text, `"0x2a"`)
	assert.NotEmpty(t, df.ChangedLines())
	assert.Equal(t, uint64(5), d.Position().Step, "diff does not move the position")

	same, err := d.StateDiff(3, 3, false)
	require.NoError(t, err)
	assert.False(t, same.Modified)
	assert.Empty(t, same.Text)

	_, err = d.StateDiff(0, 99, false)
	assert.ErrorIs(t, err, rvmerrors.ErrStepOutOfRange)
}

func TestRenderTimeline(t *testing.T) {
	d := recorded(t, 5)
	out := d.RenderTimeline(0, 100, false)

	for _, want := range []string{
		"timeline 0..10 of 10 (K=4, 3 checkpoints",
		"checkpoint @0",
		"checkpoint @4",
		"checkpoint @8",
		"step 0 genesis",
		"step 5 pc=7 SLOAD",
		"<- current",
		"halt RETURN",
	} {
		assert.Contains(t, out, want)
	}
	assert.Equal(t, 1, bytes.Count([]byte(out), []byte("<- current")))

	empty := d.RenderTimeline(9, 3, false)
	assert.NotContains(t, empty, "checkpoint @")
}

func TestProfile(t *testing.T) {
	d := recorded(t, 3)
	p, err := d.Profile(0, 100)
	require.NoError(t, err)

	require.Len(t, p.Steps, storeAndLoadSteps+1)
	assert.Equal(t, []uint64{0, 1, 2, 0, 1, 1, 2, 0, 1, 2, 0}, p.StackDepth)
	assert.Equal(t, []uint64{0, 0, 0, 0, 0, 0, 0, 96, 96, 96, 96}, p.MemorySize)
	assert.Equal(t, uint64(100_000), p.Gas[0])
	assert.Equal(t, uint64(99_997), p.Gas[1])
	for i := 1; i < len(p.Gas); i++ {
		assert.LessOrEqual(t, p.Gas[i], p.Gas[i-1])
	}
	assert.Equal(t, uint64(3), d.Position().Step)

	tail, err := d.Profile(8, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint64{8, 9, 10}, tail.Steps)
	assert.Equal(t, []uint64{1, 2, 0}, tail.StackDepth)

	var buf bytes.Buffer
	require.NoError(t, d.RenderChart(&buf, 0, 10))
	assert.Contains(t, buf.String(), "echarts")
	assert.Contains(t, buf.String(), "Execution profile")
}
