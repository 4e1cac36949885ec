package debugger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/colorfulnotion/rvm/rvmerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleSession(t *testing.T) {
	var out bytes.Buffer
	con := NewConsole(newDebugger(t), &out, false)
	ctx := context.Background()

	steps := []struct {
		line string
		want []string
	}{
		{"step 3", []string{"step 3 pc=4 SSTORE"}},
		{"storage 1", []string{"0x1: 0x2a"}},
		{"storage", []string{"0x1: 0x2a"}},
		{"break pc:8", []string{"breakpoint 1: pc:8"}},
		{"break js: gas < 0", []string{"breakpoint 2: js:gas < 0"}},
		{"breakpoints", []string{"1 on  hits=0 pc:8", "2 on  hits=0 js:gas < 0"}},
		{"run", []string{"stopped at step 5 after 2 steps: predicate (breakpoint 1)", "step 5/5 pc=8 next PUSH1"}},
		{"stack", []string{"0: 0x2a"}},
		{"back 2", []string{"step 3/5 pc=5"}},
		{"eval depth == 0", []string{"true"}},
		{"disable 1", nil},
		{"c", []string{"halted", "step 10/10"}},
		{"mem 0x40 32", []string{"0x000040: 0x" + strings.Repeat("00", 31) + "2a"}},
		{"mem 0x30 48", []string{"0x000030: 0x" + strings.Repeat("00", 32), "0x000050: 0x" + strings.Repeat("00", 15) + "2a"}},
		{"seek 4", []string{"seek 4: from 4, replayed 0"}},
		{"rewind 2", []string{"step 2/10"}},
		{"diff 2 3", []string{`"0x1"`}},
		{"diff 4 4", []string{"identical state"}},
		{"timeline 0 5", []string{"checkpoint @4", "step 2 pc=2 PUSH1 gas 3 <- current"}},
		{"result", []string{"status Running"}},
		{"disasm", []string{"SSTORE", "RETURN"}},
		{"help", []string{"commands:"}},
		{"", nil},
	}
	for _, s := range steps {
		out.Reset()
		require.NoError(t, con.Execute(ctx, s.line), s.line)
		for _, want := range s.want {
			assert.Contains(t, out.String(), want, s.line)
		}
	}
}

func TestConsoleErrors(t *testing.T) {
	var out bytes.Buffer
	con := NewConsole(newDebugger(t), &out, false)
	ctx := context.Background()

	assert.ErrorIs(t, con.Execute(ctx, "back"), rvmerrors.ErrAtGenesis)
	assert.ErrorIs(t, con.Execute(ctx, "seek 9"), rvmerrors.ErrStepOutOfRange)
	assert.ErrorIs(t, con.Execute(ctx, "quit"), ErrQuit)
	assert.ErrorIs(t, con.Execute(ctx, "exit"), ErrQuit)

	for _, line := range []string{
		"frobnicate",
		"seek",
		"seek x",
		"mem 0",
		"break nope:1",
		"delete 3",
		"enable 3",
		"storage zz",
		"eval (",
	} {
		assert.Error(t, con.Execute(ctx, line), line)
	}
}

func TestConsoleColor(t *testing.T) {
	var out bytes.Buffer
	con := NewConsole(newDebugger(t), &out, true)
	require.NoError(t, con.Execute(context.Background(), "where"))
	assert.Contains(t, out.String(), "\033[")

	out.Reset()
	con.color = false
	require.NoError(t, con.Execute(context.Background(), "where"))
	assert.NotContains(t, out.String(), "\033[")
}
