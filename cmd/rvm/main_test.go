package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const storeProgram = `
PUSH1 0x2a
PUSH1 0x01
SSTORE
PUSH1 0x2a
PUSH1 0x00
MSTORE
PUSH1 0x20
PUSH1 0x00
RETURN
`

func rvm(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func writeProgram(t *testing.T, name, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestRunCommand(t *testing.T) {
	prog := writeProgram(t, "store.asm", storeProgram)

	out, err := rvm(t, "run", prog, "--gas", "100000")
	require.NoError(t, err)
	assert.Contains(t, out, "status:     Halted")
	assert.Contains(t, out, "halt:       RETURN")
	assert.Contains(t, out, "steps:      9")
	assert.Contains(t, out, "return:     0x000000000000000000000000000000000000000000000000000000000000002a")

	out, err = rvm(t, "run", prog, "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "Halted"`)
}

func TestRunReportsFault(t *testing.T) {
	out, err := rvm(t, "run", "0x01")
	require.NoError(t, err)
	assert.Contains(t, out, "status:     Faulted")
	assert.Contains(t, out, "fault:      StackUnderflow")
}

func TestSaveAndReplay(t *testing.T) {
	prog := writeProgram(t, "store.asm", storeProgram)
	dir := t.TempDir()
	tracePath := filepath.Join(dir, "store.jsonl")

	out, err := rvm(t, "run", prog, "--data-dir", dir, "--save", "store", "--trace", tracePath, "-k", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "saved session store")

	out, err = rvm(t, "replay", "--data-dir", dir, "--list")
	require.NoError(t, err)
	assert.Equal(t, "store\n", out)

	out, err = rvm(t, "replay", "store", "--data-dir", dir, "--trace", tracePath)
	require.NoError(t, err)
	assert.Contains(t, out, "9 steps re-executed, at step 9")
	assert.Contains(t, out, "matches (9 steps)")

	_, err = rvm(t, "replay", "missing", "--data-dir", dir)
	assert.Error(t, err)

	_, err = rvm(t, "replay", "store")
	assert.ErrorContains(t, err, "no data directory")
}

func TestDisasmCommand(t *testing.T) {
	out, err := rvm(t, "disasm", "0x6001600201")
	require.NoError(t, err)
	assert.Contains(t, out, "PUSH1 0x01")
	assert.Contains(t, out, "ADD")

	out, err = rvm(t, "disasm", "0x6001600201", "--stats")
	require.NoError(t, err)
	assert.Contains(t, out, "5 bytes, 3 instructions")
	assert.Regexp(t, `PUSH1\s+2`, out)
}

func TestDebugBatch(t *testing.T) {
	prog := writeProgram(t, "store.asm", storeProgram)
	out, err := rvm(t, "debug", prog, "--batch", "--color=false",
		"-b", "op:SSTORE",
		"-x", "run",
		"-x", "storage 1",
		"-x", "back",
		"-x", "where")
	require.NoError(t, err)
	assert.Contains(t, out, "stopped at step 2 after 2 steps: predicate (breakpoint 1)")
	assert.Contains(t, out, "0x1: 0x0")
	assert.Contains(t, out, "step 1/2 pc=2")

	_, err = rvm(t, "debug", prog, "--batch", "-x", "back")
	assert.ErrorContains(t, err, "back")

	_, err = rvm(t, "debug")
	assert.Error(t, err)
}

func TestChartCommand(t *testing.T) {
	prog := writeProgram(t, "store.asm", storeProgram)
	html := filepath.Join(t.TempDir(), "profile.html")
	out, err := rvm(t, "chart", prog, "-o", html)
	require.NoError(t, err)
	assert.Contains(t, out, "steps 0..9")

	data, err := os.ReadFile(html)
	require.NoError(t, err)
	assert.Contains(t, string(data), "echarts")
}

func TestLoadCode(t *testing.T) {
	tests := []struct {
		name    string
		arg     func(t *testing.T) string
		asm     bool
		want    []byte
		wantErr bool
	}{
		{name: "inline hex", arg: func(*testing.T) string { return "0x6001" }, want: []byte{0x60, 0x01}},
		{name: "hex file", arg: func(t *testing.T) string { return writeProgram(t, "p.hex", "0x6001\n") }, want: []byte{0x60, 0x01}},
		{name: "raw file", arg: func(t *testing.T) string { return writeProgram(t, "p.bin", "\x60\x01") }, want: []byte{0x60, 0x01}},
		{name: "asm file", arg: func(t *testing.T) string { return writeProgram(t, "p.asm", "PUSH1 0x01") }, want: []byte{0x60, 0x01}},
		{name: "inline asm", arg: func(*testing.T) string { return "PUSH1 0x01 STOP" }, asm: true, want: []byte{0x60, 0x01, 0x00}},
		{name: "missing file", arg: func(*testing.T) string { return "/nonexistent/prog" }, wantErr: true},
		{name: "bad inline hex", arg: func(*testing.T) string { return "0xzz" }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &env{opts: &options{asm: tt.asm}}
			code, err := e.loadCode(tt.arg(t))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := rvm(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "rvm ")
	assert.Contains(t, out, "commit")
}
