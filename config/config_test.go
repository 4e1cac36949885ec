package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/colorfulnotion/rvm/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, uint64(10_000_000), cfg.Gas)
	assert.Equal(t, 1024, cfg.StackLimit)
	assert.True(t, cfg.Checkpoint.Adaptive)

	bc, err := cfg.BlockContext()
	require.NoError(t, err)
	assert.Equal(t, common.DevAccount(0), bc.Coinbase)

	call, err := cfg.CallContext()
	require.NoError(t, err)
	assert.Equal(t, common.DevAccount(1), call.Address)
}

func TestLoadOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"json", "vm.json", `{"gas": 5000, "checkpoint": {"interval": 4}, "call": {"calldata": "0xcafe", "value": "0x10"}}`},
		{"yaml", "vm.yaml", "gas: 5000\ncheckpoint:\n  interval: 4\ncall:\n  calldata: \"0xcafe\"\n  value: \"16\"\n"},
		{"toml", "vm.toml", "gas = 5000\n\n[checkpoint]\ninterval = 4\n\n[call]\ncalldata = \"0xcafe\"\nvalue = \"0x10\"\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.file)
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0o644))

			cfg, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, uint64(5000), cfg.Gas)
			assert.Equal(t, uint64(4), cfg.Checkpoint.Interval)
			assert.Equal(t, uint64(16), cfg.Checkpoint.MinInterval, "unset fields keep defaults")

			call, err := cfg.CallContext()
			require.NoError(t, err)
			assert.Equal(t, []byte{0xca, 0xfe}, call.CallData)
			assert.Equal(t, uint64(16), call.Value.Uint64())
		})
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		reason string
		mutate func(*Config)
	}{
		{"zero gas", func(c *Config) { c.Gas = 0 }},
		{"tiny stack", func(c *Config) { c.StackLimit = 2 }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"max below min", func(c *Config) { c.Checkpoint.MaxInterval = 8 }},
		{"bad coinbase", func(c *Config) { c.Block.Coinbase = "0x1234" }},
		{"bad value", func(c *Config) { c.Call.Value = "ten" }},
		{"bad calldata", func(c *Config) { c.Call.CallData = "zz" }},
	}
	for _, tc := range tests {
		t.Run(tc.reason, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseWord(t *testing.T) {
	w, err := ParseWord("0xff")
	require.NoError(t, err)
	assert.Equal(t, uint64(255), w.Uint64())

	w, err = ParseWord("")
	require.NoError(t, err)
	assert.True(t, w.IsZero())

	_, err = ParseWord("0x10000000000000000000000000000000000000000000000000000000000000000")
	assert.Error(t, err)
}
