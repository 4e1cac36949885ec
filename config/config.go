package config

import (
	"embed"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/colorfulnotion/rvm/common"
	"github.com/colorfulnotion/rvm/types"
	"github.com/go-playground/validator/v10"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"
)

//go:embed configs/*.json
var configFS embed.FS

const defaultFile = "configs/default.json"

var validate = validator.New()

// Config is everything needed to build and drive one VM instance.
type Config struct {
	Gas          uint64           `json:"gas" yaml:"gas" toml:"gas" validate:"gt=0"`
	StackLimit   int              `json:"stack_limit" yaml:"stack_limit" toml:"stack_limit" validate:"gte=16,lte=65536"`
	MemoryLimit  uint64           `json:"memory_limit" yaml:"memory_limit" toml:"memory_limit" validate:"gte=32"`
	Checkpoint   CheckpointConfig `json:"checkpoint" yaml:"checkpoint" toml:"checkpoint"`
	VerifyReplay bool             `json:"verify_replay" yaml:"verify_replay" toml:"verify_replay"`
	Block        BlockConfig      `json:"block" yaml:"block" toml:"block"`
	Call         CallConfig       `json:"call" yaml:"call" toml:"call"`

	TracePath  string   `json:"trace_path,omitempty" yaml:"trace_path,omitempty" toml:"trace_path,omitempty"`
	DataDir    string   `json:"data_dir,omitempty" yaml:"data_dir,omitempty" toml:"data_dir,omitempty"`
	LogLevel   string   `json:"log_level" yaml:"log_level" toml:"log_level" validate:"oneof=trace debug info warn error crit"`
	LogModules []string `json:"log_modules" yaml:"log_modules" toml:"log_modules"`
}

// CheckpointConfig sets the checkpoint cadence. Interval 0 derives it from the gas budget.
type CheckpointConfig struct {
	Interval    uint64 `json:"interval" yaml:"interval" toml:"interval"`
	Adaptive    bool   `json:"adaptive" yaml:"adaptive" toml:"adaptive"`
	MinInterval uint64 `json:"min_interval" yaml:"min_interval" toml:"min_interval" validate:"gte=1"`
	MaxInterval uint64 `json:"max_interval" yaml:"max_interval" toml:"max_interval" validate:"gtefield=MinInterval"`
	GasPerStep  uint64 `json:"gas_per_step" yaml:"gas_per_step" toml:"gas_per_step" validate:"gte=1"`
}

type BlockConfig struct {
	Number      uint64            `json:"number" yaml:"number" toml:"number"`
	Timestamp   uint64            `json:"timestamp" yaml:"timestamp" toml:"timestamp"`
	Coinbase    string            `json:"coinbase" yaml:"coinbase" toml:"coinbase" validate:"omitempty,eth_addr"`
	ChainID     uint64            `json:"chain_id" yaml:"chain_id" toml:"chain_id"`
	GasLimit    uint64            `json:"gas_limit" yaml:"gas_limit" toml:"gas_limit"`
	BaseFee     string            `json:"base_fee" yaml:"base_fee" toml:"base_fee"`
	PrevRandao  string            `json:"prev_randao" yaml:"prev_randao" toml:"prev_randao" validate:"omitempty,hexadecimal"`
	BlockHashes map[uint64]string `json:"block_hashes,omitempty" yaml:"block_hashes,omitempty" toml:"block_hashes,omitempty"`
}

type CallConfig struct {
	Caller   string `json:"caller" yaml:"caller" toml:"caller" validate:"omitempty,eth_addr"`
	Origin   string `json:"origin" yaml:"origin" toml:"origin" validate:"omitempty,eth_addr"`
	Address  string `json:"address" yaml:"address" toml:"address" validate:"omitempty,eth_addr"`
	Value    string `json:"value" yaml:"value" toml:"value"`
	GasPrice string `json:"gas_price" yaml:"gas_price" toml:"gas_price"`
	Balance  string `json:"balance" yaml:"balance" toml:"balance"`
	CallData string `json:"calldata" yaml:"calldata" toml:"calldata"`
}

// Default returns the built-in configuration.
func Default() Config {
	var cfg Config
	data, err := configFS.ReadFile(defaultFile)
	if err != nil {
		panic(fmt.Sprintf("embedded %s: %v", defaultFile, err))
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		panic(fmt.Sprintf("embedded %s: %v", defaultFile, err))
	}
	return cfg
}

// Load overlays the file at path on the defaults. Files ending in .yaml or
// .yml are read as YAML, .toml as TOML, anything else as JSON.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the struct tags and the values that must parse.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.BlockContext(); err != nil {
		return err
	}
	if _, err := c.CallContext(); err != nil {
		return err
	}
	return nil
}

// BlockContext converts the block section.
func (c *Config) BlockContext() (types.BlockContext, error) {
	b := c.Block
	bc := types.BlockContext{
		Number:    b.Number,
		Timestamp: b.Timestamp,
		ChainID:   b.ChainID,
		GasLimit:  b.GasLimit,
	}
	if b.Coinbase != "" {
		bc.Coinbase = common.HexToAddress(b.Coinbase)
	}
	if b.PrevRandao != "" {
		bc.PrevRandao = common.HexToHash(b.PrevRandao)
	}
	fee, err := ParseWord(b.BaseFee)
	if err != nil {
		return bc, fmt.Errorf("block.base_fee: %w", err)
	}
	bc.BaseFee = *fee
	if len(b.BlockHashes) > 0 {
		bc.BlockHashes = make(map[uint64]common.Hash, len(b.BlockHashes))
		for n, h := range b.BlockHashes {
			bc.BlockHashes[n] = common.HexToHash(h)
		}
	}
	return bc, nil
}

// CallContext converts the call section.
func (c *Config) CallContext() (types.CallContext, error) {
	in := c.Call
	var call types.CallContext
	if in.Caller != "" {
		call.Caller = common.HexToAddress(in.Caller)
	}
	if in.Origin != "" {
		call.Origin = common.HexToAddress(in.Origin)
	}
	if in.Address != "" {
		call.Address = common.HexToAddress(in.Address)
	}
	for _, w := range []struct {
		name string
		src  string
		dst  *uint256.Int
	}{
		{"call.value", in.Value, &call.Value},
		{"call.gas_price", in.GasPrice, &call.GasPrice},
		{"call.balance", in.Balance, &call.Balance},
	} {
		v, err := ParseWord(w.src)
		if err != nil {
			return call, fmt.Errorf("%s: %w", w.name, err)
		}
		w.dst.Set(v)
	}
	if in.CallData != "" {
		call.CallData = common.FromHex(in.CallData)
		if len(call.CallData) == 0 {
			return call, fmt.Errorf("call.calldata: invalid hex %q", in.CallData)
		}
	}
	return call, nil
}

// ParseWord reads a decimal or 0x-prefixed hex word; empty is zero.
func ParseWord(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(uint256.Int), nil
	}
	b, ok := new(big.Int).SetString(s, 0)
	if !ok || b.Sign() < 0 {
		return nil, fmt.Errorf("invalid word %q", s)
	}
	w, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("word %q exceeds 256 bits", s)
	}
	return w, nil
}
