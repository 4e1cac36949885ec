// rvm runs bytecode on the reversible VM and drives its time-travel debugger.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/colorfulnotion/rvm/config"
	"github.com/colorfulnotion/rvm/log"
	"github.com/colorfulnotion/rvm/program"
	"github.com/colorfulnotion/rvm/telemetry"
	"github.com/colorfulnotion/rvm/timetravel"
	"github.com/spf13/cobra"
)

type options struct {
	configPath   string
	logLevel     string
	logJSON      bool
	logModules   string
	gas          uint64
	interval     uint64
	verifyReplay bool
	otlpEndpoint string
	asm          bool
	dataDir      string
}

// env is what every subcommand gets after the persistent flags are applied.
type env struct {
	cfg     config.Config
	opts    *options
	metrics *telemetry.Metrics
	out     io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}
	e := &env{opts: opts, out: out}
	var shutdown func(context.Context) error

	rootCmd := &cobra.Command{
		Use:           "rvm",
		Short:         "Reversible bytecode VM with a time-travel debugger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("gas") {
				cfg.Gas = opts.gas
			}
			if flags.Changed("checkpoint-interval") {
				cfg.Checkpoint.Interval = opts.interval
			}
			if flags.Changed("verify-replay") {
				cfg.VerifyReplay = opts.verifyReplay
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = opts.logLevel
			}
			if flags.Changed("data-dir") {
				cfg.DataDir = opts.dataDir
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			e.cfg = cfg

			if err := log.InitLoggerTo(os.Stderr, cfg.LogLevel, opts.logJSON); err != nil {
				return err
			}
			log.EnableModules(strings.Join(cfg.LogModules, ","))
			log.EnableModules(opts.logModules)

			shutdown, err = setupTracing(cmd.Context(), opts.otlpEndpoint)
			if err != nil {
				return err
			}
			e.metrics = telemetry.NewMetrics()
			log.Debug(log.CLI, "Configured", "cmd", cmd.Name(), "gas", cfg.Gas, "interval", cfg.Checkpoint.Interval, "otlp", opts.otlpEndpoint)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if shutdown == nil {
				return nil
			}
			return shutdown(context.Background())
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetOut(out)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "config file (.json, .yaml or .toml)")
	pf.StringVar(&opts.logLevel, "log-level", "info", "trace|debug|info|warn|error|crit")
	pf.BoolVar(&opts.logJSON, "log-json", false, "log JSON lines instead of terminal output")
	pf.StringVar(&opts.logModules, "log-modules", "", "comma separated modules for debug logging, or all")
	pf.Uint64Var(&opts.gas, "gas", 0, "gas budget, overrides the config")
	pf.Uint64VarP(&opts.interval, "checkpoint-interval", "k", 0, "steps between checkpoints, 0 derives it from gas")
	pf.BoolVar(&opts.verifyReplay, "verify-replay", false, "check state hashes on every replayed step")
	pf.StringVar(&opts.otlpEndpoint, "otlp-endpoint", "", "OTLP/HTTP collector for spans, e.g. localhost:4318")
	pf.BoolVar(&opts.asm, "asm", false, "treat the program argument as assembly source")
	pf.StringVar(&opts.dataDir, "data-dir", "", "leveldb directory for archived sessions")

	rootCmd.AddCommand(
		newRunCmd(e),
		newDebugCmd(e),
		newDisasmCmd(e),
		newReplayCmd(e),
		newServeCmd(e),
		newChartCmd(e),
		newVersionCmd(e),
	)
	return rootCmd
}

// newController builds a controller over code from the loaded config.
func (e *env) newController(code []byte, extra ...timetravel.Option) (*timetravel.Controller, error) {
	bc, err := e.cfg.BlockContext()
	if err != nil {
		return nil, err
	}
	call, err := e.cfg.CallContext()
	if err != nil {
		return nil, err
	}
	opts := []timetravel.Option{
		timetravel.WithConfig(e.cfg),
		timetravel.WithCallContext(call),
		timetravel.WithMetrics(e.metrics),
	}
	return timetravel.New(code, e.cfg.Gas, bc, append(opts, extra...)...)
}

// loadCode reads the program argument. It may be a file or an inline 0x
// string. File contents are hex text unless they do not decode, in which case
// they are taken as raw bytes. With --asm, or a .asm file, the source is
// assembled.
func (e *env) loadCode(arg string) ([]byte, error) {
	asm := e.opts.asm || strings.HasSuffix(arg, ".asm")
	src, raw := arg, []byte(nil)
	if data, err := os.ReadFile(arg); err == nil {
		src, raw = string(data), data
	} else if !asm && !strings.HasPrefix(arg, "0x") {
		return nil, fmt.Errorf("read program: %w", err)
	}
	if asm {
		code, err := program.Assemble(src)
		if err != nil {
			return nil, fmt.Errorf("assemble: %w", err)
		}
		return code, nil
	}
	code, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(src), "0x"))
	if err == nil {
		return code, nil
	}
	if raw != nil {
		return raw, nil
	}
	return nil, fmt.Errorf("program %q is not valid hex: %w", arg, err)
}
