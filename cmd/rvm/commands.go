package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/colorfulnotion/rvm/common"
	"github.com/colorfulnotion/rvm/debugger"
	"github.com/colorfulnotion/rvm/log"
	"github.com/colorfulnotion/rvm/program"
	"github.com/colorfulnotion/rvm/rvmerrors"
	"github.com/colorfulnotion/rvm/storage"
	"github.com/colorfulnotion/rvm/timetravel"
	"github.com/colorfulnotion/rvm/trace"
	"github.com/colorfulnotion/rvm/types"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slices"
)

func newRunCmd(e *env) *cobra.Command {
	var (
		tracePath string
		save      string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "run <program>",
		Short: "Execute a program to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := e.loadCode(args[0])
			if err != nil {
				return err
			}
			if tracePath == "" {
				tracePath = e.cfg.TracePath
			}
			var extra []timetravel.Option
			var tw *trace.JSONLTraceWriter
			if tracePath != "" {
				if tracePath == "-" {
					tw = trace.NewJSONLTraceWriterStdout()
				} else if tw, err = trace.NewJSONLTraceWriterFile(tracePath); err != nil {
					return err
				}
				extra = append(extra, timetravel.WithStepHook(tw.Observe))
			}
			ctrl, err := e.newController(code, extra...)
			if err != nil {
				return err
			}
			start := time.Now()
			res, err := ctrl.Run(cmd.Context())
			if err != nil {
				return err
			}
			if tw != nil {
				if err := tw.Close(); err != nil {
					return fmt.Errorf("write trace: %w", err)
				}
				log.Info(log.CLI, "Trace written", "path", tracePath, "steps", tw.Count())
			}
			log.Info(log.CLI, "Run finished", "steps", res.Steps, "reason", res.Reason, "elapsed", time.Since(start))

			result := ctrl.Result()
			if asJSON {
				enc := json.NewEncoder(e.out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return err
				}
			} else {
				printResult(e, result, ctrl.Fault())
			}
			if save != "" {
				return e.save(save, ctrl)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tracePath, "trace", "", "write a JSONL step trace to this file, - for stdout")
	cmd.Flags().StringVar(&save, "save", "", "archive the session under this name in --data-dir")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func printResult(e *env, res types.ExecutionResult, fault *rvmerrors.Fault) {
	fmt.Fprintf(e.out, "status:     %s\n", res.Status)
	if res.Halt != types.HaltNone {
		fmt.Fprintf(e.out, "halt:       %s\n", res.Halt)
	}
	fmt.Fprintf(e.out, "steps:      %d\n", res.Steps)
	fmt.Fprintf(e.out, "gas used:   %d\n", res.GasUsed)
	fmt.Fprintf(e.out, "refund:     %d\n", res.Refund)
	if len(res.ReturnData) > 0 {
		fmt.Fprintf(e.out, "return:     %s\n", common.Bytes2Hex(res.ReturnData))
	}
	fmt.Fprintf(e.out, "state hash: %s\n", res.StateHash.Hex())
	if fault != nil {
		fmt.Fprintf(e.out, "fault:      %s at step %d pc %d: %s\n", rvmerrors.GetErrorName(fault), fault.Step, fault.PC, fault.Reason)
	}
}

// archive opens the session archive under the configured data directory.
func (e *env) archive() (*storage.Archive, func(), error) {
	if e.cfg.DataDir == "" {
		return nil, nil, errors.New("no data directory, set --data-dir or data_dir in the config")
	}
	store, err := storage.NewPersistenceStore(filepath.Join(e.cfg.DataDir, "sessions"))
	if err != nil {
		return nil, nil, err
	}
	return storage.NewArchive(store), func() { store.Close() }, nil
}

func (e *env) save(name string, ctrl *timetravel.Controller) error {
	a, done, err := e.archive()
	if err != nil {
		return err
	}
	defer done()
	digest, err := a.Save(name, storage.Capture(ctrl))
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "saved session %s (%s)\n", name, digest.String_short())
	return nil
}

func newDisasmCmd(e *env) *cobra.Command {
	var stats bool
	cmd := &cobra.Command{
		Use:   "disasm <program>",
		Short: "Print the program listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := e.loadCode(args[0])
			if err != nil {
				return err
			}
			prog := program.Decode(code)
			fmt.Fprint(e.out, prog.Disassemble())
			if !stats {
				return nil
			}
			st := prog.Analyze()
			fmt.Fprintf(e.out, "\n%d bytes, %d instructions, %d basic blocks, %d jumpdests\n",
				st.CodeSize, st.InstructionCount, st.BasicBlockCount, st.JumpDestCount)
			ops := make([]program.OpCode, 0, len(st.OpcodeDistribution))
			for op := range st.OpcodeDistribution {
				ops = append(ops, op)
			}
			slices.SortFunc(ops, func(a, b program.OpCode) int {
				if d := st.OpcodeDistribution[b] - st.OpcodeDistribution[a]; d != 0 {
					return d
				}
				return int(a) - int(b)
			})
			for _, op := range ops {
				fmt.Fprintf(e.out, "%-14s %d\n", op, st.OpcodeDistribution[op])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&stats, "stats", false, "append instruction and opcode statistics")
	return cmd
}

func newReplayCmd(e *env) *cobra.Command {
	var (
		expected string
		list     bool
		remove   bool
	)
	cmd := &cobra.Command{
		Use:   "replay [session]",
		Short: "Reload an archived session and verify it re-executes identically",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, done, err := e.archive()
			if err != nil {
				return err
			}
			defer done()
			if list {
				names, err := a.List()
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintln(e.out, name)
				}
				return nil
			}
			if len(args) == 0 {
				return errors.New("session name required")
			}
			name := args[0]
			if remove {
				return a.Delete(name)
			}

			sess, digest, err := a.Load(name)
			if err != nil {
				return err
			}
			ctrl, err := sess.Controller(timetravel.WithMetrics(e.metrics))
			if err != nil {
				return err
			}
			if err := ctrl.VerifyDeterminism(cmd.Context()); err != nil {
				return fmt.Errorf("session %s: %w", name, err)
			}
			fmt.Fprintf(e.out, "session %s (%s): %d steps re-executed, at step %d\n", name, digest.String_short(), ctrl.MaxStep(), ctrl.Step())

			if expected == "" {
				return nil
			}
			want, err := trace.ReadJSONLFile(expected)
			if err != nil {
				return err
			}
			got, err := sessionTrace(ctrl)
			if err != nil {
				return err
			}
			div, err := trace.Compare(want, got)
			if err != nil {
				return err
			}
			if div != nil {
				return div
			}
			fmt.Fprintf(e.out, "trace %s matches (%d steps)\n", expected, len(got))
			return nil
		},
	}
	cmd.Flags().StringVar(&expected, "trace", "", "compare the session against this JSONL trace")
	cmd.Flags().BoolVar(&list, "list", false, "list archived sessions")
	cmd.Flags().BoolVar(&remove, "delete", false, "delete the named session")
	return cmd
}

// sessionTrace rebuilds the trace of every recorded step.
func sessionTrace(ctrl *timetravel.Controller) ([]*trace.TraceStep, error) {
	recs := ctrl.Journal().Records()
	out := make([]*trace.TraceStep, 0, len(recs))
	for _, rec := range recs {
		c, err := ctrl.StateAt(rec.Step)
		if err != nil {
			return nil, err
		}
		out = append(out, trace.NewTraceStep(rec, c))
	}
	return out, nil
}

func newChartCmd(e *env) *cobra.Command {
	var (
		output   string
		from, to uint64
	)
	cmd := &cobra.Command{
		Use:   "chart <program>",
		Short: "Run a program and render gas, stack and memory per step as HTML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := e.loadCode(args[0])
			if err != nil {
				return err
			}
			ctrl, err := e.newController(code)
			if err != nil {
				return err
			}
			if _, err := ctrl.Run(cmd.Context()); err != nil {
				return err
			}
			if !cmd.Flags().Changed("to") || to > ctrl.MaxStep() {
				to = ctrl.MaxStep()
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := debugger.New(ctrl).RenderChart(f, from, to); err != nil {
				return err
			}
			fmt.Fprintf(e.out, "chart of steps %d..%d written to %s\n", from, to, output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "profile.html", "HTML output file")
	cmd.Flags().Uint64Var(&from, "from", 0, "first step")
	cmd.Flags().Uint64Var(&to, "to", 0, "last step, defaults to the end")
	return cmd
}

func newVersionCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and commit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(e.out, "rvm %s (commit %s)\n", common.Version, common.GetCommitHash())
		},
	}
}
