package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/colorfulnotion/rvm/debugger"
	"github.com/colorfulnotion/rvm/timetravel"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newDebugCmd(e *env) *cobra.Command {
	var (
		session     string
		save        string
		history     string
		color       bool
		breakpoints []string
		commands    []string
		batch       bool
	)
	cmd := &cobra.Command{
		Use:   "debug [program]",
		Short: "Open the interactive time-travel debugger",
		Long: "Open the interactive time-travel debugger on a program, or on an archived\n" +
			"session with --session. Commands given with -x run before the prompt opens.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ctrl *timetravel.Controller
			switch {
			case session != "":
				a, done, err := e.archive()
				if err != nil {
					return err
				}
				sess, _, err := a.Load(session)
				done()
				if err != nil {
					return err
				}
				if ctrl, err = sess.Controller(timetravel.WithMetrics(e.metrics)); err != nil {
					return err
				}
			case len(args) == 1:
				code, err := e.loadCode(args[0])
				if err != nil {
					return err
				}
				if ctrl, err = e.newController(code); err != nil {
					return err
				}
			default:
				return errors.New("a program or --session is required")
			}

			dbg := debugger.New(ctrl)
			for _, cond := range breakpoints {
				bp, err := debugger.ParseBreakpoint(cond)
				if err != nil {
					return err
				}
				dbg.SetBreakpoint(bp)
			}
			con := debugger.NewConsole(dbg, e.out, color)
			for _, line := range commands {
				if err := con.Execute(cmd.Context(), line); err != nil {
					if errors.Is(err, debugger.ErrQuit) {
						return e.saveIf(save, ctrl)
					}
					return fmt.Errorf("%s: %w", line, err)
				}
			}
			if !batch {
				if err := con.Loop(cmd.Context(), history); err != nil {
					return err
				}
			}
			return e.saveIf(save, ctrl)
		},
	}
	home, _ := os.UserHomeDir()
	f := cmd.Flags()
	f.StringVar(&session, "session", "", "debug an archived session from --data-dir")
	f.StringVar(&save, "save", "", "archive the session under this name on exit")
	f.StringVar(&history, "history", filepath.Join(home, ".rvm_history"), "readline history file")
	f.BoolVar(&color, "color", term.IsTerminal(int(os.Stdout.Fd())), "colour console output, on by default for a terminal")
	f.StringArrayVarP(&breakpoints, "break", "b", nil, "breakpoint condition, repeatable")
	f.StringArrayVarP(&commands, "exec", "x", nil, "console command to run first, repeatable")
	f.BoolVar(&batch, "batch", false, "exit after the -x commands instead of opening the prompt")
	return cmd
}

func (e *env) saveIf(name string, ctrl *timetravel.Controller) error {
	if name == "" {
		return nil
	}
	return e.save(name, ctrl)
}

func newServeCmd(e *env) *cobra.Command {
	var (
		addr       string
		runTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve [program]",
		Short: "Serve debug sessions over websocket at /ws and metrics at /metrics",
		Long: "Each websocket connection gets its own controller. Without a program,\n" +
			"clients send one with the load method.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var code []byte
			if len(args) == 1 {
				var err error
				if code, err = e.loadCode(args[0]); err != nil {
					return err
				}
			}
			srv := debugger.NewServer(func(code []byte) (*timetravel.Controller, error) {
				return e.newController(code)
			}, code, e.metrics)
			srv.SetRunTimeout(runTimeout)
			return srv.ListenAndServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8546", "listen address")
	cmd.Flags().DurationVar(&runTimeout, "run-timeout", 30*time.Second, "bound on a single run or runBackward request")
	return cmd
}
