package debugger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/colorfulnotion/rvm/common"
	"github.com/colorfulnotion/rvm/config"
	"github.com/colorfulnotion/rvm/log"
	"github.com/colorfulnotion/rvm/rvmerrors"
)

// ErrQuit is returned by Execute for quit and exit.
var ErrQuit = errors.New("quit")

const consoleHelp = `commands:
  s | step [n]           step forward n instructions (default 1)
  b | back [n]           step backward n instructions
  seek <step>            jump to a recorded step
  rewind <n>             move n steps back
  c | run                run forward to the next breakpoint
  rc | runback           run backward to the previous breakpoint
  break <cond>           pc:12 op:SSTORE step:100 gas<:5000 storage:0x1 memory:0x40+32 js:<expr>
  delete <id>            remove a breakpoint
  enable <id> | disable <id>
  breakpoints            list breakpoints
  where                  current position
  stack                  stack, top first
  mem <offset> <len>     memory bytes
  storage [key]          one slot, or every non-zero slot
  diff <a> <b>           state change between two steps
  timeline [from] [to]   steps grouped by checkpoint
  disasm                 program listing
  result                 execution summary
  eval <expr>            evaluate a condition at the current position
  quit | exit`

// Console is a line-oriented front end to a Debugger.
type Console struct {
	dbg   *Debugger
	out   io.Writer
	color bool
}

func NewConsole(dbg *Debugger, out io.Writer, color bool) *Console {
	return &Console{dbg: dbg, out: out, color: color}
}

// Loop reads commands until quit, EOF or interrupt.
func (con *Console) Loop(ctx context.Context, historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "rvm> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdout:          con.out,
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(con.out, "rvm debugger, type help for commands")
	con.where()
	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := con.Execute(ctx, line); err != nil {
			if errors.Is(err, ErrQuit) {
				return nil
			}
			fmt.Fprintln(con.out, con.paint(common.ColorRed, "error: "+err.Error()))
		}
	}
}

// Execute runs one command line.
func (con *Console) Execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := fields[0], fields[1:]
	log.Trace(log.Debugger, "Console command", "cmd", cmd, "args", args)
	d := con.dbg

	switch cmd {
	case "help", "h", "?":
		fmt.Fprintln(con.out, consoleHelp)
	case "quit", "exit", "q":
		return ErrQuit
	case "s", "step":
		n, err := countArg(args)
		if err != nil {
			return err
		}
		for i := uint64(0); i < n; i++ {
			out, err := d.StepForward()
			if err != nil {
				return err
			}
			fmt.Fprintf(con.out, "step %d pc=%d %s cost %d gas %d %s\n", out.Step, out.PC, out.Op, out.GasCost, out.GasLeft, out.Status)
		}
	case "b", "back":
		n, err := countArg(args)
		if err != nil {
			return err
		}
		for i := uint64(0); i < n; i++ {
			if err := d.StepBackward(); err != nil {
				return err
			}
		}
		con.where()
	case "seek":
		step, err := uintArg(args, 0)
		if err != nil {
			return err
		}
		if err := d.Seek(step); err != nil {
			return err
		}
		stats := d.Controller().LastSeek()
		fmt.Fprintf(con.out, "seek %d: from %d, replayed %d\n", stats.Target, stats.From, stats.Replayed)
		con.where()
	case "rewind":
		n, err := uintArg(args, 0)
		if err != nil {
			return err
		}
		if err := d.Rewind(n); err != nil {
			return err
		}
		con.where()
	case "c", "run", "continue":
		stop, err := d.Run(ctx)
		con.report(stop)
		return err
	case "rc", "runback":
		stop, err := d.RunBackward(ctx)
		con.report(stop)
		return err
	case "break", "bp":
		bp, err := ParseBreakpoint(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), cmd)))
		if err != nil {
			return err
		}
		fmt.Fprintf(con.out, "breakpoint %d: %s\n", d.SetBreakpoint(bp), bp)
	case "delete", "enable", "disable":
		id, err := uintArg(args, 0)
		if err != nil {
			return err
		}
		var ok bool
		if cmd == "delete" {
			ok = d.RemoveBreakpoint(BreakpointID(id))
		} else {
			ok = d.EnableBreakpoint(BreakpointID(id), cmd == "enable")
		}
		if !ok {
			return fmt.Errorf("no breakpoint %d", id)
		}
	case "breakpoints", "bl":
		for _, bp := range d.Breakpoints() {
			state := "on"
			if !bp.Enabled {
				state = "off"
			}
			fmt.Fprintf(con.out, "%3d %-3s hits=%d %s\n", bp.ID, state, bp.Hits, bp.Condition)
		}
	case "where", "pos":
		con.where()
	case "stack":
		stack := d.InspectStack()
		if len(stack) == 0 {
			fmt.Fprintln(con.out, "(empty)")
		}
		for i := len(stack) - 1; i >= 0; i-- {
			fmt.Fprintf(con.out, "%4d: %s\n", len(stack)-1-i, stack[i].Hex())
		}
	case "mem", "memory":
		off, err := uintArg(args, 0)
		if err != nil {
			return err
		}
		n, err := uintArg(args, 1)
		if err != nil {
			return err
		}
		data, err := d.InspectMemory(off, n)
		if err != nil {
			return err
		}
		for i := 0; i < len(data); i += 32 {
			end := min(i+32, len(data))
			fmt.Fprintf(con.out, "0x%06x: %s\n", off+uint64(i), common.Bytes2Hex(data[i:end]))
		}
	case "storage", "sload":
		if len(args) == 0 {
			for _, e := range d.InspectStorageEntries() {
				fmt.Fprintf(con.out, "%s: %s\n", e.Key.Hex(), e.Value.Hex())
			}
			return nil
		}
		key, err := config.ParseWord(args[0])
		if err != nil {
			return err
		}
		v := d.InspectStorage(key)
		fmt.Fprintf(con.out, "%s: %s\n", key.Hex(), v.Hex())
	case "diff":
		a, err := uintArg(args, 0)
		if err != nil {
			return err
		}
		b, err := uintArg(args, 1)
		if err != nil {
			return err
		}
		df, err := d.StateDiff(a, b, con.color)
		if err != nil {
			return err
		}
		if !df.Modified {
			fmt.Fprintf(con.out, "steps %d and %d have identical state\n", a, b)
			return nil
		}
		fmt.Fprint(con.out, df.Text)
	case "timeline", "tl":
		from, to := uint64(0), d.Controller().MaxStep()
		if len(args) > 0 {
			var err error
			if from, err = uintArg(args, 0); err != nil {
				return err
			}
		}
		if len(args) > 1 {
			var err error
			if to, err = uintArg(args, 1); err != nil {
				return err
			}
		}
		fmt.Fprint(con.out, d.RenderTimeline(from, to, con.color))
	case "disasm":
		fmt.Fprint(con.out, d.Controller().Program().Disassemble())
	case "result":
		res := d.Controller().Result()
		fmt.Fprintf(con.out, "status %s halt %s steps %d gas used %d refund %d\n", res.Status, res.Halt, res.Steps, res.GasUsed, res.Refund)
		if len(res.ReturnData) > 0 {
			fmt.Fprintf(con.out, "return %s\n", common.Bytes2Hex(res.ReturnData))
		}
		if res.Err != "" {
			fmt.Fprintln(con.out, "error", res.Err)
		}
	case "eval":
		expr := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), cmd))
		cond, err := NewScriptCondition(expr)
		if err != nil {
			return err
		}
		ok, err := cond.Eval(d.Position(), d.Controller().State())
		if err != nil {
			return err
		}
		fmt.Fprintln(con.out, ok)
	default:
		return fmt.Errorf("unknown command %q, type help", cmd)
	}
	return nil
}

func (con *Console) where() {
	pos := con.dbg.Position()
	fmt.Fprintf(con.out, "step %d/%d pc=%d next %s gas %d %s\n",
		pos.Step, con.dbg.Controller().MaxStep(), pos.PC, pos.Op, pos.Gas, con.paint(common.ColorCyan, pos.Status.String()))
	if f := con.dbg.Controller().Fault(); f != nil {
		fmt.Fprintln(con.out, con.paint(common.ColorRed, rvmerrors.GetErrorName(f)+": "+f.Reason))
	}
}

func (con *Console) report(stop Stop) {
	msg := fmt.Sprintf("stopped at step %d after %d steps: %s", stop.Step, stop.Steps, stop.Reason)
	if stop.Breakpoint != 0 {
		msg += fmt.Sprintf(" (breakpoint %d)", stop.Breakpoint)
	}
	fmt.Fprintln(con.out, con.paint(common.ColorYellow, msg))
	con.where()
}

func (con *Console) paint(color, s string) string {
	return common.Colorize(con.color, color, s)
}

func countArg(args []string) (uint64, error) {
	if len(args) == 0 {
		return 1, nil
	}
	return uintArg(args, 0)
}

func uintArg(args []string, i int) (uint64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %d", i+1)
	}
	n, err := strconv.ParseUint(args[i], 0, 64)
	if err != nil {
		return 0, fmt.Errorf("argument %q: %w", args[i], err)
	}
	return n, nil
}
