package debugger

import (
	"fmt"

	"github.com/colorfulnotion/rvm/common"
	"github.com/colorfulnotion/rvm/journal"
	"github.com/colorfulnotion/rvm/program"
	"github.com/colorfulnotion/rvm/types"
	"github.com/xlab/treeprint"
)

// RenderTimeline draws steps from..to grouped under the checkpoint each one
// replays from. The current step is marked; color adds ANSI highlighting.
func (d *Debugger) RenderTimeline(from, to uint64, color bool) string {
	ctrl := d.ctrl
	last := ctrl.MaxStep()
	to = min(to, last)
	cur := ctrl.Step()
	idx := ctrl.Checkpoints()

	paint := func(c, s string) string {
		return common.Colorize(color, c, s)
	}

	tree := treeprint.New()
	tree.SetValue(fmt.Sprintf("timeline %d..%d of %d (K=%d, %d checkpoints, status %s)",
		from, to, last, idx.Interval(), idx.Len(), ctrl.Status()))
	if from > to {
		return tree.String()
	}

	var branch treeprint.Tree
	branchAt := ^uint64(0)
	for step := from; step <= to; step++ {
		cp := idx.NearestAtOrBefore(step)
		if cp != nil && cp.Step != branchAt {
			branchAt = cp.Step
			branch = tree.AddBranch(paint(common.ColorBlue, fmt.Sprintf("checkpoint @%d %s", cp.Step, cp.Hash.String_short())))
		}
		label := stepLabel(ctrl.Record(step))
		if step == 0 {
			label = "step 0 genesis"
		}
		if step == cur {
			label = paint(common.ColorBrightGreen, label+" <- current")
		}
		if branch == nil {
			tree.AddNode(label)
		} else {
			branch.AddNode(label)
		}
	}
	return tree.String()
}

func stepLabel(rec *journal.StepRecord, ok bool) string {
	if !ok {
		return "missing record"
	}
	label := fmt.Sprintf("step %d pc=%d %s gas %d", rec.Step, rec.PC, program.OpCode(rec.Op), rec.GasCost())
	if rec.Halt != types.HaltNone {
		label += " halt " + rec.Halt.String()
	}
	return label
}
