package debugger

import (
	"fmt"
	"io"
	"strconv"

	"github.com/colorfulnotion/rvm/journal"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// Profile holds per-step gas, stack depth and memory size over a step range.
type Profile struct {
	Steps      []uint64 `json:"steps"`
	Gas        []uint64 `json:"gas"`
	StackDepth []uint64 `json:"stack_depth"`
	MemorySize []uint64 `json:"memory_size"`
}

// Profile starts from the rebuilt state at from and follows the recorded
// deltas to to, so the live position does not move.
func (d *Debugger) Profile(from, to uint64) (*Profile, error) {
	to = min(to, d.ctrl.MaxStep())
	if from > to {
		return nil, fmt.Errorf("empty step range %d..%d", from, to)
	}
	c, err := d.ctrl.StateAt(from)
	if err != nil {
		return nil, err
	}
	gas, depth, msize := c.Frame.Gas, uint64(c.Stack.Len()), c.Memory.Len()

	p := &Profile{}
	add := func(step uint64) {
		p.Steps = append(p.Steps, step)
		p.Gas = append(p.Gas, gas)
		p.StackDepth = append(p.StackDepth, depth)
		p.MemorySize = append(p.MemorySize, msize)
	}
	add(from)
	for step := from + 1; step <= to; step++ {
		rec, ok := d.ctrl.Record(step)
		if !ok {
			return nil, fmt.Errorf("no record for step %d", step)
		}
		gas = rec.GasAfter
		for i := range rec.Deltas {
			switch delta := &rec.Deltas[i]; delta.Kind {
			case journal.StackPush:
				depth++
			case journal.StackPop:
				depth--
			case journal.MemoryGrow:
				msize = delta.NewSize
			}
		}
		add(step)
	}
	return p, nil
}

// RenderChart writes an HTML page with a line chart of the profile.
func (d *Debugger) RenderChart(w io.Writer, from, to uint64) error {
	p, err := d.Profile(from, to)
	if err != nil {
		return err
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Execution profile",
			Subtitle: fmt.Sprintf("steps %d..%d", p.Steps[0], p.Steps[len(p.Steps)-1]),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "step"}),
	)

	labels := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		labels[i] = strconv.FormatUint(s, 10)
	}
	line.SetXAxis(labels).
		AddSeries("gas", lineData(p.Gas)).
		AddSeries("stack depth", lineData(p.StackDepth)).
		AddSeries("memory size", lineData(p.MemorySize))

	page := components.NewPage()
	page.AddCharts(line)
	return page.Render(w)
}

func lineData(vals []uint64) []opts.LineData {
	items := make([]opts.LineData, len(vals))
	for i, v := range vals {
		items[i] = opts.LineData{Value: v}
	}
	return items
}
