package debugger

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/colorfulnotion/rvm/common"
	"github.com/colorfulnotion/rvm/state"
	"github.com/colorfulnotion/rvm/types"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// StateView is the JSON shape of the containers used for diffs and by the
// websocket server. Memory is split into 32-byte words.
type StateView struct {
	PC         uint64            `json:"pc"`
	Gas        uint64            `json:"gas"`
	Refund     uint64            `json:"refund"`
	Stack      []string          `json:"stack"`
	MemorySize uint64            `json:"memory_size"`
	Memory     []string          `json:"memory"`
	Storage    map[string]string `json:"storage"`
	ReturnData string            `json:"return_data"`
	Logs       int               `json:"logs"`
}

func NewStateView(c *state.Containers) StateView {
	v := StateView{
		PC:         c.Frame.PC,
		Gas:        c.Frame.Gas,
		Refund:     c.Frame.Refund,
		MemorySize: c.Memory.Len(),
		Storage:    map[string]string{},
		ReturnData: common.Bytes2Hex(c.Frame.ReturnData),
		Logs:       len(c.Frame.Logs),
	}
	stack := c.Stack.Data()
	v.Stack = make([]string, len(stack))
	for i := range stack {
		v.Stack[i] = stack[i].Hex()
	}
	mem := c.Memory.Data()
	for off := 0; off < len(mem); off += types.WordSize {
		end := min(off+types.WordSize, len(mem))
		v.Memory = append(v.Memory, common.Bytes2Hex(mem[off:end]))
	}
	if v.Memory == nil {
		v.Memory = []string{}
	}
	for _, e := range c.Storage.Entries() {
		v.Storage[e.Key.Hex()] = e.Value.Hex()
	}
	return v
}

// Diff is the state change between two steps.
type Diff struct {
	From     uint64 `json:"from"`
	To       uint64 `json:"to"`
	Modified bool   `json:"modified"`
	Text     string `json:"text"`
}

// StateDiff rebuilds the states at steps a and b and renders their
// difference. The current position does not move.
func (d *Debugger) StateDiff(a, b uint64, coloring bool) (*Diff, error) {
	left, err := d.stateJSON(a)
	if err != nil {
		return nil, err
	}
	right, err := d.stateJSON(b)
	if err != nil {
		return nil, err
	}

	differ := gojsondiff.New()
	delta, err := differ.Compare(left, right)
	if err != nil {
		return nil, fmt.Errorf("diff steps %d and %d: %w", a, b, err)
	}
	out := &Diff{From: a, To: b, Modified: delta.Modified()}
	if !out.Modified {
		return out, nil
	}

	var leftObj map[string]interface{}
	if err := json.Unmarshal(left, &leftObj); err != nil {
		return nil, err
	}
	cfg := formatter.AsciiFormatterConfig{
		ShowArrayIndex: true,
		Coloring:       coloring,
	}
	text, err := formatter.NewAsciiFormatter(leftObj, cfg).Format(delta)
	if err != nil {
		return nil, fmt.Errorf("format diff: %w", err)
	}
	out.Text = text
	return out, nil
}

func (d *Debugger) stateJSON(step uint64) ([]byte, error) {
	c, err := d.ctrl.StateAt(step)
	if err != nil {
		return nil, err
	}
	return json.Marshal(NewStateView(c))
}

// ChangedLines returns only the added and removed lines of a rendered diff.
func (df *Diff) ChangedLines() []string {
	var out []string
	for _, line := range strings.Split(df.Text, "\n") {
		if strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-") {
			out = append(out, line)
		}
	}
	return out
}
