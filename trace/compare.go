package trace

import (
	"encoding/json"
	"fmt"

	"github.com/nsf/jsondiff"
)

// Divergence is the first step at which two traces disagree.
type Divergence struct {
	Index    int        // position in the trace, 0-based
	Step     uint64     // step number of the expected record, or of the actual one past its end
	Expected *TraceStep // nil when the expected trace is shorter
	Actual   *TraceStep // nil when the actual trace is shorter
	Diff     string     // human readable field diff
}

func (d *Divergence) Error() string {
	switch {
	case d.Expected == nil:
		return fmt.Sprintf("trace diverges at step %d: unexpected extra step %s", d.Step, d.Actual.OpName)
	case d.Actual == nil:
		return fmt.Sprintf("trace diverges at step %d: missing step %s", d.Step, d.Expected.OpName)
	default:
		return fmt.Sprintf("trace diverges at step %d (%s vs %s)\n%s", d.Step, d.Expected.OpName, d.Actual.OpName, d.Diff)
	}
}

// Compare walks both traces in order and reports the first divergence, or nil
// when they match exactly.
func Compare(expected, actual []*TraceStep) (*Divergence, error) {
	opts := jsondiff.DefaultConsoleOptions()
	n := max(len(expected), len(actual))
	for i := 0; i < n; i++ {
		if i >= len(expected) {
			return &Divergence{Index: i, Step: actual[i].Step, Actual: actual[i]}, nil
		}
		if i >= len(actual) {
			return &Divergence{Index: i, Step: expected[i].Step, Expected: expected[i]}, nil
		}
		a, err := json.Marshal(expected[i])
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(actual[i])
		if err != nil {
			return nil, err
		}
		diff, text := jsondiff.Compare(a, b, &opts)
		if diff != jsondiff.FullMatch {
			return &Divergence{Index: i, Step: expected[i].Step, Expected: expected[i], Actual: actual[i], Diff: text}, nil
		}
	}
	return nil, nil
}
