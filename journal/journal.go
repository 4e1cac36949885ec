package journal

import (
	"fmt"

	"github.com/colorfulnotion/rvm/log"
	"github.com/colorfulnotion/rvm/rvmerrors"
	"golang.org/x/exp/slices"
)

// Journal is the append-only, step-indexed log of delta batches. Record i
// holds step i+1; step 0 is genesis and has no record.
type Journal struct {
	records []*StepRecord
	usage   int
}

func New() *Journal {
	return &Journal{}
}

// Last is the highest recorded step, 0 when empty.
func (j *Journal) Last() uint64 {
	return uint64(len(j.records))
}

func (j *Journal) Len() int {
	return len(j.records)
}

// Append records the batch for the step following Last.
func (j *Journal) Append(rec *StepRecord) error {
	if rec.Step != j.Last()+1 {
		return fmt.Errorf("%w: append step %d after %d", rvmerrors.ErrInvariantViolation, rec.Step, j.Last())
	}
	j.records = append(j.records, rec)
	j.usage += rec.MemoryUsage()
	return nil
}

// TruncateAfter drops every record with step > step and returns how many were dropped.
func (j *Journal) TruncateAfter(step uint64) int {
	if step >= j.Last() {
		return 0
	}
	dropped := j.records[step:]
	for i, rec := range dropped {
		j.usage -= rec.MemoryUsage()
		dropped[i] = nil
	}
	j.records = j.records[:step]
	log.Debug(log.Journal, "truncated", "after", step, "dropped", len(dropped))
	return len(dropped)
}

// At returns the batch recorded for step.
func (j *Journal) At(step uint64) (*StepRecord, bool) {
	if step == 0 || step > j.Last() {
		return nil, false
	}
	return j.records[step-1], true
}

// Between returns, in order, the batches that carry state from step a to step b
// (records a+1 through b).
func (j *Journal) Between(a, b uint64) ([]*StepRecord, error) {
	if a > b || b > j.Last() {
		return nil, fmt.Errorf("%w: range (%d, %d] outside journal of %d steps", rvmerrors.ErrStepOutOfRange, a, b, j.Last())
	}
	out := j.records[a:b]
	for i, rec := range out {
		if rec == nil || rec.Step != a+uint64(i)+1 {
			return nil, fmt.Errorf("%w: journal slot %d does not hold step %d", rvmerrors.ErrInvariantViolation, a+uint64(i), a+uint64(i)+1)
		}
	}
	return out, nil
}

// Records returns a copy of the recorded batches in step order. Later
// truncation does not affect it.
func (j *Journal) Records() []*StepRecord {
	return slices.Clone(j.records)
}

// MemoryUsage approximates the bytes held by all records.
func (j *Journal) MemoryUsage() int {
	return j.usage
}

// Load replaces the journal with recs, which must be contiguous from step 1.
func (j *Journal) Load(recs []*StepRecord) error {
	fresh := New()
	for _, rec := range recs {
		if err := fresh.Append(rec); err != nil {
			return err
		}
	}
	*j = *fresh
	return nil
}
