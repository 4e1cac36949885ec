package timetravel

import (
	"context"
	"fmt"

	"github.com/colorfulnotion/rvm/rvmerrors"
	"github.com/colorfulnotion/rvm/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StopReason says why a run loop returned.
type StopReason uint8

const (
	StopNone StopReason = iota
	StopPredicate
	StopHalted
	StopFaulted
	StopGenesis
	StopCancelled
)

func (r StopReason) String() string {
	switch r {
	case StopNone:
		return "none"
	case StopPredicate:
		return "predicate"
	case StopHalted:
		return "halted"
	case StopFaulted:
		return "faulted"
	case StopGenesis:
		return "genesis"
	case StopCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("StopReason(%d)", uint8(r))
	}
}

func (r StopReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// RunResult reports a RunUntil or RunBackward call.
type RunResult struct {
	From   uint64           `json:"from"`
	Step   uint64           `json:"step"`
	Steps  uint64           `json:"steps"`
	Status types.Status     `json:"status"`
	Reason StopReason       `json:"reason"`
	Fault  *rvmerrors.Fault `json:"-"`
}

// RunUntil steps forward until pred holds, execution halts or faults, or ctx
// is cancelled. Cancellation is checked before every instruction and leaves
// the controller on the last committed step. An execution fault ends the run
// with StopFaulted and a nil error.
func (c *Controller) RunUntil(ctx context.Context, pred Predicate) (RunResult, error) {
	if err := c.guard(); err != nil {
		return RunResult{From: c.step, Step: c.step, Status: c.status}, err
	}
	ctx, span := c.tracer.Start(ctx, "timetravel.RunUntil", trace.WithAttributes(
		attribute.Int64("from_step", int64(c.step)),
	))
	defer span.End()

	res := RunResult{From: c.step}
	for {
		if err := ctx.Err(); err != nil {
			res.Reason = StopCancelled
			return c.finish(span, res, err)
		}
		if _, err := c.StepForward(); err != nil {
			if f, ok := rvmerrors.AsFault(err); ok && rvmerrors.IsExecutionFault(err) {
				res.Reason = StopFaulted
				res.Fault = f
				return c.finish(span, res, nil)
			}
			return c.finish(span, res, err)
		}
		res.Steps++
		if c.status == types.StatusHalted {
			res.Reason = StopHalted
			return c.finish(span, res, nil)
		}
		if pred != nil && pred(c.Position()) {
			res.Reason = StopPredicate
			return c.finish(span, res, nil)
		}
	}
}

// RunBackward steps backward until pred holds, genesis is reached, or ctx is
// cancelled.
func (c *Controller) RunBackward(ctx context.Context, pred Predicate) (RunResult, error) {
	if err := c.guard(); err != nil {
		return RunResult{From: c.step, Step: c.step, Status: c.status}, err
	}
	ctx, span := c.tracer.Start(ctx, "timetravel.RunBackward", trace.WithAttributes(
		attribute.Int64("from_step", int64(c.step)),
	))
	defer span.End()

	res := RunResult{From: c.step}
	for {
		if c.step == 0 {
			res.Reason = StopGenesis
			return c.finish(span, res, nil)
		}
		if err := ctx.Err(); err != nil {
			res.Reason = StopCancelled
			return c.finish(span, res, err)
		}
		if err := c.StepBackward(); err != nil {
			return c.finish(span, res, err)
		}
		res.Steps++
		if pred != nil && pred(c.Position()) {
			res.Reason = StopPredicate
			return c.finish(span, res, nil)
		}
	}
}

// StepN steps forward at most n times.
func (c *Controller) StepN(ctx context.Context, n uint64) (RunResult, error) {
	if n == 0 {
		return RunResult{From: c.step, Step: c.step, Status: c.status}, c.guard()
	}
	remaining := n
	return c.RunUntil(ctx, func(Position) bool {
		remaining--
		return remaining == 0
	})
}

// Run executes until the program halts or faults.
func (c *Controller) Run(ctx context.Context) (RunResult, error) {
	return c.RunUntil(ctx, nil)
}

func (c *Controller) finish(span trace.Span, res RunResult, err error) (RunResult, error) {
	res.Step = c.step
	res.Status = c.status
	span.SetAttributes(
		attribute.Int64("to_step", int64(res.Step)),
		attribute.Int64("steps", int64(res.Steps)),
		attribute.String("reason", res.Reason.String()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if res.Fault != nil {
		span.SetAttributes(attribute.String("fault", rvmerrors.GetErrorName(res.Fault)))
	}
	return res, err
}
