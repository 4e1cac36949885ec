package timetravel

import (
	"github.com/colorfulnotion/rvm/config"
	"github.com/colorfulnotion/rvm/journal"
	"github.com/colorfulnotion/rvm/state"
	"github.com/colorfulnotion/rvm/telemetry"
	"github.com/colorfulnotion/rvm/types"
	"go.opentelemetry.io/otel/trace"
)

// Option configures a Controller.
type Option func(*Controller)

// WithConfig applies the limits, checkpoint cadence and replay verification
// of cfg. Block and call contexts are passed separately.
func WithConfig(cfg config.Config) Option {
	return func(c *Controller) {
		c.limits = state.Limits{StackLimit: cfg.StackLimit, MemoryLimit: cfg.MemoryLimit}
		c.interval = cfg.Checkpoint.Interval
		adaptive := cfg.Checkpoint.Adaptive
		c.adaptive = &adaptive
		c.minInterval = cfg.Checkpoint.MinInterval
		c.maxInterval = cfg.Checkpoint.MaxInterval
		if cfg.Checkpoint.GasPerStep > 0 {
			c.gasPerStep = cfg.Checkpoint.GasPerStep
		}
		c.verifyReplay = cfg.VerifyReplay
	}
}

func WithCallContext(call types.CallContext) Option {
	return func(c *Controller) {
		c.call = call
	}
}

func WithLimits(limits state.Limits) Option {
	return func(c *Controller) {
		c.limits = limits
	}
}

// WithCheckpointInterval fixes K. Adaptive doubling stays off unless
// WithAdaptiveCheckpoints turns it back on.
func WithCheckpointInterval(k uint64) Option {
	return func(c *Controller) {
		c.interval = k
	}
}

func WithAdaptiveCheckpoints(on bool, maxInterval uint64) Option {
	return func(c *Controller) {
		c.adaptive = &on
		if maxInterval > 0 {
			c.maxInterval = maxInterval
		}
	}
}

// WithVerifyReplay stores a state hash in every record and checks it each
// time the record is replayed.
func WithVerifyReplay(on bool) Option {
	return func(c *Controller) {
		c.verifyReplay = on
	}
}

// StepHook observes every committed forward step with the containers it produced.
type StepHook func(rec *journal.StepRecord, c *state.Containers)

// WithStepHook adds h to the hooks run after each forward step.
func WithStepHook(h StepHook) Option {
	return func(c *Controller) {
		c.hooks = append(c.hooks, h)
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Controller) {
		c.tracer = t
	}
}
