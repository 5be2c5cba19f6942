package datapipe

import (
	"context"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"
)

// DefaultQueueMultiplier is the K of the work and result queue capacities (workers × K).
const DefaultQueueMultiplier = 2

// OverflowPolicy decides what a Bucket stage does with an element longer than every boundary.
type OverflowPolicy int

const (
	// OverflowDrop silently drops the element. It is counted and logged at debug level.
	OverflowDrop OverflowPolicy = iota
	// OverflowError fails the stage with ErrOverLength.
	OverflowError
)

// Option tunes a stage. Options which do not apply to a stage are ignored by it.
type Option func(*options)

type options struct {
	name       string
	multiplier int
	logger     *zerolog.Logger
	meter      metric.Meter
	poolOpts   []ants.Option
	seed       *uint64
	overflow   OverflowPolicy
}

func newOptions(name string, opts []Option) options {
	o := options{name: name, multiplier: DefaultQueueMultiplier}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithName names the stage in logs, metrics and errors.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithQueueMultiplier sets the K of the ParallelMap queue capacities (workers × K).
func WithQueueMultiplier(k int) Option {
	return func(o *options) { o.multiplier = k }
}

// WithLogger sets the stage logger. By default the logger attached to the iteration context is used (see zerolog.Ctx).
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = &logger }
}

// WithMeter sets the meter of the ParallelMap instruments. By default the global meter provider is used.
func WithMeter(meter metric.Meter) Option {
	return func(o *options) { o.meter = meter }
}

// WithPoolOptions adds options to the ants pool running the ParallelMap workers.
func WithPoolOptions(opts ...ants.Option) Option {
	return func(o *options) { o.poolOpts = append(o.poolOpts, opts...) }
}

// WithSeed makes the Shuffle permutations reproducible.
func WithSeed(seed uint64) Option {
	return func(o *options) { o.seed = &seed }
}

// WithOverflow sets the Bucket over-length policy.
func WithOverflow(policy OverflowPolicy) Option {
	return func(o *options) { o.overflow = policy }
}

// stageLogger returns the configured logger, or the context logger, tagged with the stage name.
func (o options) stageLogger(ctx context.Context) zerolog.Logger {
	logger := zerolog.Ctx(ctx)
	if o.logger != nil {
		logger = o.logger
	}
	return logger.With().Str("stage", o.name).Logger()
}
