package datapipe

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fogfactory/datapipe"

// parallelMetrics holds the instruments of a ParallelMap stage.
type parallelMetrics struct {
	dispatched metric.Int64Counter
	emitted    metric.Int64Counter
	failures   metric.Int64Counter
	pending    metric.Int64Histogram
	stage      string
	attrs      metric.MeasurementOption
}

func newParallelMetrics(meter metric.Meter, stage string) (*parallelMetrics, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	dispatched, err := meter.Int64Counter("datapipe.parallel.dispatched",
		metric.WithDescription("Elements pulled from the source and dispatched to the workers"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating datapipe.parallel.dispatched counter: %w", err)
	}

	emitted, err := meter.Int64Counter("datapipe.parallel.emitted",
		metric.WithDescription("Results yielded in order to the consumer"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating datapipe.parallel.emitted counter: %w", err)
	}

	failures, err := meter.Int64Counter("datapipe.parallel.failures",
		metric.WithDescription("Stage failures by kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating datapipe.parallel.failures counter: %w", err)
	}

	pending, err := meter.Int64Histogram("datapipe.parallel.pending",
		metric.WithDescription("Out of order results buffered when a result arrives"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating datapipe.parallel.pending histogram: %w", err)
	}

	return &parallelMetrics{
		dispatched: dispatched,
		emitted:    emitted,
		failures:   failures,
		pending:    pending,
		stage:      stage,
		attrs:      metric.WithAttributes(attribute.String("stage", stage)),
	}, nil
}

func (m *parallelMetrics) recordDispatch(ctx context.Context) {
	m.dispatched.Add(ctx, 1, m.attrs)
}

func (m *parallelMetrics) recordEmit(ctx context.Context) {
	m.emitted.Add(ctx, 1, m.attrs)
}

func (m *parallelMetrics) recordPending(ctx context.Context, depth int) {
	m.pending.Record(ctx, int64(depth), m.attrs)
}

func (m *parallelMetrics) recordFailure(ctx context.Context, kind string) {
	m.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", m.stage),
		attribute.String("kind", kind),
	))
}
