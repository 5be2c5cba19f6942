package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fogfactory/datapipe"
)

// runMetrics records the stage instruments of one run in memory.
type runMetrics struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider
}

func newRunMetrics() *runMetrics {
	reader := sdkmetric.NewManualReader()
	return &runMetrics{
		reader:   reader,
		provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	}
}

func (m *runMetrics) option() datapipe.Option {
	return datapipe.WithMeter(m.provider.Meter("github.com/fogfactory/datapipe/cmd/datapipe"))
}

// report logs every counter data point, then shuts the provider down.
func (m *runMetrics) report(ctx context.Context, logger zerolog.Logger) error {
	var rm metricdata.ResourceMetrics
	if err := m.reader.Collect(ctx, &rm); err != nil {
		return fmt.Errorf("collecting metrics: %w", err)
	}
	for _, scope := range rm.ScopeMetrics {
		for _, metric := range scope.Metrics {
			sum, ok := metric.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, point := range sum.DataPoints {
				event := logger.Info().Str("metric", metric.Name).Int64("value", point.Value)
				for _, attr := range point.Attributes.ToSlice() {
					event = event.Str(string(attr.Key), attr.Value.Emit())
				}
				event.Msg("metric")
			}
		}
	}
	return m.provider.Shutdown(ctx)
}
