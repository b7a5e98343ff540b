package main

import (
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/agio-run/agio/pkg/observability"
)

// newMetrics builds the ambient OTEL instrument set (pkg/observability)
// backed by a Prometheus exporter/registry, following the teacher's
// pkg/observability/manager.go pattern of constructing the metrics
// backend once at process start and handing the recorder down to the
// engine. The returned MeterProvider must be shut down on exit so the
// exporter's background collection goroutine stops.
func newMetrics() (*observability.OTelMetrics, *sdkmetric.MeterProvider, error) {
	exporter, err := otelprom.New()
	if err != nil {
		return nil, nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	metrics, err := observability.NewOTelMetrics(provider.Meter("github.com/agio-run/agio"))
	if err != nil {
		return nil, nil, err
	}
	return metrics, provider, nil
}
