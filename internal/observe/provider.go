package observe

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// InitProvider installs a global MeterProvider backed by the Prometheus
// exporter, so instruments show up on promhttp.Handler(). The returned
// function flushes and shuts the provider down.
func InitProvider(serviceVersion string) (*Metrics, func(context.Context) error, error) {
	exp, err := promexporter.New()
	if err != nil {
		return nil, nil, err
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", "voxterm"),
		attribute.String("service.version", serviceVersion),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exp),
	)
	otel.SetMeterProvider(mp)

	m, err := NewMetrics(mp)
	if err != nil {
		mp.Shutdown(context.Background())
		return nil, nil, err
	}
	return m, mp.Shutdown, nil
}
