// Package telemetry wires the OpenTelemetry metrics pipeline to an OTLP
// collector.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// ErrMetricsDisabled is returned by InitMetrics when no endpoint is set.
var ErrMetricsDisabled = errors.New("OTel metrics exporter disabled")

const (
	defaultServiceName    = "devsync"
	defaultExportInterval = 15 * time.Second
)

var (
	meterMu       sync.Mutex
	meterProvider *sdkmetric.MeterProvider
)

// MetricsConfig configures the metrics pipeline.
type MetricsConfig struct {
	ServiceName    string
	ServiceVersion string
	// Endpoint is the OTLP gRPC collector address (host:port).
	Endpoint string
	Insecure bool
	// ExportInterval defaults to 15s.
	ExportInterval time.Duration
}

// InitMetrics installs a global MeterProvider exporting over OTLP gRPC.
// Calling it again returns the provider already installed.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*sdkmetric.MeterProvider, error) {
	if cfg.Endpoint == "" {
		return nil, ErrMetricsDisabled
	}

	meterMu.Lock()
	defer meterMu.Unlock()

	if meterProvider != nil {
		return meterProvider, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create OTLP metric exporter: %w", err)
	}

	attrs := []attribute.KeyValue{attribute.String("service.name", serviceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, attribute.String("service.version", cfg.ServiceVersion))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("create metrics resource: %w", err)
	}

	interval := cfg.ExportInterval
	if interval <= 0 {
		interval = defaultExportInterval
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(provider)
	meterProvider = provider
	return provider, nil
}

// Shutdown flushes and stops the metrics pipeline. It is a no-op when
// metrics were never initialised.
func Shutdown(ctx context.Context) error {
	meterMu.Lock()
	defer meterMu.Unlock()

	if meterProvider == nil {
		return nil
	}
	err := meterProvider.Shutdown(ctx)
	meterProvider = nil
	if err != nil {
		return fmt.Errorf("shutdown meter provider: %w", err)
	}
	return nil
}
