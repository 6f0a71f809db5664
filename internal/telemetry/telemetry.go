// Package telemetry wires the doctor to OpenTelemetry. Recording helpers in
// recorder.go emit both an OTel log event and a metric counter; [Init]
// installs OTLP/HTTP exporters when the endpoint variables are set and
// leaves the no-op global providers in place otherwise.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Environment variables that enable export.
const (
	EnvMetricsURL = "DOCTOR_OTEL_METRICS_URL"
	EnvLogsURL    = "DOCTOR_OTEL_LOGS_URL"
)

// exportInterval is how often metrics are pushed.
const exportInterval = 30 * time.Second

// Provider owns the SDK providers installed by [Init].
type Provider struct {
	shutdowns []func(context.Context) error
}

// Active reports whether any exporter was installed.
func (p *Provider) Active() bool {
	return p != nil && len(p.shutdowns) > 0
}

// Shutdown flushes and stops all installed providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, fn := range p.shutdowns {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Init installs OTLP/HTTP metric and log exporters for the endpoints named
// by [EnvMetricsURL] and [EnvLogsURL]. With neither set it returns an
// inactive Provider and the global no-op providers stay in place.
func Init(ctx context.Context, serviceName, version string) (*Provider, error) {
	metricsURL := os.Getenv(EnvMetricsURL)
	logsURL := os.Getenv(EnvLogsURL)
	p := &Provider{}
	if metricsURL == "" && logsURL == "" {
		return p, nil
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", version),
	)

	if metricsURL != "" {
		exp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(metricsURL))
		if err != nil {
			return nil, fmt.Errorf("creating metric exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(exportInterval))),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(mp)
		p.shutdowns = append(p.shutdowns, mp.Shutdown)
	}

	if logsURL != "" {
		exp, err := otlploghttp.New(ctx, otlploghttp.WithEndpointURL(logsURL))
		if err != nil {
			_ = p.Shutdown(ctx)
			return nil, fmt.Errorf("creating log exporter: %w", err)
		}
		lp := sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
			sdklog.WithResource(res),
		)
		global.SetLoggerProvider(lp)
		p.shutdowns = append(p.shutdowns, lp.Shutdown)
	}
	return p, nil
}
