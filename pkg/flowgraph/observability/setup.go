package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// SetupConfig selects which exporters Setup installs.
type SetupConfig struct {
	ServiceName string

	// Metrics installs a meter provider backed by a Prometheus registry.
	Metrics bool

	// OTLPEndpoint, when set, exports spans over OTLP/gRPC.
	OTLPEndpoint string
	OTLPInsecure bool
}

// Telemetry holds the installed providers.
type Telemetry struct {
	// MetricsHandler serves the Prometheus exposition format.
	// Nil when metrics are disabled.
	MetricsHandler http.Handler

	shutdown []func(context.Context) error
}

// Setup installs global OpenTelemetry providers according to cfg.
// Call Shutdown on the result to flush exporters.
func Setup(ctx context.Context, cfg SetupConfig) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "askdata"
	}
	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))

	t := &Telemetry{}

	if cfg.Metrics {
		registry := prometheus.NewRegistry()
		exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(exporter),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(mp)
		t.MetricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
		t.shutdown = append(t.shutdown, mp.Shutdown)
	}

	if cfg.OTLPEndpoint != "" {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			_ = t.Shutdown(ctx)
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		t.shutdown = append(t.shutdown, tp.Shutdown)
	}

	return t, nil
}

// Shutdown flushes and stops every installed provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(t.shutdown) - 1; i >= 0; i-- {
		if err := t.shutdown[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	t.shutdown = nil
	return errors.Join(errs...)
}
