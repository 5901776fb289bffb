// Package observability bundles the tracing, metrics and logging handles a
// node needs, behind one interface so tests can substitute cheap defaults.
package observability

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Observability is the handle bundle passed into node construction.
type Observability interface {
	Tracer(name string, options ...trace.TracerOption) trace.Tracer
	Meter(name string, opts ...metric.MeterOption) metric.Meter
	PrometheusRegisterer() prometheus.Registerer
	Logger() *slog.Logger
	Shutdown() error
}

type observe struct {
	log      *slog.Logger
	registry *prometheus.Registry
	meters   *sdkmetric.MeterProvider
	tracers  trace.TracerProvider
}

// New creates the production observability stack: OTel metrics exported
// through the Prometheus bridge into a private registry, and a no-op
// tracer provider until a collector is configured.
func New(log *slog.Logger) (Observability, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}
	return &observe{
		log:      log,
		registry: registry,
		meters:   sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)),
		tracers:  tracenoop.NewTracerProvider(),
	}, nil
}

func (o *observe) Tracer(name string, options ...trace.TracerOption) trace.Tracer {
	return o.tracers.Tracer(name, options...)
}

func (o *observe) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	return o.meters.Meter(name, opts...)
}

func (o *observe) PrometheusRegisterer() prometheus.Registerer { return o.registry }

// PrometheusGatherer exposes the registry for serving a /metrics endpoint.
func (o *observe) PrometheusGatherer() prometheus.Gatherer { return o.registry }

func (o *observe) Logger() *slog.Logger { return o.log }

func (o *observe) Shutdown() error {
	return o.meters.Shutdown(context.Background())
}
