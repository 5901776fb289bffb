// Package observability provides the test default of the node
// observability stack: logs into the test output, no-op metrics and
// traces, a private prometheus registry.
package observability

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/tesserasim/tessera-core/logger"
	"github.com/tesserasim/tessera-core/observability"
)

type (
	testObserve struct {
		log      *slog.Logger
		registry *prometheus.Registry
		meters   metric.MeterProvider
		tracers  trace.TracerProvider
	}

	testWriter struct {
		t *testing.T
	}
)

// Default returns the observability stack used by tests.
func Default(t *testing.T) observability.Observability {
	t.Helper()
	return &testObserve{
		log:      logger.New(testWriter{t: t}, logger.LevelTrace),
		registry: prometheus.NewRegistry(),
		meters:   metricnoop.NewMeterProvider(),
		tracers:  tracenoop.NewTracerProvider(),
	}
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

func (o *testObserve) Tracer(name string, options ...trace.TracerOption) trace.Tracer {
	return o.tracers.Tracer(name, options...)
}

func (o *testObserve) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	return o.meters.Meter(name, opts...)
}

func (o *testObserve) PrometheusRegisterer() prometheus.Registerer { return o.registry }

func (o *testObserve) Logger() *slog.Logger { return o.log }

func (o *testObserve) Shutdown() error { return nil }
