package config

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/mpapenbr/iracelog-tiretemp/log"
	"github.com/mpapenbr/iracelog-tiretemp/version"
)

// StdoutEndpoint as TelemetryEndpoint writes traces and metrics to stdout.
const StdoutEndpoint = "stdout"

type Telemetry struct {
	traces  *trace.TracerProvider
	metrics *metric.MeterProvider
}

// SetupTelemetry installs global trace and meter providers exporting to
// TelemetryEndpoint.
func SetupTelemetry(ctx context.Context) (*Telemetry, error) {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", "itt"),
		attribute.String("service.version", version.Version),
	))
	if err != nil {
		return nil, err
	}
	spanExporter, metricExporter, err := newExporters(ctx)
	if err != nil {
		return nil, err
	}
	ret := &Telemetry{
		traces: trace.NewTracerProvider(
			trace.WithBatcher(spanExporter),
			trace.WithResource(res)),
		metrics: metric.NewMeterProvider(
			metric.WithReader(metric.NewPeriodicReader(metricExporter,
				metric.WithInterval(15*time.Second))),
			metric.WithResource(res)),
	}
	otel.SetTracerProvider(ret.traces)
	otel.SetMeterProvider(ret.metrics)
	return ret, nil
}

func newExporters(ctx context.Context) (trace.SpanExporter, metric.Exporter, error) {
	if TelemetryEndpoint == StdoutEndpoint {
		spans, err := stdouttrace.New()
		if err != nil {
			return nil, nil, err
		}
		metrics, err := stdoutmetric.New()
		if err != nil {
			return nil, nil, err
		}
		return spans, metrics, nil
	}
	spans, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(TelemetryEndpoint),
		otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, nil, err
	}
	metrics, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(TelemetryEndpoint),
		otlpmetricgrpc.WithInsecure())
	if err != nil {
		return nil, nil, err
	}
	return spans, metrics, nil
}

// Shutdown flushes pending data.
func (t *Telemetry) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := errors.Join(t.traces.Shutdown(ctx), t.metrics.Shutdown(ctx)); err != nil {
		log.Warn("Error shutting down telemetry", log.ErrorField(err))
	}
}
