// Package telemetry builds the OpenTelemetry trace and meter providers the
// server hands to echo, the sequence engine and the reminder sweeper.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Exporter names accepted by Setup.
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
	ExporterNone   = "none"
)

// Options configures Setup.
type Options struct {
	ServiceName    string
	ServiceVersion string
	Exporter       string
	// Writer receives stdout exporter output. Defaults to os.Stdout.
	Writer io.Writer
	// MetricInterval is how often metrics are pushed. Defaults to one minute.
	MetricInterval time.Duration
}

// Providers bundles the configured providers and their shutdown.
type Providers struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider

	shutdown []func(context.Context) error
}

// Shutdown flushes and stops the exporters.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Setup builds the providers for the given exporter and installs them as the
// otel globals. The none exporter installs no-op providers.
func Setup(ctx context.Context, opts Options) (*Providers, error) {
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}
	if opts.MetricInterval <= 0 {
		opts.MetricInterval = time.Minute
	}

	var (
		spanExporter   sdktrace.SpanExporter
		metricExporter sdkmetric.Exporter
		err            error
	)
	switch opts.Exporter {
	case ExporterNone, "":
		p := &Providers{
			TracerProvider: tracenoop.NewTracerProvider(),
			MeterProvider:  metricnoop.NewMeterProvider(),
		}
		otel.SetTracerProvider(p.TracerProvider)
		otel.SetMeterProvider(p.MeterProvider)
		return p, nil
	case ExporterStdout:
		if spanExporter, err = stdouttrace.New(stdouttrace.WithWriter(opts.Writer)); err != nil {
			return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}
		if metricExporter, err = stdoutmetric.New(stdoutmetric.WithWriter(opts.Writer)); err != nil {
			return nil, fmt.Errorf("failed to create stdout metric exporter: %w", err)
		}
	case ExporterOTLP:
		// Endpoints come from the standard OTEL_EXPORTER_OTLP_* variables.
		if spanExporter, err = otlptracehttp.New(ctx); err != nil {
			return nil, fmt.Errorf("failed to create otlp trace exporter: %w", err)
		}
		if metricExporter, err = otlpmetrichttp.New(ctx); err != nil {
			return nil, fmt.Errorf("failed to create otlp metric exporter: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown telemetry exporter %q", opts.Exporter)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", opts.ServiceName),
			attribute.String("service.version", opts.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spanExporter),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
			sdkmetric.WithInterval(opts.MetricInterval))),
		sdkmetric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Providers{
		TracerProvider: tp,
		MeterProvider:  mp,
		shutdown:       []func(context.Context) error{tp.Shutdown, mp.Shutdown},
	}, nil
}
