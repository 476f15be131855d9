// Package telemetry sets up OpenTelemetry metrics (exported for Prometheus)
// and tracing, and records job and model-load measurements.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentation = "subforge"

// Options selects exporters.
type Options struct {
	ServiceName    string
	ServiceVersion string
	// Metrics enables the Prometheus exporter.
	Metrics bool
	// OTLPEndpoint sends spans over gRPC when set.
	OTLPEndpoint string
	OTLPInsecure bool
	// StdoutTraces pretty-prints spans, for local debugging.
	StdoutTraces bool
}

// Provider owns the meter and tracer providers.
type Provider struct {
	Metrics  *Metrics
	Tracer   trace.Tracer
	Handler  http.Handler
	shutdown []func(context.Context) error
}

// Setup builds the providers and registers them globally. The returned
// Handler serves /metrics and is nil when metrics are disabled.
func Setup(ctx context.Context, opts Options, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(opts.ServiceName),
			semconv.ServiceVersion(opts.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	p := &Provider{}

	var meterProvider metric.MeterProvider
	if opts.Metrics {
		registry := prometheus.NewRegistry()
		exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
		if err != nil {
			return nil, err
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(exporter),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(mp)
		meterProvider = mp
		p.shutdown = append(p.shutdown, mp.Shutdown)
		p.Handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
		logger.Info("metrics initialized", slog.String("exporter", "prometheus"))
	}

	tp, err := newTracerProvider(ctx, opts, res, logger)
	if err != nil {
		return nil, err
	}
	if tp != nil {
		otel.SetTracerProvider(tp)
		p.Tracer = tp.Tracer(instrumentation)
		p.shutdown = append(p.shutdown, tp.Shutdown)
	} else {
		p.Tracer = noop.NewTracerProvider().Tracer(instrumentation)
	}

	if meterProvider != nil {
		m, err := NewMetrics(meterProvider)
		if err != nil {
			return nil, err
		}
		p.Metrics = m
	}
	return p, nil
}

func newTracerProvider(ctx context.Context, opts Options, res *resource.Resource, logger *slog.Logger) (*sdktrace.TracerProvider, error) {
	if endpoint := strings.TrimSpace(opts.OTLPEndpoint); endpoint != "" {
		clientOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if opts.OTLPInsecure {
			clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, clientOpts...)
		if err != nil {
			return nil, err
		}
		logger.Info("tracing initialized", slog.String("exporter", "otlp"), slog.String("endpoint", endpoint))
		return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter), sdktrace.WithResource(res)), nil
	}
	if opts.StdoutTraces {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		logger.Info("tracing initialized", slog.String("exporter", "stdout"))
		return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter), sdktrace.WithResource(res)), nil
	}
	return nil, nil
}

// Shutdown flushes exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Metrics records job outcomes and model loads. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	jobs        metric.Int64Counter
	jobDuration metric.Float64Histogram
	modelLoads  metric.Int64Counter
	loadSeconds metric.Float64Histogram
	translated  metric.Int64Counter
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(instrumentation)
	var m Metrics
	var err error
	if m.jobs, err = meter.Int64Counter("subforge.jobs",
		metric.WithDescription("Finished jobs by kind and status")); err != nil {
		return nil, err
	}
	if m.jobDuration, err = meter.Float64Histogram("subforge.job.duration",
		metric.WithDescription("Job wall-clock time"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.modelLoads, err = meter.Int64Counter("subforge.model.loads",
		metric.WithDescription("Model load attempts by family and outcome")); err != nil {
		return nil, err
	}
	if m.loadSeconds, err = meter.Float64Histogram("subforge.model.load.duration",
		metric.WithDescription("Model load time"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.translated, err = meter.Int64Counter("subforge.artifacts",
		metric.WithDescription("Subtitle files written by format")); err != nil {
		return nil, err
	}
	return &m, nil
}

// JobFinished records one finished job.
func (m *Metrics) JobFinished(ctx context.Context, kind, status, errorKind string, took time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
		attribute.String("error_kind", errorKind),
	)
	m.jobs.Add(ctx, 1, attrs)
	m.jobDuration.Record(ctx, took.Seconds(), metric.WithAttributes(attribute.String("kind", kind)))
}

// ModelLoaded records a model load attempt.
func (m *Metrics) ModelLoaded(ctx context.Context, family, model string, took time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("family", family),
		attribute.String("model", model),
		attribute.String("outcome", outcome),
	)
	m.modelLoads.Add(ctx, 1, attrs)
	m.loadSeconds.Record(ctx, took.Seconds(), attrs)
}

// ArtifactWritten records a written subtitle file.
func (m *Metrics) ArtifactWritten(ctx context.Context, format string) {
	if m == nil {
		return
	}
	m.translated.Add(ctx, 1, metric.WithAttributes(attribute.String("format", format)))
}

// LoadObserver adapts ModelLoaded to the model cache callback.
func (m *Metrics) LoadObserver(family string) func(id, precision string, took time.Duration, err error) {
	return func(id, _ string, took time.Duration, err error) {
		m.ModelLoaded(context.Background(), family, id, took, err)
	}
}
