// Package observability exports OpenTelemetry spans and RED metrics for
// scenario runs, adapter invocations and gateway requests. A disabled
// provider still satisfies every call through the global no-op providers.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/Mindburn-Labs/avs"

// metricInterval is how often the periodic reader pushes to the collector.
const metricInterval = 15 * time.Second

// Config selects the collector and sampling. Export happens only when
// Enabled is set.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string  // gRPC host:port
	SampleRate     float64 // fraction of traces kept, 0.0 to 1.0
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns a disabled configuration.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "avs",
		ServiceVersion: "dev",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
	}
}

// Provider owns the SDK providers and the operation instruments.
type Provider struct {
	config *Config
	logger *slog.Logger

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer

	started  metric.Int64Counter
	failed   metric.Int64Counter
	duration metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

// New builds a Provider. With config disabled no exporter is dialled and
// operations are traced by the global no-op tracer.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
		tracer: otel.Tracer(instrumentationName),
	}
	if !config.Enabled {
		p.logger.DebugContext(ctx, "telemetry export disabled")
		return p, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
		semconv.DeploymentEnvironment(config.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}
	if err := p.startTracing(ctx, res); err != nil {
		return nil, fmt.Errorf("start tracing: %w", err)
	}
	if err := p.startMetrics(ctx, res); err != nil {
		_ = p.tracerProvider.Shutdown(ctx)
		return nil, fmt.Errorf("start metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "telemetry export enabled",
		"service", config.ServiceName,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
	)
	return p, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

func (p *Provider) startTracing(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return err
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler(p.config.SampleRate))),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	p.tracer = p.tracerProvider.Tracer(instrumentationName, trace.WithInstrumentationVersion(p.config.ServiceVersion))
	return nil
}

func (p *Provider) startMetrics(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return err
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(metricInterval))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return p.instruments(p.meterProvider.Meter(instrumentationName, metric.WithInstrumentationVersion(p.config.ServiceVersion)))
}

// instruments creates the RED set shared by every tracked operation; the
// operation name is carried as an attribute.
func (p *Provider) instruments(meter metric.Meter) error {
	var err error
	if p.started, err = meter.Int64Counter("avs.operations.total",
		metric.WithDescription("Scenario executions, adapter invocations and gateway requests started"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return err
	}
	if p.failed, err = meter.Int64Counter("avs.errors.total",
		metric.WithDescription("Operations that ended with an error, by error kind"),
		metric.WithUnit("{error}"),
	); err != nil {
		return err
	}
	if p.duration, err = meter.Float64Histogram("avs.operation.duration",
		metric.WithDescription("Operation wall time"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	); err != nil {
		return err
	}
	p.inFlight, err = meter.Int64UpDownCounter("avs.operations.active",
		metric.WithDescription("Operations in flight"),
		metric.WithUnit("{operation}"),
	)
	return err
}

// Shutdown flushes pending spans and metrics. Errors are logged, not
// returned, so a broken collector never fails a run.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "trace provider shutdown failed", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "meter provider shutdown failed", "error", err)
		}
	}
	return nil
}

// TrackOperation opens a span named name and counts the operation. The
// returned func must be called exactly once with the outcome; a non-nil
// error marks the span failed and is counted under its error kind.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	all := append([]attribute.KeyValue{AttrOperation.String(name)}, attrs...)
	set := metric.WithAttributes(all...)

	ctx, span := p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	if p.started != nil {
		p.started.Add(ctx, 1, set)
		p.inFlight.Add(ctx, 1, set)
	}

	return ctx, func(err error) {
		if p.started != nil {
			p.inFlight.Add(ctx, -1, set)
			p.duration.Record(ctx, time.Since(start).Seconds(), set)
		}
		if err != nil {
			kind := errorKind(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, kind)
			if p.failed != nil {
				p.failed.Add(ctx, 1, metric.WithAttributes(append(all, AttrErrorKind.String(kind))...))
			}
		}
		span.End()
	}
}
