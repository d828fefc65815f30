// Package observability provides OpenTelemetry-based tracing and metrics for
// the automation engine: OTLP export, execution/vote counters and spans
// around ledger submissions.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // e.g. "localhost:4317"
	SampleRate     float64
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns development defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "pulse",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        true,
		Insecure:       false,
	}
}

// Provider manages the trace and metric providers plus the engine's counters.
// A nil *Provider (or a disabled one) is a valid no-op sink.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	executions  metric.Int64Counter
	failures    metric.Int64Counter
	retries     metric.Int64Counter
	votes       metric.Int64Counter
	resolutions metric.Int64Counter
	submitHist  metric.Float64Histogram
}

// New creates a new observability provider and installs it globally.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}
	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	p.tracer = otel.Tracer("pulse.engine",
		trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = otel.Meter("pulse.engine",
		metric.WithInstrumentationVersion(config.ServiceVersion))

	if err := p.initCounters(); err != nil {
		return nil, fmt.Errorf("failed to init counters: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
	)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initCounters() error {
	var err error
	if p.executions, err = p.meter.Int64Counter("pulse.executions.total",
		metric.WithDescription("Entity executions attempted"),
		metric.WithUnit("{execution}")); err != nil {
		return err
	}
	if p.failures, err = p.meter.Int64Counter("pulse.executions.failed",
		metric.WithDescription("Entity executions that failed"),
		metric.WithUnit("{execution}")); err != nil {
		return err
	}
	if p.retries, err = p.meter.Int64Counter("pulse.executions.retries",
		metric.WithDescription("Retries scheduled after ledger failures"),
		metric.WithUnit("{retry}")); err != nil {
		return err
	}
	if p.votes, err = p.meter.Int64Counter("pulse.votes.total",
		metric.WithDescription("Votes cast on proposals"),
		metric.WithUnit("{vote}")); err != nil {
		return err
	}
	if p.resolutions, err = p.meter.Int64Counter("pulse.proposals.resolved",
		metric.WithDescription("Proposal resolutions by outcome"),
		metric.WithUnit("{proposal}")); err != nil {
		return err
	}
	if p.submitHist, err = p.meter.Float64Histogram("pulse.ledger.submit.duration",
		metric.WithDescription("Ledger submission latency"),
		metric.WithUnit("s")); err != nil {
		return err
	}
	return nil
}

// enabled reports whether instruments exist.
func (p *Provider) enabled() bool {
	return p != nil && p.executions != nil
}

// RecordExecution counts one execution attempt and its outcome.
func (p *Provider) RecordExecution(ctx context.Context, kind string, success bool, dur time.Duration) {
	if !p.enabled() {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("entity.kind", kind),
		attribute.Bool("success", success),
	)
	p.executions.Add(ctx, 1, attrs)
	if !success {
		p.failures.Add(ctx, 1, attrs)
	}
	p.submitHist.Record(ctx, dur.Seconds(), attrs)
}

// RecordRetry counts one retry re-arm.
func (p *Provider) RecordRetry(ctx context.Context, kind string) {
	if !p.enabled() {
		return
	}
	p.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("entity.kind", kind)))
}

// RecordVote counts one accepted ballot.
func (p *Provider) RecordVote(ctx context.Context, choice string) {
	if !p.enabled() {
		return
	}
	p.votes.Add(ctx, 1, metric.WithAttributes(attribute.String("choice", choice)))
}

// RecordResolution counts one terminal proposal transition.
func (p *Provider) RecordResolution(ctx context.Context, outcome string) {
	if !p.enabled() {
		return
	}
	p.resolutions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// StartSpan begins a span when tracing is live, otherwise returns ctx as-is.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if p == nil || p.tracer == nil {
		return noop.NewTracerProvider().Tracer("noop").Start(ctx, name)
	}
	return p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var firstErr error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
