// Package observability wires OpenTelemetry tracing and RED metrics
// around service operations.
//
// The provider is disabled by default; a disabled provider costs one nil
// check per operation. When enabled it exports spans and metrics over
// OTLP gRPC.
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
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	SampleRate     float64
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns the disabled default. Operators opt in via
// OBSERVABILITY_ENABLED.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "rotor",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
	}
}

// Provider manages the trace and metric pipelines plus the RED metric
// set for service operations.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	logger         *slog.Logger

	requestCounter   metric.Int64Counter
	errorCounter     metric.Int64Counter
	durationHist     metric.Float64Histogram
	activeOperations metric.Int64UpDownCounter
}

// New builds a provider. A disabled config yields a provider whose hooks
// are all no-ops.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}
	if !config.Enabled {
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
		return nil, fmt.Errorf("observability: resource: %w", err)
	}
	if err := p.initTraces(ctx, res); err != nil {
		return nil, err
	}
	if err := p.initMetrics(ctx, res); err != nil {
		return nil, err
	}

	p.tracer = otel.Tracer("rotor", trace.WithInstrumentationVersion(config.ServiceVersion))
	meter := otel.Meter("rotor")
	if p.requestCounter, err = meter.Int64Counter("rotor.operations",
		metric.WithDescription("Operations executed")); err != nil {
		return nil, fmt.Errorf("observability: counter: %w", err)
	}
	if p.errorCounter, err = meter.Int64Counter("rotor.operation_errors",
		metric.WithDescription("Operations that returned a coded error")); err != nil {
		return nil, fmt.Errorf("observability: counter: %w", err)
	}
	if p.durationHist, err = meter.Float64Histogram("rotor.operation_duration_ms",
		metric.WithDescription("Operation latency in milliseconds")); err != nil {
		return nil, fmt.Errorf("observability: histogram: %w", err)
	}
	if p.activeOperations, err = meter.Int64UpDownCounter("rotor.operations_in_flight",
		metric.WithDescription("Operations currently executing")); err != nil {
		return nil, fmt.Errorf("observability: updown counter: %w", err)
	}
	p.logger.Info("observability enabled", "endpoint", config.OTLPEndpoint)
	return p, nil
}

func (p *Provider) initTraces(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("observability: trace exporter: %w", err)
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(p.config.SampleRate)),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetrics(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("observability: metric exporter: %w", err)
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

// StartOperation opens a span for one service operation and returns the
// hook to close it. The hook records duration and the error code, if any.
func (p *Provider) StartOperation(ctx context.Context, operationID, actorFingerprint string) (context.Context, func(errCode string)) {
	if p == nil || !p.config.Enabled {
		return ctx, func(string) {}
	}
	attrs := []attribute.KeyValue{
		attribute.String("rotor.operation", operationID),
		attribute.String("rotor.actor", actorFingerprint),
	}
	ctx, span := p.tracer.Start(ctx, operationID, trace.WithAttributes(attrs...))
	p.requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	p.activeOperations.Add(ctx, 1)
	started := time.Now()

	return ctx, func(errCode string) {
		elapsed := float64(time.Since(started).Microseconds()) / 1000.0
		p.durationHist.Record(ctx, elapsed, metric.WithAttributes(attrs...))
		p.activeOperations.Add(ctx, -1)
		if errCode != "" {
			span.SetAttributes(attribute.String("rotor.error_code", errCode))
			p.errorCounter.Add(ctx, 1, metric.WithAttributes(
				append(attrs, attribute.String("rotor.error_code", errCode))...))
		}
		span.End()
	}
}

// Shutdown flushes both pipelines.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || !p.config.Enabled {
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
