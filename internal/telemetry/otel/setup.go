// Package otel builds the OpenTelemetry trace, metric and log providers exported over OTLP gRPC,
// and adapts ledger lifecycle events to OTel log records.
package otel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

const (
	meterName             = "custodial-ledger"
	defaultMetricInterval = 10 * time.Second
)

// Options configures NewProviders.
type Options struct {
	// Endpoint is the collector address (host:port or URL); empty yields local no-export providers.
	Endpoint    string
	ServiceName string
	// Environment is recorded as deployment.environment.name when set.
	Environment string
	// Insecure forces plaintext even for https endpoints.
	Insecure       bool
	MetricInterval time.Duration
}

// Providers holds the OpenTelemetry providers and a shutdown function.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *metric.MeterProvider
	LoggerProvider *sdklog.LoggerProvider
	Shutdown       func(context.Context) error
}

// NewProviders creates trace, metric and log providers exporting to opts.Endpoint. Exporters dial
// lazily, so an unreachable collector does not fail startup.
func NewProviders(ctx context.Context, opts Options) (*Providers, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return &Providers{
			TracerProvider: sdktrace.NewTracerProvider(),
			MeterProvider:  metric.NewMeterProvider(),
			LoggerProvider: sdklog.NewLoggerProvider(),
			Shutdown:       func(context.Context) error { return nil },
		}, nil
	}
	target, insecure, err := parseTarget(opts.Endpoint)
	if err != nil {
		return nil, err
	}
	insecure = insecure || opts.Insecure
	if opts.MetricInterval <= 0 {
		opts.MetricInterval = defaultMetricInterval
	}
	res, err := newResource(opts)
	if err != nil {
		return nil, err
	}

	var stack shutdownStack
	fail := func(err error) (*Providers, error) {
		_ = stack.shutdown(ctx)
		return nil, err
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(target)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(target)}
	logOpts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(target)}
	if insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
		logOpts = append(logOpts, otlploggrpc.WithInsecure())
	}

	traceExp, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return fail(fmt.Errorf("telemetry: trace exporter: %w", err))
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp), sdktrace.WithResource(res))
	stack.push(tp.Shutdown)

	metricExp, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return fail(fmt.Errorf("telemetry: metric exporter: %w", err))
	}
	mp := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(metricExp, metric.WithInterval(opts.MetricInterval))),
	)
	stack.push(mp.Shutdown)

	logExp, err := otlploggrpc.New(ctx, logOpts...)
	if err != nil {
		return fail(fmt.Errorf("telemetry: log exporter: %w", err))
	}
	lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)), sdklog.WithResource(res))
	stack.push(lp.Shutdown)

	return &Providers{
		TracerProvider: tp,
		MeterProvider:  mp,
		LoggerProvider: lp,
		Shutdown:       stack.shutdown,
	}, nil
}

// parseTarget reduces endpoint to the host:port the gRPC exporters dial. Paths are dropped.
// Only https endpoints use TLS.
func parseTarget(endpoint string) (target string, insecure bool, err error) {
	endpoint = strings.TrimSpace(endpoint)
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("telemetry: invalid OTLP endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("telemetry: invalid OTLP endpoint %q: missing host", endpoint)
	}
	return u.Host, u.Scheme != "https", nil
}

func newResource(opts Options) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceName(opts.ServiceName)}
	if opts.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentName(opts.Environment))
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
}

// shutdownStack shuts providers down in reverse creation order and joins every error.
type shutdownStack []func(context.Context) error

func (s *shutdownStack) push(fn func(context.Context) error) { *s = append(*s, fn) }

func (s *shutdownStack) shutdown(ctx context.Context) error {
	var errs []error
	for i := len(*s) - 1; i >= 0; i-- {
		if err := (*s)[i](ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: shutdown: %w", err))
		}
	}
	*s = nil
	return errors.Join(errs...)
}

// Meter returns the ledger meter from MeterProvider, or nil when there is none.
func (p *Providers) Meter() otelmetric.Meter {
	if p == nil || p.MeterProvider == nil {
		return nil
	}
	return p.MeterProvider.Meter(meterName)
}

// SetGlobal installs the tracer and meter providers and W3C propagators globally so otelgrpc and
// the HTTP tracing middleware pick them up. LoggerProvider stays local; pass it to NewEventEmitter.
func (p *Providers) SetGlobal() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	if p.TracerProvider != nil {
		otel.SetTracerProvider(p.TracerProvider)
	}
	if p.MeterProvider != nil {
		otel.SetMeterProvider(p.MeterProvider)
	}
}
