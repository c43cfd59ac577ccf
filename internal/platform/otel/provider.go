// Package otel wires OpenTelemetry tracing for tracker commands.
package otel

import (
	"context"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// serviceNamespace prefixes every exported service name.
const serviceNamespace = "vtrack"

// Config selects the trace exporter. Tracing stays off until Endpoint is set.
type Config struct {
	Endpoint string `env:"VTRACK_OTEL_ENDPOINT"`
	Enabled  bool   `env:"VTRACK_OTEL_ENABLED" envDefault:"true"`
	// SampleRatio samples root spans. Every plate read starts a root span,
	// so busy checkpoints want a ratio below 1.
	SampleRatio float64 `env:"VTRACK_OTEL_SAMPLE_RATIO" envDefault:"1"`
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse otel env: %w", err)
	}
	if cfg.SampleRatio < 0 || cfg.SampleRatio > 1 {
		return Config{}, fmt.Errorf("otel sample ratio must be within [0, 1], got %v", cfg.SampleRatio)
	}
	return cfg, nil
}

// Setup installs a global tracer provider for serviceName from the
// environment and returns its flush-and-stop func. With tracing off the
// returned func does nothing.
func Setup(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return noop, err
	}
	return SetupWithConfig(ctx, serviceName, cfg)
}

// SetupWithConfig is Setup with an explicit Config.
func SetupWithConfig(ctx context.Context, serviceName string, cfg Config) (func(context.Context) error, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if !cfg.Enabled || endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return noop, fmt.Errorf("create otlp exporter: %w", err)
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(serviceNamespace+"-"+serviceName),
		semconv.ServiceNamespace(serviceNamespace),
	))
	if err != nil {
		return noop, fmt.Errorf("build otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return tp.Shutdown, nil
}

func noop(context.Context) error { return nil }
