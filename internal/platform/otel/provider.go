// Package otel configures OpenTelemetry tracing for reviewdesk processes.
package otel

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/louisbranch/reviewdesk/internal/platform/config"
)

// Config selects the trace exporter. Fields read REVIEWDESK_OTEL_*.
type Config struct {
	Endpoint    string  `env:"ENDPOINT"`
	Disabled    bool    `env:"DISABLED"`
	SampleRatio float64 `env:"SAMPLE_RATIO" envDefault:"1"`
}

// Enabled reports whether cfg names an exporter endpoint and is not
// switched off.
func (c Config) Enabled() bool {
	return !c.Disabled && strings.TrimSpace(c.Endpoint) != ""
}

// LoadConfigFromEnv reads the REVIEWDESK_OTEL_* variables.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := config.ParseEnvPrefixed(&cfg, "REVIEWDESK_OTEL_"); err != nil {
		return Config{}, err
	}
	if cfg.SampleRatio < 0 || cfg.SampleRatio > 1 {
		return Config{}, fmt.Errorf("otel sample ratio %v outside [0,1]", cfg.SampleRatio)
	}
	return cfg, nil
}

// Setup installs a global tracer provider for serviceName using the
// environment. Without an endpoint the returned shutdown is a no-op and
// spans are dropped.
func Setup(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return SetupWithConfig(ctx, serviceName, cfg)
}

// SetupWithConfig is Setup with an explicit Config.
func SetupWithConfig(ctx context.Context, serviceName string, cfg Config) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled() {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(strings.TrimSpace(cfg.Endpoint)))
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return provider.Shutdown, nil
}
