// Package telemetry sets up OpenTelemetry tracing. Spans are exported to
// Google Cloud Trace when a project id is configured; otherwise they are
// recorded by the SDK and dropped.
package telemetry

import (
	"context"
	"fmt"

	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// Config selects the trace destination.
type Config struct {
	ServiceName string
	Version     string
	// ProjectID enables the Cloud Trace exporter.
	ProjectID string
	// SampleRatio is the fraction of runs traced. Zero or less disables
	// sampling, one or more samples every run.
	SampleRatio float64
}

// Option customizes InitTracing.
type Option func(*[]sdktrace.TracerProviderOption)

// WithSpanProcessor adds a processor, mainly for tests.
func WithSpanProcessor(sp sdktrace.SpanProcessor) Option {
	return func(opts *[]sdktrace.TracerProviderOption) {
		*opts = append(*opts, sdktrace.WithSpanProcessor(sp))
	}
}

// InitTracing builds a tracer provider, installs it as the global provider and
// returns it. Callers must Shutdown the provider to flush pending spans.
func InitTracing(ctx context.Context, cfg Config, extra ...Option) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	}
	if cfg.ProjectID != "" {
		exporter, err := texporter.New(texporter.WithProjectID(cfg.ProjectID))
		if err != nil {
			return nil, fmt.Errorf("create cloud trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	for _, opt := range extra {
		opt(&opts)
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
	)
	return tp, nil
}
