// Package observability configures tracing of the generated load.
package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

type TracerOptions struct {
	Enabled bool
	Service string
	// Endpoint selects OTLP/HTTP export; empty writes spans to Writer.
	Endpoint string
	// Writer defaults to stderr so spans never interleave with the summary.
	Writer io.Writer
	RunID  string
}

// InitTracer sets the global tracer provider and the W3C trace context
// propagator. The returned func flushes and stops the exporter.
func InitTracer(opts TracerOptions, log zerolog.Logger) (func(context.Context) error, error) {
	if !opts.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	ctx := context.Background()
	var exporter sdktrace.SpanExporter
	var err error
	if endpoint := strings.TrimSpace(opts.Endpoint); endpoint != "" {
		exporter, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("create otlp trace exporter: %w", err)
		}
		log.Info().Str("type", "otlphttp").Str("endpoint", endpoint).Msg("trace exporter configured")
	} else {
		w := opts.Writer
		if w == nil {
			w = os.Stderr
		}
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("create stdout trace exporter: %w", err)
		}
		log.Info().Str("type", "stdout").Msg("trace exporter configured")
	}

	service := opts.Service
	if service == "" {
		service = "stagehand"
	}
	attrs := resource.WithAttributes(semconv.ServiceName(service))
	res, err := resource.New(ctx, attrs)
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}
	if opts.RunID != "" {
		res, err = resource.Merge(res, resource.NewSchemaless(semconv.ServiceInstanceID(opts.RunID)))
		if err != nil {
			return nil, fmt.Errorf("merge otel resource: %w", err)
		}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(shutdownCtx)
	}, nil
}
