// Package telemetry installs the process-wide OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/ekaya-inc/ekaya-srs/pkg/config"
)

// ServiceName identifies this process in exported spans.
const ServiceName = "ekaya-srs"

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// InitTracing installs a global tracer provider for the configured exporter.
// With the "none" exporter the global no-op provider is left in place.
// Spans for the stdout exporter are written to w.
func InitTracing(cfg *config.Config, w io.Writer) (ShutdownFunc, error) {
	switch cfg.Tracing.Exporter {
	case "", config.TraceExporterNone:
		return noopShutdown, nil
	case config.TraceExporterStdout:
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Tracing.Exporter)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create stdout exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", ServiceName),
		attribute.String("service.version", cfg.Version),
		attribute.String("deployment.environment", cfg.Env),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
