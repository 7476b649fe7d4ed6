package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ekaya-inc/ekaya-srs/pkg/config"
)

func TestInitTracing_NoneKeepsGlobalProvider(t *testing.T) {
	otel.SetTracerProvider(noop.NewTracerProvider())

	shutdown, err := InitTracing(&config.Config{Tracing: config.TracingConfig{Exporter: config.TraceExporterNone}}, &bytes.Buffer{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, isNoop := otel.GetTracerProvider().(noop.TracerProvider)
	assert.True(t, isNoop)
}

func TestInitTracing_StdoutWritesSpansOnShutdown(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := InitTracing(&config.Config{
		Env:     "test",
		Version: "v0.0.1",
		Tracing: config.TracingConfig{Exporter: config.TraceExporterStdout},
	}, &buf)
	require.NoError(t, err)

	_, span := otel.Tracer("telemetry-test").Start(context.Background(), "revision.apply_turn")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "revision.apply_turn")
	assert.Contains(t, buf.String(), ServiceName)
}

func TestInitTracing_UnknownExporter(t *testing.T) {
	_, err := InitTracing(&config.Config{Tracing: config.TracingConfig{Exporter: "zipkin"}}, &bytes.Buffer{})
	assert.Error(t, err)
}
