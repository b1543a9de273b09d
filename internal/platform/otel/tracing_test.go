package otel

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

func TestInitTracerExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracer(context.Background(), TracerConfig{
		ServiceName:    "prism-test",
		ServiceVersion: "v0.0.1",
		Writer:         &buf,
	}, zap.NewNop())
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "gateway.Route")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "gateway.Route")
	assert.Contains(t, buf.String(), "prism-test")
}

func TestSampler(t *testing.T) {
	assert.Contains(t, TracerConfig{}.sampler().Description(), "AlwaysOnSampler")
	assert.Contains(t, TracerConfig{SampleRatio: 0.25}.sampler().Description(), "TraceIDRatioBased{0.25}")
}
