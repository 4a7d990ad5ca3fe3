package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/roach88/semantica/internal/config"
)

func TestSetup_DisabledWithoutEndpoint(t *testing.T) {
	before := otel.GetTracerProvider()

	shutdown, err := Setup(context.Background(), config.TelemetryConfig{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.Equal(t, before, otel.GetTracerProvider())
}

func TestSetup_WithEndpoint(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	shutdown, err := Setup(context.Background(), config.TelemetryConfig{
		Endpoint:    "http://127.0.0.1:4318",
		ServiceName: "semantica-test",
	})
	require.NoError(t, err)
	assert.NotEqual(t, prev, otel.GetTracerProvider())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = shutdown(ctx)
}
