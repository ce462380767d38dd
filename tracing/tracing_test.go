package tracing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_Disabled(t *testing.T) {
	before := otel.GetTracerProvider()

	shutdown, err := Init(context.Background(), Config{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	assert.Equal(t, before, otel.GetTracerProvider())
}

func TestInit_Enabled(t *testing.T) {
	before := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(before) })

	shutdown, err := Init(context.Background(), Config{Enabled: true, Endpoint: "127.0.0.1:4317", Insecure: true, SampleRate: 1})
	require.NoError(t, err)
	assert.IsType(t, &sdktrace.TracerProvider{}, otel.GetTracerProvider())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = shutdown(ctx)
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name     string
		rate     float64
		wantSpan bool
	}{
		{"always", 1, true},
		{"never", 0, false},
		{"negative", -1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tracetest.NewSpanRecorder()
			tp := NewProvider(Config{SampleRate: tt.rate}, sdktrace.WithSpanProcessor(rec))
			t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

			_, span := tp.Tracer("test").Start(context.Background(), "llm.summary")
			span.End()

			if !tt.wantSpan {
				assert.Empty(t, rec.Ended())
				return
			}
			require.Len(t, rec.Ended(), 1)
			got := rec.Ended()[0]
			assert.Equal(t, "llm.summary", got.Name())
			v, ok := got.Resource().Set().Value("service.name")
			require.True(t, ok)
			assert.Equal(t, DefaultServiceName, v.AsString())
		})
	}
}

func TestSampler(t *testing.T) {
	assert.Contains(t, Sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
	assert.Equal(t, "AlwaysOffSampler", Sampler(0).Description())
}
