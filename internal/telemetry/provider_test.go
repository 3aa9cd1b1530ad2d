package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
)

func TestNewResource(t *testing.T) {
	cfg := NewDefaultConfig()

	res, err := newResource(cfg)
	require.NoError(t, err)
	require.NotNil(t, res)

	// Resource should carry the service identity
	attrs := res.Attributes()
	var foundServiceName bool
	for _, attr := range attrs {
		if string(attr.Key) == "service.name" {
			assert.Equal(t, cfg.ServiceName, attr.Value.AsString())
			foundServiceName = true
		}
	}
	assert.True(t, foundServiceName, "service.name attribute not found")
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		name string
		rate float64
		want trace.Sampler
	}{
		{"full rate records everything", 1.0, trace.AlwaysSample()},
		{"above one clamps to always", 2.0, trace.AlwaysSample()},
		{"zero records nothing", 0, trace.NeverSample()},
		{"negative clamps to never", -1, trace.NeverSample()},
		{"fraction becomes ratio", 0.25, trace.TraceIDRatioBased(0.25)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newSampler(SamplingConfig{Rate: tt.rate})
			assert.Equal(t, tt.want.Description(), got.Description())
		})
	}
}

func TestHostport(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
	}{
		{"localhost:4317", "localhost:4317"},
		{"http://localhost:4318", "localhost:4318"},
		{"https://otel.example.com:4318", "otel.example.com:4318"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, hostport(tt.endpoint))
	}
}
