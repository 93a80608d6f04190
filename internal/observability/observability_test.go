package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"mailthrottle/internal/models"
	"mailthrottle/internal/version"
)

// newTestReader installs a meter provider backed by a manual reader as the
// global provider so instruments created afterwards can be collected.
func newTestReader(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(mp)
	t.Cleanup(func() { mp.Shutdown(context.Background()) })
	return reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader, name string) *metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func matches(set attribute.Set, attrs []attribute.KeyValue) bool {
	for _, kv := range attrs {
		v, ok := set.Value(kv.Key)
		if !ok || v.Emit() != kv.Value.Emit() {
			return false
		}
	}
	return true
}

// counterValue sums the data points of an int64 counter matching attrs.
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	m := collect(t, reader, name)
	if m == nil {
		return 0
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "%s is not an int64 sum", name)

	var total int64
	for _, dp := range sum.DataPoints {
		if matches(dp.Attributes, attrs) {
			total += dp.Value
		}
	}
	return total
}

func TestSetup_MetricsOnly(t *testing.T) {
	metrics := models.MetricsConfig{Enabled: true, Path: "/metrics", Port: 9090}
	obs := models.ObservabilityConfig{ServiceName: "test-service"}

	provider, err := Setup(metrics, obs, version.Info{})
	require.NoError(t, err)
	require.NotNil(t, provider)
	assert.NotNil(t, provider.PrometheusExporter())
	assert.Nil(t, provider.tracerProvider)

	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestSetup_TracingStdout(t *testing.T) {
	metrics := models.MetricsConfig{Enabled: false}
	obs := models.ObservabilityConfig{
		ServiceName: "test-service",
		Tracing:     models.TracingConfig{Enabled: true, Exporter: "stdout", SampleRate: 1.0},
	}

	provider, err := Setup(metrics, obs, version.Info{})
	require.NoError(t, err)
	assert.NotNil(t, provider.tracerProvider)
	assert.Nil(t, provider.PrometheusExporter())

	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestSetup_BothDisabled(t *testing.T) {
	provider, err := Setup(models.MetricsConfig{}, models.ObservabilityConfig{}, version.Info{})
	require.NoError(t, err)
	assert.Nil(t, provider.tracerProvider)
	assert.Nil(t, provider.meterProvider)

	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestSetup_InvalidExporter(t *testing.T) {
	obs := models.ObservabilityConfig{
		ServiceName: "test-service",
		Tracing:     models.TracingConfig{Enabled: true, Exporter: "zipkin", SampleRate: 1.0},
	}

	provider, err := Setup(models.MetricsConfig{}, obs, version.Info{})
	assert.Error(t, err)
	assert.Nil(t, provider)
	assert.Contains(t, err.Error(), "unsupported trace exporter")
}

func TestSampler(t *testing.T) {
	tests := []struct {
		name       string
		sampleRate float64
		contains   string
	}{
		{"always sample", 1.0, "AlwaysOnSampler"},
		{"never sample", 0.0, "AlwaysOffSampler"},
		{"ratio based", 0.5, "TraceIDRatioBased"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, sampler(tt.sampleRate).Description(), tt.contains)
		})
	}
}

func TestGetEnvironment(t *testing.T) {
	t.Setenv("MAILTHROTTLE_ENVIRONMENT", "")
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("DEPLOYMENT_ENV", "")
	assert.Equal(t, "development", getEnvironment())

	t.Setenv("DEPLOYMENT_ENV", "staging")
	assert.Equal(t, "staging", getEnvironment())

	t.Setenv("MAILTHROTTLE_ENVIRONMENT", "production")
	assert.Equal(t, "production", getEnvironment())
}

func TestProvider_ShutdownNilProviders(t *testing.T) {
	p := &Provider{}
	assert.NoError(t, p.Shutdown(context.Background()))
}
