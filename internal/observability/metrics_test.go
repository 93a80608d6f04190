package observability

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailthrottle/internal/models"
	"mailthrottle/internal/version"
)

func TestNewMetricsServer(t *testing.T) {
	metrics := models.MetricsConfig{Enabled: true, Path: "/metrics", Port: 9090}

	provider, err := Setup(metrics, models.ObservabilityConfig{ServiceName: "test"}, version.Info{})
	require.NoError(t, err)
	defer provider.Shutdown(context.Background())

	ms := NewMetricsServer(metrics, provider)
	require.NotNil(t, ms)
	assert.Equal(t, ":9090", ms.server.Addr)
}

func TestMetricsServer_StartAndShutdown(t *testing.T) {
	metrics := models.MetricsConfig{Enabled: true, Path: "/metrics", Port: 0}

	provider, err := Setup(metrics, models.ObservabilityConfig{ServiceName: "test"}, version.Info{})
	require.NoError(t, err)
	defer provider.Shutdown(context.Background())

	ms := NewMetricsServer(metrics, provider)

	errCh := make(chan error, 1)
	go func() {
		errCh <- ms.Start()
	}()

	// Give the server time to start
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, ms.Shutdown(ctx))

	assert.Equal(t, http.ErrServerClosed, <-errCh)
}

func TestNewMetricsServer_NilProvider(t *testing.T) {
	ms := NewMetricsServer(models.MetricsConfig{Path: "/metrics", Port: 9090}, nil)
	assert.NotNil(t, ms)
}
