package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"mailthrottle/internal/models"
	"mailthrottle/internal/queue"
	"mailthrottle/internal/throttle"
	"mailthrottle/internal/version"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockStore implements throttle.CounterStore for handler tests.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) TryAcquire(ctx context.Context, key string, limit int, windowSeconds int) (throttle.Result, error) {
	args := m.Called(ctx, key, limit, windowSeconds)
	return args.Get(0).(throttle.Result), args.Error(1)
}

func (m *mockStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func intPtr(v int) *int { return &v }

func testThrottleConfig() models.ThrottleConfig {
	cfg := models.NewDefaultConfig().Throttle
	cfg.DefaultMailer = "resend"
	cfg.Mailers = map[string]models.MailerConfig{
		"resend": {RateLimit: intPtr(2), RateLimitPer: intPtr(1)},
		"slow":   {RateLimit: intPtr(1), RateLimitPer: intPtr(10)},
		"smtp":   {},
		"broken": {RateLimit: intPtr(5), RateLimitPer: intPtr(0)},
	}
	return cfg
}

func newTestRouter(t *testing.T, store throttle.CounterStore, q queue.Queue, cfg models.ThrottleConfig) http.Handler {
	t.Helper()
	keys := throttle.NewKeyBuilder("", "", "MyApp")
	ver := version.Info{Version: "v1.0.0", InstanceID: "instance-1"}
	return SetupRoutes(NewHandlers(cfg, store, q, keys, ver))
}

func serve(router http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHealthCheck_Healthy(t *testing.T) {
	store := new(mockStore)
	store.On("Ping", mock.Anything).Return(nil)

	q := queue.NewMemoryQueue("mail")
	job, err := queue.NewJob("resend", map[string]string{"to": "a@example.com"})
	require.NoError(t, err)
	require.NoError(t, q.Push(context.Background(), job))

	router := newTestRouter(t, store, q, testThrottleConfig())

	for _, path := range []string{"/health", "/api/v1/health"} {
		rr := serve(router, http.MethodGet, path)
		require.Equal(t, http.StatusOK, rr.Code, path)

		var resp models.HealthCheckResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, models.StatusHealthy, resp.Status)
		assert.Equal(t, "v1.0.0", resp.Version)
		assert.Equal(t, "instance-1", resp.InstanceID)
		assert.Equal(t, models.StatusHealthy, resp.Components["counter_store"].Status)
		assert.Equal(t, models.StatusHealthy, resp.Components["queue"].Status)
		assert.Equal(t, float64(1), resp.Metrics["queue_size"])
	}
	store.AssertExpectations(t)
}

func TestHealthCheck_StoreDown(t *testing.T) {
	tests := []struct {
		name           string
		failOpen       bool
		expectedCode   int
		expectedStatus string
	}{
		{name: "fail open degrades", failOpen: true, expectedCode: http.StatusOK, expectedStatus: models.StatusDegraded},
		{name: "fail closed is unhealthy", failOpen: false, expectedCode: http.StatusServiceUnavailable, expectedStatus: models.StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(mockStore)
			store.On("Ping", mock.Anything).Return(errors.New("connection refused"))

			cfg := testThrottleConfig()
			cfg.FailOpen = tt.failOpen
			router := newTestRouter(t, store, queue.NewMemoryQueue("mail"), cfg)

			rr := serve(router, http.MethodGet, "/health")
			assert.Equal(t, tt.expectedCode, rr.Code)

			var resp models.HealthCheckResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.expectedStatus, resp.Status)
			assert.Equal(t, "connection refused", resp.Components["counter_store"].Message)
		})
	}
}

func TestHealthCheck_QueueDown(t *testing.T) {
	store := new(mockStore)
	store.On("Ping", mock.Anything).Return(nil)

	q := queue.NewMemoryQueue("mail")
	require.NoError(t, q.Close())

	rr := serve(newTestRouter(t, store, q, testThrottleConfig()), http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var resp models.HealthCheckResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, models.StatusUnhealthy, resp.Components["queue"].Status)
}

func TestListMailers(t *testing.T) {
	router := newTestRouter(t, new(mockStore), queue.NewMemoryQueue("mail"), testThrottleConfig())

	rr := serve(router, http.MethodGet, "/api/v1/mailers")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp models.ListMailersResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	assert.Equal(t, "resend", resp.DefaultMailer)
	assert.True(t, resp.FailOpen)
	assert.Equal(t, 30, resp.MaxReleaseDelay)
	require.Len(t, resp.Mailers, 4)

	names := make([]string, 0, len(resp.Mailers))
	for _, m := range resp.Mailers {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"broken", "resend", "slow", "smtp"}, names)
}

func TestGetMailer(t *testing.T) {
	tests := []struct {
		name          string
		mailer        string
		enabled       bool
		misconfigured bool
		rate          int
		window        int
		ladder        []int
	}{
		{name: "fast mailer", mailer: "resend", enabled: true, rate: 2, window: 1, ladder: []int{1, 2, 4, 8, 8}},
		{name: "slow mailer hits release cap", mailer: "slow", enabled: true, rate: 1, window: 10, ladder: []int{10, 20, 30, 30, 30}},
		{name: "unthrottled mailer", mailer: "smtp"},
		{name: "misconfigured mailer", mailer: "broken", misconfigured: true},
	}

	router := newTestRouter(t, new(mockStore), queue.NewMemoryQueue("mail"), testThrottleConfig())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(router, http.MethodGet, "/api/v1/mailers/"+tt.mailer)
			require.Equal(t, http.StatusOK, rr.Code)

			var resp models.MailerStatusResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.mailer, resp.Name)
			assert.Equal(t, "MyApp:mail-throttle:"+tt.mailer, resp.Key)
			assert.Equal(t, tt.enabled, resp.Enabled)
			assert.Equal(t, tt.misconfigured, resp.Misconfigured)
			assert.Equal(t, tt.rate, resp.RateLimit)
			assert.Equal(t, tt.window, resp.RateLimitPer)
			assert.Equal(t, tt.ladder, resp.DelayLadder)
		})
	}
}

func TestGetMailer_NotFound(t *testing.T) {
	router := newTestRouter(t, new(mockStore), queue.NewMemoryQueue("mail"), testThrottleConfig())

	rr := serve(router, http.MethodGet, "/api/v1/mailers/mailgun")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, models.ErrorCodeMailerNotFound, resp.Code)
}

func TestRoutes_UnknownPathAndMethod(t *testing.T) {
	router := newTestRouter(t, new(mockStore), queue.NewMemoryQueue("mail"), testThrottleConfig())

	rr := serve(router, http.MethodGet, "/api/v1/releases")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/mailers"},
		{http.MethodPut, "/api/v1/mailers"},
		{http.MethodDelete, "/api/v1/mailers/resend"},
		{http.MethodPatch, "/api/v1/mailers/resend"},
		{http.MethodPost, "/api/v1/health"},
		{http.MethodPost, "/health"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rr := serve(router, tt.method, tt.path)
			assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

			var resp models.ErrorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, models.ErrorCodeMethodNotAllowed, resp.Code)
		})
	}
}
