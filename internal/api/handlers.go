package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"mailthrottle/internal/models"
	"mailthrottle/internal/queue"
	"mailthrottle/internal/throttle"
	"mailthrottle/internal/version"

	"github.com/gorilla/mux"
)

// ladderAttempts is how many attempts the mailer view's delay ladder covers.
const ladderAttempts = 5

const healthTimeout = 2 * time.Second

// Handlers serves the worker's status API.
type Handlers struct {
	throttle models.ThrottleConfig
	store    throttle.CounterStore
	queue    queue.Queue
	keys     *throttle.KeyBuilder
	backoff  throttle.Backoff
	version  version.Info
	started  time.Time
}

// NewHandlers creates the status handlers. The store and queue are only
// pinged; the handlers never acquire throttle slots.
func NewHandlers(cfg models.ThrottleConfig, store throttle.CounterStore, q queue.Queue, keys *throttle.KeyBuilder, ver version.Info) *Handlers {
	return &Handlers{
		throttle: cfg,
		store:    store,
		queue:    q,
		keys:     keys,
		backoff: throttle.Backoff{
			MaxMultiplier: cfg.MaxBackoffMultiplier,
			MaxDelay:      cfg.MaxReleaseDelay,
			JitterPercent: cfg.JitterPercent,
		},
		version: ver,
		started: time.Now(),
	}
}

// HealthCheck reports the counter store and queue health.
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = h.version.Version
	response.InstanceID = h.version.InstanceID
	response.Uptime = time.Since(h.started).Truncate(time.Second).String()

	if err := h.store.Ping(ctx); err != nil {
		// A down store is not fatal while the gate fails open.
		status := models.StatusUnhealthy
		if h.throttle.FailOpen {
			status = models.StatusDegraded
			response.Status = models.StatusDegraded
		}
		response.AddComponent("counter_store", status, err.Error())
	} else {
		response.AddComponent("counter_store", models.StatusHealthy, "Counter store is reachable")
	}

	if err := h.queue.Ping(ctx); err != nil {
		response.AddComponent("queue", models.StatusUnhealthy, err.Error())
	} else {
		response.AddComponent("queue", models.StatusHealthy, "Queue is operational")
		if size, err := h.queue.Size(ctx); err == nil {
			response.AddMetric("queue_size", size)
		}
	}
	response.AddMetric("fail_open", h.throttle.FailOpen)

	statusCode := http.StatusOK
	if response.Status == models.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	h.writeJSONResponse(w, statusCode, response)
}

// ListMailers lists every configured mailer and how it is throttled.
// GET /api/v1/mailers
func (h *Handlers) ListMailers(w http.ResponseWriter, r *http.Request) {
	names := h.throttle.MailerNames()
	response := models.ListMailersResponse{
		Mailers:              make([]models.MailerStatusResponse, 0, len(names)),
		DefaultMailer:        h.throttle.DefaultMailer,
		FailOpen:             h.throttle.FailOpen,
		MaxReleaseDelay:      h.throttle.MaxReleaseDelay,
		MaxBackoffMultiplier: h.throttle.MaxBackoffMultiplier,
		JitterPercent:        h.throttle.JitterPercent,
	}
	for _, name := range names {
		response.Mailers = append(response.Mailers, h.mailerStatus(name, h.throttle.Mailers[name]))
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// GetMailer shows one mailer's throttle.
// GET /api/v1/mailers/{name}
func (h *Handlers) GetMailer(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	mc, ok := h.throttle.Mailers[name]
	if !ok {
		h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeMailerNotFound, "Mailer "+name+" is not configured")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, h.mailerStatus(name, mc))
}

func (h *Handlers) mailerStatus(name string, mc models.MailerConfig) models.MailerStatusResponse {
	status := models.MailerStatusResponse{
		Name:          name,
		Key:           string(h.keys.Key(name)),
		Misconfigured: mc.Misconfigured(),
	}

	rate, window, ok := mc.Limit()
	if !ok {
		return status
	}
	status.Enabled = true
	status.RateLimit = rate
	status.RateLimitPer = window
	status.DelayLadder = make([]int, 0, ladderAttempts)
	for attempt := 1; attempt <= ladderAttempts; attempt++ {
		status.DelayLadder = append(status.DelayLadder, h.backoff.BaseDelay(attempt, rate, window))
	}
	return status
}

func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written.
		slog.Error("Error encoding JSON response", "error", err)
	}
}

func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.writeJSONResponse(w, statusCode, models.NewErrorResponse(message, errorCode))
}
