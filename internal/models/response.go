// Package models - status API response types.
// This file defines the JSON documents served by the worker's status API.
//
// Response Design Principles:
// - Consistent JSON structure across all endpoints
// - Optional fields use omitempty to reduce response size
// - RFC3339 timestamps
package models

import (
	"time"
)

// MailerStatusResponse describes how one mailer is throttled by this worker.
//
// DelayLadder lists the pre-jitter release delay, in seconds, for attempts
// 1..N so operators can see the worst case retry latency of a deferred job.
type MailerStatusResponse struct {
	Name          string `json:"name"`
	Key           string `json:"key"`
	Enabled       bool   `json:"enabled"`
	Misconfigured bool   `json:"misconfigured,omitempty"`
	RateLimit     int    `json:"rate_limit,omitempty"`
	RateLimitPer  int    `json:"rate_limit_per,omitempty"`
	DelayLadder   []int  `json:"delay_ladder,omitempty"`
}

type ListMailersResponse struct {
	Mailers              []MailerStatusResponse `json:"mailers"`
	DefaultMailer        string                 `json:"default_mailer,omitempty"`
	FailOpen             bool                   `json:"fail_open"`
	MaxReleaseDelay      int                    `json:"max_release_delay"`
	MaxBackoffMultiplier int                    `json:"max_backoff_multiplier"`
	JitterPercent        float64                `json:"jitter_percent"`
}

// ErrorResponse provides structured error information.
type ErrorResponse struct {
	Error     string            `json:"error"`             // Error type (always "error")
	Message   string            `json:"message"`           // Human-readable error description
	Code      string            `json:"code,omitempty"`    // Machine-readable error code
	Details   map[string]string `json:"details,omitempty"` // Field-specific error details
	Timestamp time.Time         `json:"timestamp"`         // Error occurrence time
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	InstanceID string                     `json:"instance_id,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
	Metrics    map[string]interface{}     `json:"metrics,omitempty"`
}

type ComponentHealth struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Health Status Constants
const (
	StatusHealthy   = "healthy"   // All systems operational
	StatusUnhealthy = "unhealthy" // Major system issues
	StatusDegraded  = "degraded"  // Partial functionality
)

// Standard HTTP Error Codes
const (
	ErrorCodeNotFound           = "NOT_FOUND"           // 404: Resource doesn't exist
	ErrorCodeMailerNotFound     = "MAILER_NOT_FOUND"    // 404: Mailer isn't configured
	ErrorCodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"  // 405: Wrong HTTP method
	ErrorCodeRateLimited        = "RATE_LIMIT_EXCEEDED" // 429: Status API limit hit
	ErrorCodeInternalError      = "INTERNAL_ERROR"      // 500: Server-side error
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503: Dependency down
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
		Metrics:    make(map[string]interface{}),
	}
}

// AddComponent records a component's health. An unhealthy component marks the
// whole response unhealthy.
func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
	if status == StatusUnhealthy {
		h.Status = StatusUnhealthy
	}
}

func (h *HealthCheckResponse) AddMetric(name string, value interface{}) {
	h.Metrics[name] = value
}
