// Package models - Service configuration and operational settings.
// This file defines the configuration structures for every component of the
// mail throttle worker: the counter store, the throttle policy, the queue the
// workers drain, and the ambient logging/metrics/tracing stack.
//
// Configuration Philosophy:
// - Hierarchical configuration with logical grouping (throttle, redis, queue, etc.)
// - Defaults that work out of the box for a single local worker
// - Throttling is opt-in per mailer; a mailer without rate_limit is never throttled
// - Misconfigured mailers degrade to pass-through instead of failing startup
package models

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Queue type constants
const (
	QueueTypeMemory   = "memory"
	QueueTypePostgres = "postgres"
	QueueTypeSQLite   = "sqlite"
)

// Counter store type constants
const (
	StoreTypeRedis  = "redis"
	StoreTypeMemory = "memory"
)

// Config is the root configuration structure containing all service settings.
//
// Configuration Structure:
// - App: application identity, used to namespace throttle keys
// - Server: status API listener
// - Throttle: per-mailer rate limits and the backoff policy
// - Redis: the shared counter store connection
// - Queue: the job queue the workers drain
// - Logging, Metrics, Observability: ambient operational settings
type Config struct {
	App           AppConfig           `yaml:"app" json:"app"`
	Server        ServerConfig        `yaml:"server" json:"server"`
	Throttle      ThrottleConfig      `yaml:"throttle" json:"throttle"`
	Redis         RedisConfig         `yaml:"redis" json:"redis"`
	Queue         QueueConfig         `yaml:"queue" json:"queue"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type AppConfig struct {
	Name string `yaml:"name" json:"name"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// RequestsPerMinute limits status API calls per client IP. Zero disables it.
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// ThrottleConfig holds the package-level throttle policy and the per-mailer
// rate limits.
type ThrottleConfig struct {
	Store                string                  `yaml:"store" json:"store"`
	KeyPrefix            string                  `yaml:"key_prefix" json:"key_prefix"`
	DefaultMailer        string                  `yaml:"default_mailer" json:"default_mailer"`
	MaxReleaseDelay      int                     `yaml:"max_release_delay" json:"max_release_delay"`
	MaxBackoffMultiplier int                     `yaml:"max_backoff_multiplier" json:"max_backoff_multiplier"`
	JitterPercent        float64                 `yaml:"jitter_percent" json:"jitter_percent"`
	FailOpen             bool                    `yaml:"fail_open" json:"fail_open"`
	Mailers              map[string]MailerConfig `yaml:"mailers" json:"mailers"`
}

// MailerConfig is the throttle configuration of one mail transport.
// RateLimit nil means throttling is disabled for the mailer; RateLimitPer nil
// means a one second window.
type MailerConfig struct {
	RateLimit    *int `yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`
	RateLimitPer *int `yaml:"rate_limit_per,omitempty" json:"rate_limit_per,omitempty"`
}

type RedisConfig struct {
	Addr           string        `yaml:"addr" json:"addr"`
	Username       string        `yaml:"username" json:"username"`
	Password       string        `yaml:"password" json:"password"`
	DB             int           `yaml:"db" json:"db"`
	PoolSize       int           `yaml:"pool_size" json:"pool_size"`
	Prefix         string        `yaml:"prefix" json:"prefix"`
	DialTimeout    time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout" json:"command_timeout"`
}

type QueueConfig struct {
	Type         string        `yaml:"type" json:"type"`
	DSN          string        `yaml:"dsn" json:"dsn"`
	Name         string        `yaml:"name" json:"name"`
	Workers      int           `yaml:"workers" json:"workers"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	MaxTries     int           `yaml:"max_tries" json:"max_tries"`
	RetryDelay   time.Duration `yaml:"retry_delay" json:"retry_delay"`

	// ReservationTimeout is how long a reserved job may run before another
	// worker may claim it. Zero disables reclaiming.
	ReservationTimeout time.Duration `yaml:"reservation_timeout" json:"reservation_timeout"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration with working defaults.
//
// Default Values Rationale:
// - Redis counter store: the only store that enforces a fleet-wide limit
// - 30s release cap, 8x multiplier, 50% jitter: bounded worst case retry latency
// - Fail open: a counter store outage degrades to unthrottled sending
// - Memory queue with 4 workers: runs without external dependencies
// - No mailers: nothing is throttled until a rate_limit is configured
func NewDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name: "mailthrottle",
		},
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,

			RequestsPerMinute: 120,
		},
		Throttle: ThrottleConfig{
			Store:                StoreTypeRedis,
			DefaultMailer:        "smtp",
			MaxReleaseDelay:      30,
			MaxBackoffMultiplier: 8,
			JitterPercent:        0.5,
			FailOpen:             true,
			Mailers:              make(map[string]MailerConfig),
		},
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			PoolSize:       10,
			DialTimeout:    5 * time.Second,
			CommandTimeout: 250 * time.Millisecond,
		},
		Queue: QueueConfig{
			Type:               QueueTypeMemory,
			Name:               "mail",
			Workers:            4,
			PollInterval:       time.Second,
			MaxTries:           5,
			RetryDelay:         10 * time.Second,
			ReservationTimeout: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "mailthrottle",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

// Limit returns the effective rate and window of the mailer. ok is false when
// throttling is disabled or misconfigured; both cases are pass-through.
func (mc MailerConfig) Limit() (rate int, windowSeconds int, ok bool) {
	if mc.RateLimit == nil {
		return 0, 0, false
	}
	windowSeconds = 1
	if mc.RateLimitPer != nil {
		windowSeconds = *mc.RateLimitPer
	}
	rate = *mc.RateLimit
	if rate <= 0 || windowSeconds <= 0 {
		return 0, 0, false
	}
	return rate, windowSeconds, true
}

// Misconfigured reports whether a rate limit was set but cannot be enforced.
func (mc MailerConfig) Misconfigured() bool {
	if mc.RateLimit == nil {
		return mc.RateLimitPer != nil && *mc.RateLimitPer <= 0
	}
	_, _, ok := mc.Limit()
	return !ok
}

// MailerNames returns the configured mailer names in sorted order.
func (tc *ThrottleConfig) MailerNames() []string {
	names := make([]string, 0, len(tc.Mailers))
	for name := range tc.Mailers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Throttle.Validate(); err != nil {
		return fmt.Errorf("invalid throttle config: %w", err)
	}

	if c.Throttle.Store == StoreTypeRedis {
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("invalid redis config: %w", err)
		}
	}

	if err := c.Queue.Validate(); err != nil {
		return fmt.Errorf("invalid queue config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}

	if sc.RequestsPerMinute < 0 {
		return errors.New("requests_per_minute cannot be negative")
	}

	return nil
}

// Validate checks the package-level policy. Per-mailer values are not
// validated here: a misconfigured mailer is pass-through, not an error.
func (tc *ThrottleConfig) Validate() error {
	if tc.Store != StoreTypeRedis && tc.Store != StoreTypeMemory {
		return fmt.Errorf("invalid counter store: %s", tc.Store)
	}

	if tc.MaxReleaseDelay < 1 {
		return errors.New("max release delay must be at least 1 second")
	}

	if tc.MaxBackoffMultiplier < 1 {
		return errors.New("max backoff multiplier must be at least 1")
	}

	if tc.JitterPercent < 0 || tc.JitterPercent > 1 {
		return errors.New("jitter percent must be between 0 and 1")
	}

	for name := range tc.Mailers {
		if name == "" {
			return errors.New("mailer name cannot be empty")
		}
	}

	return nil
}

func (rc *RedisConfig) Validate() error {
	if rc.Addr == "" {
		return errors.New("Redis address is required when the counter store is redis")
	}

	if rc.DB < 0 {
		return errors.New("redis db cannot be negative")
	}

	if rc.PoolSize < 0 {
		return errors.New("redis pool size cannot be negative")
	}

	if rc.CommandTimeout < 0 || rc.DialTimeout < 0 {
		return errors.New("redis timeouts cannot be negative")
	}

	return nil
}

func (qc *QueueConfig) Validate() error {
	validTypes := []string{QueueTypeMemory, QueueTypePostgres, QueueTypeSQLite}
	found := false
	for _, vt := range validTypes {
		if qc.Type == vt {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid queue type: %s", qc.Type)
	}

	if qc.Type != QueueTypeMemory && qc.DSN == "" {
		return fmt.Errorf("dsn is required for %s queue", qc.Type)
	}

	if qc.Name == "" {
		return errors.New("queue name cannot be empty")
	}

	if qc.Workers < 1 {
		return errors.New("workers must be at least 1")
	}

	if qc.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}

	if qc.MaxTries < 1 {
		return errors.New("max tries must be at least 1")
	}

	if qc.RetryDelay < 0 {
		return errors.New("retry delay cannot be negative")
	}

	if qc.ReservationTimeout < 0 {
		return errors.New("reservation timeout cannot be negative")
	}

	return nil
}

func (lc *LoggingConfig) Validate() error {
	validLevels := []string{"debug", "info", "warn", "error"}
	found := false
	for _, vl := range validLevels {
		if lc.Level == vl {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	validFormats := []string{"json", "text"}
	found = false
	for _, vf := range validFormats {
		if lc.Format == vf {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	validOutputs := []string{"stdout", "stderr", "file"}
	found = false
	for _, vo := range validOutputs {
		if lc.Output == vo {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if oc.ServiceName == "" {
		return errors.New("service name cannot be empty")
	}

	if !oc.Tracing.Enabled {
		return nil
	}

	switch oc.Tracing.Exporter {
	case "stdout":
	case "otlp":
		if oc.Tracing.OTLPEndpoint == "" {
			return errors.New("otlp endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("invalid trace exporter: %s", oc.Tracing.Exporter)
	}

	if oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1 {
		return errors.New("sample rate must be between 0 and 1")
	}

	return nil
}
