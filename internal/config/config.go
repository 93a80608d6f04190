package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mailthrottle/internal/models"
)

const envPrefix = "MAILTHROTTLE_"

// Load builds the configuration from defaults, the optional YAML file at
// configPath and MAILTHROTTLE_* environment variables, in that order, and
// validates the result.
func Load(configPath string) (*models.Config, error) {
	config := models.NewDefaultConfig()

	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := loadFromEnvironment(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	warnMisconfiguredMailers(&config.Throttle)

	return config, nil
}

// warnMisconfiguredMailers logs each mailer whose limits are set but not
// usable. Such mailers are sent unthrottled.
func warnMisconfiguredMailers(tc *models.ThrottleConfig) {
	for _, name := range tc.MailerNames() {
		if tc.Mailers[name].Misconfigured() {
			slog.Warn("Mailer rate limit is misconfigured; sends through it will not be throttled",
				"mailer", name,
				"config_key", "throttle.mailers."+name,
			)
		}
	}
}

func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if config.Throttle.Mailers == nil {
		config.Throttle.Mailers = make(map[string]models.MailerConfig)
	}
	return nil
}

func lookup(name string) (string, bool) {
	v := os.Getenv(envPrefix + name)
	return v, v != ""
}

func setString(name string, dst *string) {
	if v, ok := lookup(name); ok {
		*dst = v
	}
}

func setInt(name string, dst *int) {
	if v, ok := lookup(name); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(name string, dst *float64) {
	if v, ok := lookup(name); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(name string, dst *bool) {
	if v, ok := lookup(name); ok {
		*dst = strings.ToLower(v) == "true"
	}
}

func setDuration(name string, dst *time.Duration) {
	if v, ok := lookup(name); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// loadFromEnvironment overrides configuration from MAILTHROTTLE_* variables.
// Unparseable numbers and durations are ignored like unset variables.
func loadFromEnvironment(config *models.Config) error {
	setString("APP_NAME", &config.App.Name)

	// Server configuration
	setInt("PORT", &config.Server.Port)
	setString("HOST", &config.Server.Host)
	setDuration("READ_TIMEOUT", &config.Server.ReadTimeout)
	setDuration("WRITE_TIMEOUT", &config.Server.WriteTimeout)
	setDuration("IDLE_TIMEOUT", &config.Server.IdleTimeout)
	setInt("REQUESTS_PER_MINUTE", &config.Server.RequestsPerMinute)

	// Throttle configuration
	setString("STORE", &config.Throttle.Store)
	setString("KEY_PREFIX", &config.Throttle.KeyPrefix)
	setString("DEFAULT_MAILER", &config.Throttle.DefaultMailer)
	setInt("MAX_RELEASE_DELAY", &config.Throttle.MaxReleaseDelay)
	setInt("MAX_BACKOFF_MULTIPLIER", &config.Throttle.MaxBackoffMultiplier)
	setFloat("JITTER_PERCENT", &config.Throttle.JitterPercent)
	setBool("FAIL_OPEN", &config.Throttle.FailOpen)
	if v, ok := lookup("MAILERS"); ok {
		mailers, err := ParseMailers(v)
		if err != nil {
			return fmt.Errorf("%sMAILERS: %w", envPrefix, err)
		}
		for name, mc := range mailers {
			config.Throttle.Mailers[name] = mc
		}
	}

	// Redis configuration
	setString("REDIS_ADDR", &config.Redis.Addr)
	setString("REDIS_USERNAME", &config.Redis.Username)
	setString("REDIS_PASSWORD", &config.Redis.Password)
	setInt("REDIS_DB", &config.Redis.DB)
	setInt("REDIS_POOL_SIZE", &config.Redis.PoolSize)
	setString("REDIS_PREFIX", &config.Redis.Prefix)
	setDuration("REDIS_DIAL_TIMEOUT", &config.Redis.DialTimeout)
	setDuration("REDIS_COMMAND_TIMEOUT", &config.Redis.CommandTimeout)

	// Queue configuration
	setString("QUEUE_TYPE", &config.Queue.Type)
	setString("QUEUE_DSN", &config.Queue.DSN)
	setString("QUEUE_NAME", &config.Queue.Name)
	setInt("QUEUE_WORKERS", &config.Queue.Workers)
	setDuration("QUEUE_POLL_INTERVAL", &config.Queue.PollInterval)
	setInt("QUEUE_MAX_TRIES", &config.Queue.MaxTries)
	setDuration("QUEUE_RETRY_DELAY", &config.Queue.RetryDelay)
	setDuration("QUEUE_RESERVATION_TIMEOUT", &config.Queue.ReservationTimeout)

	// Logging configuration
	setString("LOG_LEVEL", &config.Logging.Level)
	setString("LOG_FORMAT", &config.Logging.Format)
	setString("LOG_OUTPUT", &config.Logging.Output)
	setString("LOG_FILE_PATH", &config.Logging.FilePath)

	// Metrics configuration
	setBool("METRICS_ENABLED", &config.Metrics.Enabled)
	setString("METRICS_PATH", &config.Metrics.Path)
	setInt("METRICS_PORT", &config.Metrics.Port)

	// Observability configuration
	setString("SERVICE_NAME", &config.Observability.ServiceName)
	setBool("TRACING_ENABLED", &config.Observability.Tracing.Enabled)
	setString("TRACING_EXPORTER", &config.Observability.Tracing.Exporter)
	setString("OTLP_ENDPOINT", &config.Observability.Tracing.OTLPEndpoint)
	setFloat("TRACING_SAMPLE_RATE", &config.Observability.Tracing.SampleRate)

	return nil
}

// ParseMailers parses a comma separated list of mailer limits such as
// "resend=2/1,ses=14". The window after the slash is optional.
func ParseMailers(s string) (map[string]models.MailerConfig, error) {
	mailers := make(map[string]models.MailerConfig)
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		name, limit, ok := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid mailer entry %q, expected name=rate[/seconds]", entry)
		}

		rateText, perText, hasPer := strings.Cut(limit, "/")
		rate, err := strconv.Atoi(strings.TrimSpace(rateText))
		if err != nil {
			return nil, fmt.Errorf("invalid rate for mailer %s: %w", name, err)
		}
		mc := models.MailerConfig{RateLimit: &rate}

		if hasPer {
			per, err := strconv.Atoi(strings.TrimSpace(perText))
			if err != nil {
				return nil, fmt.Errorf("invalid window for mailer %s: %w", name, err)
			}
			mc.RateLimitPer = &per
		}
		mailers[name] = mc
	}
	return mailers, nil
}

// SaveExample writes an example configuration file with two throttled mailers.
func SaveExample(filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	config := models.NewDefaultConfig()
	config.App.Name = "my-app"
	config.Throttle.DefaultMailer = "resend"

	two, one, fourteen := 2, 1, 14
	config.Throttle.Mailers = map[string]models.MailerConfig{
		"resend": {RateLimit: &two, RateLimitPer: &one},
		"ses":    {RateLimit: &fourteen},
		"smtp":   {},
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
