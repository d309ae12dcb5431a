package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultPollInterval      = 10 * time.Second
	defaultScheduleInterval  = 5 * time.Minute
	defaultScheduleMode      = "balanced"
	defaultMaxRetries        = 5
	defaultWorkers           = 1
	defaultJobTimeout        = 10 * time.Minute
	defaultThrottle          = 100 * time.Millisecond
	defaultBackoffBase       = 5 * time.Second
	defaultBackoffMax        = time.Hour
	defaultPartialFailure    = 0.25
	defaultRetentionDays     = 7
	defaultShutdownTimeout   = 30 * time.Second
	defaultHTTPAddr          = ":8080"
	defaultGmailMaxMessages  = 500
	defaultCleanupInterval   = 24 * time.Hour
	defaultStaleAfterFactor  = 2
	maxPartialFailureAllowed = 1.0
)

type Config struct {
	DatabaseURL      string
	PollInterval     time.Duration
	ScheduleInterval time.Duration
	ScheduleMode     string
	CleanupInterval  time.Duration
	ShutdownTimeout  time.Duration

	MaxRetries              int
	Workers                 int
	JobTimeout              time.Duration
	StaleAfter              time.Duration
	Throttle                time.Duration
	BackoffBase             time.Duration
	BackoffMax              time.Duration
	PartialFailureThreshold float64
	RetentionDays           int

	HTTPAddr      string
	WebhookSecret string

	GmailClientID     string
	GmailClientSecret string
	GmailMaxMessages  int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		DatabaseURL:      dbURL,
		PollInterval:     getenvDurationDefault("POLL_INTERVAL", defaultPollInterval),
		ScheduleInterval: getenvDurationDefault("SCHEDULE_INTERVAL", defaultScheduleInterval),
		ScheduleMode:     strings.ToLower(strings.TrimSpace(getenvDefault("SCHEDULE_MODE", defaultScheduleMode))),
		CleanupInterval:  getenvDurationDefault("CLEANUP_INTERVAL", defaultCleanupInterval),
		ShutdownTimeout:  getenvDurationDefault("SHUTDOWN_TIMEOUT", defaultShutdownTimeout),

		MaxRetries:              getenvIntDefault("SYNC_MAX_RETRIES", defaultMaxRetries),
		Workers:                 getenvIntDefault("SYNC_WORKERS", defaultWorkers),
		JobTimeout:              getenvDurationDefault("SYNC_JOB_TIMEOUT", defaultJobTimeout),
		Throttle:                getenvDurationDefault("SYNC_THROTTLE", defaultThrottle),
		BackoffBase:             getenvDurationDefault("SYNC_BACKOFF_BASE", defaultBackoffBase),
		BackoffMax:              getenvDurationDefault("SYNC_BACKOFF_MAX", defaultBackoffMax),
		PartialFailureThreshold: getenvFloatDefault("SYNC_PARTIAL_FAILURE_THRESHOLD", defaultPartialFailure),
		RetentionDays:           getenvIntDefault("SYNC_RETENTION_DAYS", defaultRetentionDays),

		HTTPAddr:      strings.TrimSpace(getenvDefault("HTTP_ADDR", defaultHTTPAddr)),
		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),

		GmailClientID:     os.Getenv("GMAIL_CLIENT_ID"),
		GmailClientSecret: os.Getenv("GMAIL_CLIENT_SECRET"),
		GmailMaxMessages:  getenvIntDefault("GMAIL_MAX_MESSAGES", defaultGmailMaxMessages),
	}
	cfg.StaleAfter = getenvDurationDefault("SYNC_STALE_AFTER", defaultStaleAfterFactor*cfg.JobTimeout)

	switch cfg.ScheduleMode {
	case "aggressive", "balanced", "conservative":
	default:
		return nil, fmt.Errorf("SCHEDULE_MODE must be one of: aggressive, balanced, conservative")
	}
	if cfg.PartialFailureThreshold > maxPartialFailureAllowed {
		return nil, fmt.Errorf("SYNC_PARTIAL_FAILURE_THRESHOLD must be between 0 and 1")
	}

	if cfg.GmailClientID == "" || cfg.GmailClientSecret == "" {
		slog.Warn("GMAIL_CLIENT_ID or GMAIL_CLIENT_SECRET not set, expired tokens cannot be refreshed")
	}
	if cfg.WebhookSecret == "" {
		slog.Warn("WEBHOOK_SECRET not set, webhook routes will not be mounted")
	}

	return cfg, nil
}

// HTTPEnabled reports whether the trigger/metrics HTTP server should run.
func (c *Config) HTTPEnabled() bool {
	switch strings.ToLower(c.HTTPAddr) {
	case "", "off", "disabled", "false":
		return false
	}
	return true
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}

func getenvDurationDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func getenvFloatDefault(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return def
	}
	return f
}
