package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultClassifierBaseURL is the public classifier used when none is configured.
const DefaultClassifierBaseURL = "https://backend-fastapi-ia.onrender.com"

// Config holds process settings read from the environment.
type Config struct {
	HTTPAddr          string
	ClassifierBaseURL string
	ClassifierTimeout time.Duration
	SessionSecret     string
	SessionTTL        time.Duration
	RedisAddr         string
	DatabaseDSN       string
	GRPCHealthAddr    string
	ShutdownTimeout   time.Duration
	LogLevel          string
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an arbitrary variable source.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	get := func(key, fallback string) string {
		if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
		return fallback
	}

	cfg := &Config{
		HTTPAddr:          get("HTTP_ADDR", ":8080"),
		ClassifierBaseURL: get("CLASSIFIER_BASE_URL", DefaultClassifierBaseURL),
		SessionSecret:     get("SESSION_SECRET", "dev-secret"),
		RedisAddr:         get("REDIS_ADDR", ""),
		DatabaseDSN:       get("DATABASE_DSN", ""),
		GRPCHealthAddr:    get("GRPC_HEALTH_ADDR", ""),
		LogLevel:          get("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.ClassifierTimeout, err = parseDuration("CLASSIFIER_TIMEOUT", get("CLASSIFIER_TIMEOUT", "0s")); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = parseDuration("SESSION_TTL", get("SESSION_TTL", "24h")); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = parseDuration("SHUTDOWN_TIMEOUT", get("SHUTDOWN_TIMEOUT", "15s")); err != nil {
		return nil, err
	}

	if cfg.ClassifierTimeout < 0 {
		return nil, fmt.Errorf("CLASSIFIER_TIMEOUT must be >= 0 (got %s)", cfg.ClassifierTimeout)
	}
	if cfg.SessionTTL <= 0 || cfg.ShutdownTimeout <= 0 {
		return nil, fmt.Errorf("SESSION_TTL and SHUTDOWN_TIMEOUT must be > 0 (got %s, %s)", cfg.SessionTTL, cfg.ShutdownTimeout)
	}

	parsed, err := url.Parse(cfg.ClassifierBaseURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("invalid CLASSIFIER_BASE_URL: %q", cfg.ClassifierBaseURL)
	}

	return cfg, nil
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, value)
	}
	return d, nil
}
