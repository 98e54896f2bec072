// Package config provides application configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	BaseURL        string // Origin re-fetches are restricted to.
	DBPath         string
	CacheBackend   string        // "sqlite" or "memory"
	PurgeInterval  time.Duration // 0 disables the expired-entry purge.
	AllowedOrigins []string
	DemoEnabled    bool
	Healer         HealerConfig
}

// HealerConfig controls the freshness endpoint and the settings it hands
// to polling clients.
type HealerConfig struct {
	CacheNamespace string
	UserAgent      string
	FetchTimeout   time.Duration
	Interval       time.Duration // Client polling interval.
	EnabledForms   []string      // form_id values clients should keep fresh.
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	intervalSec := getEnvInt("HEALER_INTERVAL", 60)
	if intervalSec <= 0 {
		intervalSec = 60
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		BaseURL:        strings.TrimRight(getEnv("BASE_URL", "http://localhost:8080"), "/"),
		DBPath:         getEnv("DB_PATH", "./data/cache.db"),
		CacheBackend:   strings.ToLower(getEnv("CACHE_BACKEND", "sqlite")),
		PurgeInterval:  getEnvDuration("CACHE_PURGE_INTERVAL", time.Hour),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		DemoEnabled:    getEnvBool("DEMO_ENABLED", false),
		Healer: HealerConfig{
			CacheNamespace: getEnv("CACHE_NAMESPACE", "cache_form"),
			UserAgent:      getEnv("HEALER_USER_AGENT", "form-healer/1.0"),
			FetchTimeout:   getEnvDuration("HEALER_FETCH_TIMEOUT", 10*time.Second),
			Interval:       time.Duration(intervalSec) * time.Second,
			EnabledForms:   getEnvList("HEALER_ENABLED_FORMS", nil),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("BASE_URL must be an absolute http(s) URL, got %q", c.BaseURL)
	}
	switch c.CacheBackend {
	case "sqlite":
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case "memory":
	default:
		return fmt.Errorf("CACHE_BACKEND must be sqlite or memory, got %q", c.CacheBackend)
	}
	if c.PurgeInterval < 0 {
		return fmt.Errorf("CACHE_PURGE_INTERVAL must be >= 0")
	}
	if c.Healer.CacheNamespace == "" {
		return fmt.Errorf("CACHE_NAMESPACE cannot be empty")
	}
	if c.Healer.FetchTimeout <= 0 {
		return fmt.Errorf("HEALER_FETCH_TIMEOUT must be > 0")
	}
	if c.Healer.Interval <= 0 {
		return fmt.Errorf("HEALER_INTERVAL must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return strings.Contains(c.BaseURL, "localhost") ||
		strings.Contains(c.BaseURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

// getEnvList splits a comma-separated variable, dropping empty items.
func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
