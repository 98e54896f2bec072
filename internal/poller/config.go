package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/ashureev/form-healer/internal/domain"
	"gopkg.in/yaml.v3"
)

// DefaultTimeout bounds a single freshness request.
const DefaultTimeout = 15 * time.Second

// Config is the immutable configuration of one page's poller.
type Config struct {
	PageURL      string        `yaml:"page_url"`      // Page the forms live on; sent as Referer.
	Callback     string        `yaml:"callback"`      // Healer endpoint URL.
	Interval     time.Duration `yaml:"interval"`      // Time between polls.
	Timeout      time.Duration `yaml:"timeout"`       // Per-request timeout.
	EnabledForms []string      `yaml:"enabled_forms"` // form_id values to keep fresh.
}

// Validate checks that the config can drive a poller.
func (c Config) Validate() error {
	if err := absoluteURL("page_url", c.PageURL); err != nil {
		return err
	}
	if err := absoluteURL("callback", c.Callback); err != nil {
		return err
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be > 0")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be >= 0")
	}
	return nil
}

func (c Config) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

func absoluteURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL, got %q", field, raw)
	}
	return nil
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// FromSettings builds a Config for pageURL from settings published by the
// healer server.
func FromSettings(pageURL string, s domain.ClientSettings) (Config, error) {
	cfg := Config{
		PageURL:      pageURL,
		Callback:     s.Callback,
		Interval:     time.Duration(s.Interval) * time.Second,
		EnabledForms: append([]string(nil), s.EnabledForms...),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FetchSettings retrieves the healer's published client settings.
func FetchSettings(ctx context.Context, client *http.Client, settingsURL string) (domain.ClientSettings, error) {
	var s domain.ClientSettings

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, settingsURL, nil)
	if err != nil {
		return s, fmt.Errorf("new request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return s, fmt.Errorf("fetch settings: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return s, fmt.Errorf("fetch settings: unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&s); err != nil {
		return s, fmt.Errorf("decode settings: %w", err)
	}
	return s, nil
}
