package poller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/form-healer/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "poller.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
page_url: http://example.org/contact
callback: http://example.org/healer
interval: 30s
timeout: 5s
enabled_forms:
  - contact_site_form
  - user_register_form
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, Config{
		PageURL:      "http://example.org/contact",
		Callback:     "http://example.org/healer",
		Interval:     30 * time.Second,
		Timeout:      5 * time.Second,
		EnabledForms: []string{"contact_site_form", "user_register_form"},
	}, cfg)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed yaml", "page_url: [unterminated"},
		{"missing callback", "page_url: http://example.org/\ninterval: 30s\n"},
		{"relative page", "page_url: /contact\ncallback: http://example.org/healer\ninterval: 30s\n"},
		{"zero interval", "page_url: http://example.org/\ncallback: http://example.org/healer\n"},
		{"negative timeout", "page_url: http://example.org/\ncallback: http://example.org/healer\ninterval: 30s\ntimeout: -1s\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfig_DefaultTimeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, Config{}.timeout())
	assert.Equal(t, time.Second, Config{Timeout: time.Second}.timeout())
}

func TestFromSettings(t *testing.T) {
	cfg, err := FromSettings("http://example.org/contact", domain.ClientSettings{
		Callback:     "http://example.org/healer",
		Interval:     60,
		EnabledForms: []string{"contact_site_form"},
	})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.Interval)
	assert.Equal(t, "http://example.org/healer", cfg.Callback)
	assert.Equal(t, []string{"contact_site_form"}, cfg.EnabledForms)

	_, err = FromSettings("http://example.org/contact", domain.ClientSettings{Callback: "http://example.org/healer"})
	assert.Error(t, err)
}

func TestFetchSettings(t *testing.T) {
	want := domain.ClientSettings{
		Callback:     "http://example.org/healer",
		Interval:     45,
		EnabledForms: []string{"contact_site_form"},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healer/settings" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(want)
	}))
	defer srv.Close()

	got, err := FetchSettings(context.Background(), srv.Client(), srv.URL+"/healer/settings")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = FetchSettings(context.Background(), srv.Client(), srv.URL+"/elsewhere")
	assert.Error(t, err)
}
