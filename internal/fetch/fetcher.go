// Package fetch re-requests the page a form was rendered on.
//
// Requests are only ever sent to the configured base origin: the referer is
// client-supplied, and without the origin gate the healer endpoint would be
// an open URL-fetch proxy.
package fetch

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http2"
)

// NonceParam is the query parameter carrying the cache-busting nonce.
const NonceParam = "healer"

const maxRedirects = 5

var (
	// ErrCrossOrigin is returned when a URL is outside the base origin.
	ErrCrossOrigin = errors.New("fetch: URL is not on the base origin")

	// ErrEmptyBody is returned when the page came back without content.
	ErrEmptyBody = errors.New("fetch: empty response body")

	// ErrStatus is returned for non-2xx responses.
	ErrStatus = errors.New("fetch: unexpected status")
)

// Config configures the fetcher.
type Config struct {
	BaseURL   string        // Origin requests are restricted to.
	UserAgent string        // Sent with every request.
	Timeout   time.Duration // Whole-request timeout. Default: 10s.
	MaxBytes  int64         // Max response body size. Default: 5MB.
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 5 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "form-healer/1.0"
	}
}

// Fetcher performs same-origin page re-fetches.
type Fetcher struct {
	base   *url.URL
	client *http.Client
	config Config
}

// New creates a Fetcher whose requests and redirects stay on cfg.BaseURL.
func New(cfg Config) (*Fetcher, error) {
	cfg.defaults()

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base URL must be http or https, got %q", cfg.BaseURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("base URL has no host: %q", cfg.BaseURL)
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if _, err := http2.ConfigureTransports(transport); err != nil {
		return nil, fmt.Errorf("configure http2 transport: %w", err)
	}

	f := &Fetcher{base: base, config: cfg}
	f.client = &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("too many redirects (%d)", len(via))
			}
			if !SameOrigin(f.base, req.URL) {
				return fmt.Errorf("redirect to %s blocked: %w", req.URL.Redacted(), ErrCrossOrigin)
			}
			return nil
		},
	}
	return f, nil
}

// Allowed checks that target is on the base origin.
func (f *Fetcher) Allowed(target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("parse target: %w", err)
	}
	if !SameOrigin(f.base, u) {
		return ErrCrossOrigin
	}
	return nil
}

// Fetch GETs target, forwarding referer, and returns the response body.
func (f *Fetcher) Fetch(ctx context.Context, target, referer string) ([]byte, error) {
	if err := f.Allowed(target); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return nil, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyBody
	}
	return body, nil
}

// RefetchURL returns referer with a cache-busting nonce appended to its query.
func RefetchURL(referer, nonce string) (string, error) {
	u, err := url.Parse(referer)
	if err != nil {
		return "", fmt.Errorf("parse referer: %w", err)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("referer is not absolute: %q", referer)
	}
	// The referer's query is kept verbatim.
	pair := NonceParam + "=" + url.QueryEscape(nonce)
	if u.RawQuery == "" {
		u.RawQuery = pair
	} else {
		u.RawQuery += "&" + pair
	}
	u.ForceQuery = false
	return u.String(), nil
}

// Nonce returns a random hex string for cache busting.
func Nonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// SameOrigin compares scheme, host and port, applying default ports.
func SameOrigin(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	schemeA, schemeB := strings.ToLower(a.Scheme), strings.ToLower(b.Scheme)
	if schemeA != schemeB {
		return false
	}
	if !strings.EqualFold(a.Hostname(), b.Hostname()) || a.Hostname() == "" {
		return false
	}
	return effectivePort(schemeA, a.Port()) == effectivePort(schemeB, b.Port())
}

func effectivePort(scheme, port string) string {
	if port != "" {
		return port
	}
	switch scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	}
	return ""
}
