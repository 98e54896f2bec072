package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func newFetcher(t *testing.T, cfg Config) *Fetcher {
	t.Helper()
	f, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func TestFetch_ForwardsHeaders(t *testing.T) {
	var gotUA, gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f := newFetcher(t, Config{BaseURL: srv.URL, UserAgent: "healer-test/2.0"})
	body, err := f.Fetch(context.Background(), srv.URL+"/contact?healer=1", srv.URL+"/contact")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(body) != "<html>ok</html>" {
		t.Errorf("Unexpected body %q", body)
	}
	if gotUA != "healer-test/2.0" {
		t.Errorf("Expected User-Agent healer-test/2.0, got %q", gotUA)
	}
	if gotReferer != srv.URL+"/contact" {
		t.Errorf("Expected Referer %s/contact, got %q", srv.URL, gotReferer)
	}
}

func TestFetch_CrossOriginRejected(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	f := newFetcher(t, Config{BaseURL: "http://example.org"})
	_, err := f.Fetch(context.Background(), srv.URL, srv.URL)
	if !errors.Is(err, ErrCrossOrigin) {
		t.Errorf("Expected ErrCrossOrigin, got %v", err)
	}
	if called {
		t.Error("Cross-origin target must not be requested")
	}
}

func TestFetch_RedirectOffOriginBlocked(t *testing.T) {
	evilHit := false
	evil := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		evilHit = true
		_, _ = w.Write([]byte("secret"))
	}))
	defer evil.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, evil.URL+"/internal", http.StatusFound)
	}))
	defer srv.Close()

	f := newFetcher(t, Config{BaseURL: srv.URL})
	_, err := f.Fetch(context.Background(), srv.URL+"/contact", "")
	if !errors.Is(err, ErrCrossOrigin) {
		t.Errorf("Expected ErrCrossOrigin, got %v", err)
	}
	if evilHit {
		t.Error("Redirect target on foreign origin must not be requested")
	}
}

func TestFetch_SameOriginRedirectFollowed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("moved"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := newFetcher(t, Config{BaseURL: srv.URL})
	body, err := f.Fetch(context.Background(), srv.URL+"/old", "")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(body) != "moved" {
		t.Errorf("Expected moved, got %q", body)
	}
}

func TestFetch_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("  \n "))
	}))
	defer srv.Close()

	f := newFetcher(t, Config{BaseURL: srv.URL})
	_, err := f.Fetch(context.Background(), srv.URL, "")
	if !errors.Is(err, ErrEmptyBody) {
		t.Errorf("Expected ErrEmptyBody, got %v", err)
	}
}

func TestFetch_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newFetcher(t, Config{BaseURL: srv.URL})
	_, err := f.Fetch(context.Background(), srv.URL, "")
	if !errors.Is(err, ErrStatus) {
		t.Errorf("Expected ErrStatus, got %v", err)
	}
}

func TestFetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	f := newFetcher(t, Config{BaseURL: srv.URL, Timeout: 100 * time.Millisecond})
	start := time.Now()
	_, err := f.Fetch(context.Background(), srv.URL, "")
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Fetch took %v, expected to stop near the timeout", elapsed)
	}
}

func TestFetch_MaxBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 1000)))
	}))
	defer srv.Close()

	f := newFetcher(t, Config{BaseURL: srv.URL, MaxBytes: 100})
	body, err := f.Fetch(context.Background(), srv.URL, "")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(body) != 100 {
		t.Errorf("Expected 100 bytes, got %d", len(body))
	}
}

func TestNew_InvalidBaseURL(t *testing.T) {
	for _, base := range []string{"", "ftp://example.org", "example.org", "http://"} {
		if _, err := New(Config{BaseURL: base}); err == nil {
			t.Errorf("Expected error for base URL %q", base)
		}
	}
}

func TestSameOrigin(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"http://example.org", "http://example.org/contact?x=1", true},
		{"http://example.org", "http://EXAMPLE.org/contact", true},
		{"http://example.org", "http://example.org:80/contact", true},
		{"https://example.org", "https://example.org:443/", true},
		{"http://example.org", "https://example.org/contact", false},
		{"http://example.org", "http://example.org:8080/contact", false},
		{"http://example.org", "http://example.org.attacker.net/contact", false},
		{"http://example.org", "http://example.org@attacker.net/contact", false},
		{"http://example.org", "http://attacker.net/?http://example.org", false},
		{"http://example.org", "/relative/path", false},
	}
	for _, tt := range tests {
		a, err := url.Parse(tt.a)
		if err != nil {
			t.Fatalf("parse %q: %v", tt.a, err)
		}
		b, err := url.Parse(tt.b)
		if err != nil {
			t.Fatalf("parse %q: %v", tt.b, err)
		}
		if got := SameOrigin(a, b); got != tt.want {
			t.Errorf("SameOrigin(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestRefetchURL(t *testing.T) {
	tests := []struct {
		referer string
		want    string
	}{
		{"http://example.org/contact", "http://example.org/contact?healer=n1"},
		{"http://example.org/contact?lang=fr", "http://example.org/contact?lang=fr&healer=n1"},
		{"http://example.org/contact?healer=old", "http://example.org/contact?healer=old&healer=n1"},
		{"http://example.org/contact#form", "http://example.org/contact?healer=n1#form"},
		{"http://example.org/contact?", "http://example.org/contact?healer=n1"},
		{"http://example.org/node/1?q=a;b", "http://example.org/node/1?q=a;b&healer=n1"},
		{"http://example.org/node/1?z=1&a=2", "http://example.org/node/1?z=1&a=2&healer=n1"},
		{"http://example.org/node/1?preview", "http://example.org/node/1?preview&healer=n1"},
		{"http://example.org/search?q=caf%C3%A9+bar&page=2#top", "http://example.org/search?q=caf%C3%A9+bar&page=2&healer=n1#top"},
	}
	for _, tt := range tests {
		got, err := RefetchURL(tt.referer, "n1")
		if err != nil {
			t.Fatalf("RefetchURL(%q): %v", tt.referer, err)
		}
		if got != tt.want {
			t.Errorf("RefetchURL(%q) = %q, want %q", tt.referer, got, tt.want)
		}
	}

	got, err := RefetchURL("http://example.org/contact", "a b&c")
	if err != nil {
		t.Fatalf("RefetchURL: %v", err)
	}
	if want := "http://example.org/contact?healer=a+b%26c"; got != want {
		t.Errorf("Expected escaped nonce %q, got %q", want, got)
	}

	if _, err := RefetchURL("/contact", "n1"); err == nil {
		t.Error("Expected error for relative referer")
	}
}

func TestNonce(t *testing.T) {
	a, err := Nonce()
	if err != nil {
		t.Fatalf("Nonce: %v", err)
	}
	b, _ := Nonce()
	if len(a) != 32 {
		t.Errorf("Expected 32 hex chars, got %d", len(a))
	}
	if a == b {
		t.Error("Expected distinct nonces")
	}
}
