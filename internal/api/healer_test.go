//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/form-healer/internal/cache"
	"github.com/ashureev/form-healer/internal/command"
	"github.com/ashureev/form-healer/internal/config"
	"github.com/ashureev/form-healer/internal/domain"
	"github.com/ashureev/form-healer/internal/fetch"
	"github.com/ashureev/form-healer/internal/healer"
	"github.com/go-chi/chi/v5"
	"github.com/google/go-cmp/cmp"
)

const contactPage = `<!DOCTYPE html><html><body>
<form id="myform" action="/contact" method="post">
  <input type="hidden" name="form_build_id" value="xyz789">
  <input type="hidden" name="form_id" value="contact_site_form">
</form></body></html>`

type healerFixture struct {
	router  http.Handler
	store   *cache.MemoryStore
	site    *httptest.Server
	fetches atomic.Int32
}

func newHealerFixture(t *testing.T) *healerFixture {
	t.Helper()
	fx := &healerFixture{store: cache.NewMemory()}

	fx.site = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fx.fetches.Add(1)
		if r.URL.Path != "/contact" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(contactPage))
	}))
	t.Cleanup(fx.site.Close)

	f, err := fetch.New(fetch.Config{BaseURL: fx.site.URL, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("fetch.New: %v", err)
	}
	oracle := healer.NewOracle(fx.store, f, cache.DefaultNamespace)

	r := chi.NewRouter()
	NewHealerHandler(oracle, fx.site.URL, config.HealerConfig{
		Interval:     30 * time.Second,
		EnabledForms: []string{"contact_site_form"},
	}).RegisterRoutes(r)
	fx.router = r
	return fx
}

func (fx *healerFixture) ping(fid, fbid, referer string) *httptest.ResponseRecorder {
	params := url.Values{}
	if fid != "" {
		params.Set("fid", fid)
	}
	if fbid != "" {
		params.Set("fbid", fbid)
	}
	req := httptest.NewRequest(http.MethodGet, HealerPath+"?"+params.Encode(), nil)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)
	return w
}

func decodeCommands(t *testing.T, w *httptest.ResponseRecorder) []command.ResponseCommand {
	t.Helper()
	cmds, err := command.Decode(w.Body.Bytes())
	if err != nil {
		t.Fatalf("Decode %q: %v", w.Body.String(), err)
	}
	return cmds
}

func pinged(selector, token string) []command.ResponseCommand {
	return []command.ResponseCommand{{
		Command:   "invoke",
		Method:    "trigger",
		Selector:  selector,
		Arguments: []any{"pinged", []any{token}},
	}}
}

func TestPing_FreshToken(t *testing.T) {
	fx := newHealerFixture(t)
	if err := fx.store.Set(context.Background(), cache.DefaultNamespace, &cache.Entry{Key: "form_abc123"}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	w := fx.ping("myform", "abc123", fx.site.URL+"/contact")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if got := w.Header().Get(FreshnessHeader); got != "Fresh" {
		t.Errorf("Expected Fresh, got %q", got)
	}
	if diff := cmp.Diff(pinged("#myform", "abc123"), decodeCommands(t, w)); diff != "" {
		t.Errorf("Commands mismatch (-want +got):\n%s", diff)
	}
	if n := fx.fetches.Load(); n != 0 {
		t.Errorf("Expected no re-fetch, got %d", n)
	}
}

func TestPing_StaleTokenHealed(t *testing.T) {
	fx := newHealerFixture(t)

	w := fx.ping("myform", "abc123", fx.site.URL+"/contact")

	if got := w.Header().Get(FreshnessHeader); got != "Stale" {
		t.Errorf("Expected Stale, got %q", got)
	}
	want := `[{"command":"invoke","method":"trigger","selector":"#myform","arguments":["pinged",["xyz789"]]}]`
	if got := w.Body.String(); got != want {
		t.Errorf("Unexpected body:\n got: %s\nwant: %s", got, want)
	}
	if n := fx.fetches.Load(); n != 1 {
		t.Errorf("Expected one re-fetch, got %d", n)
	}
}

func TestPing_CrossOriginReferer(t *testing.T) {
	fx := newHealerFixture(t)

	for _, referer := range []string{
		"http://example.com.attacker.net/contact",
		"http://attacker.net/?" + fx.site.URL,
		strings.Replace(fx.site.URL, "http://", "https://", 1) + "/contact",
	} {
		w := fx.ping("myform", "abc123", referer)

		if diff := cmp.Diff(pinged("#myform", "abc123"), decodeCommands(t, w)); diff != "" {
			t.Errorf("referer %s: commands mismatch (-want +got):\n%s", referer, diff)
		}
	}
	if n := fx.fetches.Load(); n != 0 {
		t.Errorf("Expected no re-fetch for cross-origin referers, got %d", n)
	}
}

func TestPing_UnfetchableRefererFallsBack(t *testing.T) {
	fx := newHealerFixture(t)

	w := fx.ping("myform", "abc123", fx.site.URL+"/missing")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if diff := cmp.Diff(pinged("#myform", "abc123"), decodeCommands(t, w)); diff != "" {
		t.Errorf("Commands mismatch (-want +got):\n%s", diff)
	}
}

func TestPing_MissingParams(t *testing.T) {
	fx := newHealerFixture(t)
	referer := fx.site.URL + "/contact"

	tests := []struct {
		name               string
		fid, fbid, referer string
	}{
		{"no fid", "", "abc123", referer},
		{"no fbid", "myform", "", referer},
		{"no referer", "myform", "abc123", ""},
		{"nothing", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := fx.ping(tt.fid, tt.fbid, tt.referer)

			if w.Code != http.StatusOK {
				t.Errorf("Expected 200, got %d", w.Code)
			}
			if got := w.Body.String(); got != "[]" {
				t.Errorf("Expected body [], got %q", got)
			}
			if got := w.Header().Get(FreshnessHeader); got != "" {
				t.Errorf("Expected no freshness header, got %q", got)
			}
		})
	}
}

func TestPing_SelectorInjection(t *testing.T) {
	fx := newHealerFixture(t)

	w := fx.ping(`myform"><script>alert(1)</script>`, "abc123", fx.site.URL+"/contact")

	cmds := decodeCommands(t, w)
	if len(cmds) != 1 {
		t.Fatalf("Expected one command, got %d", len(cmds))
	}
	for _, forbidden := range []string{`"`, "<", ">"} {
		if strings.Contains(cmds[0].Selector, forbidden) {
			t.Errorf("Selector %q contains %q", cmds[0].Selector, forbidden)
		}
	}
	if strings.Contains(w.Body.String(), "<script") {
		t.Errorf("Raw markup leaked into body: %s", w.Body.String())
	}
}

func TestPing_NoCacheHeaders(t *testing.T) {
	fx := newHealerFixture(t)

	for _, w := range []*httptest.ResponseRecorder{
		fx.ping("myform", "abc123", fx.site.URL+"/contact"),
		fx.ping("", "", ""),
	} {
		cc := w.Header().Get("Cache-Control")
		if !strings.Contains(cc, "no-cache") || !strings.Contains(cc, "no-store") {
			t.Errorf("Expected no-cache, no-store Cache-Control, got %q", cc)
		}
		if got := w.Header().Get("Pragma"); got != "no-cache" {
			t.Errorf("Expected Pragma no-cache, got %q", got)
		}
		if got := w.Header().Get("Expires"); got == "" {
			t.Error("Expected Expires header")
		}
		if got := w.Header().Get("Content-Type"); !strings.HasPrefix(got, "application/json") {
			t.Errorf("Expected JSON content type, got %q", got)
		}
	}
}

func TestSettings(t *testing.T) {
	fx := newHealerFixture(t)

	req := httptest.NewRequest(http.MethodGet, HealerPath+"/settings", nil)
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var got domain.ClientSettings
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := domain.ClientSettings{
		Callback:     fx.site.URL + HealerPath,
		Interval:     30,
		EnabledForms: []string{"contact_site_form"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Settings mismatch (-want +got):\n%s", diff)
	}
}
