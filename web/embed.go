// Package web serves a demo contact form whose build state is stored in the
// form cache, so the healer can be exercised end to end in development.
package web

import (
	"crypto/rand"
	"embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/form-healer/internal/cache"
	"github.com/ashureev/form-healer/internal/domain"
	"github.com/go-chi/chi/v5"
)

//go:embed templates/contact.html
var templateFS embed.FS

const (
	// DemoPath is where the demo form is mounted.
	DemoPath = "/demo/contact"
	// DemoFormID is the form_id of the demo form.
	DemoFormID = "contact_site_form"
	// DemoSelector is the id attribute of the demo form element.
	DemoSelector = "contact-site-form"
	// DefaultFormTTL matches how long a rendered form's state is kept.
	DefaultFormTTL = 6 * time.Hour
)

var contactTemplate = template.Must(template.ParseFS(templateFS, "templates/contact.html"))

type contactPage struct {
	Selector string
	Action   string
	BuildID  string
	FormID   string
	Message  string
	Settings domain.ClientSettings
}

// DemoHandler renders the demo form and accepts its submissions.
type DemoHandler struct {
	store     DemoStore
	namespace string
	ttl       time.Duration
	settings  domain.ClientSettings
	now       func() time.Time
}

// DemoStore is the cache access the demo form needs.
type DemoStore interface {
	cache.Store
	cache.Writer
}

// NewDemoHandler creates the demo form handler. Rendered build ids are
// stored in namespace for ttl.
func NewDemoHandler(store DemoStore, namespace string, ttl time.Duration, settings domain.ClientSettings) *DemoHandler {
	if ttl <= 0 {
		ttl = DefaultFormTTL
	}
	return &DemoHandler{
		store:     store,
		namespace: namespace,
		ttl:       ttl,
		settings:  settings,
		now:       time.Now,
	}
}

// RegisterRoutes registers the demo routes.
func (h *DemoHandler) RegisterRoutes(r chi.Router) {
	r.Get(DemoPath, h.Render)
	r.Post(DemoPath, h.Submit)
}

// Render stores a new build id and renders the form carrying it.
func (h *DemoHandler) Render(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "")
}

// Submit accepts a submission only while its build id is still cached.
// Accepted build ids are consumed.
func (h *DemoHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.render(w, r, http.StatusBadRequest, "The submission could not be read.")
		return
	}

	token := domain.StateToken(r.PostForm.Get(domain.BuildIDField))
	if token == "" || r.PostForm.Get(domain.FormIDField) != DemoFormID {
		h.render(w, r, http.StatusBadRequest, "The submission is missing form fields.")
		return
	}

	entry, err := h.store.Get(r.Context(), token.CacheKey(), h.namespace)
	if err != nil {
		slog.Error("Failed to read form state", "error", err, "token", token)
		h.render(w, r, http.StatusInternalServerError, "The form state could not be read.")
		return
	}
	if entry == nil {
		slog.Info("Rejected outdated form submission", "token", token)
		h.render(w, r, http.StatusConflict, "This form has become outdated. Please try again.")
		return
	}

	if err := h.store.Delete(r.Context(), token.CacheKey(), h.namespace); err != nil {
		slog.Warn("Failed to consume form state", "error", err, "token", token)
	}
	slog.Info("Accepted form submission", "token", token)
	h.render(w, r, http.StatusOK, "Thank you, your message has been sent.")
}

func (h *DemoHandler) render(w http.ResponseWriter, r *http.Request, status int, message string) {
	token, err := NewBuildID()
	if err != nil {
		slog.Error("Failed to generate form build id", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	state, err := json.Marshal(map[string]string{
		"form_id": DemoFormID,
		"path":    DemoPath,
	})
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	now := h.now()
	err = h.store.Set(r.Context(), h.namespace, &cache.Entry{
		Key:     token.CacheKey(),
		Data:    state,
		Expire:  now.Add(h.ttl),
		Created: now,
	})
	if err != nil {
		slog.Error("Failed to store form state", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	err = contactTemplate.Execute(w, contactPage{
		Selector: DemoSelector,
		Action:   DemoPath,
		BuildID:  token.String(),
		FormID:   DemoFormID,
		Message:  message,
		Settings: h.settings,
	})
	if err != nil {
		slog.Debug("Failed to render demo form", "error", err)
	}
}

// NewBuildID returns a random form build id in the "form-<base64url>" shape.
func NewBuildID() (domain.StateToken, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate build id: %w", err)
	}
	return domain.StateToken("form-" + base64.RawURLEncoding.EncodeToString(buf)), nil
}
