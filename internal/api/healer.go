package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ashureev/form-healer/internal/command"
	"github.com/ashureev/form-healer/internal/config"
	"github.com/ashureev/form-healer/internal/domain"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// FreshnessHeader reports whether the queried token was Fresh or Stale.
const FreshnessHeader = "X-Form-Freshness"

// HealerPath is where the freshness endpoint is mounted.
const HealerPath = "/healer"

// Checker answers freshness queries.
type Checker interface {
	Check(ctx context.Context, q domain.FreshnessQuery) domain.FreshnessResult
}

// HealerHandler serves the freshness endpoint.
type HealerHandler struct {
	checker  Checker
	settings domain.ClientSettings
}

// NewHealerHandler creates the freshness handler.
func NewHealerHandler(checker Checker, baseURL string, cfg config.HealerConfig) *HealerHandler {
	enabled := cfg.EnabledForms
	if enabled == nil {
		enabled = []string{}
	}
	return &HealerHandler{
		checker: checker,
		settings: domain.ClientSettings{
			Callback:     baseURL + HealerPath,
			Interval:     int(cfg.Interval.Seconds()),
			EnabledForms: enabled,
		},
	}
}

// RegisterRoutes registers the healer routes. Nothing under them may be
// cached by intermediaries.
func (h *HealerHandler) RegisterRoutes(r chi.Router) {
	r.Route(HealerPath, func(r chi.Router) {
		r.Use(chiMiddleware.NoCache)
		r.Get("/", h.Ping)
		r.Get("/settings", h.Settings)
	})
}

// Ping answers GET /healer?fid=<form id>&fbid=<form build id> with a
// command envelope. Incomplete requests get an empty envelope, never an
// error status.
func (h *HealerHandler) Ping(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := domain.FreshnessQuery{
		FormSelector: params.Get("fid"),
		Token:        domain.StateToken(params.Get("fbid")),
		Referer:      r.Header.Get("Referer"),
	}
	if !q.Valid() {
		writeCommands(w, nil)
		return
	}

	result := h.checker.Check(r.Context(), q)

	w.Header().Set(FreshnessHeader, string(result.Status))
	writeCommands(w, []command.ResponseCommand{
		command.Pinged(q.FormSelector, result.Token.String()),
	})
}

// ClientSettings returns the polling configuration handed to clients.
func (h *HealerHandler) ClientSettings() domain.ClientSettings {
	return h.settings
}

// Settings returns the polling configuration for clients.
func (h *HealerHandler) Settings(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.settings)
}

func writeCommands(w http.ResponseWriter, cmds []command.ResponseCommand) {
	body, err := command.Encode(cmds)
	if err != nil {
		slog.Error("Failed to encode healer response", "error", err)
		body = []byte("[]")
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		slog.Debug("Failed to write healer response", "error", err)
	}
}
