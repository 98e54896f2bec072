// Package api provides HTTP handlers for the form healer.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ashureev/form-healer/internal/cache"
	"github.com/go-chi/chi/v5"
)

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// HealthHandler reports whether the cache store is reachable.
type HealthHandler struct {
	store   cache.Store
	backend string
	timeout time.Duration
}

// NewHealthHandler creates a health handler for store.
func NewHealthHandler(store cache.Store, backend string) *HealthHandler {
	return &HealthHandler{store: store, backend: backend, timeout: 2 * time.Second}
}

// RegisterHealth registers the health route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}

// Health pings the cache store.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		JSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"cache":  h.backend,
			"error":  err.Error(),
		})
		return
	}
	JSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"cache":  h.backend,
	})
}
