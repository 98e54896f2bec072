// Form Healer - keeps long-lived forms' build ids backed by the form cache.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/form-healer/internal/api"
	"github.com/ashureev/form-healer/internal/cache"
	"github.com/ashureev/form-healer/internal/config"
	"github.com/ashureev/form-healer/internal/fetch"
	"github.com/ashureev/form-healer/internal/healer"
	"github.com/ashureev/form-healer/internal/middleware"
	"github.com/ashureev/form-healer/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

// cacheBackend is what the server needs from a form cache.
type cacheBackend interface {
	cache.Store
	cache.Writer
	cache.Purger
}

func openCache(cfg *config.Config) (cacheBackend, error) {
	switch cfg.CacheBackend {
	case "memory":
		return cache.NewMemory(), nil
	case "sqlite":
		store, err := cache.NewSQLite(cfg.DBPath, cfg.Healer.CacheNamespace)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "cache", cfg.CacheBackend)

	// Initialize dependencies.
	store, err := openCache(cfg)
	if err != nil {
		slog.Error("Failed to initialize form cache", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("Failed to close form cache", "error", closeErr)
		}
	}()

	if err := store.Ping(context.Background()); err != nil {
		slog.Error("Form cache health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Form cache connected", "namespace", cfg.Healer.CacheNamespace)

	fetcher, err := fetch.New(fetch.Config{
		BaseURL:   cfg.BaseURL,
		UserAgent: cfg.Healer.UserAgent,
		Timeout:   cfg.Healer.FetchTimeout,
	})
	if err != nil {
		slog.Error("Failed to initialize page fetcher", "error", err)
		os.Exit(1)
	}

	oracle := healer.NewOracle(store, fetcher, cfg.Healer.CacheNamespace)

	// Initialize handlers.
	healthHandler := api.NewHealthHandler(store, cfg.CacheBackend)
	healerHandler := api.NewHealerHandler(oracle, cfg.BaseURL, cfg.Healer)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	healthHandler.RegisterHealth(r)
	healerHandler.RegisterRoutes(r)

	if cfg.DemoEnabled {
		demo := web.NewDemoHandler(store, cfg.Healer.CacheNamespace, web.DefaultFormTTL, healerHandler.ClientSettings())
		demo.RegisterRoutes(r)
		slog.Info("Demo form mounted", "path", web.DemoPath)
	}

	// Create server. WriteTimeout must cover a full page re-fetch.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Healer.FetchTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cache.StartPurgeWorker(ctx, store, cfg.Healer.CacheNamespace, cfg.PurgeInterval)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
