// Form Healer poller - keeps the forms of one page fresh against a healer.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ashureev/form-healer/internal/poller"
	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "", "YAML poller config file")
	pageURL := flag.String("page", "", "page whose forms are kept fresh")
	settingsURL := flag.String("settings", "", "healer settings URL (e.g. https://example.org/healer/settings)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}
	if *configPath == "" {
		*configPath = os.Getenv("POLLER_CONFIG")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := &http.Client{Timeout: 30 * time.Second}

	cfg, err := loadConfig(ctx, client, *configPath, *pageURL, *settingsURL)
	if err != nil {
		slog.Error("Failed to load poller configuration", "error", err)
		os.Exit(1)
	}

	page, err := poller.LoadPage(ctx, client, cfg.PageURL)
	if err != nil {
		slog.Error("Failed to load page", "page", cfg.PageURL, "error", err)
		os.Exit(1)
	}

	p, err := poller.New(cfg, page, client)
	if err != nil {
		slog.Error("Failed to initialize poller", "error", err)
		os.Exit(1)
	}
	if len(p.Forms()) == 0 {
		slog.Warn("No enabled forms found on page", "page", cfg.PageURL, "enabled_forms", cfg.EnabledForms)
	}

	p.Run(ctx)
	slog.Info("Poller stopped")
}

// loadConfig reads a config file when one is given, otherwise asks the
// healer for its published settings.
func loadConfig(ctx context.Context, client *http.Client, path, pageURL, settingsURL string) (poller.Config, error) {
	if path != "" {
		return poller.LoadConfig(path)
	}
	if pageURL == "" || settingsURL == "" {
		return poller.Config{}, fmt.Errorf("either -config or both -page and -settings are required")
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	settings, err := poller.FetchSettings(ctx, client, strings.TrimSpace(settingsURL))
	if err != nil {
		return poller.Config{}, err
	}
	return poller.FromSettings(strings.TrimSpace(pageURL), settings)
}
