package cache

import (
	"context"
	"log/slog"
	"time"
)

// Purger removes expired entries from a namespace.
type Purger interface {
	PurgeExpired(ctx context.Context, namespace string) (int64, error)
}

// StartPurgeWorker removes expired entries from namespace every interval
// until ctx is done. A non-positive interval disables the worker.
func StartPurgeWorker(ctx context.Context, p Purger, namespace string, interval time.Duration) {
	if interval <= 0 {
		slog.Info("Cache purge worker disabled")
		return
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Cache purge worker started", "interval", interval, "namespace", namespace)

		for {
			select {
			case <-ticker.C:
				purgeOnce(ctx, p, namespace)
			case <-ctx.Done():
				slog.Info("Cache purge worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func purgeOnce(ctx context.Context, p Purger, namespace string) int64 {
	removed, err := p.PurgeExpired(ctx, namespace)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Cache purge interrupted", "namespace", namespace, "error", err)
			return 0
		}
		slog.Error("Cache purge failed", "namespace", namespace, "error", err)
		return 0
	}
	if removed > 0 {
		slog.Info("Purged expired cache entries", "namespace", namespace, "count", removed)
	}
	return removed
}
