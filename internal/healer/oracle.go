// Package healer decides which form_build_id a polling client should hold.
//
// A token whose cache entry still exists is echoed back. Otherwise the page
// the form was rendered on is requested again, and the token of the freshly
// rendered form is returned instead. Every failure along that path falls
// back to echoing the original token: the live form must never break, and
// the client simply retries on its next poll.
package healer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"

	"github.com/ashureev/form-healer/internal/cache"
	"github.com/ashureev/form-healer/internal/domain"
	"github.com/ashureev/form-healer/internal/extract"
	"github.com/ashureev/form-healer/internal/fetch"
)

// PageFetcher re-requests pages on the site's own origin.
type PageFetcher interface {
	// Allowed reports whether target may be fetched at all.
	Allowed(target string) error
	// Fetch returns the body of target, sending referer.
	Fetch(ctx context.Context, target, referer string) ([]byte, error)
}

// Oracle answers freshness queries. It only reads from the cache.
type Oracle struct {
	store     cache.Store
	fetcher   PageFetcher
	namespace string
	nonce     func() (string, error)
}

// NewOracle creates an Oracle reading tokens from namespace.
func NewOracle(store cache.Store, fetcher PageFetcher, namespace string) *Oracle {
	if namespace == "" {
		namespace = cache.DefaultNamespace
	}
	return &Oracle{
		store:     store,
		fetcher:   fetcher,
		namespace: namespace,
		nonce:     fetch.Nonce,
	}
}

// Check answers q. Callers must pass a valid query.
func (o *Oracle) Check(ctx context.Context, q domain.FreshnessQuery) domain.FreshnessResult {
	entry, err := o.store.Get(ctx, q.Token.CacheKey(), o.namespace)
	if err != nil {
		// A broken cache read is indistinguishable from a miss for the
		// client; try to heal.
		slog.Warn("Form cache lookup failed", "form", q.FormSelector, "error", err)
	} else if entry != nil {
		return domain.FreshResult(q.Token)
	}

	token, err := o.heal(ctx, q)
	if err != nil {
		slog.Debug("Form token not healed, echoing original",
			"form", q.FormSelector,
			"reason", FallbackReason(err),
			"error", err)
		return domain.HealedResult(q.Token)
	}

	result := domain.HealedResult(token)
	if result.Healed(q.Token) {
		slog.Info("Form token healed", "form", q.FormSelector)
	} else {
		slog.Debug("Re-fetched form carries the queried token", "form", q.FormSelector)
	}
	return result
}

func (o *Oracle) heal(ctx context.Context, q domain.FreshnessQuery) (domain.StateToken, error) {
	nonce, err := o.nonce()
	if err != nil {
		return "", err
	}
	target, err := fetch.RefetchURL(q.Referer, nonce)
	if err != nil {
		return "", err
	}
	if err := o.fetcher.Allowed(target); err != nil {
		return "", err
	}

	body, err := o.fetcher.Fetch(ctx, target, q.Referer)
	if err != nil {
		return "", err
	}

	return extract.BuildID(bytes.NewReader(body), q.FormSelector)
}

// FallbackReason classifies why healing fell back to the original token.
func FallbackReason(err error) string {
	switch {
	case errors.Is(err, fetch.ErrCrossOrigin):
		return "cross_origin_referer"
	case errors.Is(err, extract.ErrFormNotFound), errors.Is(err, extract.ErrBuildIDNotFound):
		return "parse_failure"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "fetch_failure"
	}
}
