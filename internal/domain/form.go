// Package domain contains core domain types for the form healer.
package domain

// CacheKeyPrefix prefixes every form state token in the cache store.
const CacheKeyPrefix = "form_"

// BuildIDField is the name of the hidden input carrying a form's state token.
const BuildIDField = "form_build_id"

// FormIDField is the name of the hidden input identifying which form was rendered.
const FormIDField = "form_id"

// StateToken names a server-side cache entry holding a form's build state.
type StateToken string

// CacheKey returns the key the token is stored under.
func (t StateToken) CacheKey() string {
	return CacheKeyPrefix + string(t)
}

func (t StateToken) String() string {
	return string(t)
}

// RegisteredForm is a form on a page whose state token is kept fresh.
type RegisteredForm struct {
	FormID   string `json:"form_id" yaml:"form_id"`
	Selector string `json:"selector" yaml:"selector"`
}

// FreshnessQuery asks whether a form's token is still backed by the cache.
type FreshnessQuery struct {
	FormSelector string
	Token        StateToken
	Referer      string
}

// Valid reports whether every field needed to answer the query is present.
func (q FreshnessQuery) Valid() bool {
	return q.FormSelector != "" && q.Token != "" && q.Referer != ""
}

// Freshness is the outcome of a freshness check.
type Freshness string

const (
	// Fresh means the cache entry for the token existed.
	Fresh Freshness = "Fresh"
	// Stale means the entry was gone and a replacement was looked for.
	Stale Freshness = "Stale"
)

// FreshnessResult carries the token the client should hold after a check.
// A Stale result may carry the original token when no replacement was found.
type FreshnessResult struct {
	Status Freshness
	Token  StateToken
}

// FreshResult reports a token whose cache entry still exists.
func FreshResult(token StateToken) FreshnessResult {
	return FreshnessResult{Status: Fresh, Token: token}
}

// HealedResult reports the best token available for a stale form.
func HealedResult(token StateToken) FreshnessResult {
	return FreshnessResult{Status: Stale, Token: token}
}

// Healed returns true if the result replaced the queried token.
func (r FreshnessResult) Healed(original StateToken) bool {
	return r.Status == Stale && r.Token != original
}

// ClientSettings is the polling configuration a page hands its clients.
type ClientSettings struct {
	Callback     string   `json:"callback"`
	Interval     int      `json:"interval"` // seconds
	EnabledForms []string `json:"enabled_forms"`
}
