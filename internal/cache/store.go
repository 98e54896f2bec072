// Package cache provides read access to the form state cache.
package cache

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// DefaultNamespace is the cache bin form build state lives in.
const DefaultNamespace = "cache_form"

// ErrInvalidNamespace is returned when a namespace is not a safe table name.
var ErrInvalidNamespace = errors.New("cache: invalid namespace")

var namespacePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// Entry is a single cached item.
type Entry struct {
	Key     string
	Data    []byte
	Expire  time.Time // zero = never expires
	Created time.Time
}

// Expired reports whether the entry is past its expiry at now.
func (e *Entry) Expired(now time.Time) bool {
	return !e.Expire.IsZero() && !e.Expire.After(now)
}

// Store defines read access to a namespaced cache.
type Store interface {
	// Get returns the entry stored under key, or nil if it is absent or expired.
	Get(ctx context.Context, key, namespace string) (*Entry, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Writer is implemented by stores that the form-render path can populate.
type Writer interface {
	Set(ctx context.Context, namespace string, entry *Entry) error
	Delete(ctx context.Context, key, namespace string) error
}

// ValidateNamespace checks that namespace can be used as a table name.
func ValidateNamespace(namespace string) error {
	if !namespacePattern.MatchString(namespace) {
		return fmt.Errorf("%w: %q", ErrInvalidNamespace, namespace)
	}
	return nil
}
