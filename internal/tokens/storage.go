// Package tokens holds the per-visitor key/value storage that stands in for the browser's
// localStorage and sessionStorage: provider tokens live in the local area under a recognizable
// prefix, transient per-tab values (flash messages) live in the tab area.
package tokens

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("tokens: key not found")

// Storage is a flat key/value store with per-key expiry.
type Storage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every key starting with prefix and returns how many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// Area is a namespaced view over a Storage.
type Area struct {
	store     Storage
	namespace string
}

// NewArea scopes store to keys starting with namespace.
func NewArea(store Storage, namespace string) Area {
	return Area{store: store, namespace: namespace}
}

// LocalArea is the visitor's long-lived area (the browser's localStorage).
func LocalArea(store Storage, visitorID string) Area {
	return NewArea(store, "visitor:"+visitorID+":local:")
}

// TabArea is the visitor's transient area (the browser's sessionStorage).
func TabArea(store Storage, visitorID string) Area {
	return NewArea(store, "visitor:"+visitorID+":tab:")
}

func (a Area) Get(ctx context.Context, key string) (string, error) {
	return a.store.Get(ctx, a.namespace+key)
}

func (a Area) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return a.store.Set(ctx, a.namespace+key, value, ttl)
}

func (a Area) Delete(ctx context.Context, key string) error {
	return a.store.Delete(ctx, a.namespace+key)
}

// DeletePrefix removes the keys of this area starting with prefix.
func (a Area) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	return a.store.DeletePrefix(ctx, a.namespace+prefix)
}

// Clear removes every key of this area.
func (a Area) Clear(ctx context.Context) (int, error) {
	return a.store.DeletePrefix(ctx, a.namespace)
}

// Take reads and deletes key. A missing key yields "" and no error.
func (a Area) Take(ctx context.Context, key string) (string, error) {
	val, err := a.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return val, a.Delete(ctx, key)
}
