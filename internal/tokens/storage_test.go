package tokens

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStorage(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, "savedu:"), mr
}

func storages(t *testing.T) map[string]Storage {
	redisStore, _ := newRedisStorage(t)
	return map[string]Storage{
		"memory": NewMemory(),
		"redis":  redisStore,
	}
}

func TestStorageGetSetDelete(t *testing.T) {
	ctx := context.Background()
	for name, store := range storages(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if err := store.Set(ctx, "k", "v", 0); err != nil {
				t.Fatalf("set: %v", err)
			}
			got, err := store.Get(ctx, "k")
			if err != nil || got != "v" {
				t.Fatalf("get = %q, %v", got, err)
			}
			if err := store.Delete(ctx, "k"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected key gone, got %v", err)
			}
		})
	}
}

func TestAreaSignOutClearsOnlyPrefixedTokensOfOneVisitor(t *testing.T) {
	ctx := context.Background()
	for name, store := range storages(t) {
		t.Run(name, func(t *testing.T) {
			alice := LocalArea(store, "alice")
			bob := LocalArea(store, "bob")
			_ = alice.Set(ctx, "sb-ref-auth-token", "a1", 0)
			_ = alice.Set(ctx, "sb-ref-code-verifier", "a2", 0)
			_ = alice.Set(ctx, "theme", "dark", 0)
			_ = bob.Set(ctx, "sb-ref-auth-token", "b1", 0)

			removed, err := alice.DeletePrefix(ctx, "sb-")
			if err != nil {
				t.Fatalf("delete prefix: %v", err)
			}
			if removed != 2 {
				t.Fatalf("expected 2 keys removed, got %d", removed)
			}
			if v, err := alice.Get(ctx, "theme"); err != nil || v != "dark" {
				t.Fatalf("unprefixed key should survive, got %q %v", v, err)
			}
			if v, err := bob.Get(ctx, "sb-ref-auth-token"); err != nil || v != "b1" {
				t.Fatalf("other visitor should keep tokens, got %q %v", v, err)
			}
		})
	}
}

func TestTabAreaClearAndTake(t *testing.T) {
	ctx := context.Background()
	for name, store := range storages(t) {
		t.Run(name, func(t *testing.T) {
			tab := TabArea(store, "v1")
			local := LocalArea(store, "v1")
			_ = tab.Set(ctx, "flash", "hello", time.Minute)
			_ = local.Set(ctx, "sb-x", "token", 0)

			msg, err := tab.Take(ctx, "flash")
			if err != nil || msg != "hello" {
				t.Fatalf("take = %q, %v", msg, err)
			}
			if msg, _ := tab.Take(ctx, "flash"); msg != "" {
				t.Fatalf("flash should be consumed, got %q", msg)
			}

			_ = tab.Set(ctx, "a", "1", 0)
			_ = tab.Set(ctx, "b", "2", 0)
			if n, err := tab.Clear(ctx); err != nil || n != 2 {
				t.Fatalf("clear = %d, %v", n, err)
			}
			if _, err := local.Get(ctx, "sb-x"); err != nil {
				t.Fatalf("clearing the tab area must not touch local storage: %v", err)
			}
		})
	}
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemory()
	now := time.Now()
	m.now = func() time.Time { return now }
	_ = m.Set(context.Background(), "k", "v", time.Second)

	now = now.Add(2 * time.Second)
	if _, err := m.Get(context.Background(), "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired key, got %v", err)
	}
	if m.Len() != 0 {
		t.Fatalf("expired key should be dropped, len=%d", m.Len())
	}
}

func TestRedisExpiryAndGlobEscaping(t *testing.T) {
	store, mr := newRedisStorage(t)
	ctx := context.Background()

	_ = store.Set(ctx, "visitor:1:local:sb-[x]", "literal", 0)
	_ = store.Set(ctx, "visitor:1:local:sb-a", "other", 0)
	n, err := store.DeletePrefix(ctx, "visitor:1:local:sb-[")
	if err != nil || n != 1 {
		t.Fatalf("glob characters should match literally, removed=%d err=%v", n, err)
	}

	_ = store.Set(ctx, "short", "v", time.Second)
	mr.FastForward(2 * time.Second)
	if _, err := store.Get(ctx, "short"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired key, got %v", err)
	}
}

func TestRedisUnavailable(t *testing.T) {
	store, mr := newRedisStorage(t)
	mr.Close()
	if _, err := store.Get(context.Background(), "k"); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
