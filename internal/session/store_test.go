package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hongminglow/savedu/internal/models"
	"github.com/hongminglow/savedu/internal/provider"
	"github.com/hongminglow/savedu/internal/provider/providertest"
	"github.com/hongminglow/savedu/internal/tokens"
)

type stubProvider struct {
	mu        sync.Mutex
	get       func(ctx context.Context) (*models.Session, error)
	listeners []provider.Listener
}

func (p *stubProvider) GetSession(ctx context.Context) (*models.Session, error) {
	p.mu.Lock()
	get := p.get
	p.mu.Unlock()
	return get(ctx)
}

func (p *stubProvider) setGet(get func(ctx context.Context) (*models.Session, error)) {
	p.mu.Lock()
	p.get = get
	p.mu.Unlock()
}

func (p *stubProvider) SignOutLocal(context.Context) (string, error) { return "", nil }

func (p *stubProvider) Revoke(context.Context, string, provider.Scope) error { return nil }

func (p *stubProvider) OnAuthStateChange(l provider.Listener) func() {
	p.mu.Lock()
	p.listeners = append(p.listeners, l)
	p.mu.Unlock()
	return func() {}
}

func newStubStore(p *stubProvider, timeout time.Duration) *Store {
	mem := tokens.NewMemory()
	return New(p, tokens.LocalArea(mem, "v"), tokens.TabArea(mem, "v"), Options{FetchTimeout: timeout})
}

func TestGetSessionTimeoutReturnsLastKnownGood(t *testing.T) {
	good := &models.Session{AccessToken: "at", User: models.User{ID: "u1"}}
	p := &stubProvider{get: func(context.Context) (*models.Session, error) { return good, nil }}
	store := newStubStore(p, 20*time.Millisecond)

	if s, err := store.GetSession(context.Background()); err != nil || s.User.ID != "u1" {
		t.Fatalf("first fetch = %+v, %v", s, err)
	}

	// A provider that ignores cancellation entirely.
	block := make(chan struct{})
	defer close(block)
	p.setGet(func(context.Context) (*models.Session, error) {
		<-block
		return nil, nil
	})

	start := time.Now()
	s, err := store.GetSession(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if s == nil || s.User.ID != "u1" {
		t.Fatalf("timeout must keep the last known-good session, got %+v", s)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("fetch was not bounded by its timeout: %s", elapsed)
	}
}

func TestGetSessionErrorAndAuthoritativeNegative(t *testing.T) {
	good := &models.Session{AccessToken: "at", User: models.User{ID: "u1"}}
	p := &stubProvider{get: func(context.Context) (*models.Session, error) { return good, nil }}
	store := newStubStore(p, time.Second)
	_, _ = store.GetSession(context.Background())

	p.setGet(func(context.Context) (*models.Session, error) { return nil, errors.New("network down") })
	s, err := store.GetSession(context.Background())
	if err == nil || s == nil || s.User.ID != "u1" {
		t.Fatalf("transient error should return stale session, got %+v, %v", s, err)
	}

	p.setGet(func(context.Context) (*models.Session, error) { return nil, nil })
	if s, err := store.GetSession(context.Background()); s != nil || err != nil {
		t.Fatalf("expected (nil, nil), got %+v, %v", s, err)
	}

	p.setGet(func(context.Context) (*models.Session, error) { return nil, errors.New("down again") })
	if s, _ := store.GetSession(context.Background()); s != nil {
		t.Fatalf("an authoritative negative forgets the last known-good session, got %+v", s)
	}
}

func TestSignOutClearsLocallyBeforeRemoteCompletes(t *testing.T) {
	backend := providertest.New()
	backend.AddUser("u1", "a@example.com", "pw")
	backend.LogoutGate = make(chan struct{})

	mem := tokens.NewMemory()
	local := tokens.LocalArea(mem, "v")
	tab := tokens.TabArea(mem, "v")
	client := provider.NewClient(backend, local, provider.Options{StorageKey: "sb-ref-auth-token"})
	store := New(client, local, tab, Options{SignOutTimeout: time.Second})
	defer store.Close()

	ctx := context.Background()
	if _, err := client.SignInWithPassword(ctx, "a@example.com", "pw"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	_ = local.Set(ctx, "sb-ref-code-verifier", "x", 0)
	_ = local.Set(ctx, "theme", "dark", 0)
	_ = tab.Set(ctx, "flash", "hello", 0)

	var events []provider.Event
	var mu sync.Mutex
	unsubscribe := store.Subscribe(func(e provider.Event, _ *models.Session) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	defer unsubscribe()

	if err := store.SignOut(ctx); err != nil {
		t.Fatalf("sign out: %v", err)
	}

	// Remote logout is still blocked on the gate, yet the device is already signed out.
	if s, err := store.GetSession(ctx); s != nil || err != nil {
		t.Fatalf("expected no session after sign-out, got %+v, %v", s, err)
	}
	if _, err := local.Get(ctx, "sb-ref-code-verifier"); !errors.Is(err, tokens.ErrNotFound) {
		t.Fatalf("prefixed keys should be removed, got %v", err)
	}
	if v, _ := local.Get(ctx, "theme"); v != "dark" {
		t.Fatalf("unrelated keys should survive, got %q", v)
	}
	if _, err := tab.Get(ctx, "flash"); !errors.Is(err, tokens.ErrNotFound) {
		t.Fatalf("tab area should be cleared, got %v", err)
	}
	if _, logouts := backend.Calls(); len(logouts) != 0 {
		t.Fatalf("remote logout should still be pending, got %v", logouts)
	}

	close(backend.LogoutGate)
	store.Wait()
	if _, logouts := backend.Calls(); len(logouts) != 1 {
		t.Fatalf("expected one remote logout, got %v", logouts)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0] != provider.EventSignedOut {
		t.Fatalf("expected SIGNED_OUT, got %v", events)
	}
}

func TestSignOutRemoteFailureIsNotReturned(t *testing.T) {
	backend := providertest.New()
	backend.AddUser("u1", "a@example.com", "pw")
	backend.LogoutErr = errors.New("provider down")

	mem := tokens.NewMemory()
	local := tokens.LocalArea(mem, "v")
	client := provider.NewClient(backend, local, provider.Options{})
	store := New(client, local, tokens.TabArea(mem, "v"), Options{})
	if _, err := client.SignInWithPassword(context.Background(), "a@example.com", "pw"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if err := store.SignOut(context.Background()); err != nil {
		t.Fatalf("remote failure must not fail sign-out: %v", err)
	}
	store.Wait()
}
