package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hongminglow/savedu/internal/metrics"
	"github.com/hongminglow/savedu/internal/models"
	"github.com/hongminglow/savedu/internal/tokens"
)

// Listener receives session transitions. It runs synchronously on the goroutine that caused
// the transition and must not sign in or out through the same client.
type Listener func(event Event, session *models.Session)

// Options tunes a Client.
type Options struct {
	// StorageKey is the key of the persisted session inside the local area.
	StorageKey string
	// RefreshMargin renews the access token when it expires within this window.
	RefreshMargin time.Duration
	// AutoRefreshInterval is the period of the background renewal loop.
	AutoRefreshInterval time.Duration
	// CallTimeout bounds each background renewal.
	CallTimeout time.Duration
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Client is one visitor's view of the provider.
type Client struct {
	backend Backend
	area    tokens.Area
	opts    Options
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time

	// mu serializes every operation touching the session so a refresh token is redeemed once.
	mu      sync.Mutex
	session *models.Session
	loaded  bool

	emitMu    sync.Mutex
	subsMu    sync.Mutex
	listeners map[int]Listener
	nextSub   int

	refreshMu   sync.Mutex
	stopRefresh context.CancelFunc
	refreshDone chan struct{}
}

// NewClient creates a client persisting its session in area.
func NewClient(backend Backend, area tokens.Area, opts Options) *Client {
	if opts.StorageKey == "" {
		opts.StorageKey = "sb-local-auth-token"
	}
	if opts.AutoRefreshInterval <= 0 {
		opts.AutoRefreshInterval = 30 * time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		backend:   backend,
		area:      area,
		opts:      opts,
		logger:    logger,
		tracer:    otel.Tracer("github.com/hongminglow/savedu/internal/provider"),
		now:       time.Now,
		listeners: make(map[int]Listener),
	}
}

// GetSession returns the current session, renewing it first when it is close to expiry.
// A rejected refresh token clears the session, emits SIGNED_OUT and yields (nil, nil).
// Any other failure is returned as an error and leaves the stored session untouched.
func (c *Client) GetSession(ctx context.Context) (*models.Session, error) {
	c.mu.Lock()
	if err := c.loadLocked(ctx); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if c.session == nil {
		c.mu.Unlock()
		return nil, nil
	}
	if !c.session.ExpiresWithin(c.now(), c.opts.RefreshMargin) {
		s := *c.session
		c.mu.Unlock()
		return &s, nil
	}
	return c.refreshLocked(ctx)
}

// refreshLocked renews the session. It is entered with mu held and releases it.
func (c *Client) refreshLocked(ctx context.Context) (*models.Session, error) {
	ctx, span := c.tracer.Start(ctx, "provider.refresh")
	defer span.End()

	next, err := c.backend.RefreshGrant(ctx, c.session.RefreshToken)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, ErrInvalidGrant) {
			c.opts.Metrics.ProviderCall("refresh", "invalid_grant")
			c.session = nil
			if derr := c.area.Delete(ctx, c.opts.StorageKey); derr != nil {
				c.logger.Warn("drop rejected session", "error", derr)
			}
			c.emitLocked(EventSignedOut, nil)
			return nil, nil
		}
		c.opts.Metrics.ProviderCall("refresh", "error")
		c.mu.Unlock()
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	c.opts.Metrics.ProviderCall("refresh", "ok")
	span.SetAttributes(attribute.String("user.id", next.User.ID))
	if err := c.storeLocked(ctx, next); err != nil {
		c.logger.Warn("persist refreshed session", "error", err)
	}
	s := *next
	c.emitLocked(EventTokenRefreshed, &s)
	out := s
	return &out, nil
}

// SignInWithPassword performs a password grant and stores the resulting session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error) {
	ctx, span := c.tracer.Start(ctx, "provider.sign_in")
	defer span.End()

	c.mu.Lock()
	session, err := c.backend.PasswordGrant(ctx, email, password)
	if err != nil {
		c.mu.Unlock()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.opts.Metrics.ProviderCall("sign_in", outcome(err))
		return nil, err
	}
	c.opts.Metrics.ProviderCall("sign_in", "ok")
	if err := c.storeLocked(ctx, session); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.loaded = true
	s := *session
	c.emitLocked(EventSignedIn, &s)
	out := s
	return &out, nil
}

// SignUp registers a user. When the provider issues a session right away it is stored and
// SIGNED_IN is emitted; otherwise the returned session is nil.
func (c *Client) SignUp(ctx context.Context, params SignUpParams) (*models.User, *models.Session, error) {
	ctx, span := c.tracer.Start(ctx, "provider.sign_up")
	defer span.End()

	c.mu.Lock()
	user, session, err := c.backend.SignUp(ctx, params)
	if err != nil {
		c.mu.Unlock()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.opts.Metrics.ProviderCall("sign_up", outcome(err))
		return nil, nil, err
	}
	c.opts.Metrics.ProviderCall("sign_up", "ok")
	if session == nil {
		c.mu.Unlock()
		return user, nil, nil
	}
	if err := c.storeLocked(ctx, session); err != nil {
		c.mu.Unlock()
		return nil, nil, err
	}
	c.loaded = true
	s := *session
	c.emitLocked(EventSignedIn, &s)
	out := s
	return user, &out, nil
}

// SignOutLocal forgets the session on this device and returns its access token so the
// caller can revoke it remotely. SIGNED_OUT is emitted even when no session was held.
func (c *Client) SignOutLocal(ctx context.Context) (string, error) {
	c.mu.Lock()
	if err := c.loadLocked(ctx); err != nil {
		c.logger.Warn("load session before sign-out", "error", err)
	}
	var accessToken string
	if c.session != nil {
		accessToken = c.session.AccessToken
	}
	c.session = nil
	c.loaded = true
	err := c.area.Delete(ctx, c.opts.StorageKey)
	c.emitLocked(EventSignedOut, nil)
	if err != nil {
		return accessToken, fmt.Errorf("delete session: %w", err)
	}
	return accessToken, nil
}

// Revoke invalidates accessToken at the provider.
func (c *Client) Revoke(ctx context.Context, accessToken string, scope Scope) error {
	if accessToken == "" {
		return nil
	}
	ctx, span := c.tracer.Start(ctx, "provider.logout", trace.WithAttributes(attribute.String("scope", string(scope))))
	defer span.End()
	if err := c.backend.Logout(ctx, accessToken, scope); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.opts.Metrics.ProviderCall("logout", "error")
		return fmt.Errorf("revoke session: %w", err)
	}
	c.opts.Metrics.ProviderCall("logout", "ok")
	return nil
}

// OnAuthStateChange registers listener and returns the function removing it.
func (c *Client) OnAuthStateChange(listener Listener) func() {
	c.subsMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.listeners[id] = listener
	c.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subsMu.Lock()
			delete(c.listeners, id)
			c.subsMu.Unlock()
		})
	}
}

// StartAutoRefresh renews the session in the background until StopAutoRefresh. Calling it
// twice is a no-op.
func (c *Client) StartAutoRefresh() {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	if c.stopRefresh != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.stopRefresh = cancel
	c.refreshDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.opts.AutoRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				callCtx, callCancel := context.WithTimeout(ctx, c.opts.CallTimeout)
				if _, err := c.GetSession(callCtx); err != nil && ctx.Err() == nil {
					c.logger.Debug("auto refresh failed", "error", err)
				}
				callCancel()
			}
		}
	}()
}

// StopAutoRefresh stops the background loop and waits for it to exit.
func (c *Client) StopAutoRefresh() {
	c.refreshMu.Lock()
	cancel, done := c.stopRefresh, c.refreshDone
	c.stopRefresh, c.refreshDone = nil, nil
	c.refreshMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Client) loadLocked(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	raw, err := c.area.Get(ctx, c.opts.StorageKey)
	if err != nil {
		if errors.Is(err, tokens.ErrNotFound) {
			c.loaded = true
			return nil
		}
		return fmt.Errorf("read stored session: %w", err)
	}
	var session models.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		c.logger.Warn("discarding unreadable stored session", "error", err)
		_ = c.area.Delete(ctx, c.opts.StorageKey)
		c.loaded = true
		return nil
	}
	c.session = &session
	c.loaded = true
	return nil
}

func (c *Client) storeLocked(ctx context.Context, session *models.Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	s := *session
	c.session = &s
	if err := c.area.Set(ctx, c.opts.StorageKey, string(raw), 0); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// emitLocked hands the emit lock over from mu so listeners observe transitions in the order
// they were applied while mu is already free for readers. It releases mu.
func (c *Client) emitLocked(event Event, session *models.Session) {
	c.emitMu.Lock()
	c.mu.Unlock()
	defer c.emitMu.Unlock()

	c.subsMu.Lock()
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	c.subsMu.Unlock()
	slices.Sort(ids)

	for _, id := range ids {
		c.subsMu.Lock()
		listener, ok := c.listeners[id]
		c.subsMu.Unlock()
		if !ok {
			continue
		}
		var s *models.Session
		if session != nil {
			cp := *session
			s = &cp
		}
		listener(event, s)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrUserExists):
		return "user_exists"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
