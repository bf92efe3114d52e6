// Package session wraps the provider client with the guarantees the rest of the service
// relies on: bounded session fetches that fall back to the last known-good session, ordered
// change notifications, and a sign-out that clears local state before the slow remote call.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hongminglow/savedu/internal/metrics"
	"github.com/hongminglow/savedu/internal/models"
	"github.com/hongminglow/savedu/internal/provider"
	"github.com/hongminglow/savedu/internal/tokens"
)

// ErrTimeout is returned when the provider did not answer within the fetch timeout.
var ErrTimeout = errors.New("session: fetch timed out")

// Provider is the part of *provider.Client the store uses.
type Provider interface {
	GetSession(ctx context.Context) (*models.Session, error)
	SignOutLocal(ctx context.Context) (string, error)
	Revoke(ctx context.Context, accessToken string, scope provider.Scope) error
	OnAuthStateChange(listener provider.Listener) func()
}

type Options struct {
	FetchTimeout   time.Duration
	SignOutTimeout time.Duration
	// TokenPrefix selects the provider keys removed from the local area on sign-out.
	TokenPrefix string
	Scope       provider.Scope
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Store is one visitor's session facade.
type Store struct {
	client Provider
	local  tokens.Area
	tab    tokens.Area
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	lastGood *models.Session

	unsubscribe func()
	revocations sync.WaitGroup
}

// New creates a store over client. local and tab are the visitor's storage areas.
func New(client Provider, local, tab tokens.Area, opts Options) *Store {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	if opts.SignOutTimeout <= 0 {
		opts.SignOutTimeout = 5 * time.Second
	}
	if opts.TokenPrefix == "" {
		opts.TokenPrefix = "sb-"
	}
	if opts.Scope == "" {
		opts.Scope = provider.ScopeLocal
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{client: client, local: local, tab: tab, opts: opts, logger: logger}
	s.unsubscribe = client.OnAuthStateChange(func(_ provider.Event, session *models.Session) {
		s.remember(session)
	})
	return s
}

// GetSession asks the provider for the current session within the fetch timeout.
//
// On failure the last known-good session is returned together with the error, so callers
// can keep showing a signed-in user across a transient outage. An authoritative "no
// session" returns (nil, nil).
func (s *Store) GetSession(ctx context.Context) (*models.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	defer cancel()

	type result struct {
		session *models.Session
		err     error
	}
	done := make(chan result, 1)
	go func() {
		session, err := s.client.GetSession(ctx)
		done <- result{session, err}
	}()

	// The provider may ignore cancellation; the deadline still bounds the caller.
	select {
	case res := <-done:
		if res.err != nil {
			s.opts.Metrics.SessionFetch("error")
			return s.stale(), res.err
		}
		s.opts.Metrics.SessionFetch(outcome(res.session))
		s.remember(res.session)
		return copySession(res.session), nil
	case <-ctx.Done():
		s.opts.Metrics.SessionFetch("timeout")
		return s.stale(), fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}
}

// Subscribe registers fn for provider transitions, delivered in order. The returned
// function removes it and must be called once the subscriber is done.
func (s *Store) Subscribe(fn func(event provider.Event, session *models.Session)) func() {
	return s.client.OnAuthStateChange(func(event provider.Event, session *models.Session) {
		fn(event, session)
	})
}

// SignOut clears the session on this device right away and revokes it remotely in the
// background. Local clearing failures are returned; remote failures are only logged.
func (s *Store) SignOut(ctx context.Context) error {
	accessToken, err := s.client.SignOutLocal(ctx)
	s.remember(nil)

	var errs []error
	if err != nil {
		errs = append(errs, err)
	}
	if _, err := s.local.DeletePrefix(ctx, s.opts.TokenPrefix); err != nil {
		errs = append(errs, fmt.Errorf("clear local tokens: %w", err))
	}
	if _, err := s.tab.Clear(ctx); err != nil {
		errs = append(errs, fmt.Errorf("clear tab storage: %w", err))
	}

	if accessToken != "" {
		s.revocations.Add(1)
		go func() {
			defer s.revocations.Done()
			rctx, cancel := context.WithTimeout(context.Background(), s.opts.SignOutTimeout)
			defer cancel()
			if err := s.client.Revoke(rctx, accessToken, s.opts.Scope); err != nil {
				s.logger.Warn("remote sign-out failed; local session already cleared", "error", err)
			}
		}()
	}
	return errors.Join(errs...)
}

// Wait blocks until background revocations finished.
func (s *Store) Wait() {
	s.revocations.Wait()
}

// Close stops tracking provider transitions.
func (s *Store) Close() {
	s.unsubscribe()
}

func (s *Store) remember(session *models.Session) {
	s.mu.Lock()
	s.lastGood = copySession(session)
	s.mu.Unlock()
}

func (s *Store) stale() *models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copySession(s.lastGood)
}

func copySession(session *models.Session) *models.Session {
	if session == nil {
		return nil
	}
	cp := *session
	return &cp
}

func outcome(session *models.Session) string {
	if session == nil {
		return "anonymous"
	}
	return "ok"
}
