package guard

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hongminglow/savedu/internal/authstate"
	"github.com/hongminglow/savedu/internal/metrics"
	"github.com/hongminglow/savedu/internal/models"
)

// Locator finds the auth context of the visitor making r.
type Locator func(r *http.Request) *authstate.Context

// RoleLookup is the fresh lookup used by the dispatch entry point.
type RoleLookup interface {
	Lookup(ctx context.Context, userID string) (models.Role, error)
}

// Views renders the pages owned by the guards.
type Views interface {
	Waiting(w http.ResponseWriter, r *http.Request)
	DispatchError(w http.ResponseWriter, r *http.Request, message string)
}

type Options struct {
	SettleWait  time.Duration
	RoleTimeout time.Duration
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Guard adapts Decide and DispatchDecision to HTTP.
type Guard struct {
	locate Locator
	roles  RoleLookup
	views  Views
	opts   Options
	logger *slog.Logger
}

func New(locate Locator, roles RoleLookup, views Views, opts Options) *Guard {
	if opts.SettleWait <= 0 {
		opts.SettleWait = 5 * time.Second
	}
	if opts.RoleTimeout <= 0 {
		opts.RoleTimeout = 4 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{locate: locate, roles: roles, views: views, opts: opts, logger: logger}
}

type stateKey struct{}

// WithState stores the state a guard decided on.
func WithState(ctx context.Context, state authstate.State) context.Context {
	return context.WithValue(ctx, stateKey{}, state)
}

// StateFrom returns the state stored by WithState.
func StateFrom(ctx context.Context) (authstate.State, bool) {
	state, ok := ctx.Value(stateKey{}).(authstate.State)
	return state, ok
}

// Protected admits users with role. It waits a bounded time for the visitor's state to
// settle and renders a self-refreshing placeholder if it has not.
func (g *Guard) Protected(role models.Role) func(http.Handler) http.Handler {
	rule := RequireRole(role)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := g.settled(r)
			d := Decide(state, rule, r.URL.RequestURI())
			g.opts.Metrics.GuardDecision(rule.String(), d.Outcome.String())
			g.apply(w, r, d, state, next)
		})
	}
}

// PublicOnlyRoutes lets anonymous visitors through and sends signed-in users to the
// dashboard. It never waits for an unsettled state.
func (g *Guard) PublicOnlyRoutes(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var state authstate.State
		if ac := g.locate(r); ac != nil {
			state = ac.State()
		}
		d := Decide(state, PublicOnly, r.URL.RequestURI())
		g.opts.Metrics.GuardDecision(PublicOnly.String(), d.Outcome.String())
		g.apply(w, r, d, state, next)
	})
}

// Dispatch sends a signed-in user to the home of their role, using its own role lookup
// rather than the cached one. Failures render a recoverable error panel.
func (g *Guard) Dispatch(w http.ResponseWriter, r *http.Request) {
	state := g.settled(r)

	var (
		role models.Role
		err  error
	)
	if state.Authenticated() && !state.Loading {
		ctx, cancel := context.WithTimeout(r.Context(), g.opts.RoleTimeout)
		role, err = g.roles.Lookup(ctx, state.User.ID)
		cancel()
		if err != nil {
			g.logger.Warn("dashboard dispatch failed", "user_id", state.User.ID, "error", err)
		}
	}
	d := DispatchDecision(state, role, err)
	g.opts.Metrics.GuardDecision("dispatch", d.Outcome.String())

	if d.Outcome == ShowError {
		g.views.DispatchError(w, r, d.Message)
		return
	}
	g.apply(w, r, d, state, nil)
}

func (g *Guard) settled(r *http.Request) authstate.State {
	ac := g.locate(r)
	if ac == nil {
		return authstate.State{}
	}
	ctx, cancel := context.WithTimeout(r.Context(), g.opts.SettleWait)
	defer cancel()
	state, _ := ac.Settled(ctx)
	return state
}

func (g *Guard) apply(w http.ResponseWriter, r *http.Request, d Decision, state authstate.State, next http.Handler) {
	switch d.Outcome {
	case Render:
		if next != nil {
			next.ServeHTTP(w, r.WithContext(WithState(r.Context(), state)))
		}
	case Wait:
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Refresh", "1")
		g.views.Waiting(w, r)
	default:
		w.Header().Set("Cache-Control", "no-store")
		http.Redirect(w, r, d.Location, http.StatusSeeOther)
	}
}
