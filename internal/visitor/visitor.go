// Package visitor keeps the per-browser auth bundle (provider client, session store, auth
// context) alive while a visitor is active and tears it down when it goes idle.
package visitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/hongminglow/savedu/internal/authstate"
	"github.com/hongminglow/savedu/internal/metrics"
	"github.com/hongminglow/savedu/internal/provider"
	"github.com/hongminglow/savedu/internal/session"
	"github.com/hongminglow/savedu/internal/tokens"
)

// Visitor is one browser's auth bundle.
type Visitor struct {
	ID       string
	Client   *provider.Client
	Sessions *session.Store
	Auth     *authstate.Context
	// Tab is the visitor's transient storage area (flash messages).
	Tab tokens.Area
}

func (v *Visitor) start() {
	v.Auth.Start()
	v.Client.StartAutoRefresh()
}

// Close releases the bundle. Tokens stay in storage so a returning visitor is restored.
func (v *Visitor) Close() {
	v.Auth.Close()
	v.Client.StopAutoRefresh()
	v.Sessions.Close()
	v.Sessions.Wait()
}

// Settings are the timings and names shared by every visitor.
type Settings struct {
	StorageKey          string
	TokenPrefix         string
	RefreshMargin       time.Duration
	AutoRefreshInterval time.Duration
	SessionFetchTimeout time.Duration
	SignOutTimeout      time.Duration
	RoleLookupTimeout   time.Duration
}

// Deps are the shared services a visitor bundle is built from.
type Deps struct {
	Backend  provider.Backend
	Storage  tokens.Storage
	Roles    authstate.RoleResolver
	Settings Settings
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Factory builds the bundle of a visitor id.
type Factory func(id string) *Visitor

// NewFactory wires a bundle from deps.
func NewFactory(deps Deps) Factory {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return func(id string) *Visitor {
		vlog := logger.With("visitor_id", id)
		local := tokens.LocalArea(deps.Storage, id)
		tab := tokens.TabArea(deps.Storage, id)
		s := deps.Settings

		client := provider.NewClient(deps.Backend, local, provider.Options{
			StorageKey:          s.StorageKey,
			RefreshMargin:       s.RefreshMargin,
			AutoRefreshInterval: s.AutoRefreshInterval,
			CallTimeout:         s.SessionFetchTimeout,
			Logger:              vlog,
			Metrics:             deps.Metrics,
		})
		sessions := session.New(client, local, tab, session.Options{
			FetchTimeout:   s.SessionFetchTimeout,
			SignOutTimeout: s.SignOutTimeout,
			TokenPrefix:    s.TokenPrefix,
			Logger:         vlog,
			Metrics:        deps.Metrics,
		})
		auth := authstate.New(sessions, deps.Roles, authstate.Options{
			RoleTimeout: s.RoleLookupTimeout,
			Logger:      vlog,
			Metrics:     deps.Metrics,
		})
		return &Visitor{ID: id, Client: client, Sessions: sessions, Auth: auth, Tab: tab}
	}
}

type ctxKey struct{}

// WithVisitor stores v in ctx.
func WithVisitor(ctx context.Context, v *Visitor) context.Context {
	return context.WithValue(ctx, ctxKey{}, v)
}

// FromContext returns the visitor stored by WithVisitor, or nil.
func FromContext(ctx context.Context) *Visitor {
	v, _ := ctx.Value(ctxKey{}).(*Visitor)
	return v
}
