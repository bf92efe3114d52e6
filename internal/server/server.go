package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hongminglow/savedu/internal/authstate"
	"github.com/hongminglow/savedu/internal/config"
	"github.com/hongminglow/savedu/internal/guard"
	"github.com/hongminglow/savedu/internal/http/handlers"
	"github.com/hongminglow/savedu/internal/metrics"
	"github.com/hongminglow/savedu/internal/middleware"
	"github.com/hongminglow/savedu/internal/models"
	"github.com/hongminglow/savedu/internal/storage"
	"github.com/hongminglow/savedu/internal/visitor"
	"github.com/hongminglow/savedu/internal/web"
)

// Deps are the services the HTTP surface is built from.
type Deps struct {
	Store    storage.Store
	DB       handlers.Pinger
	Visitors *visitor.Registry
	Roles    guard.RoleLookup
	Views    *web.Renderer
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Server wraps an http.Server with configured routes.
type Server struct {
	inner *http.Server
}

// New wires up middleware, routes, and returns a ready server.
func New(cfg config.Config, deps Deps) *Server {
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           Router(cfg, deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return &Server{inner: httpServer}
}

// Router builds the route tree.
func Router(cfg config.Config, deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g := guard.New(locateAuth, deps.Roles, deps.Views, guard.Options{
		SettleWait:  cfg.GuardSettleWait,
		RoleTimeout: cfg.RoleLookupTimeout,
		Logger:      logger,
		Metrics:     deps.Metrics,
	})
	pages := handlers.NewPagesHandler(deps.Views, deps.Store, logger)
	auth := handlers.NewAuthHandler(deps.Views, cfg.SignInTimeout, logger)
	sessions := handlers.NewSessionHandler(cfg.SessionFetchTimeout, cfg.SignOutTimeout, logger)
	student := handlers.NewStudentHandler(deps.Views, deps.Store, logger)
	admin := handlers.NewAdminHandler(deps.Views, deps.Store, logger)
	visitors := middleware.Visitors(deps.Visitors, cfg.CookieSecure)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(logger, deps.Metrics))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))

	handlers.NewHealthHandler(time.Now(), deps.DB).Register(r)
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	r.Method(http.MethodGet, "/static/*", web.Static())

	r.Group(func(r chi.Router) {
		r.Use(visitors)
		pages.Register(r)
		sessions.Register(r)
		r.Get(guard.DispatchPath, g.Dispatch)

		r.Group(func(r chi.Router) {
			r.Use(g.PublicOnlyRoutes)
			auth.Register(r)
		})
		r.Group(func(r chi.Router) {
			r.Use(g.Protected(models.RoleStudent))
			student.Register(r)
		})
		r.Group(func(r chi.Router) {
			r.Use(g.Protected(models.RoleAdmin))
			admin.Register(r)
		})
	})
	r.NotFound(visitors(http.HandlerFunc(pages.Home)).ServeHTTP)

	return r
}

func locateAuth(r *http.Request) *authstate.Context {
	if v := visitor.FromContext(r.Context()); v != nil {
		return v.Auth
	}
	return nil
}

// Start begins serving HTTP traffic.
func (s *Server) Start() error {
	return s.inner.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
