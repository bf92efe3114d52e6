package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/hongminglow/savedu/internal/auth"
	"github.com/hongminglow/savedu/internal/config"
	"github.com/hongminglow/savedu/internal/metrics"
	"github.com/hongminglow/savedu/internal/provider"
	"github.com/hongminglow/savedu/internal/provider/gotrue"
	"github.com/hongminglow/savedu/internal/provider/local"
	"github.com/hongminglow/savedu/internal/roles"
	"github.com/hongminglow/savedu/internal/server"
	"github.com/hongminglow/savedu/internal/storage/postgres"
	"github.com/hongminglow/savedu/internal/tokens"
	"github.com/hongminglow/savedu/internal/visitor"
	"github.com/hongminglow/savedu/internal/web"
)

func serveCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Create missing tables before serving")
	return cmd
}

func serve(ctx context.Context, migrate bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	store, err := postgres.Open(initCtx, cfg.DatabaseURL, migrate)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer store.Close()

	kv, closeKV, err := tokenStorage(initCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeKV()

	m := metrics.New()
	tm := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	var backend provider.Backend
	switch cfg.AuthProvider {
	case config.ProviderGoTrue:
		backend = gotrue.New(cfg.SupabaseURL, cfg.SupabaseAnonKey, tm, &http.Client{Timeout: cfg.SessionFetchTimeout})
	default:
		backend = local.New(store, tm, kv, cfg.RefreshTokenTTL)
	}
	logger.Info("auth provider selected", "provider", cfg.AuthProvider, "token_key", cfg.TokenStorageKey())

	resolver := roles.New(store, logger, m)
	factory := visitor.NewFactory(visitor.Deps{
		Backend: backend,
		Storage: kv,
		Roles:   resolver,
		Settings: visitor.Settings{
			StorageKey:          cfg.TokenStorageKey(),
			TokenPrefix:         cfg.TokenKeyPrefix,
			RefreshMargin:       cfg.TokenRefreshMargin,
			AutoRefreshInterval: cfg.AutoRefreshInterval,
			SessionFetchTimeout: cfg.SessionFetchTimeout,
			SignOutTimeout:      cfg.SignOutTimeout,
			RoleLookupTimeout:   cfg.RoleLookupTimeout,
		},
		Logger:  logger,
		Metrics: m,
	})
	registry := visitor.NewRegistry(factory, visitor.Options{
		IdleTTL: cfg.VisitorIdleTTL,
		MaxSize: cfg.VisitorMax,
		Logger:  logger,
		Metrics: m,
	})
	registry.StartJanitor(time.Minute)
	defer registry.Close()

	views, err := web.New(logger)
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}

	srv := server.New(cfg, server.Deps{
		Store:    store,
		DB:       store,
		Visitors: registry,
		Roles:    resolver,
		Views:    views,
		Metrics:  m,
		Logger:   logger,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("SAVEDU listening", "addr", cfg.HTTPAddress())
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Error("graceful shutdown error", "error", err)
	}
	return nil
}

// tokenStorage uses Redis when REDIS_ADDR is set and an in-process store otherwise.
func tokenStorage(ctx context.Context, cfg config.Config, logger *slog.Logger) (tokens.Storage, func(), error) {
	if cfg.RedisAddr == "" {
		logger.Warn("REDIS_ADDR not set; sessions are kept in memory and lost on restart")
		return tokens.NewMemory(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	return tokens.NewRedis(client, "savedu:"), func() { _ = client.Close() }, nil
}
