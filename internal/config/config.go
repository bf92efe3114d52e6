package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider modes.
const (
	ProviderGoTrue = "gotrue"
	ProviderLocal  = "local"
)

// Config holds runtime configuration sourced from env vars.
type Config struct {
	Port        string
	DatabaseURL string
	CORSOrigins []string
	LogLevel    slog.Level

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AuthProvider    string
	SupabaseURL     string
	SupabaseAnonKey string
	JWTSecret       string
	JWTIssuer       string
	JWTTTL          time.Duration
	RefreshTokenTTL time.Duration

	SessionFetchTimeout time.Duration
	RoleLookupTimeout   time.Duration
	SignInTimeout       time.Duration
	SignOutTimeout      time.Duration
	GuardSettleWait     time.Duration
	TokenRefreshMargin  time.Duration
	AutoRefreshInterval time.Duration

	VisitorIdleTTL time.Duration
	VisitorMax     int
	TokenKeyPrefix string
	CookieSecure   bool
}

// Load reads configuration from the environment and performs minimal validation.
func Load() (Config, error) {
	cfg := Config{
		Port:        fallback(os.Getenv("PORT"), "8080"),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		CORSOrigins: parseCSV(os.Getenv("CORS_ALLOWED_ORIGINS")),
		LogLevel:    parseLevel(os.Getenv("LOG_LEVEL")),

		RedisAddr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getenvInt("REDIS_DB", 0),

		SupabaseURL:     strings.TrimRight(strings.TrimSpace(os.Getenv("SUPABASE_URL")), "/"),
		SupabaseAnonKey: strings.TrimSpace(os.Getenv("SUPABASE_ANON_KEY")),
		JWTSecret:       strings.TrimSpace(os.Getenv("JWT_SECRET")),
		JWTIssuer:       fallback(os.Getenv("JWT_ISSUER"), "savedu"),
		RefreshTokenTTL: getenvDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),

		SessionFetchTimeout: getenvDuration("SESSION_FETCH_TIMEOUT", 10*time.Second),
		RoleLookupTimeout:   getenvDuration("ROLE_LOOKUP_TIMEOUT", 4*time.Second),
		SignInTimeout:       getenvDuration("SIGN_IN_TIMEOUT", 6*time.Second),
		SignOutTimeout:      getenvDuration("SIGN_OUT_TIMEOUT", 5*time.Second),
		GuardSettleWait:     getenvDuration("GUARD_SETTLE_WAIT", 5*time.Second),
		TokenRefreshMargin:  getenvDuration("TOKEN_REFRESH_MARGIN", 90*time.Second),
		AutoRefreshInterval: getenvDuration("AUTO_REFRESH_INTERVAL", 30*time.Second),

		VisitorIdleTTL: getenvDuration("VISITOR_IDLE_TTL", 30*time.Minute),
		VisitorMax:     getenvInt("VISITOR_MAX", 10000),
		TokenKeyPrefix: fallback(os.Getenv("TOKEN_KEY_PREFIX"), "sb-"),
		CookieSecure:   getenvBool("COOKIE_SECURE", false),
	}

	minutes := fallback(os.Getenv("JWT_TTL_MINUTES"), "60")
	if ttlMinutes, err := strconv.Atoi(minutes); err == nil && ttlMinutes > 0 {
		cfg.JWTTTL = time.Duration(ttlMinutes) * time.Minute
	} else {
		cfg.JWTTTL = 60 * time.Minute
	}

	defaultProvider := ProviderLocal
	if cfg.SupabaseURL != "" {
		defaultProvider = ProviderGoTrue
	}
	cfg.AuthProvider = strings.ToLower(fallback(os.Getenv("AUTH_PROVIDER"), defaultProvider))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	switch c.AuthProvider {
	case ProviderGoTrue:
		if c.SupabaseURL == "" {
			return errors.New("SUPABASE_URL is required for the gotrue provider")
		}
		if _, err := url.ParseRequestURI(c.SupabaseURL); err != nil {
			return fmt.Errorf("invalid SUPABASE_URL: %w", err)
		}
		if c.SupabaseAnonKey == "" {
			return errors.New("SUPABASE_ANON_KEY is required for the gotrue provider")
		}
	case ProviderLocal:
		if c.JWTSecret == "" {
			return errors.New("JWT_SECRET is required for the local provider")
		}
	default:
		return fmt.Errorf("unknown AUTH_PROVIDER %q", c.AuthProvider)
	}
	if c.RoleLookupTimeout <= 0 || c.SessionFetchTimeout <= 0 {
		return errors.New("lookup timeouts must be positive")
	}
	return nil
}

// HTTPAddress returns the host:port pair for the HTTP server to bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

// ProjectRef is the label used in the provider token key, e.g. "sb-<ref>-auth-token".
func (c Config) ProjectRef() string {
	if c.SupabaseURL == "" {
		return "local"
	}
	u, err := url.Parse(c.SupabaseURL)
	if err != nil || u.Hostname() == "" {
		return "local"
	}
	host := u.Hostname()
	if i := strings.IndexByte(host, '.'); i > 0 {
		return host[:i]
	}
	return host
}

// TokenStorageKey is the local storage key of the provider session.
func (c Config) TokenStorageKey() string {
	return c.TokenKeyPrefix + c.ProjectRef() + "-auth-token"
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return strings.TrimSpace(value)
}

func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil && parsed > 0 {
			return parsed
		}
	}
	if val := strings.TrimSpace(os.Getenv(key + "_SECONDS")); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return def
}

func getenvInt(key string, def int) int {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return def
}

func parseLevel(value string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return slog.LevelInfo
	}
	return level
}
