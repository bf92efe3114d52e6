package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaultsToLocalProvider(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/savedu")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("SUPABASE_URL", "")
	t.Setenv("AUTH_PROVIDER", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthProvider != ProviderLocal {
		t.Fatalf("expected local provider, got %s", cfg.AuthProvider)
	}
	if cfg.SessionFetchTimeout != 10*time.Second {
		t.Fatalf("expected 10s session timeout, got %s", cfg.SessionFetchTimeout)
	}
	if cfg.RoleLookupTimeout != 4*time.Second {
		t.Fatalf("expected 4s role timeout, got %s", cfg.RoleLookupTimeout)
	}
	if cfg.TokenStorageKey() != "sb-local-auth-token" {
		t.Fatalf("unexpected token key %s", cfg.TokenStorageKey())
	}
	if cfg.HTTPAddress() != ":8080" {
		t.Fatalf("unexpected address %s", cfg.HTTPAddress())
	}
}

func TestLoadGoTrueProvider(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/savedu")
	t.Setenv("SUPABASE_URL", "https://abcd1234.supabase.co/")
	t.Setenv("SUPABASE_ANON_KEY", "anon")
	t.Setenv("ROLE_LOOKUP_TIMEOUT_SECONDS", "2")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthProvider != ProviderGoTrue {
		t.Fatalf("expected gotrue provider, got %s", cfg.AuthProvider)
	}
	if cfg.SupabaseURL != "https://abcd1234.supabase.co" {
		t.Fatalf("expected trailing slash trimmed, got %s", cfg.SupabaseURL)
	}
	if cfg.ProjectRef() != "abcd1234" {
		t.Fatalf("unexpected project ref %s", cfg.ProjectRef())
	}
	if cfg.RoleLookupTimeout != 2*time.Second {
		t.Fatalf("expected 2s role timeout, got %s", cfg.RoleLookupTimeout)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("expected debug level, got %s", cfg.LogLevel)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]map[string]string{
		"missing database": {"DATABASE_URL": "", "JWT_SECRET": "x"},
		"local without secret": {
			"DATABASE_URL": "postgres://localhost/savedu", "AUTH_PROVIDER": "local", "JWT_SECRET": "",
		},
		"gotrue without key": {
			"DATABASE_URL": "postgres://localhost/savedu", "SUPABASE_URL": "https://x.supabase.co", "SUPABASE_ANON_KEY": "",
		},
		"unknown provider": {"DATABASE_URL": "postgres://localhost/savedu", "AUTH_PROVIDER": "ldap"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"DATABASE_URL", "JWT_SECRET", "SUPABASE_URL", "SUPABASE_ANON_KEY", "AUTH_PROVIDER"} {
				t.Setenv(key, "")
			}
			for key, val := range env {
				t.Setenv(key, val)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestParseCSV(t *testing.T) {
	got := parseCSV(" https://a.example , ,https://b.example")
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", got)
	}
	if got := parseCSV(" , "); len(got) != 0 {
		t.Fatalf("empty input allows no cross-origin callers, got %v", got)
	}
}
