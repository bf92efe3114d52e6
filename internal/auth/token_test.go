package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/hongminglow/savedu/internal/models"
)

func TestGenerateAndParse(t *testing.T) {
	tm := NewTokenManager("secret", "savedu", time.Hour)
	user := models.User{ID: "u-1", Email: "a@example.com", Metadata: map[string]any{"full_name": "Awa"}}

	raw, expiresAt, err := tm.Generate(user, "sess-1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expiry should be in the future: %s", expiresAt)
	}

	claims, err := tm.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := claims.User()
	if got.ID != "u-1" || got.Email != "a@example.com" || got.FullName() != "Awa" {
		t.Fatalf("unexpected user %+v", got)
	}
	if claims.SessionID != "sess-1" || claims.Issuer != "savedu" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestParseRejectsWrongSecretAndExpired(t *testing.T) {
	issuer := NewTokenManager("secret", "savedu", time.Minute)
	raw, _, err := issuer.Generate(models.User{ID: "u-1"}, "s")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err := NewTokenManager("other", "savedu", time.Minute).Parse(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}

	later := NewTokenManager("secret", "savedu", time.Minute)
	later.now = func() time.Time { return time.Now().Add(time.Hour) }
	if _, err := later.Parse(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestParseUnverifiedWithoutSecret(t *testing.T) {
	raw, _, err := NewTokenManager("secret", "x", time.Minute).Generate(models.User{ID: "u-9", Email: "z@example.com"}, "s")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := NewTokenManager("", "", 0).Parse(raw)
	if err != nil {
		t.Fatalf("parse unverified: %v", err)
	}
	if claims.Subject != "u-9" {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
	if _, err := NewTokenManager("", "", 0).Parse("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, _, err := NewTokenManager("", "", 0).Generate(models.User{ID: "x"}, "s"); err == nil {
		t.Fatal("generate without secret should fail")
	}
}
