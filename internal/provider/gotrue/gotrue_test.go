package gotrue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hongminglow/savedu/internal/auth"
	"github.com/hongminglow/savedu/internal/models"
	"github.com/hongminglow/savedu/internal/provider"
)

type fakeServer struct {
	mu      sync.Mutex
	t       *testing.T
	tokens  *auth.TokenManager
	logouts []string
	confirm bool
}

func (f *fakeServer) sessionBody(user models.User) map[string]any {
	raw, expiresAt, err := f.tokens.Generate(user, "sess")
	if err != nil {
		f.t.Fatalf("generate: %v", err)
	}
	return map[string]any{
		"access_token":  raw,
		"token_type":    "bearer",
		"expires_in":    3600,
		"expires_at":    expiresAt.Unix(),
		"refresh_token": "rt-" + user.ID,
		"user":          map[string]any{"id": user.ID, "email": user.Email, "user_metadata": user.Metadata},
	}
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("apikey") != "anon" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "no apikey"})
		return
	}
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.URL.Path == "/auth/v1/token" && r.URL.Query().Get("grant_type") == "password":
		if body["email"] != "a@example.com" || body["password"] != "password1" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "Invalid login credentials"})
			return
		}
		writeJSON(w, http.StatusOK, f.sessionBody(models.User{ID: "u1", Email: "a@example.com"}))
	case r.URL.Path == "/auth/v1/token" && r.URL.Query().Get("grant_type") == "refresh_token":
		switch body["refresh_token"] {
		case "rt-u1":
			writeJSON(w, http.StatusOK, f.sessionBody(models.User{ID: "u1", Email: "a@example.com"}))
		case "flaky":
			writeJSON(w, http.StatusBadGateway, map[string]any{"message": "upstream"})
		default:
			writeJSON(w, http.StatusBadRequest, map[string]any{"code": 400, "error_code": "refresh_token_not_found", "msg": "Invalid Refresh Token"})
		}
	case r.URL.Path == "/auth/v1/signup":
		if body["email"] == "taken@example.com" {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"code": 422, "error_code": "user_already_exists", "msg": "User already registered"})
			return
		}
		meta, _ := body["data"].(map[string]any)
		user := models.User{ID: "u2", Email: body["email"].(string), Metadata: meta}
		if f.confirm {
			writeJSON(w, http.StatusOK, map[string]any{"id": user.ID, "email": user.Email, "user_metadata": meta})
			return
		}
		writeJSON(w, http.StatusOK, f.sessionBody(user))
	case r.URL.Path == "/auth/v1/logout":
		f.logouts = append(f.logouts, r.Header.Get("Authorization")+" "+r.URL.Query().Get("scope"))
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newBackend(t *testing.T) (*Backend, *fakeServer) {
	t.Helper()
	fake := &fakeServer{t: t, tokens: auth.NewTokenManager("jwt-secret", "gotrue", time.Hour)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", "anon", auth.NewTokenManager("jwt-secret", "", 0), srv.Client()), fake
}

func TestPasswordGrant(t *testing.T) {
	b, _ := newBackend(t)
	session, err := b.PasswordGrant(context.Background(), "a@example.com", "password1")
	if err != nil {
		t.Fatalf("password grant: %v", err)
	}
	if session.User.ID != "u1" || session.RefreshToken != "rt-u1" || time.Until(session.ExpiresAt) < 30*time.Minute {
		t.Fatalf("unexpected session %+v", session)
	}

	if _, err := b.PasswordGrant(context.Background(), "a@example.com", "nope"); !errors.Is(err, provider.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestRefreshGrantClassifiesFailures(t *testing.T) {
	b, _ := newBackend(t)
	if _, err := b.RefreshGrant(context.Background(), "rt-u1"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := b.RefreshGrant(context.Background(), "revoked"); !errors.Is(err, provider.ErrInvalidGrant) {
		t.Fatalf("expected ErrInvalidGrant, got %v", err)
	}
	_, err := b.RefreshGrant(context.Background(), "flaky")
	if err == nil || errors.Is(err, provider.ErrInvalidGrant) {
		t.Fatalf("server errors must stay transient, got %v", err)
	}
}

func TestSignUp(t *testing.T) {
	b, fake := newBackend(t)
	user, session, err := b.SignUp(context.Background(), provider.SignUpParams{
		Email: "n@example.com", Password: "password1", Metadata: map[string]any{"full_name": "Nadia"},
	})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if session == nil || user.ID != "u2" || user.FullName() != "Nadia" {
		t.Fatalf("unexpected sign-up result %+v %+v", user, session)
	}

	fake.mu.Lock()
	fake.confirm = true
	fake.mu.Unlock()
	user, session, err = b.SignUp(context.Background(), provider.SignUpParams{Email: "c@example.com", Password: "password1"})
	if err != nil || session != nil || user.ID != "u2" {
		t.Fatalf("expected user without session, got %+v %+v %v", user, session, err)
	}

	if _, _, err := b.SignUp(context.Background(), provider.SignUpParams{Email: "taken@example.com", Password: "password1"}); !errors.Is(err, provider.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestLogoutSendsBearerAndScope(t *testing.T) {
	b, fake := newBackend(t)
	if err := b.Logout(context.Background(), "token-1", provider.ScopeGlobal); err != nil {
		t.Fatalf("logout: %v", err)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.logouts) != 1 || fake.logouts[0] != "Bearer token-1 global" {
		t.Fatalf("unexpected logout calls %v", fake.logouts)
	}
}

func TestRejectsTokenSignedWithOtherSecret(t *testing.T) {
	fake := &fakeServer{t: t, tokens: auth.NewTokenManager("other-secret", "gotrue", time.Hour)}
	srv := httptest.NewServer(fake)
	defer srv.Close()
	b := New(srv.URL, "anon", auth.NewTokenManager("jwt-secret", "", 0), srv.Client())

	if _, err := b.PasswordGrant(context.Background(), "a@example.com", "password1"); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
