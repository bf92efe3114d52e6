package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hongminglow/savedu/internal/authstate"
	"github.com/hongminglow/savedu/internal/http/respond"
	"github.com/hongminglow/savedu/internal/models"
	"github.com/hongminglow/savedu/internal/models/dto"
)

func TestDisplayNameFallbacks(t *testing.T) {
	user := &models.User{ID: "u1", Email: "awa@example.com", Metadata: map[string]any{"full_name": "Awa T."}}
	cases := []struct {
		name    string
		profile models.Profile
		user    *models.User
		want    string
	}{
		{"profile name", models.Profile{FullName: "Awa Traoré"}, user, "Awa Traoré"},
		{"metadata name", models.Profile{}, user, "Awa T."},
		{"email", models.Profile{FullName: "  "}, &models.User{Email: "awa@example.com"}, "awa@example.com"},
		{"default", models.Profile{}, &models.User{}, "Étudiant"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := displayName(tc.profile, tc.user); got != tc.want {
				t.Fatalf("displayName = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestValidateContact(t *testing.T) {
	ok := dto.ContactRequest{FullName: "Ali", Email: "ali@example.com", Message: "Bonjour"}
	if msg := validateContact(ok); msg != "" {
		t.Fatalf("expected valid, got %q", msg)
	}
	missing := ok
	missing.Message = ""
	if validateContact(missing) == "" {
		t.Fatal("message is required")
	}
	bad := ok
	bad.Email = "ali@"
	if validateContact(bad) == "" {
		t.Fatal("email must parse")
	}
}

func TestStateView(t *testing.T) {
	view := stateView(authstate.State{
		User:    &models.User{ID: "u1", Email: "u1@example.com"},
		Role:    models.RoleAdmin,
		Version: 4,
	})
	if view.User == nil || view.User.ID != "u1" || view.Role != "admin" || view.Version != 4 || view.Loading {
		t.Fatalf("unexpected view %+v", view)
	}
	if anon := stateView(authstate.State{Loading: true}); anon.User != nil || !anon.Loading {
		t.Fatalf("unexpected anonymous view %+v", anon)
	}
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	cases := []struct {
		name   string
		db     Pinger
		status int
	}{
		{"no database", nil, http.StatusOK},
		{"database up", pingerFunc(func(context.Context) error { return nil }), http.StatusOK},
		{"database down", pingerFunc(func(context.Context) error { return errors.New("connection refused") }), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := chi.NewRouter()
			NewHealthHandler(time.Now().Add(-time.Minute), tc.db).Register(r)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			var env respond.Envelope
			if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if env.Code != tc.status {
				t.Fatalf("envelope code %d", env.Code)
			}
		})
	}
}
