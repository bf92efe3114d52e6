package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hongminglow/savedu/internal/provider/providertest"
	"github.com/hongminglow/savedu/internal/roles"
	"github.com/hongminglow/savedu/internal/storage/memstore"
	"github.com/hongminglow/savedu/internal/tokens"
	"github.com/hongminglow/savedu/internal/visitor"
)

func TestLoggingRecordsRoutePattern(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	r := chi.NewRouter()
	r.Use(Logging(logger, nil))
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/42", nil))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["route"] != "/items/{id}" {
		t.Fatalf("expected route pattern, got %v", line["route"])
	}
	if line["status"] != float64(http.StatusTeapot) {
		t.Fatalf("expected status 418, got %v", line["status"])
	}
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/auth/state", nil)
	req.Header.Set("Origin", "https://APP.example")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected preflight 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://APP.example" {
		t.Fatalf("unexpected allow origin %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest(http.MethodGet, "/auth/state", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("foreign origin must not be allowed: %d %q", rec.Code, rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestCORSWildcardIsNotCredentialed(t *testing.T) {
	h := CORS([]string{"*", "https://app.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/state", nil)
	req.Header.Set("Origin", "https://other.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("wildcard must answer with a literal *, got %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Fatalf("wildcard origin must not be credentialed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/auth/state", nil)
	req.Header.Set("Origin", "https://app.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example" ||
		rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("listed origin keeps credentials: %v", rec.Header())
	}
}

func TestVisitorsIssuesAndReusesCookie(t *testing.T) {
	factory := visitor.NewFactory(visitor.Deps{
		Backend: providertest.New(),
		Storage: tokens.NewMemory(),
		Roles:   roles.New(memstore.New(), nil, nil),
		Settings: visitor.Settings{
			StorageKey:          "sb-local-auth-token",
			TokenPrefix:         "sb-",
			RefreshMargin:       time.Minute,
			AutoRefreshInterval: time.Hour,
			SessionFetchTimeout: time.Second,
			SignOutTimeout:      time.Second,
			RoleLookupTimeout:   time.Second,
		},
	})
	reg := visitor.NewRegistry(factory, visitor.Options{IdleTTL: time.Minute, MaxSize: 10})
	t.Cleanup(reg.Close)

	var seen []string
	h := Visitors(reg, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v := visitor.FromContext(r.Context())
		if v == nil {
			t.Fatal("expected a visitor in the request context")
		}
		seen = append(seen, v.ID)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != VisitorCookie {
		t.Fatalf("expected a visitor cookie, got %v", cookies)
	}
	if !cookies[0].HttpOnly || !cookies[0].Secure || cookies[0].SameSite != http.SameSiteLaxMode {
		t.Fatalf("unexpected cookie attributes %+v", cookies[0])
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if len(rec.Result().Cookies()) != 0 {
		t.Fatal("a known visitor must not get a new cookie")
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: VisitorCookie, Value: "not-a-uuid"})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if len(rec.Result().Cookies()) != 1 {
		t.Fatal("a malformed id must be replaced")
	}

	if len(seen) != 3 || seen[0] != seen[1] || seen[2] == seen[0] {
		t.Fatalf("unexpected visitor ids %v", seen)
	}
	if reg.Len() != 2 {
		t.Fatalf("expected two visitors, got %d", reg.Len())
	}
}
