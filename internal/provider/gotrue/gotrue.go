// Package gotrue implements provider.Backend against a GoTrue-compatible auth REST API
// (Supabase Auth).
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hongminglow/savedu/internal/auth"
	"github.com/hongminglow/savedu/internal/models"
	"github.com/hongminglow/savedu/internal/provider"
)

var _ provider.Backend = (*Backend)(nil)

// Backend calls the provider over HTTP.
type Backend struct {
	baseURL string
	apiKey  string
	http    *http.Client
	tokens  *auth.TokenManager
	now     func() time.Time
}

// New creates a backend for the project at baseURL (e.g. https://<ref>.supabase.co).
// tokens parses returned access tokens; it verifies them when built with a secret.
func New(baseURL, apiKey string, tokens *auth.TokenManager, client *http.Client) *Backend {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Backend{
		baseURL: strings.TrimRight(baseURL, "/") + "/auth/v1",
		apiKey:  apiKey,
		http:    client,
		tokens:  tokens,
		now:     time.Now,
	}
}

// apiError is the error body; older servers use error/error_description, newer ones
// code/error_code/msg.
type apiError struct {
	status           int
	Code             string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
}

func (e *apiError) message() string {
	for _, s := range []string{e.Msg, e.ErrorDescription, e.Code, e.ErrorCode} {
		if s != "" {
			return s
		}
	}
	return http.StatusText(e.status)
}

type userPayload struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

func (u userPayload) model() models.User {
	return models.User{ID: u.ID, Email: u.Email, Metadata: u.UserMetadata}
}

type sessionPayload struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	RefreshToken string       `json:"refresh_token"`
	User         *userPayload `json:"user"`
}

func (b *Backend) PasswordGrant(ctx context.Context, email, password string) (*models.Session, error) {
	var out sessionPayload
	body := map[string]string{"email": email, "password": password}
	if err := b.do(ctx, http.MethodPost, "/token?grant_type=password", "", body, &out); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && (apiErr.status == http.StatusBadRequest || apiErr.status == http.StatusUnauthorized) {
			return nil, fmt.Errorf("%w: %s", provider.ErrInvalidCredentials, apiErr.message())
		}
		return nil, err
	}
	return b.session(out)
}

func (b *Backend) RefreshGrant(ctx context.Context, refreshToken string) (*models.Session, error) {
	var out sessionPayload
	body := map[string]string{"refresh_token": refreshToken}
	if err := b.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", "", body, &out); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && isRejectedRefresh(apiErr) {
			return nil, fmt.Errorf("%w: %s", provider.ErrInvalidGrant, apiErr.message())
		}
		return nil, err
	}
	return b.session(out)
}

// isRejectedRefresh reports whether the provider answered definitively that the refresh
// token is unusable. Server errors and rate limits stay transient.
func isRejectedRefresh(e *apiError) bool {
	if e.status != http.StatusBadRequest && e.status != http.StatusUnauthorized && e.status != http.StatusForbidden {
		return false
	}
	if e.Code == "invalid_grant" {
		return true
	}
	return strings.HasPrefix(e.ErrorCode, "refresh_token_") || e.ErrorCode == "session_not_found" ||
		e.ErrorCode == "session_expired" || e.ErrorCode == "user_not_found"
}

func (b *Backend) SignUp(ctx context.Context, params provider.SignUpParams) (*models.User, *models.Session, error) {
	body := map[string]any{"email": params.Email, "password": params.Password}
	if len(params.Metadata) > 0 {
		body["data"] = params.Metadata
	}
	var raw json.RawMessage
	if err := b.do(ctx, http.MethodPost, "/signup", "", body, &raw); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) {
			switch {
			case apiErr.ErrorCode == "user_already_exists" || apiErr.ErrorCode == "email_exists" ||
				strings.Contains(strings.ToLower(apiErr.message()), "already registered"):
				return nil, nil, fmt.Errorf("%w: %s", provider.ErrUserExists, apiErr.message())
			case apiErr.ErrorCode == "weak_password":
				return nil, nil, fmt.Errorf("%w: %s", provider.ErrWeakPassword, apiErr.message())
			}
		}
		return nil, nil, err
	}

	// With auto-confirm the body is a session; otherwise it is the bare user.
	var sess sessionPayload
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, nil, fmt.Errorf("decode sign-up response: %w", err)
	}
	if sess.AccessToken != "" {
		session, err := b.session(sess)
		if err != nil {
			return nil, nil, err
		}
		user := session.User
		return &user, session, nil
	}
	var user userPayload
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, nil, fmt.Errorf("decode sign-up user: %w", err)
	}
	m := user.model()
	return &m, nil, nil
}

// Logout revokes the session of accessToken. A token the provider no longer knows counts as
// already revoked.
func (b *Backend) Logout(ctx context.Context, accessToken string, scope provider.Scope) error {
	if scope == "" {
		scope = provider.ScopeLocal
	}
	path := "/logout?scope=" + url.QueryEscape(string(scope))
	err := b.do(ctx, http.MethodPost, path, accessToken, nil, nil)
	var apiErr *apiError
	if errors.As(err, &apiErr) && (apiErr.status == http.StatusUnauthorized || apiErr.status == http.StatusNotFound || apiErr.status == http.StatusForbidden) {
		return nil
	}
	return err
}

func (b *Backend) session(p sessionPayload) (*models.Session, error) {
	if p.AccessToken == "" || p.RefreshToken == "" {
		return nil, errors.New("gotrue: response carries no session")
	}
	claims, err := b.tokens.Parse(p.AccessToken)
	if err != nil {
		return nil, err
	}

	var expiresAt time.Time
	switch {
	case p.ExpiresAt > 0:
		expiresAt = time.Unix(p.ExpiresAt, 0)
	case p.ExpiresIn > 0:
		expiresAt = b.now().Add(time.Duration(p.ExpiresIn) * time.Second)
	case claims.ExpiresAt != nil:
		expiresAt = claims.ExpiresAt.Time
	}

	user := claims.User()
	if p.User != nil && p.User.ID != "" {
		user = p.User.model()
	}
	if user.ID != claims.Subject {
		return nil, fmt.Errorf("%w: subject does not match user", auth.ErrInvalidToken)
	}
	return &models.Session{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    fallback(p.TokenType, "bearer"),
		ExpiresAt:    expiresAt,
		User:         user,
	}, nil
}

func (b *Backend) do(ctx context.Context, method, path, bearer string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", b.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer == "" {
		bearer = b.apiKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("gotrue %s: %w", path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &apiError{status: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (e *apiError) Error() string {
	return fmt.Sprintf("gotrue: %d %s", e.status, e.message())
}

func fallback(value, def string) string {
	if value == "" {
		return def
	}
	return value
}
