// Package local is a development auth provider: accounts live in Postgres with bcrypt
// password hashes, access tokens are HS256 JWTs and refresh tokens rotate through the
// shared token storage.
package local

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hongminglow/savedu/internal/auth"
	"github.com/hongminglow/savedu/internal/models"
	"github.com/hongminglow/savedu/internal/provider"
	"github.com/hongminglow/savedu/internal/storage"
	"github.com/hongminglow/savedu/internal/tokens"
)

var _ provider.Backend = (*Backend)(nil)

// MinPasswordLength matches the hosted provider's default policy.
const MinPasswordLength = 6

// Stores is the persistence the backend needs.
type Stores interface {
	storage.AccountStore
	storage.ProfileStore
}

// Backend issues sessions for accounts stored locally.
type Backend struct {
	store      Stores
	tokens     *auth.TokenManager
	records    tokens.Area
	refreshTTL time.Duration
}

// New creates a backend. Refresh records are kept in kv under a dedicated namespace.
func New(store Stores, tm *auth.TokenManager, kv tokens.Storage, refreshTTL time.Duration) *Backend {
	return &Backend{
		store:      store,
		tokens:     tm,
		records:    tokens.NewArea(kv, "local-auth:"),
		refreshTTL: refreshTTL,
	}
}

func (b *Backend) PasswordGrant(ctx context.Context, email, password string) (*models.Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, provider.ErrInvalidCredentials
	}
	acc, err := b.store.FindAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, provider.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("find account: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return nil, provider.ErrInvalidCredentials
	}
	return b.issue(ctx, userOf(acc), uuid.NewString())
}

func (b *Backend) RefreshGrant(ctx context.Context, refreshToken string) (*models.Session, error) {
	record, err := b.records.Get(ctx, refreshKey(refreshToken))
	if err != nil {
		if errors.Is(err, tokens.ErrNotFound) {
			return nil, provider.ErrInvalidGrant
		}
		return nil, fmt.Errorf("read refresh record: %w", err)
	}
	userID, sessionID, ok := strings.Cut(record, "|")
	if !ok {
		return nil, provider.ErrInvalidGrant
	}

	// Only the latest token of a session may be redeemed; a replayed one is rejected.
	current, err := b.records.Get(ctx, sessionKey(userID, sessionID))
	if err != nil {
		if errors.Is(err, tokens.ErrNotFound) {
			return nil, provider.ErrInvalidGrant
		}
		return nil, fmt.Errorf("read session record: %w", err)
	}
	if current != refreshToken {
		return nil, provider.ErrInvalidGrant
	}

	acc, err := b.store.FindAccountByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, provider.ErrInvalidGrant
		}
		return nil, fmt.Errorf("find account: %w", err)
	}
	if err := b.records.Delete(ctx, refreshKey(refreshToken)); err != nil {
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}
	return b.issue(ctx, userOf(acc), sessionID)
}

func (b *Backend) SignUp(ctx context.Context, params provider.SignUpParams) (*models.User, *models.Session, error) {
	email := strings.TrimSpace(params.Email)
	if err := validateCredentials(email, params.Password); err != nil {
		return nil, nil, err
	}
	hash, err := hashPassword(params.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}
	acc, err := b.store.CreateAccount(ctx, models.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Metadata:     params.Metadata,
	})
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, nil, provider.ErrUserExists
		}
		return nil, nil, fmt.Errorf("create account: %w", err)
	}

	user := userOf(acc)
	if err := b.store.EnsureProfile(ctx, models.Profile{ID: acc.ID, FullName: user.FullName(), Role: models.RoleStudent}); err != nil {
		return nil, nil, fmt.Errorf("create profile: %w", err)
	}
	session, err := b.issue(ctx, user, uuid.NewString())
	if err != nil {
		return nil, nil, err
	}
	return &user, session, nil
}

// Logout revokes the session named by accessToken, every session of its user, or every
// other session, depending on scope.
func (b *Backend) Logout(ctx context.Context, accessToken string, scope provider.Scope) error {
	claims, err := b.tokens.Parse(accessToken)
	if err != nil {
		// An expired or foreign token cannot name a live session.
		return nil
	}
	userID, sessionID := claims.Subject, claims.SessionID

	switch scope {
	case provider.ScopeGlobal:
		_, err = b.records.DeletePrefix(ctx, sessionPrefix(userID))
	case provider.ScopeOthers:
		var keep string
		keep, err = b.records.Get(ctx, sessionKey(userID, sessionID))
		if err != nil && !errors.Is(err, tokens.ErrNotFound) {
			return fmt.Errorf("read session record: %w", err)
		}
		if _, err = b.records.DeletePrefix(ctx, sessionPrefix(userID)); err == nil && keep != "" {
			err = b.records.Set(ctx, sessionKey(userID, sessionID), keep, b.refreshTTL)
		}
	default:
		err = b.records.Delete(ctx, sessionKey(userID, sessionID))
	}
	if err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	return nil
}

func (b *Backend) issue(ctx context.Context, user models.User, sessionID string) (*models.Session, error) {
	access, expiresAt, err := b.tokens.Generate(user, sessionID)
	if err != nil {
		return nil, err
	}
	refresh, err := randomToken()
	if err != nil {
		return nil, err
	}
	if err := b.records.Set(ctx, refreshKey(refresh), user.ID+"|"+sessionID, b.refreshTTL); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	if err := b.records.Set(ctx, sessionKey(user.ID, sessionID), refresh, b.refreshTTL); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return &models.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresAt:    expiresAt,
		User:         user,
	}, nil
}

func userOf(acc models.Account) models.User {
	return models.User{ID: acc.ID, Email: acc.Email, Metadata: acc.Metadata}
}

func refreshKey(token string) string { return "refresh:" + token }

func sessionPrefix(userID string) string { return "session:" + userID + ":" }

func sessionKey(userID, sessionID string) string { return sessionPrefix(userID) + sessionID }

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func validateCredentials(email, password string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", provider.ErrInvalidCredentials)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("%w: invalid email address", provider.ErrInvalidCredentials)
	}
	if utf8.RuneCountInString(strings.TrimSpace(password)) < MinPasswordLength || !utf8.ValidString(password) {
		return fmt.Errorf("%w: password must be at least %d characters", provider.ErrWeakPassword, MinPasswordLength)
	}
	return nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
