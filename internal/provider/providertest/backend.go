// Package providertest provides an in-memory provider.Backend for tests.
package providertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hongminglow/savedu/internal/models"
	"github.com/hongminglow/savedu/internal/provider"
)

type account struct {
	password string
	user     models.User
}

// Backend is a scriptable provider.Backend.
type Backend struct {
	mu       sync.Mutex
	accounts map[string]account
	refresh  map[string]models.User
	seq      int

	// TTL is the lifetime of issued access tokens.
	TTL time.Duration
	// RequireConfirmation makes SignUp return no session.
	RequireConfirmation bool
	// RefreshErr, when set, is returned by every RefreshGrant.
	RefreshErr error
	// LogoutErr, when set, is returned by every Logout.
	LogoutErr error
	// LogoutGate, when set, blocks Logout until it is closed or the context ends.
	LogoutGate chan struct{}

	RefreshCalls int
	Logouts      []string
}

// New returns an empty backend issuing one-hour tokens.
func New() *Backend {
	return &Backend{
		accounts: make(map[string]account),
		refresh:  make(map[string]models.User),
		TTL:      time.Hour,
	}
}

// AddUser registers an account and returns its user.
func (b *Backend) AddUser(id, email, password string) models.User {
	b.mu.Lock()
	defer b.mu.Unlock()
	user := models.User{ID: id, Email: email}
	b.accounts[strings.ToLower(email)] = account{password: password, user: user}
	return user
}

// Issue creates a session for user expiring after ttl.
func (b *Backend) Issue(user models.User, ttl time.Duration) *models.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.issueLocked(user, ttl)
}

func (b *Backend) issueLocked(user models.User, ttl time.Duration) *models.Session {
	b.seq++
	rt := fmt.Sprintf("rt-%s-%d", user.ID, b.seq)
	b.refresh[rt] = user
	return &models.Session{
		AccessToken:  fmt.Sprintf("at-%s-%d", user.ID, b.seq),
		RefreshToken: rt,
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(ttl),
		User:         user,
	}
}

func (b *Backend) PasswordGrant(ctx context.Context, email, password string) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, ok := b.accounts[strings.ToLower(email)]
	if !ok || acc.password != password {
		return nil, provider.ErrInvalidCredentials
	}
	return b.issueLocked(acc.user, b.TTL), nil
}

func (b *Backend) RefreshGrant(ctx context.Context, refreshToken string) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.RefreshCalls++
	if b.RefreshErr != nil {
		return nil, b.RefreshErr
	}
	user, ok := b.refresh[refreshToken]
	if !ok {
		return nil, provider.ErrInvalidGrant
	}
	delete(b.refresh, refreshToken)
	return b.issueLocked(user, b.TTL), nil
}

func (b *Backend) SignUp(ctx context.Context, params provider.SignUpParams) (*models.User, *models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := strings.ToLower(params.Email)
	if _, exists := b.accounts[key]; exists {
		return nil, nil, provider.ErrUserExists
	}
	b.seq++
	user := models.User{ID: fmt.Sprintf("user-%d", b.seq), Email: params.Email, Metadata: params.Metadata}
	b.accounts[key] = account{password: params.Password, user: user}
	if b.RequireConfirmation {
		return &user, nil, nil
	}
	return &user, b.issueLocked(user, b.TTL), nil
}

func (b *Backend) Logout(ctx context.Context, accessToken string, _ provider.Scope) error {
	b.mu.Lock()
	gate := b.LogoutGate
	b.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Logouts = append(b.Logouts, accessToken)
	return b.LogoutErr
}

// Calls returns the refresh and logout counters under the lock.
func (b *Backend) Calls() (refreshes int, logouts []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.RefreshCalls, append([]string(nil), b.Logouts...)
}

// SetRefreshErr changes RefreshErr under the lock.
func (b *Backend) SetRefreshErr(err error) {
	b.mu.Lock()
	b.RefreshErr = err
	b.mu.Unlock()
}
