// Package provider is the per-visitor client of the external auth provider. It keeps the
// provider session in the visitor's local token storage, renews it before expiry and
// notifies subscribers of every session transition.
package provider

import (
	"context"
	"errors"

	"github.com/hongminglow/savedu/internal/models"
)

var (
	// ErrInvalidCredentials is returned by a password grant with a wrong email or password.
	ErrInvalidCredentials = errors.New("provider: invalid login credentials")
	// ErrInvalidGrant means the provider rejected the refresh token; the session is gone.
	ErrInvalidGrant = errors.New("provider: refresh token rejected")
	// ErrUserExists is returned by sign-up for an already registered email.
	ErrUserExists = errors.New("provider: user already registered")
	// ErrWeakPassword is returned by sign-up when the password does not meet the provider policy.
	ErrWeakPassword = errors.New("provider: password too weak")
)

// Scope selects which sessions a remote logout invalidates.
type Scope string

const (
	ScopeLocal  Scope = "local"
	ScopeGlobal Scope = "global"
	ScopeOthers Scope = "others"
)

// Event names a session transition.
type Event string

const (
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
)

// SignUpParams carries a registration request.
type SignUpParams struct {
	Email    string
	Password string
	Metadata map[string]any
}

// Backend is the provider API used by the client.
type Backend interface {
	PasswordGrant(ctx context.Context, email, password string) (*models.Session, error)
	RefreshGrant(ctx context.Context, refreshToken string) (*models.Session, error)
	// SignUp registers a user. The session is nil when the provider requires email
	// confirmation before the first sign-in.
	SignUp(ctx context.Context, params SignUpParams) (*models.User, *models.Session, error)
	Logout(ctx context.Context, accessToken string, scope Scope) error
}
