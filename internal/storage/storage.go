package storage

import (
	"context"
	"errors"

	"github.com/hongminglow/savedu/internal/models"
)

// ErrNotFound indicates a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists indicates a uniqueness conflict.
var ErrAlreadyExists = errors.New("record already exists")

// ProfileStore reads and creates user_profiles rows.
type ProfileStore interface {
	// RoleOf returns the stored role of userID, or ErrNotFound when no profile exists.
	RoleOf(ctx context.Context, userID string) (models.Role, error)
	Profile(ctx context.Context, userID string) (models.Profile, error)
	// EnsureProfile inserts profile unless a row with the same id exists.
	EnsureProfile(ctx context.Context, profile models.Profile) error
}

// AccountStore persists credentials of the development auth provider.
type AccountStore interface {
	CreateAccount(ctx context.Context, account models.Account) (models.Account, error)
	FindAccountByEmail(ctx context.Context, email string) (models.Account, error)
	FindAccountByID(ctx context.Context, id string) (models.Account, error)
}

// Sort orders of application listings.
const (
	SortNewest = "newest"
	SortOldest = "oldest"
)

// ApplicationFilter narrows the admin application listing.
type ApplicationFilter struct {
	// Status keeps one status; empty or "all" keeps every status.
	Status string
	// Search matches title, program, intake or student name, case-insensitively.
	Search string
	Sort   string
	Limit  int
}

type ApplicationStore interface {
	CreateApplication(ctx context.Context, app models.Application) (models.Application, error)
	ListStudentApplications(ctx context.Context, studentID string, limit int) ([]models.Application, error)
	CountStudentApplications(ctx context.Context, studentID string) (int, error)
	ListApplications(ctx context.Context, filter ApplicationFilter) ([]models.Application, error)
	UpdateApplication(ctx context.Context, id int64, status, notes string) (models.Application, error)
	DeleteApplication(ctx context.Context, id int64) error
	CountApplicationsByStatus(ctx context.Context) (map[string]int, error)
}

type PaymentStore interface {
	ListStudentPayments(ctx context.Context, studentID string, limit int) ([]models.Payment, error)
	CountStudentPayments(ctx context.Context, studentID string) (int, error)
}

type NotificationStore interface {
	CountUnreadNotifications(ctx context.Context, studentID string) (int, error)
}

type ContactStore interface {
	CreateContactMessage(ctx context.Context, msg models.ContactMessage) (models.ContactMessage, error)
	ListContactMessages(ctx context.Context, limit int) ([]models.ContactMessage, error)
}

// Store is everything the web surface persists.
type Store interface {
	ProfileStore
	AccountStore
	ApplicationStore
	PaymentStore
	NotificationStore
	ContactStore
}
