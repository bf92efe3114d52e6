// Package memstore is an in-memory storage.Store used by tests and local demos.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hongminglow/savedu/internal/models"
	"github.com/hongminglow/savedu/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store keeps every table in maps guarded by one mutex.
type Store struct {
	mu            sync.Mutex
	profiles      map[string]models.Profile
	accounts      map[string]models.Account
	applications  map[int64]models.Application
	payments      []models.Payment
	notifications []models.Notification
	contacts      []models.ContactMessage
	seq           int64
	now           func() time.Time

	// RoleHook, when set, replaces the RoleOf lookup.
	RoleHook func(ctx context.Context, userID string) (models.Role, error)
	// Err, when set, fails every dashboard query.
	Err error
}

func New() *Store {
	return &Store{
		profiles:     make(map[string]models.Profile),
		accounts:     make(map[string]models.Account),
		applications: make(map[int64]models.Application),
		now:          time.Now,
	}
}

func (s *Store) tick() time.Time {
	s.seq++
	// Distinct timestamps keep recency ordering stable.
	return s.now().Add(time.Duration(s.seq) * time.Millisecond)
}

func (s *Store) RoleOf(ctx context.Context, userID string) (models.Role, error) {
	s.mu.Lock()
	hook := s.RoleHook
	p, ok := s.profiles[userID]
	s.mu.Unlock()
	if hook != nil {
		return hook(ctx, userID)
	}
	if err := ctx.Err(); err != nil {
		return models.RoleUnknown, err
	}
	if !ok {
		return models.RoleUnknown, storage.ErrNotFound
	}
	return p.Role, nil
}

func (s *Store) SetRoleHook(hook func(ctx context.Context, userID string) (models.Role, error)) {
	s.mu.Lock()
	s.RoleHook = hook
	s.mu.Unlock()
}

func (s *Store) Profile(_ context.Context, userID string) (models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return models.Profile{}, storage.ErrNotFound
	}
	return p, nil
}

func (s *Store) EnsureProfile(_ context.Context, profile models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[profile.ID]; ok {
		return nil
	}
	if !profile.Role.Known() {
		profile.Role = models.RoleStudent
	}
	profile.CreatedAt = s.tick()
	s.profiles[profile.ID] = profile
	return nil
}

// PutProfile inserts or replaces a profile.
func (s *Store) PutProfile(profile models.Profile) {
	s.mu.Lock()
	s.profiles[profile.ID] = profile
	s.mu.Unlock()
}

func (s *Store) CreateAccount(_ context.Context, account models.Account) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acc := range s.accounts {
		if strings.EqualFold(acc.Email, account.Email) {
			return models.Account{}, storage.ErrAlreadyExists
		}
	}
	if _, ok := s.accounts[account.ID]; ok {
		return models.Account{}, storage.ErrAlreadyExists
	}
	account.CreatedAt = s.tick()
	s.accounts[account.ID] = account
	return account, nil
}

func (s *Store) FindAccountByEmail(_ context.Context, email string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acc := range s.accounts {
		if strings.EqualFold(acc.Email, strings.TrimSpace(email)) {
			return acc, nil
		}
	}
	return models.Account{}, storage.ErrNotFound
}

func (s *Store) FindAccountByID(_ context.Context, id string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return models.Account{}, storage.ErrNotFound
	}
	return acc, nil
}

func (s *Store) CreateApplication(_ context.Context, app models.Application) (models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return models.Application{}, s.Err
	}
	now := s.tick()
	app.ID = s.seq
	app.Status = models.StatusPending
	app.CreatedAt, app.UpdatedAt = now, now
	app.StudentName = s.profiles[app.StudentID].FullName
	s.applications[app.ID] = app
	return app, nil
}

func (s *Store) ListStudentApplications(_ context.Context, studentID string, limit int) ([]models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []models.Application
	for _, a := range s.sortedLocked(false) {
		if a.StudentID == studentID {
			out = append(out, a)
		}
	}
	return truncate(out, limit), nil
}

func (s *Store) CountStudentApplications(_ context.Context, studentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	n := 0
	for _, a := range s.applications {
		if a.StudentID == studentID {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListApplications(_ context.Context, filter storage.ApplicationFilter) ([]models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	term := strings.ToLower(strings.TrimSpace(filter.Search))
	var out []models.Application
	for _, a := range s.sortedLocked(filter.Sort == storage.SortOldest) {
		if filter.Status != "" && filter.Status != "all" && a.Status != filter.Status {
			continue
		}
		if term != "" && !containsAny(term, a.Title, a.Program, a.Intake, a.StudentName, a.StudentID) {
			continue
		}
		out = append(out, a)
	}
	return truncate(out, filter.Limit), nil
}

func (s *Store) UpdateApplication(_ context.Context, id int64, status, notes string) (models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return models.Application{}, s.Err
	}
	a, ok := s.applications[id]
	if !ok {
		return models.Application{}, storage.ErrNotFound
	}
	a.Status, a.Notes, a.UpdatedAt = status, notes, s.tick()
	s.applications[id] = a
	return a, nil
}

func (s *Store) DeleteApplication(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.applications[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.applications, id)
	return nil
}

func (s *Store) CountApplicationsByStatus(_ context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	counts := make(map[string]int, len(models.ApplicationStatuses))
	for _, st := range models.ApplicationStatuses {
		counts[st] = 0
	}
	for _, a := range s.applications {
		counts[a.Status]++
	}
	return counts, nil
}

// AddPayment records a payment for a student.
func (s *Store) AddPayment(p models.Payment) models.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.CreatedAt = s.tick()
	p.ID = s.seq
	s.payments = append(s.payments, p)
	return p
}

// AddNotification records a notification for a student.
func (s *Store) AddNotification(n models.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.CreatedAt = s.tick()
	n.ID = s.seq
	s.notifications = append(s.notifications, n)
}

func (s *Store) ListStudentPayments(_ context.Context, studentID string, limit int) ([]models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []models.Payment
	for i := len(s.payments) - 1; i >= 0; i-- {
		if s.payments[i].StudentID == studentID {
			out = append(out, s.payments[i])
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountStudentPayments(_ context.Context, studentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	n := 0
	for _, p := range s.payments {
		if p.StudentID == studentID {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountUnreadNotifications(_ context.Context, studentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	n := 0
	for _, note := range s.notifications {
		if note.StudentID == studentID && !note.IsRead {
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateContactMessage(_ context.Context, msg models.ContactMessage) (models.ContactMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return models.ContactMessage{}, s.Err
	}
	msg.CreatedAt = s.tick()
	msg.ID = s.seq
	s.contacts = append(s.contacts, msg)
	return msg, nil
}

func (s *Store) ListContactMessages(_ context.Context, limit int) ([]models.ContactMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]models.ContactMessage, 0, len(s.contacts))
	for i := len(s.contacts) - 1; i >= 0; i-- {
		out = append(out, s.contacts[i])
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) sortedLocked(oldestFirst bool) []models.Application {
	out := make([]models.Application, 0, len(s.applications))
	for _, a := range s.applications {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if oldestFirst {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func truncate(apps []models.Application, limit int) []models.Application {
	if limit > 0 && len(apps) > limit {
		return apps[:limit]
	}
	return apps
}

func containsAny(term string, fields ...string) bool {
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), term) {
			return true
		}
	}
	return false
}
