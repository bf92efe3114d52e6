package postgres

import (
	"context"

	"github.com/hongminglow/savedu/internal/models"
)

// RoleOf reads the role column of the caller's profile.
func (s *Store) RoleOf(ctx context.Context, userID string) (models.Role, error) {
	var role string
	err := s.pool.QueryRow(ctx, `SELECT role FROM user_profiles WHERE id = $1`, userID).Scan(&role)
	if err != nil {
		return models.RoleUnknown, mapErr(err)
	}
	return models.ParseRole(role), nil
}

func (s *Store) Profile(ctx context.Context, userID string) (models.Profile, error) {
	var p models.Profile
	var role string
	err := s.pool.QueryRow(ctx,
		`SELECT id, COALESCE(full_name, ''), role, created_at FROM user_profiles WHERE id = $1`, userID,
	).Scan(&p.ID, &p.FullName, &role, &p.CreatedAt)
	if err != nil {
		return models.Profile{}, mapErr(err)
	}
	p.Role = models.ParseRole(role)
	return p, nil
}

func (s *Store) EnsureProfile(ctx context.Context, profile models.Profile) error {
	role := profile.Role
	if !role.Known() {
		role = models.RoleStudent
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_profiles (id, full_name, role) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`,
		profile.ID, profile.FullName, string(role),
	)
	return mapErr(err)
}
