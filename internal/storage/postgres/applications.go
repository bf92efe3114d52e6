package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/hongminglow/savedu/internal/models"
	"github.com/hongminglow/savedu/internal/storage"
)

const applicationSelect = `
	SELECT a.id, a.student_id, COALESCE(p.full_name, ''), a.title, COALESCE(a.country, ''),
		COALESCE(a.program, ''), COALESCE(a.intake, ''), a.status, COALESCE(a.notes, ''),
		a.created_at, a.updated_at
	FROM applications a
	LEFT JOIN user_profiles p ON p.id = a.student_id`

// CreateApplication inserts app for its student. The status is always pending.
func (s *Store) CreateApplication(ctx context.Context, app models.Application) (models.Application, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO applications (student_id, title, country, program, intake, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		app.StudentID, app.Title, app.Country, app.Program, app.Intake, models.StatusPending,
	).Scan(&id)
	if err != nil {
		return models.Application{}, mapErr(err)
	}
	return s.application(ctx, id)
}

func (s *Store) application(ctx context.Context, id int64) (models.Application, error) {
	row := s.pool.QueryRow(ctx, applicationSelect+` WHERE a.id = $1`, id)
	return scanApplication(row)
}

func (s *Store) ListStudentApplications(ctx context.Context, studentID string, limit int) ([]models.Application, error) {
	rows, err := s.pool.Query(ctx,
		applicationSelect+` WHERE a.student_id = $1 ORDER BY a.created_at DESC, a.id DESC LIMIT $2`,
		studentID, clampLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	return collectApplications(rows)
}

func (s *Store) CountStudentApplications(ctx context.Context, studentID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM applications WHERE student_id = $1`, studentID).Scan(&n)
	return n, err
}

// ListApplications is the admin listing with status filter, free-text search and sort order.
func (s *Store) ListApplications(ctx context.Context, filter storage.ApplicationFilter) ([]models.Application, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" && filter.Status != "all" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("a.status = $%d", len(args)))
	}
	if term := strings.TrimSpace(filter.Search); term != "" {
		args = append(args, "%"+escapeLike(term)+"%")
		n := len(args)
		where = append(where, fmt.Sprintf(
			"(a.title ILIKE $%d OR a.program ILIKE $%d OR a.intake ILIKE $%d OR p.full_name ILIKE $%d OR a.student_id::text ILIKE $%d)",
			n, n, n, n, n))
	}
	query := applicationSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if filter.Sort == storage.SortOldest {
		query += " ORDER BY a.created_at ASC, a.id ASC"
	} else {
		query += " ORDER BY a.created_at DESC, a.id DESC"
	}
	args = append(args, clampLimit(filter.Limit))
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectApplications(rows)
}

func (s *Store) UpdateApplication(ctx context.Context, id int64, status, notes string) (models.Application, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE applications SET status = $2, notes = $3, updated_at = NOW() WHERE id = $1`,
		id, status, notes,
	)
	if err != nil {
		return models.Application{}, mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return models.Application{}, storage.ErrNotFound
	}
	return s.application(ctx, id)
}

func (s *Store) DeleteApplication(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM applications WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) CountApplicationsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM applications GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int, len(models.ApplicationStatuses))
	for _, st := range models.ApplicationStatuses {
		counts[st] = 0
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func scanApplication(row pgx.Row) (models.Application, error) {
	var a models.Application
	err := row.Scan(&a.ID, &a.StudentID, &a.StudentName, &a.Title, &a.Country, &a.Program, &a.Intake,
		&a.Status, &a.Notes, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return models.Application{}, mapErr(err)
	}
	return a, nil
}

func collectApplications(rows pgx.Rows) ([]models.Application, error) {
	defer rows.Close()
	var out []models.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 500
	}
	return limit
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
