package postgres

import (
	"context"

	"github.com/hongminglow/savedu/internal/models"
)

func (s *Store) ListStudentPayments(ctx context.Context, studentID string, limit int) ([]models.Payment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, student_id, label, amount_fcfa, status, created_at
		FROM payments WHERE student_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2`,
		studentID, clampLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Payment
	for rows.Next() {
		var p models.Payment
		if err := rows.Scan(&p.ID, &p.StudentID, &p.Label, &p.AmountFCFA, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CountStudentPayments(ctx context.Context, studentID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM payments WHERE student_id = $1`, studentID).Scan(&n)
	return n, err
}

func (s *Store) CountUnreadNotifications(ctx context.Context, studentID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE student_id = $1 AND is_read = FALSE`, studentID,
	).Scan(&n)
	return n, err
}

// CreateContactMessage stores a message from the public contact form.
func (s *Store) CreateContactMessage(ctx context.Context, msg models.ContactMessage) (models.ContactMessage, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO contact_messages (full_name, email, phone, message)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		msg.FullName, msg.Email, msg.Phone, msg.Message,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return models.ContactMessage{}, mapErr(err)
	}
	return msg, nil
}

func (s *Store) ListContactMessages(ctx context.Context, limit int) ([]models.ContactMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, full_name, email, COALESCE(phone, ''), message, created_at
		FROM contact_messages ORDER BY created_at DESC, id DESC LIMIT $1`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ContactMessage
	for rows.Next() {
		var m models.ContactMessage
		if err := rows.Scan(&m.ID, &m.FullName, &m.Email, &m.Phone, &m.Message, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
