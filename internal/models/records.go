package models

import "time"

// Application statuses.
const (
	StatusPending   = "pending"
	StatusReviewing = "reviewing"
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
)

// ApplicationStatuses lists the statuses in workflow order.
var ApplicationStatuses = []string{StatusPending, StatusReviewing, StatusApproved, StatusRejected}

// ValidStatus reports whether status is one of ApplicationStatuses.
func ValidStatus(status string) bool {
	for _, s := range ApplicationStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Application is a student's admission file ("dossier").
type Application struct {
	ID          int64     `json:"id"`
	StudentID   string    `json:"student_id"`
	StudentName string    `json:"student_name,omitempty"`
	Title       string    `json:"title"`
	Country     string    `json:"country,omitempty"`
	Program     string    `json:"program,omitempty"`
	Intake      string    `json:"intake,omitempty"`
	Status      string    `json:"status"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Payment struct {
	ID         int64     `json:"id"`
	StudentID  string    `json:"student_id"`
	Label      string    `json:"label"`
	AmountFCFA int64     `json:"amount_fcfa"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

type Notification struct {
	ID        int64     `json:"id"`
	StudentID string    `json:"student_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

type ContactMessage struct {
	ID        int64     `json:"id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
