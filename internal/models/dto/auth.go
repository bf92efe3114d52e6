package dto

// SignInRequest is the login form.
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Next     string `json:"next"`
}

// SignUpRequest is the signup form.
type SignUpRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// NewApplicationRequest is the student "new application" form. The owner and initial
// status are assigned by the server.
type NewApplicationRequest struct {
	Title   string `json:"title"`
	Country string `json:"country"`
	Program string `json:"program"`
	Intake  string `json:"intake"`
}

// ApplicationUpdateRequest is the admin inline edit of one application.
type ApplicationUpdateRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

// ContactRequest is the public contact form.
type ContactRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Message  string `json:"message"`
}

// AuthStateResponse is the JSON view of a visitor's auth state.
type AuthStateResponse struct {
	Loading bool      `json:"loading"`
	User    *UserView `json:"user"`
	Role    string    `json:"role"`
	Error   string    `json:"error,omitempty"`
	Version uint64    `json:"version"`
}

type UserView struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}
