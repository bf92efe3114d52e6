package models

import "strings"

// Role is the coarse authorization label attached to a user profile.
type Role string

const (
	// RoleUnknown means the role could not be resolved (timeout, error or missing profile).
	RoleUnknown Role = ""
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// ParseRole normalizes a stored role value. Unrecognized values are kept as-is so that a
// guard comparing against a required role still rejects them.
func ParseRole(value string) Role {
	return Role(strings.ToLower(strings.TrimSpace(value)))
}

// Known reports whether the role was resolved at all.
func (r Role) Known() bool {
	return r != RoleUnknown
}

func (r Role) String() string {
	if r == RoleUnknown {
		return "unknown"
	}
	return string(r)
}
