// Package guard decides, from an auth state snapshot, whether a route renders, waits or
// redirects, and adapts those decisions to HTTP.
package guard

import (
	"errors"
	"net/url"
	"strings"

	"github.com/hongminglow/savedu/internal/authstate"
	"github.com/hongminglow/savedu/internal/models"
	"github.com/hongminglow/savedu/internal/roles"
)

// Well-known paths.
const (
	LoginPath        = "/login"
	UnauthorizedPath = "/not-authorized"
	DispatchPath     = "/dashboard"
	AdminHome        = "/admin"
	StudentHome      = "/student"
)

// Outcome is what a guard does with a request.
type Outcome int

const (
	Render Outcome = iota
	Wait
	RedirectLogin
	RedirectUnauthorized
	RedirectDispatch
	RedirectHome
	ShowError
)

func (o Outcome) String() string {
	switch o {
	case Render:
		return "render"
	case Wait:
		return "wait"
	case RedirectLogin:
		return "redirect_login"
	case RedirectUnauthorized:
		return "redirect_unauthorized"
	case RedirectDispatch:
		return "redirect_dispatch"
	case RedirectHome:
		return "redirect_home"
	case ShowError:
		return "show_error"
	default:
		return "unknown"
	}
}

// Decision is an outcome plus its redirect target or error message.
type Decision struct {
	Outcome  Outcome
	Location string
	Message  string
}

// Rule is a route's access requirement.
type Rule struct {
	publicOnly bool
	role       models.Role
}

// RequireRole admits signed-in users holding role.
func RequireRole(role models.Role) Rule {
	return Rule{role: role}
}

// PublicOnly admits anonymous visitors only; signed-in users go to the dashboard.
var PublicOnly = Rule{publicOnly: true}

func (r Rule) String() string {
	if r.publicOnly {
		return "public_only"
	}
	return "protected:" + r.role.String()
}

// Decide is the pure guard decision for a request to requested (path plus query).
func Decide(state authstate.State, rule Rule, requested string) Decision {
	if rule.publicOnly {
		if state.Authenticated() {
			return Decision{Outcome: RedirectDispatch, Location: DispatchPath}
		}
		return Decision{Outcome: Render}
	}

	switch {
	case state.Loading:
		return Decision{Outcome: Wait}
	case !state.Authenticated():
		return Decision{Outcome: RedirectLogin, Location: LoginURL(requested)}
	case !state.Role.Known() || state.Role != rule.role:
		return Decision{Outcome: RedirectUnauthorized, Location: UnauthorizedPath}
	default:
		return Decision{Outcome: Render}
	}
}

// DispatchDecision routes a signed-in user to the home of the role found by a fresh lookup.
// A failed lookup shows an error instead of guessing a destination.
func DispatchDecision(state authstate.State, role models.Role, err error) Decision {
	switch {
	case state.Loading:
		return Decision{Outcome: Wait}
	case !state.Authenticated():
		return Decision{Outcome: RedirectLogin, Location: LoginPath}
	case errors.Is(err, roles.ErrNoProfile):
		return Decision{Outcome: ShowError, Message: "Aucun rôle trouvé dans user_profiles."}
	case err != nil:
		return Decision{Outcome: ShowError, Message: "Impossible de déterminer le rôle (" + err.Error() + ")."}
	case !role.Known():
		return Decision{Outcome: ShowError, Message: "Impossible de déterminer le rôle."}
	case role == models.RoleAdmin:
		return Decision{Outcome: RedirectHome, Location: AdminHome}
	default:
		return Decision{Outcome: RedirectHome, Location: StudentHome}
	}
}

// LoginURL is the login page remembering where to return.
func LoginURL(requested string) string {
	next := SafeNext(requested)
	if next == "" {
		return LoginPath
	}
	return LoginPath + "?next=" + url.QueryEscape(next)
}

// SafeNext returns next when it is a local absolute path, "" otherwise.
func SafeNext(next string) string {
	next = strings.TrimSpace(next)
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return ""
	}
	if strings.ContainsAny(next, "\r\n") {
		return ""
	}
	return next
}
