// Package web renders the server-side pages of the site.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hongminglow/savedu/internal/authstate"
	"github.com/hongminglow/savedu/internal/guard"
	"github.com/hongminglow/savedu/internal/models"
	"github.com/hongminglow/savedu/internal/visitor"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// Page names.
const (
	PageHome              = "home"
	PageContact           = "contact"
	PageLogin             = "login"
	PageSignup            = "signup"
	PageNotAuthorized     = "not_authorized"
	PageWaiting           = "waiting"
	PageDispatchError     = "dispatch_error"
	PageStudent           = "student"
	PageNewApplication    = "new_application"
	PageAdmin             = "admin"
	PageAdminApplications = "admin_applications"
)

var pageNames = []string{
	PageHome, PageContact, PageLogin, PageSignup, PageNotAuthorized, PageWaiting,
	PageDispatchError, PageStudent, PageNewApplication, PageAdmin, PageAdminApplications,
}

// Nav is the navbar variant of a page.
type Nav struct {
	Loading       bool
	Authenticated bool
	UserID        string
	Role          string
}

// Page is the data every template receives.
type Page struct {
	Title   string
	Nav     Nav
	Flash   string
	Error   string
	Success string
	Data    any
}

// Renderer executes the embedded templates.
type Renderer struct {
	pages  map[string]*template.Template
	logger *slog.Logger
}

// New parses every page against the shared layout.
func New(logger *slog.Logger) (*Renderer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tmpl, err := template.New("layout.html").Funcs(funcs).ParseFS(templateFS,
			"templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse page %s: %w", name, err)
		}
		pages[name] = tmpl
	}
	return &Renderer{pages: pages, logger: logger}, nil
}

// Static serves the embedded assets under /static/.
func Static() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}

// Render writes page name with status. The navbar follows the auth state of the visitor
// making r.
func (rd *Renderer) Render(w http.ResponseWriter, r *http.Request, status int, name string, p Page) {
	tmpl, ok := rd.pages[name]
	if !ok {
		rd.logger.Error("unknown page", "page", name)
		http.Error(w, "page not found", http.StatusInternalServerError)
		return
	}
	p.Nav = navFor(r)

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", p); err != nil {
		rd.logger.Error("render page failed", "page", name, "error", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		rd.logger.Debug("write page failed", "page", name, "error", err)
	}
}

// Waiting renders the placeholder shown while a visitor's auth state settles.
func (rd *Renderer) Waiting(w http.ResponseWriter, r *http.Request) {
	rd.Render(w, r, http.StatusOK, PageWaiting, Page{Title: "Chargement"})
}

// DispatchError renders the recoverable dashboard error panel.
func (rd *Renderer) DispatchError(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("Cache-Control", "no-store")
	rd.Render(w, r, http.StatusOK, PageDispatchError, Page{Title: "Tableau de bord", Error: message})
}

func navFor(r *http.Request) Nav {
	state, ok := guard.StateFrom(r.Context())
	if !ok {
		v := visitor.FromContext(r.Context())
		if v == nil {
			return Nav{}
		}
		state = v.Auth.State()
	}
	return navOf(state)
}

func navOf(state authstate.State) Nav {
	return Nav{
		Loading:       state.Loading,
		Authenticated: !state.Loading && state.Authenticated(),
		UserID:        state.UserID(),
		Role:          string(state.Role),
	}
}

var statusLabels = map[string]string{
	models.StatusPending:   "En attente",
	models.StatusReviewing: "En cours d'examen",
	models.StatusApproved:  "Approuvé",
	models.StatusRejected:  "Rejeté",
}

var funcs = template.FuncMap{
	"statusLabel": StatusLabel,
	"statuses":    func() []string { return models.ApplicationStatuses },
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("02/01/2006")
	},
	"fcfa": FormatFCFA,
}

// StatusLabel is the French label of an application status.
func StatusLabel(status string) string {
	if label, ok := statusLabels[status]; ok {
		return label
	}
	return status
}

// FormatFCFA groups thousands with a space, e.g. "150 000 FCFA".
func FormatFCFA(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	digits := strconv.FormatInt(amount, 10)
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(d)
	}
	return sign + b.String() + " FCFA"
}
