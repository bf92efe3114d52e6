package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hongminglow/savedu/internal/guard"
	"github.com/hongminglow/savedu/internal/models/dto"
	"github.com/hongminglow/savedu/internal/provider"
	"github.com/hongminglow/savedu/internal/visitor"
	"github.com/hongminglow/savedu/internal/web"
)

// AuthHandler owns the sign-in and sign-up forms.
type AuthHandler struct {
	views         *web.Renderer
	signInTimeout time.Duration
	logger        *slog.Logger
}

// NewAuthHandler constructs the handler.
func NewAuthHandler(views *web.Renderer, signInTimeout time.Duration, logger *slog.Logger) *AuthHandler {
	if signInTimeout <= 0 {
		signInTimeout = 6 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{views: views, signInTimeout: signInTimeout, logger: logger}
}

// Register attaches the form routes. They belong behind the public-only guard.
func (h *AuthHandler) Register(r chi.Router) {
	r.Get("/login", h.loginForm)
	r.Post("/login", h.login)
	r.Get("/signup", h.signupForm)
	r.Post("/signup", h.signup)
}

type loginData struct {
	Email string
	Next  string
}

func (h *AuthHandler) loginForm(w http.ResponseWriter, r *http.Request) {
	data := loginData{Next: guard.SafeNext(r.URL.Query().Get("next"))}
	h.views.Render(w, r, http.StatusOK, web.PageLogin, web.Page{Title: "Connexion", Data: data})
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	req := dto.SignInRequest{
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
		Next:     guard.SafeNext(r.PostFormValue("next")),
	}
	fail := func(status int, message string) {
		h.views.Render(w, r, status, web.PageLogin, web.Page{
			Title: "Connexion",
			Error: message,
			Data:  loginData{Email: req.Email, Next: req.Next},
		})
	}
	if req.Email == "" || req.Password == "" {
		fail(http.StatusBadRequest, "Email et mot de passe requis.")
		return
	}
	v := visitor.FromContext(r.Context())
	if v == nil {
		fail(http.StatusInternalServerError, "Connexion échouée.")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.signInTimeout)
	defer cancel()
	session, err := v.Client.SignInWithPassword(ctx, req.Email, req.Password)
	switch {
	case errors.Is(err, provider.ErrInvalidCredentials):
		fail(http.StatusUnauthorized, "Email ou mot de passe incorrect.")
		return
	case errors.Is(err, context.DeadlineExceeded):
		h.logger.Warn("sign in timed out", "timeout", h.signInTimeout)
		fail(http.StatusGatewayTimeout, "Délai de connexion dépassé (vérifiez la configuration du fournisseur ou le réseau).")
		return
	case err != nil:
		h.logger.Error("sign in failed", "error", err)
		fail(http.StatusBadGateway, "Connexion échouée.")
		return
	case session == nil:
		fail(http.StatusOK, "Connexion OK, mais aucune session reçue.")
		return
	}

	target := guard.DispatchPath
	if req.Next != "" {
		target = req.Next
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *AuthHandler) signupForm(w http.ResponseWriter, r *http.Request) {
	h.views.Render(w, r, http.StatusOK, web.PageSignup, web.Page{Title: "Inscription", Data: dto.SignUpRequest{}})
}

func (h *AuthHandler) signup(w http.ResponseWriter, r *http.Request) {
	req := dto.SignUpRequest{
		FullName: strings.TrimSpace(r.PostFormValue("full_name")),
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
	}
	render := func(status int, page web.Page) {
		page.Title = "Inscription"
		page.Data = dto.SignUpRequest{FullName: req.FullName, Email: req.Email}
		h.views.Render(w, r, status, web.PageSignup, page)
	}
	if req.Email == "" || req.Password == "" {
		render(http.StatusBadRequest, web.Page{Error: "Email et mot de passe requis."})
		return
	}
	v := visitor.FromContext(r.Context())
	if v == nil {
		render(http.StatusInternalServerError, web.Page{Error: "Inscription échouée."})
		return
	}

	params := provider.SignUpParams{Email: req.Email, Password: req.Password}
	if req.FullName != "" {
		params.Metadata = map[string]any{"full_name": req.FullName}
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.signInTimeout)
	defer cancel()
	_, session, err := v.Client.SignUp(ctx, params)
	switch {
	case errors.Is(err, provider.ErrUserExists):
		render(http.StatusConflict, web.Page{Error: "Un compte existe déjà avec cet email."})
		return
	case errors.Is(err, provider.ErrWeakPassword):
		render(http.StatusBadRequest, web.Page{Error: "Mot de passe trop faible (6 caractères minimum)."})
		return
	case errors.Is(err, provider.ErrInvalidCredentials):
		render(http.StatusBadRequest, web.Page{Error: "Adresse email invalide."})
		return
	case errors.Is(err, context.DeadlineExceeded):
		render(http.StatusGatewayTimeout, web.Page{Error: "Délai d'inscription dépassé."})
		return
	case err != nil:
		h.logger.Error("sign up failed", "error", err)
		render(http.StatusBadGateway, web.Page{Error: "Inscription échouée."})
		return
	case session == nil:
		render(http.StatusOK, web.Page{Success: "Compte créé. Vérifiez votre email puis connectez-vous."})
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, guard.DispatchPath, http.StatusSeeOther)
}
