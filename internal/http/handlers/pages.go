package handlers

import (
	"log/slog"
	"net/http"
	"net/mail"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hongminglow/savedu/internal/models"
	"github.com/hongminglow/savedu/internal/models/dto"
	"github.com/hongminglow/savedu/internal/storage"
	"github.com/hongminglow/savedu/internal/web"
)

// PagesHandler serves the public pages.
type PagesHandler struct {
	views    *web.Renderer
	contacts storage.ContactStore
	logger   *slog.Logger
}

func NewPagesHandler(views *web.Renderer, contacts storage.ContactStore, logger *slog.Logger) *PagesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PagesHandler{views: views, contacts: contacts, logger: logger}
}

// Register attaches the public routes.
func (h *PagesHandler) Register(r chi.Router) {
	r.Get("/", h.Home)
	r.Get("/contact", h.contactForm)
	r.Post("/contact", h.contact)
	r.Get("/not-authorized", h.notAuthorized)
}

// Home renders the landing page. It also serves unmatched paths.
func (h *PagesHandler) Home(w http.ResponseWriter, r *http.Request) {
	h.views.Render(w, r, http.StatusOK, web.PageHome, web.Page{Flash: takeFlash(r)})
}

func (h *PagesHandler) notAuthorized(w http.ResponseWriter, r *http.Request) {
	h.views.Render(w, r, http.StatusForbidden, web.PageNotAuthorized, web.Page{Title: "Accès refusé"})
}

func (h *PagesHandler) contactForm(w http.ResponseWriter, r *http.Request) {
	h.views.Render(w, r, http.StatusOK, web.PageContact, web.Page{Title: "Contact", Data: dto.ContactRequest{}})
}

func (h *PagesHandler) contact(w http.ResponseWriter, r *http.Request) {
	req := dto.ContactRequest{
		FullName: strings.TrimSpace(r.PostFormValue("full_name")),
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Phone:    strings.TrimSpace(r.PostFormValue("phone")),
		Message:  strings.TrimSpace(r.PostFormValue("message")),
	}
	if msg := validateContact(req); msg != "" {
		h.views.Render(w, r, http.StatusBadRequest, web.PageContact, web.Page{Title: "Contact", Error: msg, Data: req})
		return
	}

	ctx, cancel := queryContext(r)
	defer cancel()
	_, err := h.contacts.CreateContactMessage(ctx, models.ContactMessage{
		FullName: req.FullName,
		Email:    req.Email,
		Phone:    req.Phone,
		Message:  req.Message,
	})
	if err != nil {
		h.logger.Error("store contact message failed", "error", err)
		h.views.Render(w, r, http.StatusInternalServerError, web.PageContact, web.Page{
			Title: "Contact",
			Error: "Envoi impossible pour le moment. Réessayez plus tard.",
			Data:  req,
		})
		return
	}
	h.views.Render(w, r, http.StatusOK, web.PageContact, web.Page{
		Title:   "Contact",
		Success: "Message envoyé. Nous vous répondrons rapidement.",
		Data:    dto.ContactRequest{},
	})
}

func validateContact(req dto.ContactRequest) string {
	if req.FullName == "" || req.Email == "" || req.Message == "" {
		return "Nom, email et message sont obligatoires."
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return "Adresse email invalide."
	}
	return ""
}
