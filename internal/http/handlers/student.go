package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/hongminglow/savedu/internal/models"
	"github.com/hongminglow/savedu/internal/models/dto"
	"github.com/hongminglow/savedu/internal/storage"
	"github.com/hongminglow/savedu/internal/web"
)

const (
	recentApplications = 3
	recentPayments     = 2
)

// StudentHandler serves the student area. Its routes belong behind the student guard.
type StudentHandler struct {
	views  *web.Renderer
	store  storage.Store
	logger *slog.Logger
}

func NewStudentHandler(views *web.Renderer, store storage.Store, logger *slog.Logger) *StudentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StudentHandler{views: views, store: store, logger: logger}
}

func (h *StudentHandler) Register(r chi.Router) {
	r.Get("/student", h.dashboard)
	r.Get("/student/new-application", h.newApplicationForm)
	r.Post("/student/new-application", h.createApplication)
}

type studentDashboard struct {
	DisplayName        string
	Applications       int
	Payments           int
	Notifications      int
	RecentApplications []models.Application
	RecentPayments     []models.Payment
}

func (h *StudentHandler) dashboard(w http.ResponseWriter, r *http.Request) {
	user := currentState(r).User
	if user == nil {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	var (
		data    studentDashboard
		profile models.Profile
	)
	ctx, cancel := queryContext(r)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := h.store.Profile(gctx, user.ID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		profile = p
		return nil
	})
	g.Go(func() (err error) {
		data.Applications, err = h.store.CountStudentApplications(gctx, user.ID)
		return err
	})
	g.Go(func() (err error) {
		data.Payments, err = h.store.CountStudentPayments(gctx, user.ID)
		return err
	})
	g.Go(func() (err error) {
		data.Notifications, err = h.store.CountUnreadNotifications(gctx, user.ID)
		return err
	})
	g.Go(func() (err error) {
		data.RecentApplications, err = h.store.ListStudentApplications(gctx, user.ID, recentApplications)
		return err
	})
	g.Go(func() (err error) {
		data.RecentPayments, err = h.store.ListStudentPayments(gctx, user.ID, recentPayments)
		return err
	})

	page := web.Page{Title: "Tableau de bord", Flash: takeFlash(r)}
	if err := g.Wait(); err != nil {
		h.logger.Error("load student dashboard failed", "user_id", user.ID, "error", err)
		page.Error = "Erreur lors du chargement du dashboard."
	}
	data.DisplayName = displayName(profile, user)
	page.Data = data
	h.views.Render(w, r, http.StatusOK, web.PageStudent, page)
}

// displayName picks the profile name, then the provider metadata name, then the email.
func displayName(profile models.Profile, user *models.User) string {
	for _, candidate := range []string{profile.FullName, user.FullName(), user.Email} {
		if name := strings.TrimSpace(candidate); name != "" {
			return name
		}
	}
	return "Étudiant"
}

func (h *StudentHandler) newApplicationForm(w http.ResponseWriter, r *http.Request) {
	h.views.Render(w, r, http.StatusOK, web.PageNewApplication, web.Page{
		Title: "Nouveau dossier",
		Data:  dto.NewApplicationRequest{},
	})
}

func (h *StudentHandler) createApplication(w http.ResponseWriter, r *http.Request) {
	user := currentState(r).User
	if user == nil {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	req := dto.NewApplicationRequest{
		Title:   strings.TrimSpace(r.PostFormValue("title")),
		Country: strings.TrimSpace(r.PostFormValue("country")),
		Program: strings.TrimSpace(r.PostFormValue("program")),
		Intake:  strings.TrimSpace(r.PostFormValue("intake")),
	}
	fail := func(status int, message string) {
		h.views.Render(w, r, status, web.PageNewApplication, web.Page{Title: "Nouveau dossier", Error: message, Data: req})
	}
	if req.Title == "" {
		fail(http.StatusBadRequest, "L'intitulé du dossier est obligatoire.")
		return
	}

	ctx, cancel := queryContext(r)
	defer cancel()
	app, err := h.store.CreateApplication(ctx, models.Application{
		StudentID: user.ID,
		Title:     req.Title,
		Country:   req.Country,
		Program:   req.Program,
		Intake:    req.Intake,
		Status:    models.StatusPending,
	})
	if err != nil {
		h.logger.Error("create application failed", "user_id", user.ID, "error", err)
		fail(http.StatusInternalServerError, "Création du dossier impossible. Réessayez.")
		return
	}
	h.logger.Info("application created", "user_id", user.ID, "application_id", app.ID)
	setFlash(r, h.logger, "Dossier créé avec succès.")
	http.Redirect(w, r, "/student", http.StatusSeeOther)
}
