package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/hongminglow/savedu/internal/models"
	"github.com/hongminglow/savedu/internal/storage"
	"github.com/hongminglow/savedu/internal/web"
)

const (
	recentContacts   = 5
	applicationsPage = 200
)

// AdminHandler serves the admin area. Its routes belong behind the admin guard.
type AdminHandler struct {
	views  *web.Renderer
	store  storage.Store
	logger *slog.Logger
}

func NewAdminHandler(views *web.Renderer, store storage.Store, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{views: views, store: store, logger: logger}
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Get("/admin", h.dashboard)
	r.Get("/admin/applications", h.applications)
	r.Post("/admin/applications/{id}", h.updateApplication)
	r.Post("/admin/applications/{id}/delete", h.deleteApplication)
}

type statusCount struct {
	Status string
	Count  int
}

type adminDashboard struct {
	Total    int
	ByStatus []statusCount
	Contacts []models.ContactMessage
}

func (h *AdminHandler) dashboard(w http.ResponseWriter, r *http.Request) {
	var (
		counts map[string]int
		data   adminDashboard
	)
	ctx, cancel := queryContext(r)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		counts, err = h.store.CountApplicationsByStatus(gctx)
		return err
	})
	g.Go(func() (err error) {
		data.Contacts, err = h.store.ListContactMessages(gctx, recentContacts)
		return err
	})

	page := web.Page{Title: "Admin", Flash: takeFlash(r)}
	if err := g.Wait(); err != nil {
		h.logger.Error("load admin dashboard failed", "error", err)
		page.Error = "Erreur lors du chargement du dashboard."
	}
	for _, status := range models.ApplicationStatuses {
		data.ByStatus = append(data.ByStatus, statusCount{Status: status, Count: counts[status]})
		data.Total += counts[status]
	}
	page.Data = data
	h.views.Render(w, r, http.StatusOK, web.PageAdmin, page)
}

type applicationsView struct {
	Status       string
	Search       string
	Sort         string
	Applications []models.Application
}

func (h *AdminHandler) applications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	view := applicationsView{
		Status: q.Get("status"),
		Search: strings.TrimSpace(q.Get("q")),
		Sort:   q.Get("sort"),
	}
	if !models.ValidStatus(view.Status) {
		view.Status = ""
	}
	if view.Sort != storage.SortOldest {
		view.Sort = storage.SortNewest
	}

	ctx, cancel := queryContext(r)
	defer cancel()
	page := web.Page{Title: "Dossiers", Flash: takeFlash(r)}
	apps, err := h.store.ListApplications(ctx, storage.ApplicationFilter{
		Status: view.Status,
		Search: view.Search,
		Sort:   view.Sort,
		Limit:  applicationsPage,
	})
	if err != nil {
		h.logger.Error("list applications failed", "error", err)
		page.Error = "Impossible de charger les dossiers."
	}
	view.Applications = apps
	page.Data = view
	h.views.Render(w, r, http.StatusOK, web.PageAdminApplications, page)
}

func (h *AdminHandler) updateApplication(w http.ResponseWriter, r *http.Request) {
	id, ok := applicationID(r)
	if !ok {
		h.back(w, r, "Dossier introuvable.")
		return
	}
	status := r.PostFormValue("status")
	if !models.ValidStatus(status) {
		h.back(w, r, "Statut invalide.")
		return
	}
	notes := strings.TrimSpace(r.PostFormValue("notes"))

	ctx, cancel := queryContext(r)
	defer cancel()
	if _, err := h.store.UpdateApplication(ctx, id, status, notes); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.back(w, r, "Dossier introuvable.")
			return
		}
		h.logger.Error("update application failed", "application_id", id, "error", err)
		h.back(w, r, "Mise à jour impossible.")
		return
	}
	h.logger.Info("application updated", "application_id", id, "status", status)
	h.back(w, r, "Dossier mis à jour.")
}

func (h *AdminHandler) deleteApplication(w http.ResponseWriter, r *http.Request) {
	id, ok := applicationID(r)
	if !ok {
		h.back(w, r, "Dossier introuvable.")
		return
	}
	ctx, cancel := queryContext(r)
	defer cancel()
	if err := h.store.DeleteApplication(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.back(w, r, "Dossier introuvable.")
			return
		}
		h.logger.Error("delete application failed", "application_id", id, "error", err)
		h.back(w, r, "Suppression impossible.")
		return
	}
	h.logger.Info("application deleted", "application_id", id)
	h.back(w, r, "Dossier supprimé.")
}

// back returns to the listing with message as a flash.
func (h *AdminHandler) back(w http.ResponseWriter, r *http.Request, message string) {
	setFlash(r, h.logger, message)
	http.Redirect(w, r, "/admin/applications", http.StatusSeeOther)
}

func applicationID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}
