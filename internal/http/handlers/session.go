package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/hongminglow/savedu/internal/guard"
	"github.com/hongminglow/savedu/internal/http/respond"
	"github.com/hongminglow/savedu/internal/visitor"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// SessionHandler exposes the visitor's auth state to the browser and handles sign-out.
type SessionHandler struct {
	refreshTimeout time.Duration
	signOutTimeout time.Duration
	upgrader       websocket.Upgrader
	logger         *slog.Logger
}

// NewSessionHandler constructs the handler. refreshTimeout bounds a focus re-check,
// signOutTimeout the local part of a sign-out.
func NewSessionHandler(refreshTimeout, signOutTimeout time.Duration, logger *slog.Logger) *SessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandler{
		refreshTimeout: refreshTimeout,
		signOutTimeout: signOutTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
}

// Register attaches /auth/* and /logout.
func (h *SessionHandler) Register(r chi.Router) {
	r.Get("/auth/state", h.state)
	r.Post("/auth/refresh", h.refresh)
	r.Get("/auth/events", h.events)
	r.Post("/logout", h.logout)
}

func (h *SessionHandler) state(w http.ResponseWriter, r *http.Request) {
	v := visitor.FromContext(r.Context())
	if v == nil {
		respond.Error(w, http.StatusInternalServerError, "no_visitor", "visitor context missing")
		return
	}
	respond.JSON(w, http.StatusOK, "ok", stateView(v.Auth.State()))
}

// refresh re-checks the session, e.g. when a tab regains focus.
func (h *SessionHandler) refresh(w http.ResponseWriter, r *http.Request) {
	v := visitor.FromContext(r.Context())
	if v == nil {
		respond.Error(w, http.StatusInternalServerError, "no_visitor", "visitor context missing")
		return
	}
	ctx := r.Context()
	if h.refreshTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.refreshTimeout)
		defer cancel()
	}
	respond.JSON(w, http.StatusOK, "ok", stateView(v.Auth.Refresh(ctx)))
}

// events streams every state change of the visitor, starting with the current state, so
// other tabs follow a sign-in or sign-out.
func (h *SessionHandler) events(w http.ResponseWriter, r *http.Request) {
	v := visitor.FromContext(r.Context())
	if v == nil {
		http.Error(w, "no visitor", http.StatusInternalServerError)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	states, stop := v.Auth.Watch()
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return
		case state, ok := <-states:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "visitor closed"),
					time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(stateView(state)); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// logout clears the session and sends the browser to the login page. The remote
// invalidation finishes in the background.
func (h *SessionHandler) logout(w http.ResponseWriter, r *http.Request) {
	if v := visitor.FromContext(r.Context()); v != nil {
		ctx := r.Context()
		if h.signOutTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, h.signOutTimeout)
			defer cancel()
		}
		if err := v.Auth.SignOut(ctx); err != nil {
			h.logger.Warn("sign out failed", "visitor_id", v.ID, "error", err)
		}
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, guard.LoginPath, http.StatusSeeOther)
}
