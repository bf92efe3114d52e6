package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hongminglow/savedu/internal/authstate"
	"github.com/hongminglow/savedu/internal/guard"
	"github.com/hongminglow/savedu/internal/models/dto"
	"github.com/hongminglow/savedu/internal/visitor"
)

// queryTimeout bounds every store query made while rendering a page.
const queryTimeout = 8 * time.Second

const (
	flashKey = "flash"
	flashTTL = 5 * time.Minute
)

// setFlash leaves a one-shot message for the visitor's next page.
func setFlash(r *http.Request, logger *slog.Logger, message string) {
	v := visitor.FromContext(r.Context())
	if v == nil {
		return
	}
	if err := v.Tab.Set(r.Context(), flashKey, message, flashTTL); err != nil {
		logger.Warn("store flash failed", "error", err)
	}
}

// takeFlash consumes the pending flash message, if any.
func takeFlash(r *http.Request) string {
	v := visitor.FromContext(r.Context())
	if v == nil {
		return ""
	}
	msg, _ := v.Tab.Take(r.Context(), flashKey)
	return msg
}

// currentState is the state the guard admitted the request with, falling back to the
// visitor's live snapshot on unguarded routes.
func currentState(r *http.Request) authstate.State {
	if state, ok := guard.StateFrom(r.Context()); ok {
		return state
	}
	if v := visitor.FromContext(r.Context()); v != nil {
		return v.Auth.State()
	}
	return authstate.State{}
}

func stateView(state authstate.State) dto.AuthStateResponse {
	view := dto.AuthStateResponse{
		Loading: state.Loading,
		Role:    string(state.Role),
		Error:   state.Error,
		Version: state.Version,
	}
	if state.User != nil {
		view.User = &dto.UserView{ID: state.User.ID, Email: state.User.Email}
	}
	return view
}

func queryContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), queryTimeout)
}
