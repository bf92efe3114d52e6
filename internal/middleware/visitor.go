package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hongminglow/savedu/internal/visitor"
)

// VisitorCookie names the cookie carrying the visitor id.
const VisitorCookie = "savedu_vid"

const visitorCookieMaxAge = 365 * 24 * time.Hour

// Visitors attaches the visitor bundle of the request's browser, issuing a fresh id when
// the cookie is missing or malformed.
func Visitors(reg *visitor.Registry, secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if c, err := r.Cookie(VisitorCookie); err == nil {
				if parsed, err := uuid.Parse(c.Value); err == nil {
					id = parsed.String()
				}
			}
			if id == "" {
				id = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     VisitorCookie,
					Value:    id,
					Path:     "/",
					MaxAge:   int(visitorCookieMaxAge / time.Second),
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}
			v := reg.Get(id)
			next.ServeHTTP(w, r.WithContext(visitor.WithVisitor(r.Context(), v)))
		})
	}
}
