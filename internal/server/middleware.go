package server

import (
	"context"
	"log"
	"net/http"

	"medibot/internal/auth"
	"medibot/internal/i18n"
)

type ctxKey string

const sessionContextKey ctxKey = "session"

// requireSession lets authenticated sessions through and sends everyone else to /login.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.currentSession(r)
		if err != nil {
			log.Printf("require session: %v", err)
			writeError(w, http.StatusInternalServerError, genericFailure)
			return
		}
		if !sess.Authenticated() {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func withLocale(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := i18n.WithLocale(r.Context(), i18n.LocaleFromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// currentSession returns the live session named by the request cookie, or nil.
func (s *Server) currentSession(r *http.Request) (*auth.Session, error) {
	return s.Auth.Session(r.Context(), sessionCookie(r))
}

func sessionCookie(r *http.Request) string {
	cookie, err := r.Cookie(auth.SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func sessionFromContext(ctx context.Context) *auth.Session {
	if val, ok := ctx.Value(sessionContextKey).(*auth.Session); ok {
		return val
	}
	return nil
}
