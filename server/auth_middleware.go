package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/jrsteele09/school-dashboard/guard"
	"github.com/jrsteele09/school-dashboard/sessions"
	"github.com/rs/zerolog/log"
)

const (
	// sessionCookieName binds the live session to the browser that signed in
	sessionCookieName = "session_id"
	// csrfCookieName and csrfFieldName carry the double-submitted form token
	csrfCookieName = "csrf_token"
	csrfFieldName  = "csrf_token"
)

type csrfContextKey struct{}

// PageHandler renders a page for an authorized session. It is only ever
// called after the guard decided Render.
type PageHandler func(w http.ResponseWriter, r *http.Request, session *sessions.Session)

// Guarded wraps page with the guard decision for the route registered at path
func (s *Server) Guarded(path string, page PageHandler) (http.HandlerFunc, error) {
	route, ok := s.table.Lookup(path)
	if !ok {
		return nil, fmt.Errorf("route %s is not in the guard table", path)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		session := s.clientSession(r)
		decision := guard.Evaluate(session, route, r.URL.RequestURI())

		switch decision.Outcome {
		case guard.Render:
			page(w, r, session)
		case guard.RedirectToLogin:
			log.Debug().Str("path", r.URL.Path).Msg("guard: not signed in")
			http.Redirect(w, r, decision.Location, http.StatusSeeOther)
		case guard.RedirectToUnauthorized:
			log.Debug().Str("path", r.URL.Path).Str("role", string(session.Role())).Str("allowed", route.AllowedRoles.String()).Msg("guard: role not allowed")
			http.Redirect(w, r, decision.Location, http.StatusSeeOther)
		}
	}, nil
}

// clientSession returns the live session only to the browser holding its
// session cookie. Every other client is signed out as far as pages go.
func (s *Server) clientSession(r *http.Request) *sessions.Session {
	session := s.auth.Settled(r.Context())
	if session == nil {
		return nil
	}
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(session.ID)) != 1 {
		return nil
	}
	return session
}

func hasSessionCookie(r *http.Request) bool {
	c, err := r.Cookie(sessionCookieName)
	return err == nil && c.Value != ""
}

func (s *Server) setSessionCookie(w http.ResponseWriter, r *http.Request, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}

// CSRFMiddleware gives each browser a form token cookie and requires the same
// token back as a form field on every state-changing request.
func (s *Server) CSRFMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if c, err := r.Cookie(csrfCookieName); err == nil {
			token = c.Value
		}

		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			if token == "" {
				token = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     csrfCookieName,
					Value:    token,
					Path:     "/",
					HttpOnly: true,
					Secure:   r.TLS != nil,
					SameSite: http.SameSiteStrictMode,
				})
			}
		default:
			sent := r.PostFormValue(csrfFieldName)
			if token == "" || subtle.ConstantTimeCompare([]byte(sent), []byte(token)) != 1 {
				log.Warn().Str("method", r.Method).Str("path", r.URL.Path).Msg("Rejected form without a matching CSRF token")
				http.Error(w, "Invalid or missing form token", http.StatusForbidden)
				return
			}
		}

		next(w, r.WithContext(context.WithValue(r.Context(), csrfContextKey{}, token)))
	}
}

func csrfToken(r *http.Request) string {
	token, _ := r.Context().Value(csrfContextKey{}).(string)
	return token
}
