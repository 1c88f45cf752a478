package server

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/jrsteele09/school-dashboard/auth"
	"github.com/jrsteele09/school-dashboard/client"
	"github.com/jrsteele09/school-dashboard/guard"
	"github.com/jrsteele09/school-dashboard/internal/errors"
	"github.com/jrsteele09/school-dashboard/sessions"
	"github.com/jrsteele09/school-dashboard/users"
	"github.com/rs/zerolog/log"
)

// PageData is what the shared layout needs
type PageData struct {
	AppName   string
	Title     string
	User      *users.Profile
	CSRFToken string
}

// SignInPageData contains data for rendering the sign-in page
type SignInPageData struct {
	PageData
	Error    string
	Notice   string
	Username string // Preserve username on error
	From     string
}

// RegisterPageData contains data for rendering the registration page
type RegisterPageData struct {
	PageData
	Error       string
	Fields      map[string]string
	Email       string
	Username    string
	PhoneNumber string
}

func (s *Server) pageData(r *http.Request, title string, session *sessions.Session) PageData {
	data := PageData{AppName: s.config.GetAppName(), Title: title, CSRFToken: csrfToken(r)}
	if session.IsAuthenticated() {
		user := session.User.Clone()
		data.User = &user
	}
	return data
}

// SignInPageHandler renders the sign-in page (GET /)
func (s *Server) SignInPageHandler() http.HandlerFunc {
	tmpl, err := ParseTemplate("login.html")
	if err != nil {
		panic("Failed to parse login template: " + err.Error())
	}

	return func(w http.ResponseWriter, r *http.Request) {
		from := r.URL.Query().Get(guard.FromParam)
		if session := s.clientSession(r); session.IsAuthenticated() {
			http.Redirect(w, r, s.table.ReturnPath(session, from), http.StatusSeeOther)
			return
		}

		data := SignInPageData{
			PageData: s.pageData(r, "Sign in", nil),
			From:     from,
		}
		// a cookie for a session that is gone: this browser was signed out
		// behind its back
		if hasSessionCookie(r) {
			data.Notice = s.notices.Take()
			s.clearSessionCookie(w, r)
		}
		if r.URL.Query().Get("registered") != "" {
			data.Notice = "Registration successful. Please sign in."
		}
		s.render(w, tmpl, http.StatusOK, data)
	}
}

// LoginSubmissionHandler processes the sign-in form (POST /login)
func (s *Server) LoginSubmissionHandler() http.HandlerFunc {
	tmpl, err := ParseTemplate("login.html")
	if err != nil {
		panic("Failed to parse login template: " + err.Error())
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form data", http.StatusBadRequest)
			return
		}

		creds := auth.Credentials{
			Username: r.FormValue("username"),
			Password: r.FormValue("password"),
		}
		from := r.FormValue(guard.FromParam)

		session, err := s.auth.SignIn(r.Context(), creds)
		if err != nil {
			status, msg := signInFailure(err)
			s.render(w, tmpl, status, SignInPageData{
				PageData: s.pageData(r, "Sign in", nil),
				Error:    msg,
				Username: creds.Username,
				From:     from,
			})
			return
		}

		s.setSessionCookie(w, r, session.ID)
		http.Redirect(w, r, s.table.ReturnPath(session, from), http.StatusSeeOther)
	}
}

func signInFailure(err error) (int, string) {
	var validationErr *auth.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, "Username and password are required."
	case errors.Is(err, errors.ErrAccountNotActivated):
		return http.StatusForbidden, "Your account has not been activated yet. Please contact the school administrator."
	case errors.Is(err, errors.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Invalid username or password."
	}
	log.Err(err).Msg("Sign-in failed")
	return http.StatusBadGateway, "The school server could not be reached. Please try again."
}

// LogoutHandler ends the session and returns to the entry route (POST
// /logout). Only the browser that owns the session can end it.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.clientSession(r) != nil {
			s.auth.SignOut()
		}
		s.clearSessionCookie(w, r)
		http.Redirect(w, r, s.auth.EntryRoute(), http.StatusSeeOther)
	}
}

func (s *Server) RegisterGetHandler() http.HandlerFunc {
	tmpl, err := ParseTemplate("register.html")
	if err != nil {
		panic("Failed to parse register template: " + err.Error())
	}

	return func(w http.ResponseWriter, r *http.Request) {
		s.render(w, tmpl, http.StatusOK, RegisterPageData{PageData: s.pageData(r, "Register", nil)})
	}
}

func (s *Server) RegisterPostHandler() http.HandlerFunc {
	tmpl, err := ParseTemplate("register.html")
	if err != nil {
		panic("Failed to parse register template: " + err.Error())
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form data", http.StatusBadRequest)
			return
		}

		reg := auth.Registration{
			Email:           r.FormValue("email"),
			Username:        r.FormValue("username"),
			PhoneNumber:     r.FormValue("phone_number"),
			Password:        r.FormValue("password"),
			ConfirmPassword: r.FormValue("confirmPassword"),
		}

		err := s.auth.Register(r.Context(), reg)
		if err == nil {
			http.Redirect(w, r, RouteSignIn+"?registered=1", http.StatusSeeOther)
			return
		}

		data := RegisterPageData{
			PageData:    s.pageData(r, "Register", nil),
			Email:       reg.Email,
			Username:    reg.Username,
			PhoneNumber: reg.PhoneNumber,
		}
		status := http.StatusBadRequest

		var validationErr *auth.ValidationError
		var httpErr *client.HTTPError
		switch {
		case errors.As(err, &validationErr):
			data.Error = "Please correct the highlighted fields."
			data.Fields = validationErr.Fields
		case errors.As(err, &httpErr) && errors.Is(err, errors.ErrInvalidInput):
			data.Error = "Registration failed: " + httpErr.Message
		default:
			log.Err(err).Msg("Registration failed")
			status = http.StatusBadGateway
			data.Error = "Registration failed. Please try again."
		}
		s.render(w, tmpl, status, data)
	}
}

// UnauthorizedHandler is the terminal page for a role mismatch
func (s *Server) UnauthorizedHandler() http.HandlerFunc {
	tmpl, err := ParseTemplate("unauthorized.html")
	if err != nil {
		panic("Failed to parse unauthorized template: " + err.Error())
	}

	return func(w http.ResponseWriter, r *http.Request) {
		s.render(w, tmpl, http.StatusForbidden, s.pageData(r, "Unauthorized", s.clientSession(r)))
	}
}

func (s *Server) render(w http.ResponseWriter, tmpl *template.Template, status int, data any) {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		log.Err(err).Str("template", tmpl.Name()).Msg("Failed to render template")
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentTypeHTML)
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
