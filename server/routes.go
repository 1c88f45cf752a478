package server

import (
	"net/http"
)

func (s *Server) initRoutes() error {
	// "/{$}" so the sign-in page does not swallow every unknown path
	s.RegisterRouteHandler("GET "+RouteSignIn+"{$}", ChainMiddleware(s.SignInPageHandler(), s.HTMLMiddleWare()...))
	s.RegisterRouteHandler("POST "+RouteLogin, ChainMiddleware(s.LoginSubmissionHandler(), s.HTMLMiddleWare()...))
	s.RegisterRouteHandler("POST "+RouteLogout, ChainMiddleware(s.LogoutHandler(), s.HTMLMiddleWare()...))

	s.RegisterRouteHandler("GET "+RouteRegister, ChainMiddleware(s.RegisterGetHandler(), s.HTMLMiddleWare()...))
	s.RegisterRouteHandler("POST "+RouteRegister, ChainMiddleware(s.RegisterPostHandler(), s.HTMLMiddleWare()...))
	s.RegisterRouteHandler("GET "+RouteUnauthorized, ChainMiddleware(s.UnauthorizedHandler(), s.HTMLMiddleWare()...))

	// Role-gated pages
	pages := map[string]PageHandler{
		RoutePrincipalDashboard: s.PrincipalDashboardPage(),
		RouteTeacherDashboard:   s.TeacherDashboardPage(),
		RouteTeacherAssignment:  s.TeacherAssignmentPage(),
		RouteStudentDashboard:   s.StudentDashboardPage(),
		RouteDebugEndpoints:     s.EndpointUsagePage(),
	}
	for path, page := range pages {
		handler, err := s.Guarded(path, page)
		if err != nil {
			return err
		}
		s.RegisterRouteHandler("GET "+path, ChainMiddleware(handler, s.HTMLMiddleWare(s.NoStoreMiddleware)...))
	}

	s.RegisterRouteHandler("GET "+RouteStatic, ChainMiddleware(s.serveFileHandler(), s.HTMLMiddleWare(s.CacheMiddleware)...))
	s.RegisterRouteHandler("/", ChainMiddleware(s.NotFoundHandler(), s.HTMLMiddleWare()...))
	return nil
}

func (s *Server) serveFileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filePath := r.PathValue("file")
		if filePath == "" {
			http.Error(w, "404 - Page Not Found", http.StatusNotFound)
			return
		}
		err := StreamFile(w, r, filePath)
		if err != nil {
			logError("GET", filePath, err.Error())
			http.Error(w, "404 - Page Not Found", http.StatusNotFound)
			return
		}
	}
}

func (s *Server) NotFoundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "404 - Page Not Found", http.StatusNotFound)
	}
}
