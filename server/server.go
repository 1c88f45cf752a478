package server

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/jrsteele09/school-dashboard/auth"
	"github.com/jrsteele09/school-dashboard/client"
	"github.com/jrsteele09/school-dashboard/guard"
	"github.com/jrsteele09/school-dashboard/internal/config"
	"github.com/rs/zerolog/log"
)

const (
	contentTypeHTML = "text/html; charset=utf-8"
	contentTypeJSON = "application/json"
)

// Server is the dashboard front end. Every page goes through the route guard.
type Server struct {
	env     string // Environment (e.g., "DEV", "PROD")
	mux     *http.ServeMux
	routes  []string
	config  config.Config
	auth    *auth.Manager
	api     *client.API
	table   *guard.Table
	notices *noticeBoard
}

func New(cfg config.Config, manager *auth.Manager, api *client.API) (*Server, error) {
	if manager == nil || api == nil {
		return nil, fmt.Errorf("[Server New] manager and api are required")
	}

	s := &Server{
		env:     cfg.GetEnv(),
		mux:     http.NewServeMux(),
		config:  cfg,
		auth:    manager,
		api:     api,
		table:   guard.DefaultTable(),
		notices: &noticeBoard{},
	}

	// A refresh failure happens off-request; tell the user on their next page
	manager.OnSignOut(func(entryRoute string, reason auth.SignOutReason) {
		if reason == auth.SignOutRefreshFailed {
			s.notices.Post("Your session expired. Please sign in again.")
		}
	})

	if err := s.initRoutes(); err != nil {
		return nil, fmt.Errorf("[Server New] failed to register routes: %w", err)
	}
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	log.Printf("[%-19s] %s", colourMethod(method), path)
}

func logError(method, path, error string) {
	log.Printf("[%-19s] %s %s", colourMethod(method), path, Red+error+ResetColor)
}

func colourMethod(method string) string {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		return color + paddedMethod + ResetColor
	}
	return Gray + paddedMethod + ResetColor
}

// noticeBoard holds one message for the next rendered sign-in page
type noticeBoard struct {
	mu      sync.Mutex
	message string
}

func (n *noticeBoard) Post(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.message = msg
}

func (n *noticeBoard) Take() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	msg := n.message
	n.message = ""
	return msg
}
