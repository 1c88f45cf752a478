package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jrsteele09/school-dashboard/client"
	"github.com/jrsteele09/school-dashboard/internal/errors"
	"github.com/jrsteele09/school-dashboard/sessions"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Section is one block of backend data on a dashboard
type Section struct {
	Title string
	Body  string
	Error string
}

type DashboardPageData struct {
	PageData
	Sections []Section
}

type source struct {
	title string
	fetch func(ctx context.Context) (json.RawMessage, error)
}

func (s *Server) PrincipalDashboardPage() PageHandler {
	return s.dashboardPage("Principal dashboard",
		source{"Users", s.api.ListUsers},
		source{"Subjects", s.api.ListSubjects},
		source{"Curriculums", s.api.ListCurriculums},
	)
}

func (s *Server) TeacherDashboardPage() PageHandler {
	return s.dashboardPage("Teacher dashboard",
		source{"Subjects", s.api.ListSubjects},
		source{"Assignments", s.api.ListAssignments},
	)
}

func (s *Server) TeacherAssignmentPage() PageHandler {
	return s.dashboardPage("Assignments",
		source{"Assignments", s.api.ListAssignments},
	)
}

func (s *Server) StudentDashboardPage() PageHandler {
	return s.dashboardPage("Student dashboard",
		source{"Assignments", s.api.ListAssignments},
	)
}

// dashboardPage fetches every source concurrently; one failing section does
// not blank the others.
func (s *Server) dashboardPage(title string, sources ...source) PageHandler {
	tmpl, err := ParseTemplate("dashboard.html")
	if err != nil {
		panic("Failed to parse dashboard template: " + err.Error())
	}

	return func(w http.ResponseWriter, r *http.Request, session *sessions.Session) {
		sections := make([]Section, len(sources))

		var g errgroup.Group
		g.SetLimit(4)
		for i, src := range sources {
			g.Go(func() error {
				sections[i] = fetchSection(r.Context(), src)
				return nil
			})
		}
		_ = g.Wait()

		s.render(w, tmpl, http.StatusOK, DashboardPageData{
			PageData: s.pageData(r, title, session),
			Sections: sections,
		})
	}
}

func fetchSection(ctx context.Context, src source) Section {
	section := Section{Title: src.title}

	raw, err := src.fetch(ctx)
	if err != nil {
		var httpErr *client.HTTPError
		switch {
		case client.IsStatus(err, http.StatusUnauthorized):
			section.Error = "The server did not accept the session. Sign out and in again if this persists."
		case client.IsStatus(err, http.StatusForbidden):
			section.Error = "You do not have access to this data."
		case errors.As(err, &httpErr):
			section.Error = fmt.Sprintf("The server returned %d.", httpErr.StatusCode)
		default:
			section.Error = "The school server could not be reached."
		}
		log.Debug().Err(err).Str("section", src.title).Msg("dashboard: fetch failed")
		return section
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		section.Body = string(raw)
	} else {
		section.Body = pretty.String()
	}
	return section
}

// EndpointUsagePage lists the backend endpoints this process has called
func (s *Server) EndpointUsagePage() PageHandler {
	return func(w http.ResponseWriter, r *http.Request, _ *sessions.Session) {
		w.Header().Set("Content-Type", contentTypeJSON)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"endpoints": s.api.Pipeline().Usage().Endpoints(),
		})
	}
}
