// Package guard decides, for every navigation, whether a page may render.
// The decision is a pure function of the session and the route; it never
// touches the network.
package guard

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/jrsteele09/school-dashboard/sessions"
	"github.com/jrsteele09/school-dashboard/users"
)

const (
	LoginPath        = "/"
	UnauthorizedPath = "/unauthorized"
	RegisterPath     = "/register"

	// FromParam carries the originally requested path through sign-in
	FromParam = "from"
)

type Outcome int

const (
	Render Outcome = iota
	RedirectToLogin
	RedirectToUnauthorized
)

func (o Outcome) String() string {
	switch o {
	case Render:
		return "render"
	case RedirectToLogin:
		return "redirect-to-login"
	case RedirectToUnauthorized:
		return "redirect-to-unauthorized"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Route is a navigable page. Public routes (sign-in, register, unauthorized)
// render for everyone. A gated route with no allowed roles renders for nobody.
type Route struct {
	Path         string
	Name         string
	AllowedRoles users.RoleSet
	Public       bool
}

func Public(path, name string) Route {
	return Route{Path: path, Name: name, Public: true}
}

func Gated(path, name string, roles ...users.Role) Route {
	return Route{Path: path, Name: name, AllowedRoles: users.NewRoleSet(roles...)}
}

// Decision is the guard's verdict. Location is the redirect target and From
// the preserved path on RedirectToLogin.
type Decision struct {
	Outcome  Outcome
	Location string
	From     string
}

func (d Decision) Allowed() bool {
	return d.Outcome == Render
}

// Evaluate decides what happens when session navigates to requestedPath,
// which resolved to route.
func Evaluate(session *sessions.Session, route Route, requestedPath string) Decision {
	if route.Public {
		return Decision{Outcome: Render}
	}
	if !session.IsAuthenticated() {
		return Decision{
			Outcome:  RedirectToLogin,
			Location: LoginURL(requestedPath),
			From:     requestedPath,
		}
	}
	if !route.AllowedRoles.Contains(session.Role()) {
		return Decision{Outcome: RedirectToUnauthorized, Location: UnauthorizedPath}
	}
	return Decision{Outcome: Render}
}

// LoginURL is the sign-in route carrying from for the post-login bounce-back
func LoginURL(from string) string {
	if from == "" || from == LoginPath || !IsLocalPath(from) {
		return LoginPath
	}
	return LoginPath + "?" + url.Values{FromParam: {from}}.Encode()
}

// IsLocalPath accepts absolute paths on this origin only. Anything that could
// leave the site ("//host", "/\host", "http://...") is rejected.
func IsLocalPath(p string) bool {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return false
	}
	u, err := url.Parse(p)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == ""
}

// Table is the set of routes the dashboard serves
type Table struct {
	routes map[string]Route
}

func NewTable(routes ...Route) *Table {
	t := &Table{routes: make(map[string]Route, len(routes))}
	for _, r := range routes {
		t.routes[r.Path] = r
	}
	return t
}

func (t *Table) Lookup(path string) (Route, bool) {
	r, ok := t.routes[path]
	return r, ok
}

// Routes returns the table sorted by path
func (t *Table) Routes() []Route {
	out := make([]Route, 0, len(t.routes))
	for _, r := range t.routes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Evaluate looks up requestedPath (query ignored) and decides. ok is false
// for a path the table does not know.
func (t *Table) Evaluate(session *sessions.Session, requestedPath string) (Decision, bool) {
	route, ok := t.Lookup(routePath(requestedPath))
	if !ok {
		return Decision{}, false
	}
	return Evaluate(session, route, requestedPath), true
}

// ReturnPath picks where to go after sign-in: from, if it is a local path the
// session's role may render, otherwise the role's home route.
func (t *Table) ReturnPath(session *sessions.Session, from string) string {
	home := session.Role().Home()
	if home == "" {
		home = UnauthorizedPath
	}
	if from == "" || !IsLocalPath(from) {
		return home
	}
	decision, ok := t.Evaluate(session, from)
	if !ok || !decision.Allowed() {
		return home
	}
	route, _ := t.Lookup(routePath(from))
	if route.Public {
		return home
	}
	return from
}

func routePath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		return p[:i]
	}
	return p
}

// DefaultTable is the dashboard's route table
func DefaultTable() *Table {
	return NewTable(
		Public(LoginPath, "sign-in"),
		Public(RegisterPath, "register"),
		Public(UnauthorizedPath, "unauthorized"),
		Gated(users.PrincipalHome, "principal-dashboard", users.RolePrincipal),
		Gated(users.TeacherHome, "teacher-dashboard", users.RoleTeacher),
		Gated("/teacher/assignment", "teacher-assignment", users.RoleTeacher),
		Gated(users.StudentHome, "student-dashboard", users.RoleStudent),
		Gated("/debug/endpoints", "endpoint-usage", users.RolePrincipal),
	)
}
