package guard_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/school-dashboard/guard"
	"github.com/jrsteele09/school-dashboard/sessions"
	"github.com/jrsteele09/school-dashboard/users"
	"github.com/stretchr/testify/require"
)

func sessionFor(role users.Role) *sessions.Session {
	user := users.Profile{ID: 1, Username: "someone", UserType: role}
	return sessions.New("access", "refresh", user, time.Now().Add(5*time.Minute))
}

func TestEvaluate_StudentOnPrincipalRoute(t *testing.T) {
	route := guard.Gated(users.PrincipalHome, "principal-dashboard", users.RolePrincipal)

	d := guard.Evaluate(sessionFor(users.RoleStudent), route, users.PrincipalHome)
	require.Equal(t, guard.RedirectToUnauthorized, d.Outcome)
	require.Equal(t, guard.UnauthorizedPath, d.Location)
	require.False(t, d.Allowed())
}

func TestEvaluate_SignedOutPreservesPath(t *testing.T) {
	route := guard.Gated(users.TeacherHome, "teacher-dashboard", users.RoleTeacher)

	d := guard.Evaluate(nil, route, "/teacher/dashboard?tab=marks")
	require.Equal(t, guard.RedirectToLogin, d.Outcome)
	require.Equal(t, "/teacher/dashboard?tab=marks", d.From)
	require.Equal(t, "/?from=%2Fteacher%2Fdashboard%3Ftab%3Dmarks", d.Location)
}

func TestEvaluate_NotAuthenticatedStatuses(t *testing.T) {
	route := guard.Gated(users.StudentHome, "student-dashboard", users.RoleStudent)

	for _, status := range []sessions.Status{sessions.StatusRefreshing, sessions.StatusExpired, sessions.StatusAnonymous} {
		s := sessionFor(users.RoleStudent)
		s.Status = status
		d := guard.Evaluate(s, route, users.StudentHome)
		require.Equal(t, guard.RedirectToLogin, d.Outcome, status.String())
	}
}

func TestEvaluate_Render(t *testing.T) {
	route := guard.Gated("/teacher/assignment", "teacher-assignment", users.RoleTeacher, users.RolePrincipal)

	require.True(t, guard.Evaluate(sessionFor(users.RoleTeacher), route, "/teacher/assignment").Allowed())
	require.True(t, guard.Evaluate(sessionFor(users.RolePrincipal), route, "/teacher/assignment").Allowed())
	require.False(t, guard.Evaluate(sessionFor(users.RoleStudent), route, "/teacher/assignment").Allowed())
}

func TestEvaluate_RoleMustMatchExactly(t *testing.T) {
	route := guard.Gated(users.PrincipalHome, "principal-dashboard", users.RolePrincipal)

	for _, userType := range []users.Role{"principal", " Principal ", "PRINCIPAL "} {
		d := guard.Evaluate(sessionFor(userType), route, users.PrincipalHome)
		require.Equal(t, guard.RedirectToUnauthorized, d.Outcome, string(userType))
	}
	require.True(t, guard.Evaluate(sessionFor(users.RolePrincipal), route, users.PrincipalHome).Allowed())
}

func TestEvaluate_UnknownRoleNeverRenders(t *testing.T) {
	// even a route that lists the bogus role
	route := guard.Gated("/odd", "odd", users.Role("JANITOR"))

	d := guard.Evaluate(sessionFor("JANITOR"), route, "/odd")
	require.Equal(t, guard.RedirectToUnauthorized, d.Outcome)
}

func TestEvaluate_PublicRoutesRenderForEveryone(t *testing.T) {
	route := guard.Public(guard.UnauthorizedPath, "unauthorized")

	require.True(t, guard.Evaluate(nil, route, guard.UnauthorizedPath).Allowed())
	require.True(t, guard.Evaluate(sessionFor("JANITOR"), route, guard.UnauthorizedPath).Allowed())
}

func TestEvaluate_GatedRouteWithoutRoles(t *testing.T) {
	route := guard.Gated("/nobody", "nobody")
	require.Equal(t, guard.RedirectToUnauthorized, guard.Evaluate(sessionFor(users.RolePrincipal), route, "/nobody").Outcome)
}

func TestLoginURL(t *testing.T) {
	require.Equal(t, "/", guard.LoginURL(""))
	require.Equal(t, "/", guard.LoginURL("/"))
	require.Equal(t, "/", guard.LoginURL("https://evil.example.com/"))
	require.Equal(t, "/?from=%2Fuser%2Fdashboard", guard.LoginURL("/user/dashboard"))
}

func TestIsLocalPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/teacher/dashboard", true},
		{"/teacher/dashboard?x=1", true},
		{"", false},
		{"teacher/dashboard", false},
		{"//evil.example.com", false},
		{"/\\evil.example.com", false},
		{"https://evil.example.com/teacher/dashboard", false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, guard.IsLocalPath(tt.path), tt.path)
	}
}

func TestTable_Evaluate(t *testing.T) {
	table := guard.DefaultTable()

	d, ok := table.Evaluate(sessionFor(users.RoleTeacher), "/teacher/assignment?id=3")
	require.True(t, ok)
	require.True(t, d.Allowed())

	d, ok = table.Evaluate(sessionFor(users.RoleTeacher), "/debug/endpoints")
	require.True(t, ok)
	require.Equal(t, guard.RedirectToUnauthorized, d.Outcome)

	_, ok = table.Evaluate(nil, "/no/such/page")
	require.False(t, ok)

	route, ok := table.Lookup(guard.RegisterPath)
	require.True(t, ok)
	require.True(t, route.Public)
}

func TestTable_ReturnPath(t *testing.T) {
	table := guard.DefaultTable()

	tests := []struct {
		name string
		role users.Role
		from string
		want string
	}{
		{"no from goes home", users.RoleTeacher, "", users.TeacherHome},
		{"allowed from is kept", users.RoleTeacher, "/teacher/assignment?id=3", "/teacher/assignment?id=3"},
		{"forbidden from goes home", users.RoleStudent, users.PrincipalHome, users.StudentHome},
		{"public from goes home", users.RolePrincipal, guard.RegisterPath, users.PrincipalHome},
		{"unknown from goes home", users.RolePrincipal, "/nowhere", users.PrincipalHome},
		{"off-site from goes home", users.RoleStudent, "//evil.example.com/user/dashboard", users.StudentHome},
		{"unknown role", "JANITOR", users.StudentHome, guard.UnauthorizedPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, table.ReturnPath(sessionFor(tt.role), tt.from))
		})
	}
}

func TestTable_Routes(t *testing.T) {
	routes := guard.DefaultTable().Routes()
	require.Len(t, routes, 8)
	require.Equal(t, guard.LoginPath, routes[0].Path)
	for i := 1; i < len(routes); i++ {
		require.Less(t, routes[i-1].Path, routes[i].Path)
	}
}

func TestOutcome_String(t *testing.T) {
	require.Equal(t, "render", guard.Render.String())
	require.Equal(t, "redirect-to-login", guard.RedirectToLogin.String())
	require.Equal(t, "redirect-to-unauthorized", guard.RedirectToUnauthorized.String())
}
