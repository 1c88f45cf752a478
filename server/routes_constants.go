package server

import (
	"github.com/jrsteele09/school-dashboard/guard"
	"github.com/jrsteele09/school-dashboard/users"
)

// Route path constants
// All dashboard routes are defined here and must match the guard table
const (
	// Public routes
	RouteSignIn       = guard.LoginPath
	RouteRegister     = guard.RegisterPath
	RouteUnauthorized = guard.UnauthorizedPath

	// Account actions
	RouteLogin  = "/login"
	RouteLogout = "/logout"

	// Role-gated pages
	RoutePrincipalDashboard = users.PrincipalHome
	RouteTeacherDashboard   = users.TeacherHome
	RouteTeacherAssignment  = "/teacher/assignment"
	RouteStudentDashboard   = users.StudentHome

	// Diagnostics
	RouteDebugEndpoints = "/debug/endpoints"

	// Static Asset Routes (patterns)
	RouteStatic = "/static/{file}"
)
