package users

import (
	"sort"
	"strings"
)

// Role is the user_type the backend assigns to an account
type Role string

const (
	RolePrincipal Role = "PRINCIPAL" // School principal, manages staff, students and curriculum
	RoleTeacher   Role = "TEACHER"   // Teacher, manages assignments
	RoleStudent   Role = "STUDENT"   // Student, read-only dashboard
)

// Home routes per role, used after sign-in when there is no page to return to
const (
	PrincipalHome = "/principal/dashboard"
	TeacherHome   = "/teacher/dashboard"
	StudentHome   = "/user/dashboard"
)

var knownRoles = map[Role]string{
	RolePrincipal: PrincipalHome,
	RoleTeacher:   TeacherHome,
	RoleStudent:   StudentHome,
}

// IsKnown reports whether r belongs to the closed set of dashboard roles.
// Anything else is unauthorized for every role-gated route.
func (r Role) IsKnown() bool {
	_, ok := knownRoles[r]
	return ok
}

// Home returns the landing route for the role, or "" for an unknown role.
func (r Role) Home() string {
	return knownRoles[r]
}

// RoleSet is the allowedRoles declaration of a route
type RoleSet map[Role]struct{}

func NewRoleSet(roles ...Role) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return set
}

// Contains only ever matches known roles, so a set can never admit an
// unrecognised user_type even if one was added to it by mistake.
func (s RoleSet) Contains(r Role) bool {
	if !r.IsKnown() {
		return false
	}
	_, ok := s[r]
	return ok
}

func (s RoleSet) String() string {
	roles := make([]string, 0, len(s))
	for r := range s {
		roles = append(roles, string(r))
	}
	sort.Strings(roles)
	return strings.Join(roles, ",")
}

// Profile is the user object returned by the sign-in endpoint
type Profile struct {
	ID          int64  `json:"id" validate:"required"`
	Username    string `json:"username" validate:"required"`
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
	PhoneNumber string `json:"phone_number,omitempty"`
	UserType    Role   `json:"user_type"`
	Groups      []int  `json:"groups,omitempty"`
}

// Role returns user_type exactly as the backend sent it. There is no case or
// whitespace folding, so "principal" is not PRINCIPAL.
func (p Profile) Role() Role {
	return p.UserType
}

// Clone returns a deep copy so callers can never mutate the live session's profile
func (p Profile) Clone() Profile {
	c := p
	if p.Groups != nil {
		c.Groups = append([]int(nil), p.Groups...)
	}
	return c
}
