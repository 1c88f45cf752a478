package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/jrsteele09/school-dashboard/client"
	"github.com/jrsteele09/school-dashboard/internal/errors"
)

// Error is returned by Manager operations. Kind is one of the sentinels in
// internal/errors, so callers match with errors.Is.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil || e.Err == e.Kind {
		return fmt.Sprintf("auth.%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("auth.%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func newError(op string, kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// inactiveMarkers are the response fragments the backend uses for an account
// that exists but has not been activated yet
var inactiveMarkers = []string{"not active", "inactive", "activate"}

// classifySignIn maps a login failure to the sign-in error taxonomy
func classifySignIn(err error) error {
	var httpErr *client.HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			if accountInactive(httpErr) {
				return newError("SignIn", errors.ErrAccountNotActivated, err)
			}
			return newError("SignIn", errors.ErrInvalidCredentials, err)
		}
	}
	// transport failures and backend outages look the same to the user
	return newError("SignIn", errors.ErrNetwork, err)
}

func accountInactive(httpErr *client.HTTPError) bool {
	if httpErr.Code == "user_inactive" {
		return true
	}
	msg := strings.ToLower(httpErr.Message)
	for _, marker := range inactiveMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
