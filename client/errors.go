package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// HTTPError represents a non-2xx HTTP response from the backend.
type HTTPError struct {
	StatusCode int
	Message    string // detail, error or raw body
	Code       string // machine readable code when the backend supplies one
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsStatus returns true if err (or any wrapped error) is an HTTPError with the given status code.
func IsStatus(err error, code int) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == code
	}
	return false
}

// newHTTPError decodes the error shapes the backend produces:
// {"detail": "...", "code": "..."} and {"error": "..."}.
func newHTTPError(statusCode int, body []byte) *HTTPError {
	var apiErr struct {
		Detail any    `json:"detail"`
		Code   string `json:"code"`
		Error  string `json:"error"`
	}
	httpErr := &HTTPError{StatusCode: statusCode}
	if json.Unmarshal(body, &apiErr) == nil {
		httpErr.Code = apiErr.Code
		switch detail := apiErr.Detail.(type) {
		case string:
			httpErr.Message = detail
		case nil:
		default:
			if b, err := json.Marshal(detail); err == nil {
				httpErr.Message = string(b)
			}
		}
		if httpErr.Message == "" {
			httpErr.Message = apiErr.Error
		}
	}
	if httpErr.Message == "" {
		httpErr.Message = strings.TrimSpace(string(body))
	}
	if httpErr.Message == "" {
		httpErr.Message = http.StatusText(statusCode)
	}
	return httpErr
}
