package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/jrsteele09/school-dashboard/internal/errors"
	"github.com/jrsteele09/school-dashboard/users"
)

// Endpoints are the backend paths, relative to the base URL
type Endpoints struct {
	Token        string
	TokenRefresh string
	Register     string
	Users        string
	Subjects     string
	Curriculums  string
	Assignments  string
}

// DefaultEndpoints lays out the backend routes under the users API prefix
func DefaultEndpoints(prefix string) Endpoints {
	prefix = "/" + strings.Trim(prefix, "/")
	return Endpoints{
		Token:        prefix + "/token/",
		TokenRefresh: prefix + "/token/refresh/",
		Register:     prefix + "/register/",
		Users:        prefix + "/users/",
		Subjects:     "/api/classroom/subjects/",
		Curriculums:  "/api/classroom/curriculums/",
		Assignments:  "/api/classroom/assignments/",
	}
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Access  string        `json:"access"`
	Refresh string        `json:"refresh"`
	User    users.Profile `json:"user"`
	expiry
}

type RefreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"` // set when the backend rotates refresh tokens
	expiry
}

// expiry accepts both spellings of the optional lifetime hint
type expiry struct {
	ExpiresInCamel int `json:"expiresIn,omitempty"`
	ExpiresInSnake int `json:"expires_in,omitempty"`
}

// ExpiresIn is the server supplied lifetime in seconds, 0 when absent
func (e expiry) ExpiresIn() int {
	if e.ExpiresInCamel > 0 {
		return e.ExpiresInCamel
	}
	return e.ExpiresInSnake
}

type RegisterRequest struct {
	Email       string `json:"email"`
	Username    string `json:"username"`
	PhoneNumber string `json:"phone_number"`
	Password    string `json:"password"`
}

// API is the typed surface over the backend. Every call goes through the pipeline.
type API struct {
	pipeline  *Pipeline
	endpoints Endpoints
}

func NewAPI(pipeline *Pipeline, endpoints Endpoints) *API {
	return &API{pipeline: pipeline, endpoints: endpoints}
}

func (a *API) Pipeline() *Pipeline {
	return a.pipeline
}

// Login exchanges credentials for a token pair and the user profile
func (a *API) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	var out LoginResponse
	err := a.do(WithoutAuth(ctx), http.MethodPost, a.endpoints.Token, LoginRequest{Username: username, Password: password}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh exchanges a refresh token for a new access token
func (a *API) Refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error) {
	var out RefreshResponse
	err := a.do(WithoutAuth(ctx), http.MethodPost, a.endpoints.TokenRefresh, map[string]string{"refresh": refreshToken}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) Register(ctx context.Context, req RegisterRequest) error {
	return a.do(WithoutAuth(ctx), http.MethodPost, a.endpoints.Register, req, nil)
}

func (a *API) ListUsers(ctx context.Context) (json.RawMessage, error) {
	return a.list(ctx, a.endpoints.Users)
}

func (a *API) ListSubjects(ctx context.Context) (json.RawMessage, error) {
	return a.list(ctx, a.endpoints.Subjects)
}

func (a *API) ListCurriculums(ctx context.Context) (json.RawMessage, error) {
	return a.list(ctx, a.endpoints.Curriculums)
}

func (a *API) ListAssignments(ctx context.Context) (json.RawMessage, error) {
	return a.list(ctx, a.endpoints.Assignments)
}

func (a *API) list(ctx context.Context, path string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := a.DoJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DoJSON performs an authenticated JSON call. A 401 is retried once, and only
// when the access token changed while the first attempt was in flight.
func (a *API) DoJSON(ctx context.Context, method, path string, body, out any) error {
	before := a.accessToken()
	err := a.do(ctx, method, path, body, out)
	if !IsStatus(err, http.StatusUnauthorized) {
		return err
	}
	if after := a.accessToken(); after != "" && after != before {
		return a.do(ctx, method, path, body, out)
	}
	return err
}

func (a *API) accessToken() string {
	if a.pipeline.source == nil {
		return ""
	}
	s := a.pipeline.source.Current()
	if !s.IsAuthenticated() {
		return ""
	}
	return s.AccessToken
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "API %s %s marshal", method, path)
		}
		reader = bytes.NewReader(data)
	}

	req, err := a.pipeline.NewRequest(ctx, method, path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.pipeline.Send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(errors.Join(errors.ErrNetwork, err), "API %s %s read body", method, path)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newHTTPError(resp.StatusCode, respBody)
	}

	if out != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return errors.Wrapf(err, "API %s %s decode", method, path)
		}
	}
	return nil
}
