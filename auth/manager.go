package auth

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/school-dashboard/client"
	"github.com/jrsteele09/school-dashboard/internal/errors"
	"github.com/jrsteele09/school-dashboard/sessions"
	"github.com/jrsteele09/school-dashboard/token"
	"github.com/jrsteele09/school-dashboard/token/refresh"
	"github.com/jrsteele09/school-dashboard/users"
	"github.com/rs/zerolog/log"
)

// DefaultEntryRoute is where a signed-out user is sent
const DefaultEntryRoute = "/"

// SignOutReason says why the session ended
type SignOutReason string

const (
	SignOutRequested     SignOutReason = "requested"
	SignOutRefreshFailed SignOutReason = "refresh_failed"
)

// SignOutHook receives the navigation signal raised when a live session ends
type SignOutHook func(entryRoute string, reason SignOutReason)

// Manager is the façade over the session: sign-in, sign-out and queries.
type Manager struct {
	sessions    *sessions.Service
	api         *client.API
	scheduler   *refresh.Scheduler
	expiry      token.ExpiryResolver
	entryRoute  string
	refreshWait time.Duration
	nowTime     func() time.Time

	signInMu sync.Mutex

	hooksMu sync.RWMutex
	hooks   []SignOutHook
}

// ManagerOption defines a function type to modify the Manager instance.
type ManagerOption func(*Manager)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

func WithEntryRoute(route string) ManagerOption {
	return func(m *Manager) {
		m.entryRoute = route
	}
}

func WithSignOutHook(h SignOutHook) ManagerOption {
	return func(m *Manager) {
		m.hooks = append(m.hooks, h)
	}
}

// WithRefreshWait bounds how long Settled waits for an in-flight refresh
func WithRefreshWait(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.refreshWait = d
	}
}

// NewManager wires the manager to the session service, the backend and the
// refresh scheduler. A failed refresh signs the user out.
func NewManager(svc *sessions.Service, api *client.API, scheduler *refresh.Scheduler, expiry token.ExpiryResolver, opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions:    svc,
		api:         api,
		scheduler:   scheduler,
		expiry:      expiry,
		entryRoute:  DefaultEntryRoute,
		refreshWait: 5 * time.Second,
		nowTime:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	scheduler.SetFailureHandler(func(err error) {
		m.signOut(SignOutRefreshFailed)
	})
	return m
}

// OnSignOut registers another navigation hook
func (m *Manager) OnSignOut(h SignOutHook) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.hooks = append(m.hooks, h)
}

func (m *Manager) EntryRoute() string {
	return m.entryRoute
}

// SignIn exchanges credentials for a session and commits it. Nothing changes
// on failure.
func (m *Manager) SignIn(ctx context.Context, creds Credentials) (*sessions.Session, error) {
	if err := Validate(creds); err != nil {
		return nil, newError("SignIn", errors.ErrInvalidInput, err)
	}

	m.signInMu.Lock()
	defer m.signInMu.Unlock()

	resp, err := m.api.Login(ctx, strings.TrimSpace(creds.Username), creds.Password)
	if err != nil {
		log.Debug().Err(err).Str("username", creds.Username).Msg("auth: sign-in rejected")
		return nil, classifySignIn(err)
	}
	if resp.Access == "" {
		return nil, newError("SignIn", errors.ErrInvalidToken, errors.Wrapf(errors.ErrInvalidToken, "login response without access token"))
	}
	if err := Validate(resp.User); err != nil {
		return nil, newError("SignIn", errors.ErrMalformedSession, err)
	}

	now := m.nowTime()
	expiresAt, err := m.expiry.Resolve(ctx, resp.Access, resp.ExpiresIn(), now)
	if err != nil {
		return nil, newError("SignIn", errors.ErrInvalidToken, err)
	}

	session := sessions.New(resp.Access, resp.Refresh, resp.User, expiresAt)
	session.IssuedAt = now
	if err := m.sessions.Commit(session); err != nil {
		return nil, newError("SignIn", errors.ErrStoreUnavailable, err)
	}

	log.Info().Str("user", session.User.Username).Str("role", string(session.Role())).Time("expiresAt", expiresAt).Msg("auth: signed in")
	return session.Clone(), nil
}

// SignOut ends the live session. Calling it without a session does nothing.
func (m *Manager) SignOut() {
	m.signOut(SignOutRequested)
}

func (m *Manager) signOut(reason SignOutReason) {
	m.scheduler.Cancel()

	had, err := m.sessions.Clear()
	if err != nil {
		log.Warn().Err(err).Msg("auth: credential store not cleared, session dropped from memory")
	}
	if !had {
		return
	}

	log.Info().Str("reason", string(reason)).Msg("auth: signed out")

	m.hooksMu.RLock()
	hooks := append([]SignOutHook(nil), m.hooks...)
	m.hooksMu.RUnlock()
	for _, h := range hooks {
		h(m.entryRoute, reason)
	}
}

// CurrentUser returns a copy of the signed-in user's profile, nil when signed out
func (m *Manager) CurrentUser() *users.Profile {
	s := m.sessions.Current()
	if s == nil {
		return nil
	}
	p := s.User.Clone()
	return &p
}

func (m *Manager) IsAuthenticated() bool {
	return m.sessions.Current().IsAuthenticated()
}

// CurrentRole is empty unless a session is Authenticated
func (m *Manager) CurrentRole() users.Role {
	s := m.sessions.Current()
	if !s.IsAuthenticated() {
		return ""
	}
	return s.Role()
}

// Session returns a copy of the live session, nil when signed out
func (m *Manager) Session() *sessions.Session {
	return m.sessions.Current()
}

// Settled returns the live session, first waiting (bounded by the refresh
// wait) for an in-flight refresh so a navigation during a refresh is not
// mistaken for a signed-out user.
func (m *Manager) Settled(ctx context.Context) *sessions.Session {
	s := m.sessions.Current()
	if s == nil || s.Status != sessions.StatusRefreshing {
		return s
	}
	waitCtx, cancel := context.WithTimeout(ctx, m.refreshWait)
	defer cancel()
	if err := m.scheduler.Wait(waitCtx); err != nil {
		log.Debug().Err(err).Msg("auth: refresh still in flight")
	}
	return m.sessions.Current()
}

// Restore re-arms the scheduler for a session persisted by an earlier run
func (m *Manager) Restore(ctx context.Context) *sessions.Session {
	s := m.sessions.Current()
	if s == nil {
		log.Debug().Msg("auth: no stored session")
		return nil
	}
	m.scheduler.Arm(s)
	log.Info().Str("user", s.User.Username).Time("expiresAt", s.ExpiresAt).Msg("auth: session restored")
	return s
}

// Refresh renews the access token now. It shares the call with a timer
// refresh already in flight.
func (m *Manager) Refresh(ctx context.Context) error {
	if err := m.scheduler.RefreshNow(ctx); err != nil {
		return newError("Refresh", errors.ErrRefreshRejected, err)
	}
	return nil
}

// Register creates an account. It never touches the live session.
func (m *Manager) Register(ctx context.Context, reg Registration) error {
	if err := Validate(reg); err != nil {
		return newError("Register", errors.ErrInvalidInput, err)
	}

	err := m.api.Register(ctx, client.RegisterRequest{
		Email:       strings.TrimSpace(reg.Email),
		Username:    strings.TrimSpace(reg.Username),
		PhoneNumber: strings.TrimSpace(reg.PhoneNumber),
		Password:    reg.Password,
	})
	if err == nil {
		return nil
	}
	if client.IsStatus(err, http.StatusBadRequest) {
		return newError("Register", errors.ErrInvalidInput, err)
	}
	return newError("Register", errors.ErrNetwork, err)
}
