package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/school-dashboard/internal/errors"
	"github.com/jrsteele09/school-dashboard/sessions"
	"github.com/jrsteele09/school-dashboard/token"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const defaultRequestTimeout = 30 * time.Second

// Grant is what the backend returns for a successful refresh
type Grant struct {
	AccessToken  string
	RefreshToken string // empty when the backend does not rotate refresh tokens
	ExpiresIn    int    // seconds, 0 when not supplied
}

// Refresher exchanges a refresh token for a new access token
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*Grant, error)
}

type RefresherFunc func(ctx context.Context, refreshToken string) (*Grant, error)

func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	return f(ctx, refreshToken)
}

// FailureHandler is called once a refresh has failed and the session is Expired
type FailureHandler func(err error)

// Scheduler keeps the live session's access token fresh. It arms one timer per
// committed session, RefreshMargin ahead of expiry, and refreshes when it fires.
type Scheduler struct {
	service   *sessions.Service
	refresher Refresher
	expiry    token.ExpiryResolver
	margin    time.Duration
	timeout   time.Duration
	clock     Clock
	onFailure FailureHandler

	group singleflight.Group

	mu       sync.Mutex
	timer    Timer
	armGen   uint64
	due      time.Time
	inflight chan struct{}
}

type Option func(*Scheduler)

func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

func WithFailureHandler(h FailureHandler) Option {
	return func(s *Scheduler) {
		s.onFailure = h
	}
}

// WithRequestTimeout bounds each refresh call
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.timeout = d
	}
}

// NewScheduler builds a scheduler and subscribes it to service, so every
// commit re-arms it and every clear cancels it.
func NewScheduler(service *sessions.Service, refresher Refresher, expiry token.ExpiryResolver, margin time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		service:   service,
		refresher: refresher,
		expiry:    expiry,
		margin:    margin,
		timeout:   defaultRequestTimeout,
		clock:     RealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	service.Subscribe(s.handleEvent)
	return s
}

// SetFailureHandler wires the handler after construction
func (s *Scheduler) SetFailureHandler(h FailureHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFailure = h
}

func (s *Scheduler) handleEvent(ev sessions.Event) {
	switch ev.Kind {
	case sessions.EventCommitted:
		s.Arm(ev.Session)
	case sessions.EventCleared:
		s.Cancel()
	}
}

// MinInterval is the shortest time a freshly issued token is kept before it is
// refreshed, however short its lifetime.
const MinInterval = 5 * time.Second

// Due is when session should be refreshed: margin ahead of expiry. A token
// issued with no more than margin to live is refreshed halfway through its
// lifetime instead, and never sooner than MinInterval after it was issued.
func Due(session *sessions.Session, margin time.Duration) time.Time {
	life := session.Lifetime()
	if session.IssuedAt.IsZero() || life > margin {
		return session.ExpiresAt.Add(-margin)
	}
	return session.IssuedAt.Add(max(life/2, MinInterval))
}

// Delay is how long to wait from now until due
func Delay(due, now time.Time) time.Duration {
	d := due.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Arm replaces any pending timer with one for session. Sessions that are not
// Authenticated or have no refresh token leave the scheduler idle.
func (s *Scheduler) Arm(session *sessions.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	if !session.IsAuthenticated() || session.RefreshToken == "" {
		return
	}

	if current := s.service.Current(); current == nil || current.ID != session.ID {
		// a commit delivered after the session was cleared or replaced
		return
	}

	now := s.clock.Now()
	due := Due(session, s.margin)
	if due.Before(now) {
		due = now
	}
	delay := Delay(due, now)
	gen := s.armGen
	id := session.ID
	s.due = due
	s.timer = s.clock.AfterFunc(delay, func() { s.fire(gen, id) })

	if life := session.Lifetime(); life > 0 && life <= s.margin {
		log.Warn().Str("session", id).Dur("lifetime", life).Dur("margin", s.margin).Msg("refresh: token lifetime shorter than refresh margin")
	}
	log.Debug().Str("session", id).Dur("in", delay).Time("expiresAt", session.ExpiresAt).Msg("refresh: armed")
}

// Cancel stops the pending timer. An in-flight refresh is not aborted; its
// result is discarded if the session changed.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	s.armGen++
	s.due = time.Time{}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Armed reports whether a timer is pending and when it fires
func (s *Scheduler) Armed() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.due, s.timer != nil
}

func (s *Scheduler) fire(gen uint64, id string) {
	s.mu.Lock()
	if gen != s.armGen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.due = time.Time{}
	s.mu.Unlock()

	current := s.service.Current()
	if current == nil || current.ID != id || current.Status != sessions.StatusAuthenticated {
		return
	}

	// Timers can fire early or very late (a suspended laptop), so trust the
	// clock, not the timer.
	now := s.clock.Now()
	if now.Before(Due(current, s.margin)) {
		s.Arm(current)
		return
	}
	if !now.Before(current.ExpiresAt) {
		log.Info().Str("session", id).Dur("late", now.Sub(current.ExpiresAt)).Msg("refresh: access token already expired, refreshing now")
	}

	if err := s.RefreshNow(context.Background()); err != nil {
		log.Debug().Err(err).Msg("refresh: timer refresh did not complete")
	}
}

// RefreshNow refreshes the live session immediately. Concurrent callers,
// including the timer, share one backend call.
func (s *Scheduler) RefreshNow(ctx context.Context) error {
	ch := s.group.DoChan("refresh", func() (any, error) {
		return nil, s.refresh()
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until no refresh is in flight or ctx is done
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	ch := s.inflight
	s.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) beginInflight() func() {
	ch := make(chan struct{})
	s.mu.Lock()
	s.inflight = ch
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		if s.inflight == ch {
			s.inflight = nil
		}
		s.mu.Unlock()
		close(ch)
	}
}

func (s *Scheduler) refresh() error {
	current := s.service.Current()
	if current == nil {
		return errors.Wrapf(errors.ErrSessionNotFound, "Scheduler.refresh")
	}
	if current.RefreshToken == "" {
		return errors.Wrapf(errors.ErrRefreshRejected, "Scheduler.refresh no refresh token")
	}

	// Marked in flight before the status flips so a reader that sees
	// Refreshing always finds something to wait on.
	done := s.beginInflight()
	defer done()

	if !s.service.Transition(current.ID, sessions.StatusAuthenticated, sessions.StatusRefreshing) {
		return errors.Wrapf(errors.ErrStaleSession, "Scheduler.refresh session is %s", current.Status)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	next, err := s.exchange(ctx, current)
	if err != nil {
		return s.fail(current.ID, err)
	}

	ok, err := s.service.Replace(current.ID, sessions.StatusRefreshing, next)
	if err != nil {
		return s.fail(current.ID, err)
	}
	if !ok {
		log.Debug().Str("session", current.ID).Msg("refresh: session changed while refreshing, result discarded")
		return errors.Wrapf(errors.ErrStaleSession, "Scheduler.refresh")
	}

	log.Debug().Str("session", current.ID).Str("token", sessions.Mask(next.AccessToken)).Time("expiresAt", next.ExpiresAt).Msg("refresh: access token renewed")
	return nil
}

func (s *Scheduler) exchange(ctx context.Context, current *sessions.Session) (*sessions.Session, error) {
	grant, err := s.refresher.Refresh(ctx, current.RefreshToken)
	if err != nil {
		return nil, err
	}
	if grant == nil || grant.AccessToken == "" {
		return nil, errors.Wrapf(errors.ErrRefreshRejected, "empty access token")
	}

	now := s.clock.Now()
	expiresAt, err := s.expiry.Resolve(ctx, grant.AccessToken, grant.ExpiresIn, now)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	next.AccessToken = grant.AccessToken
	if grant.RefreshToken != "" {
		next.RefreshToken = grant.RefreshToken
	}
	next.ExpiresAt = expiresAt
	next.IssuedAt = now
	next.Status = sessions.StatusAuthenticated
	return next, nil
}

// fail marks the session Expired and hands over to the failure handler. If the
// session already changed (signed out, signed in again) nothing happens.
func (s *Scheduler) fail(id string, cause error) error {
	if !s.service.Transition(id, sessions.StatusRefreshing, sessions.StatusExpired) {
		log.Debug().Err(cause).Str("session", id).Msg("refresh: failure for a stale session ignored")
		return errors.Wrapf(errors.ErrStaleSession, "Scheduler.refresh")
	}

	log.Warn().Err(cause).Str("session", id).Msg("refresh: failed, session expired")

	s.mu.Lock()
	handler := s.onFailure
	s.mu.Unlock()
	if handler != nil {
		handler(cause)
	}
	return errors.Wrapf(cause, "Scheduler.refresh")
}
