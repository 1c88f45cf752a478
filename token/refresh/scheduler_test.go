package refresh_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/school-dashboard/internal/errors"
	"github.com/jrsteele09/school-dashboard/sessions"
	"github.com/jrsteele09/school-dashboard/token"
	"github.com/jrsteele09/school-dashboard/token/refresh"
	"github.com/jrsteele09/school-dashboard/users"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const (
	lifetime = 5 * time.Minute
	margin   = time.Minute
)

// countingRefresher issues access-N tokens that live for the default lifetime
type countingRefresher struct {
	calls atomic.Int32
	err   error
}

func (r *countingRefresher) Refresh(_ context.Context, refreshToken string) (*refresh.Grant, error) {
	n := r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return &refresh.Grant{
		AccessToken: fmt.Sprintf("access-%d", n+1),
		ExpiresIn:   int(lifetime / time.Second),
	}, nil
}

// blockingRefresher parks every call until release is closed
type blockingRefresher struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
	err     error
}

func newBlockingRefresher() *blockingRefresher {
	return &blockingRefresher{entered: make(chan struct{}, 8), release: make(chan struct{})}
}

func (r *blockingRefresher) Refresh(ctx context.Context, _ string) (*refresh.Grant, error) {
	r.calls.Add(1)
	r.entered <- struct{}{}
	select {
	case <-r.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if r.err != nil {
		return nil, r.err
	}
	return &refresh.Grant{AccessToken: "access-2", RefreshToken: "refresh-2", ExpiresIn: 300}, nil
}

type fixture struct {
	clock     *fakeClock
	service   *sessions.Service
	scheduler *refresh.Scheduler
	failures  chan error
}

func newFixture(t *testing.T, refresher refresh.Refresher) *fixture {
	t.Helper()
	f := &fixture{
		clock:    newFakeClock(t0),
		service:  sessions.NewService(sessions.NewInMemoryStore()),
		failures: make(chan error, 4),
	}
	expiry := token.ExpiryResolver{Inspector: token.NewInspector(nil), Lifetime: lifetime}
	f.scheduler = refresh.NewScheduler(f.service, refresher, expiry, margin,
		refresh.WithClock(f.clock),
		refresh.WithFailureHandler(func(err error) { f.failures <- err }),
	)
	return f
}

func (f *fixture) signIn(t *testing.T, expiresAt time.Time) *sessions.Session {
	t.Helper()
	user := users.Profile{ID: 5, Username: "teacher", UserType: users.RoleTeacher}
	s := sessions.New("access-1", "refresh-1", user, expiresAt)
	require.NoError(t, f.service.Commit(s))
	return s
}

func TestDue(t *testing.T) {
	user := users.Profile{ID: 5, Username: "teacher", UserType: users.RoleTeacher}
	session := func(issuedAt, expiresAt time.Time) *sessions.Session {
		s := sessions.New("access", "refresh", user, expiresAt)
		s.IssuedAt = issuedAt
		return s
	}

	tests := []struct {
		name      string
		issuedAt  time.Time
		expiresAt time.Time
		want      time.Time
	}{
		{"margin ahead of expiry", t0, t0.Add(5 * time.Minute), t0.Add(4 * time.Minute)},
		{"issue time unknown", time.Time{}, t0.Add(30 * time.Second), t0.Add(-30 * time.Second)},
		{"lifetime inside margin", t0, t0.Add(30 * time.Second), t0.Add(15 * time.Second)},
		{"lifetime equal to margin", t0, t0.Add(margin), t0.Add(margin / 2)},
		{"very short lifetime", t0, t0.Add(2 * time.Second), t0.Add(refresh.MinInterval)},
		{"issued already expired", t0, t0.Add(-time.Second), t0.Add(refresh.MinInterval)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, refresh.Due(session(tt.issuedAt, tt.expiresAt), margin))
		})
	}
}

func TestDelay(t *testing.T) {
	require.Equal(t, 4*time.Minute, refresh.Delay(t0.Add(4*time.Minute), t0))
	require.Zero(t, refresh.Delay(t0, t0))
	require.Zero(t, refresh.Delay(t0.Add(-time.Hour), t0))
}

func TestScheduler_RefreshesAtMarginBeforeExpiry(t *testing.T) {
	refresher := &countingRefresher{}
	f := newFixture(t, refresher)
	s := f.signIn(t, t0.Add(lifetime))

	due, armed := f.scheduler.Armed()
	require.True(t, armed)
	require.Equal(t, t0.Add(4*time.Minute), due)

	f.clock.Advance(4*time.Minute - time.Second)
	require.EqualValues(t, 0, refresher.calls.Load())

	f.clock.Advance(time.Second)
	require.EqualValues(t, 1, refresher.calls.Load())

	current := f.service.Current()
	require.Equal(t, s.ID, current.ID)
	require.Equal(t, "access-2", current.AccessToken)
	require.Equal(t, "refresh-1", current.RefreshToken)
	require.True(t, current.IsAuthenticated())
	require.Equal(t, t0.Add(9*time.Minute), current.ExpiresAt)

	due, armed = f.scheduler.Armed()
	require.True(t, armed)
	require.Equal(t, t0.Add(8*time.Minute), due)
	require.Equal(t, 1, f.clock.Pending())

	f.clock.Advance(4 * time.Minute)
	require.EqualValues(t, 2, refresher.calls.Load())
	require.Equal(t, "access-3", f.service.Current().AccessToken)
}

func TestScheduler_ShortLivedTokensDoNotRefreshInALoop(t *testing.T) {
	// every refresh hands back a token that lives half the margin
	var calls atomic.Int32
	refresher := refresh.RefresherFunc(func(context.Context, string) (*refresh.Grant, error) {
		n := calls.Add(1)
		return &refresh.Grant{AccessToken: fmt.Sprintf("access-%d", n+1), ExpiresIn: 30}, nil
	})
	f := newFixture(t, refresher)
	f.signIn(t, t0.Add(lifetime))

	f.clock.Advance(4 * time.Minute)
	require.EqualValues(t, 1, calls.Load())
	require.Equal(t, t0.Add(4*time.Minute+30*time.Second), f.service.Current().ExpiresAt)

	// the new token is refreshed halfway through its life, not straight away
	due, armed := f.scheduler.Armed()
	require.True(t, armed)
	require.Equal(t, t0.Add(4*time.Minute+15*time.Second), due)

	f.clock.Advance(15*time.Second - time.Millisecond)
	require.EqualValues(t, 1, calls.Load())

	f.clock.Advance(time.Millisecond)
	require.EqualValues(t, 2, calls.Load())
	require.Equal(t, "access-3", f.service.Current().AccessToken)

	// a minute of wall time is four refreshes, not thousands
	for range 4 {
		f.clock.Advance(15 * time.Second)
	}
	require.EqualValues(t, 6, calls.Load())
}

func TestScheduler_TinyLifetimeWaitsMinInterval(t *testing.T) {
	var calls atomic.Int32
	refresher := refresh.RefresherFunc(func(context.Context, string) (*refresh.Grant, error) {
		calls.Add(1)
		return &refresh.Grant{AccessToken: "access-short", ExpiresIn: 1}, nil
	})
	f := newFixture(t, refresher)
	f.signIn(t, t0.Add(-time.Minute))

	f.clock.Advance(0)
	require.EqualValues(t, 1, calls.Load())

	due, armed := f.scheduler.Armed()
	require.True(t, armed)
	require.Equal(t, t0.Add(refresh.MinInterval), due)

	f.clock.Advance(refresh.MinInterval - time.Millisecond)
	require.EqualValues(t, 1, calls.Load())
}

func TestScheduler_ArmIgnoresSessionThatIsNoLongerLive(t *testing.T) {
	f := newFixture(t, &countingRefresher{})
	s := f.signIn(t, t0.Add(lifetime))

	_, err := f.service.Clear()
	require.NoError(t, err)

	// a commit event that arrives after the clear
	f.scheduler.Arm(s)
	_, armed := f.scheduler.Armed()
	require.False(t, armed)
	require.Equal(t, 0, f.clock.Pending())
}

func TestScheduler_IdleWithoutRefreshableSession(t *testing.T) {
	f := newFixture(t, &countingRefresher{})
	_, armed := f.scheduler.Armed()
	require.False(t, armed)

	user := users.Profile{ID: 1, Username: "student", UserType: users.RoleStudent}
	require.NoError(t, f.service.Commit(sessions.New("access", "", user, t0.Add(lifetime))))
	_, armed = f.scheduler.Armed()
	require.False(t, armed)
	require.Equal(t, 0, f.clock.Pending())
}

func TestScheduler_ClearCancelsTimer(t *testing.T) {
	refresher := &countingRefresher{}
	f := newFixture(t, refresher)
	f.signIn(t, t0.Add(lifetime))

	_, err := f.service.Clear()
	require.NoError(t, err)

	_, armed := f.scheduler.Armed()
	require.False(t, armed)
	f.clock.Advance(time.Hour)
	require.EqualValues(t, 0, refresher.calls.Load())
}

func TestScheduler_SignInAgainReplacesTimer(t *testing.T) {
	refresher := &countingRefresher{}
	f := newFixture(t, refresher)
	f.signIn(t, t0.Add(lifetime))
	f.signIn(t, t0.Add(10*time.Minute))

	due, armed := f.scheduler.Armed()
	require.True(t, armed)
	require.Equal(t, t0.Add(9*time.Minute), due)
	require.Equal(t, 1, f.clock.Pending())

	f.clock.Advance(5 * time.Minute)
	require.EqualValues(t, 0, refresher.calls.Load())
}

func TestScheduler_LateWakeRefreshesImmediately(t *testing.T) {
	refresher := &countingRefresher{}
	f := newFixture(t, refresher)
	f.signIn(t, t0.Add(lifetime))

	// suspended well past expiry
	f.clock.Advance(20 * time.Minute)
	require.EqualValues(t, 1, refresher.calls.Load())
	require.Equal(t, "access-2", f.service.Current().AccessToken)
	require.Equal(t, t0.Add(25*time.Minute), f.service.Current().ExpiresAt)
}

func TestScheduler_EarlyWakeRearms(t *testing.T) {
	refresher := &countingRefresher{}
	f := newFixture(t, refresher)
	f.signIn(t, t0.Add(lifetime))

	f.clock.FireNow()
	require.EqualValues(t, 0, refresher.calls.Load())

	due, armed := f.scheduler.Armed()
	require.True(t, armed)
	require.Equal(t, t0.Add(4*time.Minute), due)
}

func TestScheduler_ExpiredAtArmRefreshesWithoutDelay(t *testing.T) {
	refresher := &countingRefresher{}
	f := newFixture(t, refresher)
	f.signIn(t, t0.Add(-time.Minute))

	due, armed := f.scheduler.Armed()
	require.True(t, armed)
	require.Equal(t, t0, due)

	f.clock.Advance(0)
	require.EqualValues(t, 1, refresher.calls.Load())
	require.True(t, f.service.Current().IsAuthenticated())
}

func TestScheduler_FailureExpiresSession(t *testing.T) {
	rejected := errors.Join(errors.ErrRefreshRejected, fmt.Errorf("401"))
	refresher := &countingRefresher{err: rejected}
	f := newFixture(t, refresher)
	s := f.signIn(t, t0.Add(lifetime))

	f.clock.Advance(4 * time.Minute)

	require.EqualValues(t, 1, refresher.calls.Load())
	select {
	case err := <-f.failures:
		require.ErrorIs(t, err, errors.ErrRefreshRejected)
	default:
		t.Fatal("failure handler not called")
	}

	current := f.service.Current()
	require.Equal(t, s.ID, current.ID)
	require.Equal(t, sessions.StatusExpired, current.Status)
	require.False(t, current.IsAuthenticated())

	_, armed := f.scheduler.Armed()
	require.False(t, armed)
}

func TestScheduler_RefreshNowWithoutSession(t *testing.T) {
	f := newFixture(t, &countingRefresher{})
	require.ErrorIs(t, f.scheduler.RefreshNow(context.Background()), errors.ErrSessionNotFound)
}

func TestScheduler_ResultDiscardedAfterSignOut(t *testing.T) {
	refresher := newBlockingRefresher()
	f := newFixture(t, refresher)
	f.signIn(t, t0.Add(lifetime))

	result := make(chan error, 1)
	go func() { result <- f.scheduler.RefreshNow(context.Background()) }()
	<-refresher.entered
	require.Equal(t, sessions.StatusRefreshing, f.service.Current().Status)

	had, err := f.service.Clear()
	require.NoError(t, err)
	require.True(t, had)

	close(refresher.release)
	require.ErrorIs(t, <-result, errors.ErrStaleSession)
	require.Nil(t, f.service.Current())
	require.Empty(t, f.failures)

	_, armed := f.scheduler.Armed()
	require.False(t, armed)
}

func TestScheduler_FailureAfterSignOutIgnored(t *testing.T) {
	refresher := newBlockingRefresher()
	refresher.err = errors.ErrNetwork
	f := newFixture(t, refresher)
	f.signIn(t, t0.Add(lifetime))

	result := make(chan error, 1)
	go func() { result <- f.scheduler.RefreshNow(context.Background()) }()
	<-refresher.entered

	_, err := f.service.Clear()
	require.NoError(t, err)
	close(refresher.release)

	require.ErrorIs(t, <-result, errors.ErrStaleSession)
	require.Empty(t, f.failures)
	require.Nil(t, f.service.Current())
}

func TestScheduler_ConcurrentRefreshesShareOneCall(t *testing.T) {
	refresher := newBlockingRefresher()
	f := newFixture(t, refresher)
	f.signIn(t, t0.Add(lifetime))

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- f.scheduler.RefreshNow(context.Background())
	}()
	<-refresher.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- f.scheduler.RefreshNow(context.Background())
	}()

	// the second caller must be parked on the shared call, not refreshing
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, f.scheduler.Wait(ctx), context.DeadlineExceeded)

	close(refresher.release)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.EqualValues(t, 1, refresher.calls.Load())
	current := f.service.Current()
	require.Equal(t, "access-2", current.AccessToken)
	require.Equal(t, "refresh-2", current.RefreshToken)
	require.NoError(t, f.scheduler.Wait(context.Background()))
}

func TestScheduler_WaitWithNothingInFlight(t *testing.T) {
	f := newFixture(t, &countingRefresher{})
	require.NoError(t, f.scheduler.Wait(context.Background()))
}
