package sessions_test

import (
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/school-dashboard/internal/errors"
	"github.com/jrsteele09/school-dashboard/sessions"
	"github.com/stretchr/testify/require"
)

// brokenStore fails reads with a fixed error and counts clears
type brokenStore struct {
	getErr error
	clears int
}

func (b *brokenStore) Get() (*sessions.Session, error) { return nil, b.getErr }
func (b *brokenStore) Set(*sessions.Session) error     { return errors.ErrStoreUnavailable }
func (b *brokenStore) Clear() error {
	b.clears++
	return nil
}

func TestService_CommitAndCurrent(t *testing.T) {
	store := sessions.NewInMemoryStore()
	svc := sessions.NewService(store)
	require.Nil(t, svc.Current())

	s := testSession(t)
	require.NoError(t, svc.Commit(s))

	current := svc.Current()
	require.Equal(t, s.ID, current.ID)
	require.Equal(t, s.AccessToken, current.AccessToken)

	// a second service over the same store sees the persisted session
	reloaded := sessions.NewService(store).Current()
	require.NotNil(t, reloaded)
	require.Equal(t, s.ID, reloaded.ID)
	require.Equal(t, sessions.StatusAuthenticated, reloaded.Status)
}

func TestService_CurrentReturnsCopy(t *testing.T) {
	svc := sessions.NewService(sessions.NewInMemoryStore())
	require.NoError(t, svc.Commit(testSession(t)))

	c := svc.Current()
	c.AccessToken = "tampered"
	c.Status = sessions.StatusExpired

	require.Equal(t, "access-token-1", svc.Current().AccessToken)
	require.True(t, svc.Current().IsAuthenticated())
}

func TestService_CommitRejectsInvalid(t *testing.T) {
	svc := sessions.NewService(sessions.NewInMemoryStore())
	err := svc.Commit(&sessions.Session{ID: "x", Status: sessions.StatusAuthenticated})
	require.ErrorIs(t, err, errors.ErrMalformedSession)
	require.Nil(t, svc.Current())
}

func TestService_ClearIsIdempotent(t *testing.T) {
	store := sessions.NewInMemoryStore()
	svc := sessions.NewService(store)
	require.NoError(t, svc.Commit(testSession(t)))

	had, err := svc.Clear()
	require.NoError(t, err)
	require.True(t, had)

	had, err = svc.Clear()
	require.NoError(t, err)
	require.False(t, had)

	stored, err := store.Get()
	require.NoError(t, err)
	require.Nil(t, stored)
	require.Nil(t, svc.Current())
}

func TestService_MalformedRecordTreatedAsAbsent(t *testing.T) {
	store := &brokenStore{getErr: errors.Wrapf(errors.ErrMalformedSession, "bad record")}
	svc := sessions.NewService(store)

	require.Nil(t, svc.Current())
	require.Equal(t, 1, store.clears)

	// loaded once only
	require.Nil(t, svc.Current())
	require.Equal(t, 1, store.clears)
}

func TestService_UnavailableStoreNotCleared(t *testing.T) {
	store := &brokenStore{getErr: errors.ErrStoreUnavailable}
	svc := sessions.NewService(store)

	require.Nil(t, svc.Current())
	require.Equal(t, 0, store.clears)
	require.ErrorIs(t, svc.Commit(testSession(t)), errors.ErrStoreUnavailable)
	require.Nil(t, svc.Current())
}

func TestService_Transition(t *testing.T) {
	svc := sessions.NewService(sessions.NewInMemoryStore())
	s := testSession(t)
	require.NoError(t, svc.Commit(s))

	require.False(t, svc.Transition("other-id", sessions.StatusAuthenticated, sessions.StatusRefreshing))
	require.False(t, svc.Transition(s.ID, sessions.StatusRefreshing, sessions.StatusExpired))

	require.True(t, svc.Transition(s.ID, sessions.StatusAuthenticated, sessions.StatusRefreshing))
	require.Equal(t, sessions.StatusRefreshing, svc.Current().Status)
	require.False(t, svc.Current().IsAuthenticated())

	_, err := svc.Clear()
	require.NoError(t, err)
	require.False(t, svc.Transition(s.ID, sessions.StatusRefreshing, sessions.StatusAuthenticated))
}

func TestService_ReplaceOnlyWhenUnchanged(t *testing.T) {
	svc := sessions.NewService(sessions.NewInMemoryStore())
	s := testSession(t)
	require.NoError(t, svc.Commit(s))
	require.True(t, svc.Transition(s.ID, sessions.StatusAuthenticated, sessions.StatusRefreshing))

	next := s.Clone()
	next.AccessToken = "access-token-2"
	next.Status = sessions.StatusAuthenticated

	ok, err := svc.Replace(s.ID, sessions.StatusRefreshing, next)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "access-token-2", svc.Current().AccessToken)
	require.True(t, svc.Current().IsAuthenticated())

	// a late completion after sign-out must not bring the session back
	_, err = svc.Clear()
	require.NoError(t, err)
	ok, err = svc.Replace(s.ID, sessions.StatusRefreshing, next)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, svc.Current())
}

func TestService_Listeners(t *testing.T) {
	svc := sessions.NewService(sessions.NewInMemoryStore())

	var mu sync.Mutex
	var events []sessions.Event
	svc.Subscribe(func(ev sessions.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	s := testSession(t)
	require.NoError(t, svc.Commit(s))
	_, err := svc.Clear()
	require.NoError(t, err)
	_, err = svc.Clear()
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	require.Equal(t, sessions.EventCommitted, events[0].Kind)
	require.Equal(t, s.ID, events[0].Session.ID)
	require.Equal(t, sessions.EventCleared, events[1].Kind)
	require.Nil(t, events[1].Session)
}

func TestService_EventsFollowWriteOrder(t *testing.T) {
	svc := sessions.NewService(sessions.NewInMemoryStore())

	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var kinds []sessions.EventKind
	svc.Subscribe(func(ev sessions.Event) {
		if ev.Kind == sessions.EventCommitted {
			close(entered)
			<-release
		}
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, ev.Kind)
	})

	s := testSession(t)
	committed := make(chan error, 1)
	go func() { committed <- svc.Commit(s) }()
	<-entered

	cleared := make(chan struct{})
	go func() {
		_, _ = svc.Clear()
		close(cleared)
	}()

	// the clear is written while the commit event is still being delivered
	require.Eventually(t, func() bool { return svc.Current() == nil }, time.Second, time.Millisecond)
	select {
	case <-cleared:
		t.Fatal("clear returned before the earlier commit event was delivered")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-committed)
	<-cleared

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []sessions.EventKind{sessions.EventCommitted, sessions.EventCleared}, kinds)
}
