package sessions

import (
	"sync"

	"github.com/jrsteele09/school-dashboard/internal/errors"
	"github.com/rs/zerolog/log"
)

// EventKind says what happened to the live session
type EventKind int

const (
	EventCommitted EventKind = iota
	EventCleared
)

// Event is delivered to listeners after the store has been written, in the
// order the writes happened. Session is a copy and is nil for EventCleared.
type Event struct {
	Kind    EventKind
	Session *Session
}

// Listener must not write to the Service it is subscribed to.
type Listener func(Event)

// Service is the one source of truth for the live session. Every reader (the
// request pipeline, the route guard) and every writer (sign-in, sign-out, the
// refresh scheduler) goes through it. Writes are serialised; reads return copies.
type Service struct {
	store Store

	mu      sync.Mutex
	loaded  bool
	current *Session
	seq     uint64 // writes that produced an event

	deliverMu sync.Mutex
	delivered sync.Cond // signalled as each event finishes delivery
	done      uint64

	listenersMu sync.RWMutex
	listeners   []Listener
}

func NewService(store Store) *Service {
	s := &Service{store: store}
	s.delivered.L = &s.deliverMu
	return s
}

// Subscribe registers l for every commit and clear
func (s *Service) Subscribe(l Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Current returns a copy of the live session, or nil when there is none or the
// store could not be read.
func (s *Service) Current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	return s.current.Clone()
}

// loadLocked reads the persisted record once. Unreadable or malformed records
// are treated as absent.
func (s *Service) loadLocked() {
	if s.loaded {
		return
	}
	s.loaded = true

	stored, err := s.store.Get()
	if err != nil {
		log.Warn().Err(err).Msg("sessions: stored session unreadable, treating as signed out")
		if errors.Is(err, errors.ErrMalformedSession) {
			if clearErr := s.store.Clear(); clearErr != nil {
				log.Warn().Err(clearErr).Msg("sessions: failed to discard malformed session")
			}
		}
		return
	}
	s.current = stored
}

// Commit persists next as the live session
func (s *Service) Commit(next *Session) error {
	if err := next.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.loadLocked()
	if err := s.store.Set(next); err != nil {
		s.mu.Unlock()
		return errors.Wrapf(err, "sessions.Commit")
	}
	s.current = next.Clone()
	s.unlockAndNotify(Event{Kind: EventCommitted, Session: next.Clone()})
	return nil
}

// Clear removes the live session. It reports whether a session existed. The
// in-memory session is dropped even if the store fails to clear.
func (s *Service) Clear() (bool, error) {
	s.mu.Lock()
	s.loadLocked()
	had := s.current != nil
	s.current = nil
	err := s.store.Clear()
	if had {
		s.unlockAndNotify(Event{Kind: EventCleared})
	} else {
		s.mu.Unlock()
	}
	if err != nil {
		return had, errors.Wrapf(err, "sessions.Clear")
	}
	return had, nil
}

// Transition moves the live session from one status to another, but only if it
// is still generation id and currently in from. Status is not persisted, so
// this never touches the store.
func (s *Service) Transition(id string, from, to Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	if s.current == nil || s.current.ID != id || s.current.Status != from {
		return false
	}
	s.current.Status = to
	return true
}

// Replace commits next only if the live session is still generation id in
// status from. It returns false, with no write, when the session changed in the
// meantime, so a late completion can never resurrect a cleared session.
func (s *Service) Replace(id string, from Status, next *Session) (bool, error) {
	if err := next.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	s.loadLocked()
	if s.current == nil || s.current.ID != id || s.current.Status != from {
		s.mu.Unlock()
		return false, nil
	}
	if err := s.store.Set(next); err != nil {
		s.mu.Unlock()
		return false, errors.Wrapf(err, "sessions.Replace")
	}
	s.current = next.Clone()
	s.unlockAndNotify(Event{Kind: EventCommitted, Session: next.Clone()})
	return true, nil
}

// unlockAndNotify releases s.mu and delivers ev once every earlier event has
// been delivered, so listeners see events in write order.
func (s *Service) unlockAndNotify(ev Event) {
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	s.deliverMu.Lock()
	for s.done != seq-1 {
		s.delivered.Wait()
	}
	s.deliverMu.Unlock()

	defer func() {
		s.deliverMu.Lock()
		s.done = seq
		s.delivered.Broadcast()
		s.deliverMu.Unlock()
	}()

	s.listenersMu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.listenersMu.RUnlock()

	for _, l := range listeners {
		l(ev)
	}
}
