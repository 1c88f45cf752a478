package sessions

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/school-dashboard/internal/errors"
	"github.com/jrsteele09/school-dashboard/users"
)

// StorageKey is the fixed key the session record is persisted under
const StorageKey = "_auth"

// Status is the lifecycle state of the live session
type Status int

const (
	StatusAnonymous Status = iota
	StatusAuthenticated
	StatusRefreshing
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusAnonymous:
		return "anonymous"
	case StatusAuthenticated:
		return "authenticated"
	case StatusRefreshing:
		return "refreshing"
	case StatusExpired:
		return "expired"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Session is the signed-in identity of this process. There is at most one.
type Session struct {
	ID           string        `json:"id"`           // Generation id, minted at sign-in, kept across refreshes
	AccessToken  string        `json:"accessToken"`  // Short-lived bearer credential
	RefreshToken string        `json:"refreshToken"` // Used only by the refresh scheduler
	User         users.Profile `json:"user"`         // Profile returned at sign-in
	ExpiresAt    time.Time     `json:"expiresAt"`    // Access token expiry, safety margin already applied
	IssuedAt     time.Time     `json:"issuedAt"`     // When the access token was received, zero if unknown
	Status       Status        `json:"-"`            // Not persisted, a loaded record is Authenticated
}

// New returns an Authenticated session with a fresh generation id
func New(accessToken, refreshToken string, user users.Profile, expiresAt time.Time) *Session {
	return &Session{
		ID:           uuid.New().String(),
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user.Clone(),
		ExpiresAt:    expiresAt,
		Status:       StatusAuthenticated,
	}
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.User = s.User.Clone()
	return &c
}

func (s *Session) IsAuthenticated() bool {
	return s != nil && s.Status == StatusAuthenticated && s.AccessToken != ""
}

// Role is the user's role, empty for a nil session
func (s *Session) Role() users.Role {
	if s == nil {
		return ""
	}
	return s.User.Role()
}

// Lifetime is how long the access token was issued for, zero when IssuedAt is unknown
func (s *Session) Lifetime() time.Duration {
	if s == nil || s.IssuedAt.IsZero() {
		return 0
	}
	return s.ExpiresAt.Sub(s.IssuedAt)
}

// Expired reports whether the access token is past its expiry at now
func (s *Session) Expired(now time.Time) bool {
	return s == nil || !now.Before(s.ExpiresAt)
}

// Validate checks the invariants a committed session must hold
func (s *Session) Validate() error {
	if s == nil {
		return errors.Wrapf(errors.ErrMalformedSession, "nil session")
	}
	if s.ID == "" {
		return errors.Wrapf(errors.ErrMalformedSession, "missing id")
	}
	if s.Status == StatusAuthenticated && s.AccessToken == "" {
		return errors.Wrapf(errors.ErrMalformedSession, "authenticated session without access token")
	}
	if s.ExpiresAt.IsZero() {
		return errors.Wrapf(errors.ErrMalformedSession, "missing expiry")
	}
	return nil
}

// Marshal encodes the persisted form of the session
func Marshal(s *Session) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(s)
}

// Unmarshal decodes a persisted record. The result is Authenticated.
func Unmarshal(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrapf(errors.ErrMalformedSession, "decode: %v", err)
	}
	s.Status = StatusAuthenticated
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Mask hides a token for logging, keeping only a short prefix and suffix
func Mask(token string) string {
	const keep = 4
	if len(token) <= keep*2 {
		return strings.Repeat("#", 5)
	}
	return token[:keep] + strings.Repeat("#", 5) + token[len(token)-keep:]
}
