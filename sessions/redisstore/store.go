package redisstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jrsteele09/school-dashboard/internal/errors"
	"github.com/jrsteele09/school-dashboard/sessions"
	"github.com/redis/go-redis/v9"
)

const opTimeout = 2 * time.Second

// Store keeps the session record in redis under a single origin-scoped key.
// The key expires with the refresh token, after which no refresh can succeed.
type Store struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

var _ sessions.Store = (*Store)(nil)

func New(client redis.UniversalClient, prefix, origin string, ttl time.Duration) *Store {
	return &Store{
		client: client,
		key:    Key(prefix, origin),
		ttl:    ttl,
	}
}

// Key is the redis key for the session of origin
func Key(prefix, origin string) string {
	sum := sha256.Sum256([]byte(origin))
	return fmt.Sprintf("%s%s:%s", prefix, sessions.StorageKey, hex.EncodeToString(sum[:8]))
}

func (s *Store) Get() (*sessions.Session, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	data, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(errors.Join(errors.ErrStoreUnavailable, err), "redisstore.Get")
	}
	return sessions.Unmarshal(data)
}

func (s *Store) Set(session *sessions.Session) error {
	data, err := sessions.Marshal(session)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return errors.Wrapf(errors.Join(errors.ErrStoreUnavailable, err), "redisstore.Set")
	}
	return nil
}

func (s *Store) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return errors.Wrapf(errors.Join(errors.ErrStoreUnavailable, err), "redisstore.Clear")
	}
	return nil
}
