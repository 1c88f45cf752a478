package filestore

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/jrsteele09/school-dashboard/internal/errors"
	"github.com/jrsteele09/school-dashboard/sessions"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const keyInfo = "school-dashboard session store v1"

// Store persists the session record in a single sealed file per backend origin.
// The file survives restarts; a different origin maps to a different file and a
// different key, so one origin can never read another's session.
type Store struct {
	path   string
	origin string
	aead   cipher.AEAD
	mu     sync.Mutex
}

var _ sessions.Store = (*Store)(nil)

// New returns a Store rooted at dir for the given backend origin (scheme://host[:port]).
func New(dir, origin, secret string) (*Store, error) {
	if origin == "" {
		return nil, fmt.Errorf("filestore.New: origin is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrapf(errors.Join(errors.ErrStoreUnavailable, err), "filestore.New MkdirAll(%s)", dir)
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(secret), []byte(origin), []byte(keyInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("filestore.New derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("filestore.New cipher: %w", err)
	}

	return &Store{
		path:   filepath.Join(dir, FileName(origin)),
		origin: origin,
		aead:   aead,
	}, nil
}

// FileName is the storage key scoped to origin
func FileName(origin string) string {
	sum := sha256.Sum256([]byte(origin))
	return sessions.StorageKey + "-" + hex.EncodeToString(sum[:8]) + ".session"
}

// Path returns the file the session is stored in
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Get() (*sessions.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(errors.Join(errors.ErrStoreUnavailable, err), "filestore.Get")
	}

	nonceSize := s.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, errors.Wrapf(errors.ErrMalformedSession, "filestore.Get: truncated record")
	}
	plain, err := s.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], []byte(s.origin))
	if err != nil {
		return nil, errors.Wrapf(errors.ErrMalformedSession, "filestore.Get: %v", err)
	}
	return sessions.Unmarshal(plain)
}

func (s *Store) Set(session *sessions.Session) error {
	plain, err := sessions.Marshal(session)
	if err != nil {
		return err
	}

	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plain)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("filestore.Set nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, plain, []byte(s.origin))

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.path, sealed)
}

func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(errors.Join(errors.ErrStoreUnavailable, err), "filestore.Clear")
	}
	return nil
}

// writeAtomic writes data next to path and renames it into place
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".session-*")
	if err != nil {
		return errors.Wrapf(errors.Join(errors.ErrStoreUnavailable, err), "filestore.Set CreateTemp")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return errors.Wrapf(errors.Join(errors.ErrStoreUnavailable, err), "filestore.Set Write")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return errors.Wrapf(errors.Join(errors.ErrStoreUnavailable, err), "filestore.Set Sync")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(errors.Join(errors.ErrStoreUnavailable, err), "filestore.Set Close")
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return errors.Wrapf(errors.Join(errors.ErrStoreUnavailable, err), "filestore.Set Chmod")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrapf(errors.Join(errors.ErrStoreUnavailable, err), "filestore.Set Rename")
	}
	return nil
}
