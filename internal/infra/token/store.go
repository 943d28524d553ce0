// Package token persists the Spotify session token pair and manages its
// refresh lifecycle.
package token

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// ExpiryGuard is the safety margin subtracted from a token's absolute
// expiry, forcing a proactive refresh before Spotify actually rejects the
// token.
const ExpiryGuard = 5 * time.Minute

// Token is the persisted access/refresh token pair.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Store persists the token pair in a JSON file.
type Store struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewStore creates a store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// Save persists the access token with an absolute expiry computed from the
// lifetime. An empty refresh token preserves the previously stored one, as
// refresh responses often omit it.
func (s *Store) Save(access string, expiresIn time.Duration, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if refresh == "" {
		if prev, err := s.loadLocked(); err == nil && prev != nil {
			refresh = prev.RefreshToken
		}
	}

	tok := Token{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    s.now().Add(expiresIn),
	}
	data, err := json.Marshal(&tok)
	if err != nil {
		return errors.Wrap(err, "failed to encode token")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return errors.Wrap(err, "failed to create token directory")
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return errors.Wrap(err, "failed to write token file")
	}
	return nil
}

// Load reads the persisted token pair. Returns (nil, nil) when no token is
// stored.
func (s *Store) Load() (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (*Token, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read token file")
	}

	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, errors.Wrap(err, "failed to decode token file")
	}
	if tok.AccessToken == "" {
		return nil, nil
	}
	return &tok, nil
}

// Clear removes all persisted token fields.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "failed to remove token file")
	}
	return nil
}

// Expired reports whether the token is inside the expiry guard window and
// must be refreshed before use.
func (s *Store) Expired(tok *Token) bool {
	if tok == nil {
		return true
	}
	return !s.now().Before(tok.ExpiresAt.Add(-ExpiryGuard))
}
