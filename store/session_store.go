// Package store provides whole-file JSON persistence for Sessions and
// Conditions, shared across the Gateway, Strategy Engine, and Order
// Executor processes via a single file on disk per store.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/arlojex/tradepipe/models"
)

// SessionStore persists a single active Session to a JSON file. Every
// method reads the file fresh and rewrites it whole, so any process on the
// machine observes the latest write without a shared in-memory cache.
type SessionStore struct {
	path    string
	timeout time.Duration
	mu      sync.Mutex
}

// NewSessionStore opens (creating if absent) the session file at path.
// timeout is how long a session remains valid after creation or renewal.
func NewSessionStore(path string, timeout time.Duration) (*SessionStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("store: create session directory: %w", err)
	}
	s := &SessionStore{path: path, timeout: timeout}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.write(nil); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *SessionStore) read() (*models.Session, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, nil
	}
	if len(b) == 0 {
		return nil, nil
	}
	var sess models.Session
	if err := json.Unmarshal(b, &sess); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("session store: malformed file, treating as empty")
		return nil, nil
	}
	if sess.Account == "" {
		return nil, nil
	}
	return &sess, nil
}

func (s *SessionStore) write(sess *models.Session) error {
	var b []byte
	var err error
	if sess == nil {
		b, err = json.MarshalIndent(models.Session{}, "", "  ")
	} else {
		b, err = json.MarshalIndent(sess, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("store: encode session: %w", err)
	}
	if err := os.WriteFile(s.path, b, 0644); err != nil {
		return fmt.Errorf("store: write session file: %w", err)
	}
	return nil
}

// CreateSession starts a new logged-in session for account, expiring after
// the store's configured timeout.
func (s *SessionStore) CreateSession(account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(&models.Session{
		Account:   account,
		LoggedIn:  true,
		ExpiresAt: time.Now().Add(s.timeout),
	})
}

// CurrentUser returns the logged-in account, or "" if no session is active
// or it has expired. An expired session is destroyed as a side effect.
func (s *SessionStore) CurrentUser() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.read()
	if err != nil {
		return "", err
	}
	if sess == nil || !sess.LoggedIn {
		return "", nil
	}
	if sess.Expired(time.Now()) {
		_ = s.write(nil)
		return "", nil
	}
	return sess.Account, nil
}

// IsLoggedIn reports whether a valid, unexpired session currently exists.
func (s *SessionStore) IsLoggedIn() (bool, error) {
	user, err := s.CurrentUser()
	if err != nil {
		return false, err
	}
	return user != "", nil
}

// Destroy clears the active session.
func (s *SessionStore) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(nil)
}

// Renew extends the session's expiry by the store's configured timeout, if
// a session is currently logged in.
func (s *SessionStore) Renew() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.read()
	if err != nil {
		return err
	}
	if sess == nil || !sess.LoggedIn {
		return nil
	}
	sess.ExpiresAt = time.Now().Add(s.timeout)
	return s.write(sess)
}

// SetOrderAccount records the order-routing account for the active session.
func (s *SessionStore) SetOrderAccount(account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.read()
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("store: no active session")
	}
	sess.OrderAccount = account
	return s.write(sess)
}

// OrderAccount returns the order-routing account for the active session, or
// "" if unset or no session is active. The Order Executor reads this on
// every signal (§4.6 step 2).
func (s *SessionStore) OrderAccount() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.read()
	if err != nil || sess == nil {
		return "", err
	}
	return sess.OrderAccount, nil
}

// SetItemCode records the traded item code for the active session.
func (s *SessionStore) SetItemCode(itemCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.read()
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("store: no active session")
	}
	sess.ItemCode = itemCode
	return s.write(sess)
}

// ItemCode returns the traded item code for the active session, or "" if
// unset or no session is active.
func (s *SessionStore) ItemCode() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.read()
	if err != nil || sess == nil {
		return "", err
	}
	return sess.ItemCode, nil
}

// Snapshot returns the current session record, or nil if none is active.
// Used by the Operator Surface's GET /session route.
func (s *SessionStore) Snapshot() (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}
