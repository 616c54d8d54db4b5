// Package session is the persisted client session: tokens, the signed-in
// user and the cached branding.  A Session is created explicitly and
// handed to the components that need it; nothing reads it from global
// state.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

const persistTimeout = 5 * time.Second

// Data is what a session persists.
type Data struct {
	Token        string          `json:"token,omitempty"`
	RefreshToken string          `json:"refreshToken,omitempty"`
	User         *model.User     `json:"user,omitempty"`
	Settings     *model.Settings `json:"settings,omitempty"`
	Theme        *model.Theme    `json:"theme,omitempty"`
	Logo         string          `json:"app_logo,omitempty"`
}

// Session is safe for concurrent use.  Every mutation is written through
// to the Store.
type Session struct {
	store Store
	key   string
	log   logrus.FieldLogger

	mu   sync.RWMutex
	data Data
}

// New returns an empty session bound to store under key.
func New(store Store, key string, log logrus.FieldLogger) *Session {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Session{store: store, key: key, log: log}
}

// Load restores a session from store.  A missing key yields an empty
// session; a value that cannot be decoded or opened is discarded with a
// warning so a corrupt file never locks the user out.
func Load(ctx context.Context, store Store, key string, log logrus.FieldLogger) (*Session, error) {
	s := New(store, key, log)
	raw, err := store.Get(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		return s, nil
	case errors.Is(err, ErrSealBroken):
		s.log.WithField("key", key).Warn("session: discarding value sealed with another key")
		return s, nil
	case err != nil:
		return nil, err
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		s.log.WithFields(logrus.Fields{"key": key, "error": err}).Warn("session: discarding unreadable value")
		s.data = Data{}
	}
	return s, nil
}

// Snapshot returns a copy of the session data.
func (s *Session) Snapshot() Data {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

// LoggedIn reports whether an access token is present.
func (s *Session) LoggedIn() bool { return s.AccessToken() != "" }

// AccessToken implements bookingapi.Credentials.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Token
}

// RefreshToken implements bookingapi.Credentials.
func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.RefreshToken
}

// SetAccessToken implements bookingapi.Credentials.
func (s *Session) SetAccessToken(token string) error {
	return s.update(func(d *Data) { d.Token = token })
}

// Expire implements bookingapi.Credentials: credentials and user are
// dropped, cached branding is kept.
func (s *Session) Expire() error {
	return s.update(func(d *Data) {
		d.Token, d.RefreshToken, d.User = "", "", nil
	})
}

// SignIn stores the result of a login.
func (s *Session) SignIn(token, refreshToken string, user model.User) error {
	return s.update(func(d *Data) {
		d.Token, d.RefreshToken = token, refreshToken
		u := user
		d.User = &u
	})
}

// User returns the signed-in user, if any.
func (s *Session) User() (model.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data.User == nil {
		return model.User{}, false
	}
	return *s.data.User, true
}

// SetBranding caches settings and the derived theme.
func (s *Session) SetBranding(settings model.Settings, theme model.Theme) error {
	return s.update(func(d *Data) {
		st, th := settings, theme
		d.Settings, d.Theme = &st, &th
		if settings.Logo != "" {
			d.Logo = settings.Logo
		}
	})
}

// Clear forgets everything, on logout.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.data = Data{}
	s.mu.Unlock()
	return s.store.Delete(ctx, s.key)
}

func (s *Session) update(fn func(*Data)) error {
	s.mu.Lock()
	fn(&s.data)
	raw, err := json.Marshal(s.data)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.store.Set(ctx, s.key, raw); err != nil {
		s.log.WithFields(logrus.Fields{"key": s.key, "error": err}).Warn("session: persist failed")
		return err
	}
	return nil
}
