// Package cookie carries the sealed session in a single HTTP cookie.
package cookie

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/layer-3/gatekeeper/core"
	"github.com/layer-3/gatekeeper/ports"
)

const DefaultName = "gatekeeper_session"

// Options controls the cookie attributes. MaxAge is the cookie lifetime and is
// independent of the session expiration time sealed inside it.
type Options struct {
	Name   string
	Domain string
	Secure bool
	MaxAge time.Duration
}

// Store implements ports.SessionStore on top of a ports.Sealer
type Store struct {
	sealer ports.Sealer
	opts   Options
	log    *slog.Logger
	now    func() time.Time
}

// NewStore creates a cookie backed session store
func NewStore(sealer ports.Sealer, opts Options, log *slog.Logger) *Store {
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 14 * 24 * time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{sealer: sealer, opts: opts, log: log, now: time.Now}
}

// WithClock replaces the clock used for expiry checks
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Load unseals the session cookie. Missing, corrupt and expired cookies all
// yield an error and no session; an expired cookie is destroyed.
func (s *Store) Load(w http.ResponseWriter, r *http.Request) (*core.Session, error) {
	c, err := r.Cookie(s.opts.Name)
	if err != nil || c.Value == "" {
		return nil, core.ErrNoSession
	}

	session, err := s.sealer.Unseal(c.Value)
	if err != nil {
		s.log.Warn("session.unseal_failed", "error", err, "path", r.URL.Path)
		if !errors.Is(err, core.ErrInvalidSession) {
			err = fmt.Errorf("%w: %v", core.ErrInvalidSession, err)
		}
		return nil, err
	}

	if session.Expired(s.now()) {
		s.Destroy(w)
		return nil, core.ErrSessionExpired
	}

	return session, nil
}

// Save seals the session into the response cookie
func (s *Store) Save(w http.ResponseWriter, session *core.Session) error {
	if session == nil {
		return errors.New("nil session")
	}
	if session.Address != "" && !session.Authenticated() {
		return errors.New("refusing to save a partially authenticated session")
	}

	token, err := s.sealer.Seal(session)
	if err != nil {
		return fmt.Errorf("failed to seal session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.Name,
		Value:    token,
		Path:     "/",
		Domain:   s.opts.Domain,
		MaxAge:   int(s.opts.MaxAge.Seconds()),
		Secure:   s.opts.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return nil
}

// Destroy expires the session cookie. Calling it repeatedly is harmless.
func (s *Store) Destroy(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.Name,
		Value:    "",
		Path:     "/",
		Domain:   s.opts.Domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   s.opts.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
