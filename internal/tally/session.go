package tally

import "time"

// Session is the persisted sign-in state.
type Session struct {
	SignedIn   bool      `toml:"signed_in"`
	Username   string    `toml:"username,omitempty"`
	Token      string    `toml:"token,omitempty"`
	SignedInAt time.Time `toml:"signed_in_at,omitempty"`

	// ExpiresAt is derived from the token when the session is loaded.
	ExpiresAt time.Time `toml:"-"`
}

// Active reports whether the session is signed in with an unexpired token.
func (s *Session) Active(now time.Time) bool {
	if s == nil || !s.SignedIn {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}

// SessionStore persists the session across process restarts.
type SessionStore interface {
	Load() (*Session, error)
	Save(s *Session) error
}
