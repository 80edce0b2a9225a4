package session

import (
	"time"

	"github.com/jonwraymond/storagegate/authz"
)

// Session is the authenticated identity state held by a Manager.
//
// A Session is immutable once built: login and refresh replace the whole
// value atomically, nothing mutates an existing one.
type Session struct {
	// AccessToken is the opaque bearer token for the storage API.
	AccessToken string

	// RefreshToken is the opaque token used to obtain the next session.
	RefreshToken string

	// TokenType is the token scheme reported by the provider, normally "Bearer".
	TokenType string

	// Subject is the authenticated principal (preferred_username, or sub).
	Subject string

	// Roles are the storage roles decoded from the access token claims.
	Roles []authz.Role

	// IssuedAt is when this session was obtained.
	IssuedAt time.Time

	// ExpiresAt is when the access token expires.
	ExpiresAt time.Time
}

// Lifetime returns the total lifetime the provider granted.
func (s *Session) Lifetime() time.Duration {
	return s.ExpiresAt.Sub(s.IssuedAt)
}

// Fresh reports whether the session is still usable at now, given the
// refresh threshold: usable only while now < ExpiresAt - threshold.
func (s *Session) Fresh(threshold time.Duration, now time.Time) bool {
	return now.Before(s.ExpiresAt.Add(-threshold))
}
