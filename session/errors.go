package session

import "errors"

// Sentinel errors for session management.
var (
	// ErrInvalidCredentials indicates the identity provider rejected the
	// username/password pair.
	ErrInvalidCredentials = errors.New("session: invalid credentials")

	// ErrSessionExpired indicates no usable session exists and a refresh is
	// not possible. The caller must log in again.
	ErrSessionExpired = errors.New("session: session expired, re-login required")

	// ErrProviderUnavailable indicates a network or server-side failure
	// reaching the identity provider.
	ErrProviderUnavailable = errors.New("session: identity provider unavailable")

	// ErrInvalidGrant indicates the provider rejected the grant itself
	// (wrong password, revoked or reused refresh token).
	ErrInvalidGrant = errors.New("session: grant rejected by provider")
)
