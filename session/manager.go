package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/storagegate/observe"
)

// Config configures the session Manager.
type Config struct {
	// ServerURL is the identity provider base URL (e.g. "https://sso.example.com").
	ServerURL string

	// Realm is the provider realm the server authenticates against.
	Realm string

	// ClientID is the OAuth2 client identifier.
	ClientID string

	// ClientSecret is the OAuth2 client secret.
	ClientSecret string

	// Scope is the scope requested on login.
	// Default: "openid profile email"
	Scope string

	// RefreshFloor is the minimum remaining lifetime below which a session
	// is refreshed regardless of its total lifetime.
	// Default: 60s
	RefreshFloor time.Duration

	// RefreshFraction refreshes when remaining lifetime drops below this
	// fraction of the total lifetime, if that exceeds RefreshFloor.
	// Default: 0.10
	RefreshFraction float64

	// Timeout is the HTTP timeout for provider requests.
	// Default: 30s
	Timeout time.Duration

	// HTTPClient is the HTTP client to use. If nil, a default client is used.
	HTTPClient *http.Client

	// Logger receives structured session lifecycle events. If nil, logging
	// is disabled.
	Logger observe.Logger
}

// Manager owns the process's single authenticated session.
//
// The session is replaced atomically on login and refresh and cleared on
// logout or a rejected refresh; it is never partially mutated. All methods
// are safe for concurrent use.
type Manager struct {
	cfg        Config
	httpClient *http.Client
	log        observe.Logger

	mu      sync.RWMutex
	current *Session

	sf singleflight.Group
}

// NewManager creates a session manager for one provider realm.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.ServerURL == "" {
		return nil, errors.New("session: server URL is required")
	}
	if !strings.HasPrefix(cfg.ServerURL, "http://") && !strings.HasPrefix(cfg.ServerURL, "https://") {
		return nil, fmt.Errorf("session: server URL must start with http:// or https://, got %q", cfg.ServerURL)
	}
	if cfg.Realm == "" {
		return nil, errors.New("session: realm is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("session: client ID is required")
	}

	// Apply defaults
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")
	if cfg.Scope == "" {
		cfg.Scope = "openid profile email"
	}
	if cfg.RefreshFloor <= 0 {
		cfg.RefreshFloor = 60 * time.Second
	}
	if cfg.RefreshFraction <= 0 {
		cfg.RefreshFraction = 0.10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	log := cfg.Logger
	if log == nil {
		log = observe.NopLogger()
	}

	return &Manager{
		cfg:        cfg,
		httpClient: httpClient,
		log:        log,
	}, nil
}

// Login exchanges credentials for a new session, replacing any existing one.
func (m *Manager) Login(ctx context.Context, username, password string) (*Session, error) {
	s, err := m.grant(ctx, m.passwordForm(username, password), "")
	if err != nil {
		if errors.Is(err, ErrInvalidGrant) {
			// Wrong password surfaces as invalid_grant on the password grant.
			return nil, fmt.Errorf("%w: login rejected for %q", ErrInvalidCredentials, username)
		}
		return nil, err
	}

	m.mu.Lock()
	m.current = s
	m.mu.Unlock()

	m.log.Info(ctx, "session established",
		observe.Field{Key: "subject", Value: s.Subject},
		observe.Field{Key: "roles", Value: len(s.Roles)},
		observe.Field{Key: "expires_at", Value: s.ExpiresAt.UTC().Format(time.RFC3339)},
	)
	return s, nil
}

// Current returns the current session without triggering a refresh.
// Returns nil when unauthenticated.
func (m *Manager) Current() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// EnsureValid returns a session guaranteed to outlive the refresh threshold.
//
// When the current session is inside the threshold, exactly one refresh is
// issued no matter how many callers arrive concurrently; the others wait for
// its outcome. A caller whose context expires while waiting gets its context
// error without affecting the shared refresh.
func (m *Manager) EnsureValid(ctx context.Context) (*Session, error) {
	cur := m.Current()
	if cur == nil {
		return nil, ErrSessionExpired
	}
	if cur.Fresh(m.threshold(cur), time.Now()) {
		return cur, nil
	}

	ch := m.sf.DoChan("refresh", func() (any, error) {
		// Detached from any single caller's cancellation: the refresh
		// outcome is shared, so one caller bailing out must not fail the
		// others. The provider timeout still bounds the call.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.Timeout)
		defer cancel()
		return m.refresh(rctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Session), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// refresh performs one refresh grant and installs the result.
// Runs inside the singleflight group.
func (m *Manager) refresh(ctx context.Context) (*Session, error) {
	m.mu.RLock()
	cur := m.current
	m.mu.RUnlock()

	if cur == nil {
		return nil, ErrSessionExpired
	}
	// A prior flight may have refreshed while we waited to run.
	if cur.Fresh(m.threshold(cur), time.Now()) {
		return cur, nil
	}
	if cur.RefreshToken == "" {
		m.clear()
		return nil, fmt.Errorf("%w: no refresh token", ErrSessionExpired)
	}

	s, err := m.grant(ctx, m.refreshForm(cur.RefreshToken), cur.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrInvalidGrant) {
			// Refresh token invalid or revoked. Clear the session; a new
			// refresh attempt cannot succeed, re-login is required.
			m.clear()
			m.log.Warn(ctx, "session refresh rejected, re-login required")
			return nil, fmt.Errorf("%w: refresh rejected", ErrSessionExpired)
		}
		// Transient provider failure: keep the old session, the next
		// caller may still get a refresh in before expiry.
		m.log.Warn(ctx, "session refresh failed", observe.Field{Key: "error", Value: err.Error()})
		return nil, err
	}

	m.mu.Lock()
	m.current = s
	m.mu.Unlock()

	m.log.Info(ctx, "session refreshed",
		observe.Field{Key: "subject", Value: s.Subject},
		observe.Field{Key: "expires_at", Value: s.ExpiresAt.UTC().Format(time.RFC3339)},
	)
	return s, nil
}

// MarkStale forces the next EnsureValid to refresh, provided the given
// access token still belongs to the current session. Used when the storage
// API rejects a token the manager still considered fresh.
func (m *Manager) MarkStale(accessToken string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.AccessToken != accessToken {
		return
	}
	stale := *m.current
	stale.ExpiresAt = time.Now()
	m.current = &stale
}

// Logout clears the current session. Idempotent.
func (m *Manager) Logout() {
	m.clear()
}

// Close tears the manager down, releasing pooled provider connections.
func (m *Manager) Close() {
	m.clear()
	m.httpClient.CloseIdleConnections()
}

func (m *Manager) clear() {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
}

// threshold returns the refresh threshold for the session: the larger of
// the fixed floor and the configured fraction of the session's lifetime.
func (m *Manager) threshold(s *Session) time.Duration {
	fraction := time.Duration(m.cfg.RefreshFraction * float64(s.Lifetime()))
	if fraction > m.cfg.RefreshFloor {
		return fraction
	}
	return m.cfg.RefreshFloor
}
