package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jonwraymond/storagegate/authz"
)

// tokenResponse is the provider's token endpoint response body.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// providerError is the provider's OAuth2-style error body.
type providerError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

// tokenEndpoint returns the realm-scoped token endpoint URL.
func (m *Manager) tokenEndpoint() string {
	return m.cfg.ServerURL + "/realms/" + m.cfg.Realm + "/protocol/openid-connect/token"
}

func (m *Manager) passwordForm(username, password string) url.Values {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("client_id", m.cfg.ClientID)
	form.Set("client_secret", m.cfg.ClientSecret)
	form.Set("username", username)
	form.Set("password", password)
	form.Set("scope", m.cfg.Scope)
	return form
}

func (m *Manager) refreshForm(refreshToken string) url.Values {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", m.cfg.ClientID)
	form.Set("client_secret", m.cfg.ClientSecret)
	form.Set("refresh_token", refreshToken)
	return form
}

// grant posts the form to the token endpoint and builds a Session from the
// response. prevRefresh is reused when the provider omits a new refresh token.
func (m *Manager) grant(ctx context.Context, form url.Values, prevRefresh string) (*Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenEndpoint(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrProviderUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		var pe providerError
		_ = json.Unmarshal(body, &pe)

		switch {
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
		case pe.Code != "":
			// Error codes are safe to surface; descriptions are not.
			return nil, fmt.Errorf("%w: %s", ErrInvalidGrant, pe.Code)
		default:
			return nil, fmt.Errorf("%w: status %d", ErrInvalidGrant, resp.StatusCode)
		}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("%w: decode token response: %v", ErrProviderUnavailable, err)
	}
	if tr.AccessToken == "" || tr.ExpiresIn <= 0 {
		return nil, fmt.Errorf("%w: malformed token response", ErrProviderUnavailable)
	}

	refresh := tr.RefreshToken
	if refresh == "" {
		refresh = prevRefresh
	}
	tokenType := tr.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	subject, roles := claimsFromToken(tr.AccessToken)
	now := time.Now()

	return &Session{
		AccessToken:  tr.AccessToken,
		RefreshToken: refresh,
		TokenType:    tokenType,
		Subject:      subject,
		Roles:        roles,
		IssuedAt:     now,
		ExpiresAt:    now.Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}

// claimsFromToken extracts the subject and storage roles from the access
// token claims. The signature is not verified: the token came over TLS from
// the provider we just authenticated against, and the storage API verifies
// it again on every call.
func claimsFromToken(token string) (string, []authz.Role) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", nil
	}

	subject, _ := claims["preferred_username"].(string)
	if subject == "" {
		subject, _ = claims["sub"].(string)
	}

	var names []string
	if realm, ok := claims["realm_access"].(map[string]any); ok {
		names = append(names, stringList(realm["roles"])...)
	}
	if res, ok := claims["resource_access"].(map[string]any); ok {
		for _, access := range res {
			if client, ok := access.(map[string]any); ok {
				names = append(names, stringList(client["roles"])...)
			}
		}
	}

	return subject, authz.RolesFromClaims(names)
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
