// Package quota provides quota fetching and caching services.
package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/j-veylop/antigravity-quota-monitor/internal/logger"
	"github.com/j-veylop/antigravity-quota-monitor/internal/metrics"
)

const (
	// GoogleOAuthURL is the Google OAuth token endpoint.
	GoogleOAuthURL = "https://oauth2.googleapis.com/token"

	// tokenExpiryMargin is subtracted from a cached token's lifetime so that a
	// token is never handed out right before it expires.
	tokenExpiryMargin = 60 * time.Second

	defaultExpiresIn = 3600
)

// ErrEmptyRefreshToken is returned when an exchange is attempted without a refresh token.
var ErrEmptyRefreshToken = errors.New("refresh token is empty")

// TokenResponse represents the OAuth token response from Google.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	TokenType    string `json:"token_type"`
	IDToken      string `json:"id_token,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
}

// CachedToken represents a cached access token with expiration.
type CachedToken struct {
	ExpiresAt   time.Time
	AccessToken string
}

// IsValid reports whether the token can still be used at now.
func (t *CachedToken) IsValid(now time.Time) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return t.ExpiresAt.After(now.Add(tokenExpiryMargin))
}

// TokenExchanger turns refresh tokens into access tokens and caches them per
// refresh token.
type TokenExchanger struct {
	client       *http.Client
	metrics      *metrics.Metrics
	cache        map[string]CachedToken
	now          func() time.Time
	clientID     string
	clientSecret string
	tokenURL     string
	mu           sync.RWMutex
}

// NewTokenExchanger creates an exchanger using the given OAuth client credentials.
func NewTokenExchanger(client *http.Client, clientID, clientSecret string) *TokenExchanger {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &TokenExchanger{
		client:       client,
		cache:        make(map[string]CachedToken),
		now:          time.Now,
		clientID:     clientID,
		clientSecret: clientSecret,
		tokenURL:     GoogleOAuthURL,
	}
}

// Exchange returns a valid access token for refreshToken, using the cache when possible.
func (e *TokenExchanger) Exchange(ctx context.Context, refreshToken string) (string, error) {
	if refreshToken == "" {
		return "", ErrEmptyRefreshToken
	}

	e.mu.RLock()
	cached, ok := e.cache[refreshToken]
	e.mu.RUnlock()

	if ok && cached.IsValid(e.now()) {
		e.metrics.RecordTokenExchange("cached")
		return cached.AccessToken, nil
	}

	tokenResp, err := RefreshAccessToken(ctx, e.client, e.tokenURL, refreshToken, e.clientID, e.clientSecret)
	if err != nil {
		e.metrics.RecordTokenExchange("error")
		logger.Error("token exchange failed", "error", err)
		return "", err
	}

	expiresIn := tokenResp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}

	e.mu.Lock()
	e.cache[refreshToken] = CachedToken{
		AccessToken: tokenResp.AccessToken,
		ExpiresAt:   e.now().Add(time.Duration(expiresIn) * time.Second),
	}
	e.mu.Unlock()

	e.metrics.RecordTokenExchange("refreshed")
	return tokenResp.AccessToken, nil
}

// CachedTokens returns the number of cached access tokens.
func (e *TokenExchanger) CachedTokens() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

// RefreshAccessToken exchanges a refresh token for a new access token.
func RefreshAccessToken(ctx context.Context, client *http.Client, tokenURL, refreshToken, clientID, clientSecret string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, ErrEmptyRefreshToken
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	data := url.Values{}
	data.Set("client_id", clientID)
	data.Set("client_secret", clientSecret)
	data.Set("refresh_token", refreshToken)
	data.Set("grant_type", "refresh_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Error("failed to close response body", "error", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("token refresh failed (status %d): %s", resp.StatusCode, string(body))
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	return &tokenResp, nil
}
