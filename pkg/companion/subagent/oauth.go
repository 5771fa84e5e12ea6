// Package subagent implements the Sub-Agent Layer: a long-lived OAuth2
// connection to an external task service, exposed through a synchronous
// ask(instruction) -> text call (spec §4.6). The OAuth2 code-grant flow is
// hand-rolled rather than pulled from golang.org/x/oauth2, grounded on the
// teacher's own provider implementation
// (pkg/devclaw/oauth/providers/google.go), which takes the same approach.
package subagent

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Token is the cached credential, persisted as JSON under a user-config
// path (spec §6 "Token lifecycle").
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (t *Token) expired() bool {
	return time.Now().After(t.ExpiresAt.Add(-5 * time.Minute))
}

// OAuthConfig holds the provider's client credentials and endpoints.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	Scopes       []string
	RedirectPort int
	TokenPath    string // on-disk cache path
}

// OAuthClient implements the authorization-code-grant-with-PKCE flow via a
// local loopback redirect, plus disk-cached token refresh.
type OAuthClient struct {
	cfg        OAuthConfig
	httpClient *http.Client

	mu    sync.Mutex
	token *Token
}

// NewOAuthClient constructs a client and loads any cached token from disk.
func NewOAuthClient(cfg OAuthConfig) *OAuthClient {
	c := &OAuthClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	c.token, _ = loadToken(cfg.TokenPath)
	return c
}

func (c *OAuthClient) redirectURI() string {
	return fmt.Sprintf("http://localhost:%d/oauth/callback", c.cfg.RedirectPort)
}

// AuthURL builds the interactive consent URL for the code-grant fallback.
func (c *OAuthClient) AuthURL(state, codeChallenge string) string {
	params := url.Values{
		"client_id":             {c.cfg.ClientID},
		"response_type":         {"code"},
		"redirect_uri":          {c.redirectURI()},
		"scope":                 {strings.Join(c.cfg.Scopes, " ")},
		"code_challenge":        {codeChallenge},
		"code_challenge_method": {"S256"},
		"state":                 {state},
		"access_type":           {"offline"},
	}
	return c.cfg.AuthURL + "?" + params.Encode()
}

// NewPKCEVerifier generates a PKCE code verifier/challenge pair.
func NewPKCEVerifier() (verifier, challenge string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generate PKCE verifier: %w", err)
	}
	verifier = base64.RawURLEncoding.EncodeToString(raw)
	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge, nil
}

// ExchangeCode exchanges an authorization code (captured from the
// loopback callback) for a token, and caches it to disk.
func (c *OAuthClient) ExchangeCode(ctx context.Context, code, verifier string) (*Token, error) {
	data := url.Values{
		"client_id":     {c.cfg.ClientID},
		"code":          {code},
		"code_verifier": {verifier},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {c.redirectURI()},
	}
	if c.cfg.ClientSecret != "" {
		data.Set("client_secret", c.cfg.ClientSecret)
	}
	tok, err := c.doTokenRequest(ctx, data)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()
	_ = saveToken(c.cfg.TokenPath, tok)
	return tok, nil
}

func (c *OAuthClient) refresh(ctx context.Context, refreshToken string) (*Token, error) {
	data := url.Values{
		"client_id":     {c.cfg.ClientID},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}
	if c.cfg.ClientSecret != "" {
		data.Set("client_secret", c.cfg.ClientSecret)
	}
	tok, err := c.doTokenRequest(ctx, data)
	if err != nil {
		return nil, err
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken // providers often omit it on refresh
	}
	return tok, nil
}

func (c *OAuthClient) doTokenRequest(ctx context.Context, data url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var wire struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("parse token response: %w", err)
	}

	return &Token{
		AccessToken:  wire.AccessToken,
		RefreshToken: wire.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(wire.ExpiresIn) * time.Second),
	}, nil
}

// ValidToken returns a usable access token, refreshing it first if it is
// within 5 minutes of expiry, or has already expired.
func (c *OAuthClient) ValidToken(ctx context.Context) (*Token, error) {
	c.mu.Lock()
	tok := c.token
	c.mu.Unlock()

	if tok == nil {
		return nil, fmt.Errorf("no cached token; interactive re-auth required")
	}
	if !tok.expired() {
		return tok, nil
	}

	refreshed, err := c.refresh(ctx, tok.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	c.mu.Lock()
	c.token = refreshed
	c.mu.Unlock()
	_ = saveToken(c.cfg.TokenPath, refreshed)
	return refreshed, nil
}

// InvalidateCached drops the in-memory token so the next ValidToken call
// is forced to refresh; used after a 401 response.
func (c *OAuthClient) InvalidateCached() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != nil {
		c.token.ExpiresAt = time.Time{}
	}
}

func loadToken(path string) (*Token, error) {
	if path == "" {
		return nil, fmt.Errorf("no token path configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

func saveToken(path string, tok *Token) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
