package subagent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"
)

func TestExchangeCodeCachesTokenToDisk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at1","refresh_token":"rt1","expires_in":3600}`))
	}))
	defer server.Close()

	tokenPath := filepath.Join(t.TempDir(), "token.json")
	client := NewOAuthClient(OAuthConfig{ClientID: "id", TokenURL: server.URL, TokenPath: tokenPath})

	tok, err := client.ExchangeCode(context.Background(), "code", "verifier")
	if err != nil {
		t.Fatalf("ExchangeCode failed: %v", err)
	}
	if tok.AccessToken != "at1" {
		t.Fatalf("unexpected access token: %s", tok.AccessToken)
	}

	reloaded := NewOAuthClient(OAuthConfig{ClientID: "id", TokenURL: server.URL, TokenPath: tokenPath})
	cached, err := reloaded.ValidToken(context.Background())
	if err != nil {
		t.Fatalf("ValidToken on reloaded client failed: %v", err)
	}
	if cached.AccessToken != "at1" {
		t.Fatalf("expected cached token reloaded from disk, got %s", cached.AccessToken)
	}
}

func TestValidTokenRefreshesWhenExpired(t *testing.T) {
	var refreshCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshCalls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at2","refresh_token":"rt2","expires_in":3600}`))
	}))
	defer server.Close()

	client := NewOAuthClient(OAuthConfig{ClientID: "id", TokenURL: server.URL})
	client.token = &Token{AccessToken: "stale", RefreshToken: "rt-old", ExpiresAt: time.Now().Add(-time.Hour)}

	tok, err := client.ValidToken(context.Background())
	if err != nil {
		t.Fatalf("ValidToken failed: %v", err)
	}
	if tok.AccessToken != "at2" {
		t.Fatalf("expected refreshed token, got %s", tok.AccessToken)
	}
	if refreshCalls != 1 {
		t.Fatalf("expected exactly one refresh call, got %d", refreshCalls)
	}
}

func TestValidTokenFailsWithoutCachedToken(t *testing.T) {
	client := NewOAuthClient(OAuthConfig{ClientID: "id"})
	if _, err := client.ValidToken(context.Background()); err == nil {
		t.Fatal("expected error when no token is cached and no interactive re-auth has happened")
	}
}
