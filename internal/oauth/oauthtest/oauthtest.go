// Package oauthtest provides a fake Google token endpoint and client secrets
// files for tests.
package oauthtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TokenServer is an httptest token endpoint that answers the refresh_token and
// authorization_code grants.
type TokenServer struct {
	*httptest.Server

	refreshes atomic.Int64
	exchanges atomic.Int64

	mu           sync.Mutex
	status       int
	delay        time.Duration
	lastVerifier string
	lastRedirect string
}

// NewTokenServer starts a TokenServer that is closed when t finishes.
func NewTokenServer(t testing.TB) *TokenServer {
	t.Helper()
	ts := &TokenServer{status: http.StatusOK}
	ts.Server = httptest.NewServer(http.HandlerFunc(ts.serve))
	t.Cleanup(ts.Close)
	return ts
}

// TokenURL is the URL to put in client secrets and records.
func (ts *TokenServer) TokenURL() string {
	return ts.URL + "/token"
}

// FailWith makes every following request answer status. 0 restores success.
func (ts *TokenServer) FailWith(status int) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	ts.status = status
}

// Delay makes every following request wait d before answering.
func (ts *TokenServer) Delay(d time.Duration) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.delay = d
}

// Refreshes returns the number of refresh_token grants received.
func (ts *TokenServer) Refreshes() int { return int(ts.refreshes.Load()) }

// Exchanges returns the number of authorization_code grants received.
func (ts *TokenServer) Exchanges() int { return int(ts.exchanges.Load()) }

// Requests returns the total number of grants received.
func (ts *TokenServer) Requests() int { return ts.Refreshes() + ts.Exchanges() }

// LastVerifier returns the code_verifier of the last code exchange.
func (ts *TokenServer) LastVerifier() string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.lastVerifier
}

// LastRedirect returns the redirect_uri of the last code exchange.
func (ts *TokenServer) LastRedirect() string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.lastRedirect
}

func (ts *TokenServer) serve(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ts.mu.Lock()
	status, delay := ts.status, ts.delay
	ts.mu.Unlock()

	var access, refresh string
	switch r.PostForm.Get("grant_type") {
	case "refresh_token":
		n := ts.refreshes.Add(1)
		access = fmt.Sprintf("refreshed-access-%d", n)
	case "authorization_code":
		n := ts.exchanges.Add(1)
		ts.mu.Lock()
		ts.lastVerifier = r.PostForm.Get("code_verifier")
		ts.lastRedirect = r.PostForm.Get("redirect_uri")
		ts.mu.Unlock()
		access = fmt.Sprintf("exchanged-access-%d", n)
		refresh = "exchanged-refresh-" + r.PostForm.Get("code")
	default:
		status = http.StatusBadRequest
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_grant",
			"error_description": http.StatusText(status),
		})
		return
	}
	body := map[string]any{
		"access_token": access,
		"token_type":   "Bearer",
		"expires_in":   3600,
	}
	if refresh != "" {
		body["refresh_token"] = refresh
	}
	_ = json.NewEncoder(w).Encode(body)
}

// WriteClientSecrets writes an "installed" client secrets file pointing at
// tokenURL into dir and returns its path.
func WriteClientSecrets(t testing.TB, dir, tokenURL string) string {
	t.Helper()
	secrets := map[string]any{
		"installed": map[string]any{
			"client_id":     "test-client.apps.googleusercontent.com",
			"client_secret": "test-secret",
			"auth_uri":      "https://accounts.google.com/o/oauth2/auth",
			"token_uri":     tokenURL,
			"redirect_uris": []string{"http://localhost"},
		},
	}
	data, err := json.Marshal(secrets)
	if err != nil {
		t.Fatalf("marshal client secrets: %v", err)
	}
	path := filepath.Join(dir, "client_secret.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write client secrets: %v", err)
	}
	return path
}
