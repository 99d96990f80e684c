package google

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/sumeria/sumeria/internal/credentials"
)

type staticSource string

func (s staticSource) Token(context.Context) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: string(s), TokenType: "Bearer"}, nil
}

func TestDefaultScopes(t *testing.T) {
	gmail := DefaultScopes(credentials.ProviderGmail)
	assert.Contains(t, gmail, "https://www.googleapis.com/auth/gmail.readonly")
	assert.Contains(t, gmail, "https://www.googleapis.com/auth/gmail.send")
	assert.Contains(t, gmail, "https://www.googleapis.com/auth/gmail.modify")

	assert.Equal(t, []string{"https://www.googleapis.com/auth/calendar"}, DefaultScopes(credentials.ProviderGoogleCalendar))
	assert.Nil(t, DefaultScopes("drive"))

	// Callers get their own copy.
	gmail[0] = "changed"
	assert.Equal(t, "https://www.googleapis.com/auth/gmail.readonly", GmailScopes[0])
}

func TestNewHTTPClient_AuthorizesRequests(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	resp, err := NewHTTPClient(staticSource("abc")).Get(srv.URL)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, "Bearer abc", got)
}

func TestClientOptions(t *testing.T) {
	assert.Len(t, ClientOptions(staticSource("abc"), ""), 1)
	assert.Len(t, ClientOptions(staticSource("abc"), "http://127.0.0.1:1/"), 2)
}
