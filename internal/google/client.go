package google

import (
	"context"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

// TokenSource issues access tokens for one account. *oauth.Handler implements it.
type TokenSource interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// AccountTokenSource is a TokenSource bound to one account.
type AccountTokenSource interface {
	TokenSource
	AccountID() string
}

// tokenSource adapts a TokenSource to oauth2.TokenSource, which has no context.
// Provider clients obtain credentials with the caller's context before each
// request, so this path normally hits the handler's in-memory credential.
type tokenSource struct {
	src TokenSource
}

func (t tokenSource) Token() (*oauth2.Token, error) {
	return t.src.Token(context.Background())
}

// NewHTTPClient returns an HTTP client that authorizes requests with src.
// Requests are forced onto HTTP/1.1.
func NewHTTPClient(src TokenSource) *http.Client {
	base := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     false,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: &oauth2.Transport{Source: tokenSource{src: src}, Base: base},
	}
}

// ClientOptions returns the options for constructing a Google API service
// authorized by src. A non-empty endpoint overrides the service base URL.
func ClientOptions(src TokenSource, endpoint string) []option.ClientOption {
	opts := []option.ClientOption{option.WithHTTPClient(NewHTTPClient(src))}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	return opts
}
