package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"time"

	"golang.org/x/oauth2"

	"github.com/sumeria/sumeria/internal/apperr"
)

// Authorizer runs the interactive part of the authorization code flow and
// returns the token obtained for account.
type Authorizer interface {
	Authorize(ctx context.Context, conf *oauth2.Config, account string) (*oauth2.Token, error)
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(ctx context.Context, conf *oauth2.Config, account string) (*oauth2.Token, error)

// Authorize calls f.
func (f AuthorizerFunc) Authorize(ctx context.Context, conf *oauth2.Config, account string) (*oauth2.Token, error) {
	return f(ctx, conf, account)
}

// DefaultAuthorizationTimeout bounds how long the loopback server waits for
// the browser redirect when the caller's context has no deadline.
const DefaultAuthorizationTimeout = 5 * time.Minute

// LocalServerAuthorizer completes the installed-app flow with a one-shot HTTP
// server on the loopback interface. The consent URL is printed to Out and
// handed to OpenBrowser.
type LocalServerAuthorizer struct {
	// Host is the loopback address to bind (default 127.0.0.1).
	Host string
	// OpenBrowser opens the consent URL. Failures are reported on Out only.
	OpenBrowser func(url string) error
	// Out receives the consent URL (default os.Stderr, stdout carries MCP traffic).
	Out io.Writer
	// Timeout applies when ctx has no deadline.
	Timeout time.Duration
	// HTTPClient is used for the code exchange.
	HTTPClient *http.Client
}

type callbackResult struct {
	code string
	err  error
}

// Authorize implements Authorizer.
func (a *LocalServerAuthorizer) Authorize(ctx context.Context, conf *oauth2.Config, account string) (*oauth2.Token, error) {
	host := a.Host
	if host == "" {
		host = "127.0.0.1"
	}
	out := a.Out
	if out == nil {
		out = os.Stderr
	}
	open := a.OpenBrowser
	if open == nil {
		open = OpenBrowser
	}
	if _, ok := ctx.Deadline(); !ok {
		timeout := a.Timeout
		if timeout <= 0 {
			timeout = DefaultAuthorizationTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return nil, fmt.Errorf("failed to start authorization callback listener: %w", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port

	state, err := randomState()
	if err != nil {
		_ = listener.Close()
		return nil, err
	}
	verifier := oauth2.GenerateVerifier()

	flowConf := *conf
	flowConf.RedirectURL = fmt.Sprintf("http://%s/", net.JoinHostPort(host, fmt.Sprint(port)))

	results := make(chan callbackResult, 1)
	srv := &http.Server{
		Handler:           callbackHandler(state, results),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() { _ = srv.Serve(listener) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL := flowConf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("login_hint", account),
	)
	_, _ = fmt.Fprintf(out, "Authenticating account: %s\nOpen the following URL in your browser to grant access:\n\n%s\n\n", account, authURL)
	if err := open(authURL); err != nil {
		_, _ = fmt.Fprintf(out, "Could not open a browser automatically: %v\n", err)
	}

	var res callbackResult
	select {
	case res = <-results:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for authorization of %s: %w", account, apperr.FromContext(ctx.Err()))
	}
	if res.err != nil {
		return nil, res.err
	}

	exchangeCtx := ctx
	if a.HTTPClient != nil {
		exchangeCtx = context.WithValue(ctx, oauth2.HTTPClient, a.HTTPClient)
	}
	tok, err := flowConf.Exchange(exchangeCtx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, classifyTokenError(ctx, "exchange authorization code", err)
	}
	return tok, nil
}

// callbackHandler accepts the redirect at "/". Requests without a state
// parameter are not redirects and get a 404 without ending the flow.
func callbackHandler(state string, results chan<- callbackResult) http.Handler {
	send := func(r callbackResult) {
		select {
		case results <- r:
		default:
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/" || q.Get("state") == "" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")

		if q.Get("state") != state {
			send(callbackResult{err: fmt.Errorf("%w: state mismatch in authorization callback", apperr.ErrAuthorizationDenied)})
			writePage(w, http.StatusBadRequest, "Authorization failed", "invalid state parameter")
			return
		}
		if e := q.Get("error"); e != "" {
			desc := q.Get("error_description")
			send(callbackResult{err: fmt.Errorf("%w: %s %s", apperr.ErrAuthorizationDenied, e, desc)})
			writePage(w, http.StatusOK, "Authorization failed", e)
			return
		}
		code := q.Get("code")
		if code == "" {
			send(callbackResult{err: fmt.Errorf("%w: no authorization code received", apperr.ErrAuthorizationDenied)})
			writePage(w, http.StatusBadRequest, "Authorization failed", "no code received")
			return
		}
		send(callbackResult{code: code})
		writePage(w, http.StatusOK, "Authorization successful", "You can close this window and return to the application.")
	})
}

func writePage(w http.ResponseWriter, status int, title, message string) {
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, "<!DOCTYPE html><html><head><title>%s</title></head><body><h1>%s</h1><p>%s</p></body></html>",
		html.EscapeString(title), html.EscapeString(title), html.EscapeString(message))
}

func randomState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// OpenBrowser opens url with the platform's default handler.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return errors.New("unsupported platform: " + runtime.GOOS)
	}
	return cmd.Start()
}
