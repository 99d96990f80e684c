// Package oauth manages the OAuth2 credential of a single account: it loads
// the stored record, refreshes it when expired, runs the interactive
// authorization flow when nothing refreshable exists, and persists the result.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/sumeria/sumeria/internal/apperr"
	"github.com/sumeria/sumeria/internal/credentials"
	"github.com/sumeria/sumeria/internal/instrumentation"
	"github.com/sumeria/sumeria/internal/logging"
)

// State is the lifecycle position of a Handler's credential.
type State int

const (
	StateNoToken State = iota
	StateTokenLoaded
	StateValid
	StateExpired
	StateAuthorizing
)

func (s State) String() string {
	switch s {
	case StateNoToken:
		return "no_token"
	case StateTokenLoaded:
		return "token_loaded"
	case StateValid:
		return "valid"
	case StateExpired:
		return "expired"
	case StateAuthorizing:
		return "authorizing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Config holds the dependencies of a Handler.
type Config struct {
	Service         credentials.Provider
	AccountID       string
	CredentialsFile string
	Scopes          []string
	Store           credentials.Store

	// Authorizer runs interactive authorization. Defaults to a LocalServerAuthorizer.
	Authorizer Authorizer
	// HTTPClient is used to reach the token endpoint.
	HTTPClient *http.Client
	Metrics    *instrumentation.Metrics
	Logger     *slog.Logger
	// Now overrides the clock in tests.
	Now func() time.Time
	// FlightTimeout bounds a shared load, refresh or authorization.
	// Defaults to DefaultFlightTimeout.
	FlightTimeout time.Duration
}

// DefaultFlightTimeout leaves room for a person to finish the consent page.
const DefaultFlightTimeout = 5 * time.Minute

// Handler owns the credential lifecycle for one account of one service.
// It is safe for concurrent use; concurrent Credentials calls share a single
// load, refresh or authorization.
type Handler struct {
	cfg    Config
	logger *slog.Logger
	group  singleflight.Group

	mu    sync.Mutex
	cred  *credentials.Credential
	state State
	// gen is bumped by Revoke so an in-flight acquisition does not
	// resurrect a revoked credential.
	gen uint64
}

// NewHandler validates cfg and returns a Handler. It performs no I/O.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.AccountID == "" {
		return nil, errors.New("oauth: account id is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("oauth: credential store is required")
	}
	if cfg.Authorizer == nil {
		cfg.Authorizer = &LocalServerAuthorizer{HTTPClient: cfg.HTTPClient}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.FlightTimeout <= 0 {
		cfg.FlightTimeout = DefaultFlightTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(logging.Service(string(cfg.Service)), logging.UserHash(cfg.AccountID))

	return &Handler{cfg: cfg, logger: logger}, nil
}

// AccountID returns the account this handler manages.
func (h *Handler) AccountID() string {
	return h.cfg.AccountID
}

// Service returns the provider this handler issues credentials for.
func (h *Handler) Service() credentials.Provider {
	return h.cfg.Service
}

// State returns the current lifecycle state.
func (h *Handler) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Credentials returns a valid credential, loading, refreshing or
// authorizing as needed and persisting any change. Once a valid credential is
// held in memory the call performs no I/O.
func (h *Handler) Credentials(ctx context.Context) (*credentials.Credential, error) {
	if cred := h.cached(); cred != nil {
		return cred, nil
	}

	// The flight outlives any single caller; each caller stops waiting on
	// its own context.
	ch := h.group.DoChan("credentials", func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cfg.FlightTimeout)
		defer cancel()
		return h.acquire(flightCtx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*credentials.Credential).Clone(), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("credentials for %s: %w", h.cfg.AccountID, apperr.FromContext(ctx.Err()))
	}
}

// Token implements the oauth2.TokenSource contract on top of Credentials.
func (h *Handler) Token(ctx context.Context) (*oauth2.Token, error) {
	cred, err := h.Credentials(ctx)
	if err != nil {
		return nil, err
	}
	return cred.Token(), nil
}

// Revoke forgets the in-memory credential and deletes the stored record.
// Revoking an account with nothing stored is not an error.
func (h *Handler) Revoke(ctx context.Context) error {
	h.mu.Lock()
	h.cred = nil
	h.state = StateNoToken
	h.gen++
	h.mu.Unlock()

	if err := h.cfg.Store.Delete(ctx, h.cfg.AccountID); err != nil {
		return fmt.Errorf("revoke credentials for %s: %w", h.cfg.AccountID, err)
	}
	h.logger.Info("revoked credentials")
	return nil
}

// IsAuthenticated reports whether a valid or refreshable credential exists
// in memory or in the store. It never contacts the network and never starts
// interactive authorization.
func (h *Handler) IsAuthenticated(ctx context.Context) bool {
	now := h.cfg.Now()
	h.mu.Lock()
	cred := h.cred
	h.mu.Unlock()
	if cred != nil && (cred.Valid(now) || cred.Refreshable()) {
		return true
	}

	rec, err := h.cfg.Store.Load(ctx, h.cfg.AccountID)
	if err != nil {
		if !errors.Is(err, credentials.ErrNotFound) {
			h.logger.Warn("failed to read stored credential", logging.Err(err))
		}
		return false
	}
	stored := rec.Credential()
	return stored.Valid(now) || stored.Refreshable()
}

// ListAuthenticatedAccounts enumerates the accounts with a stored record.
func ListAuthenticatedAccounts(ctx context.Context, store credentials.Store) ([]string, error) {
	return store.List(ctx)
}

func (h *Handler) cached() *credentials.Credential {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cred.Valid(h.cfg.Now()) {
		return h.cred.Clone()
	}
	return nil
}

func (h *Handler) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

func (h *Handler) acquire(ctx context.Context) (*credentials.Credential, error) {
	h.mu.Lock()
	gen := h.gen
	cred := h.cred
	h.mu.Unlock()

	if cred == nil {
		rec, err := h.cfg.Store.Load(ctx, h.cfg.AccountID)
		switch {
		case errors.Is(err, credentials.ErrNotFound):
			h.setState(StateNoToken)
		case err != nil:
			return nil, fmt.Errorf("load credentials for %s: %w", h.cfg.AccountID, err)
		default:
			cred = rec.Credential()
			if cred.Provider == "" {
				cred.Provider = h.cfg.Service
			}
			h.setState(StateTokenLoaded)
		}
	}

	if cred.Valid(h.cfg.Now()) {
		h.commit(gen, cred)
		return cred, nil
	}

	var (
		next *credentials.Credential
		err  error
	)
	if cred.Refreshable() {
		h.setState(StateExpired)
		next, err = h.refresh(ctx, cred)
	} else {
		h.setState(StateAuthorizing)
		next, err = h.authorize(ctx)
	}
	if err != nil {
		if cred != nil {
			h.setState(StateExpired)
		} else {
			h.setState(StateNoToken)
		}
		return nil, err
	}

	if h.commit(gen, next) {
		h.persist(ctx, next)
	}
	return next, nil
}

// commit stores cred as the current credential unless Revoke ran since gen
// was read.
func (h *Handler) commit(gen uint64, cred *credentials.Credential) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.gen != gen {
		return false
	}
	h.cred = cred
	h.state = StateValid
	return true
}

func (h *Handler) refresh(ctx context.Context, cred *credentials.Credential) (*credentials.Credential, error) {
	conf, err := h.refreshConfig(cred)
	if err != nil {
		return nil, err
	}

	h.logger.Debug("refreshing expired credential")
	start := time.Now()
	tok, err := conf.TokenSource(h.httpContext(ctx), &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		err = classifyTokenError(ctx, "refresh credentials for "+h.cfg.AccountID, err)
		h.cfg.Metrics.RecordOAuthTokenRefresh(ctx, string(h.cfg.Service), refreshResult(err))
		h.logger.Warn("credential refresh failed", logging.Err(err), slog.Duration(logging.KeyDuration, time.Since(start)))
		return nil, err
	}
	h.cfg.Metrics.RecordOAuthTokenRefresh(ctx, string(h.cfg.Service), instrumentation.OAuthResultSuccess)
	h.logger.Info("refreshed credential", logging.Token(tok.AccessToken))

	next := cred.WithToken(tok)
	next.ClientID, next.ClientSecret = conf.ClientID, conf.ClientSecret
	next.TokenURI = conf.Endpoint.TokenURL
	if next.Provider == "" {
		next.Provider = h.cfg.Service
	}
	return next, nil
}

// refreshConfig prefers the client identity stored in the record and falls
// back to the client secrets file.
func (h *Handler) refreshConfig(cred *credentials.Credential) (*oauth2.Config, error) {
	if cred.ClientID != "" {
		tokenURI := cred.TokenURI
		if tokenURI == "" {
			tokenURI = credentials.DefaultTokenURI
		}
		return &oauth2.Config{
			ClientID:     cred.ClientID,
			ClientSecret: cred.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURI, AuthStyle: oauth2.AuthStyleInParams},
			Scopes:       slices.Clone(cred.Scopes),
		}, nil
	}
	return LoadClientConfig(h.cfg.CredentialsFile, h.cfg.Scopes)
}

func (h *Handler) authorize(ctx context.Context) (*credentials.Credential, error) {
	conf, err := LoadClientConfig(h.cfg.CredentialsFile, h.cfg.Scopes)
	if err != nil {
		h.cfg.Metrics.RecordOAuthAuthorization(ctx, string(h.cfg.Service), instrumentation.OAuthResultFailure)
		return nil, fmt.Errorf("authorize %s: %w", h.cfg.AccountID, err)
	}

	h.logger.Info("starting interactive authorization")
	tok, err := h.cfg.Authorizer.Authorize(ctx, conf, h.cfg.AccountID)
	if err != nil {
		h.cfg.Metrics.RecordOAuthAuthorization(ctx, string(h.cfg.Service), instrumentation.OAuthResultFailure)
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, apperr.ErrTimeout) {
			err = errors.Join(apperr.FromContext(ctxErr), err)
		}
		return nil, fmt.Errorf("authorize %s: %w", h.cfg.AccountID, err)
	}
	h.cfg.Metrics.RecordOAuthAuthorization(ctx, string(h.cfg.Service), instrumentation.OAuthResultSuccess)
	h.logger.Info("authorization completed")

	return &credentials.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
		Scopes:       slices.Clone(conf.Scopes),
		Provider:     h.cfg.Service,
		ClientID:     conf.ClientID,
		ClientSecret: conf.ClientSecret,
		TokenURI:     conf.Endpoint.TokenURL,
	}, nil
}

// persist writes cred to the store. A failed write is logged and counted;
// the caller still gets the fresh credential.
func (h *Handler) persist(ctx context.Context, cred *credentials.Credential) {
	rec := credentials.NewRecord(h.cfg.AccountID, cred)
	if err := h.cfg.Store.Save(context.WithoutCancel(ctx), rec); err != nil {
		h.cfg.Metrics.RecordCredentialPersistFailure(ctx, string(h.cfg.Service))
		h.logger.Error("failed to persist credential", logging.Err(err))
	}
}

func (h *Handler) httpContext(ctx context.Context) context.Context {
	if h.cfg.HTTPClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, h.cfg.HTTPClient)
}

func refreshResult(err error) string {
	if errors.Is(err, apperr.ErrAuthorizationDenied) {
		return instrumentation.OAuthResultExpired
	}
	return instrumentation.OAuthResultFailure
}
