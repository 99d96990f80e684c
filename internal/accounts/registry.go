// Package accounts keeps one provider client per account and tracks the
// default account of a service.
//
// A Registry is built once per service in cmd and handed to the MCP tools and
// the accounts CLI; there is no package-level state.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/sumeria/sumeria/internal/apperr"
	"github.com/sumeria/sumeria/internal/credentials"
	"github.com/sumeria/sumeria/internal/logging"
	"github.com/sumeria/sumeria/internal/oauth"
)

// HandlerFactory builds the credential handler of an account. It must not
// perform I/O.
type HandlerFactory func(account string) (*oauth.Handler, error)

// ClientFactory builds a provider client around a handler. It must not
// perform I/O; the provider service is created on first use.
type ClientFactory[C any] func(h *oauth.Handler) (C, error)

// Handlers returns a HandlerFactory that copies base and sets the account.
func Handlers(base oauth.Config) HandlerFactory {
	return func(account string) (*oauth.Handler, error) {
		cfg := base
		cfg.AccountID = account
		return oauth.NewHandler(cfg)
	}
}

// Config holds the dependencies of a Registry.
type Config[C any] struct {
	Service    credentials.Provider
	Store      credentials.Store
	NewHandler HandlerFactory
	NewClient  ClientFactory[C]

	// DefaultAccount is the configured default, if any.
	DefaultAccount string
	// DefaultToFirstAdded makes the first successfully added account the
	// default when none is set.
	DefaultToFirstAdded bool

	Logger *slog.Logger
}

type entry[C any] struct {
	client  C
	handler *oauth.Handler
}

// Registry caches one client per account. Entries live until RemoveAccount.
type Registry[C any] struct {
	cfg    Config[C]
	logger *slog.Logger
	group  singleflight.Group

	mu             sync.Mutex
	entries        map[string]*entry[C]
	defaultAccount string
}

// NewRegistry validates cfg and returns an empty Registry.
func NewRegistry[C any](cfg Config[C]) (*Registry[C], error) {
	if cfg.Store == nil {
		return nil, errors.New("accounts: credential store is required")
	}
	if cfg.NewHandler == nil || cfg.NewClient == nil {
		return nil, errors.New("accounts: handler and client factories are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry[C]{
		cfg:            cfg,
		logger:         logging.WithService(logger, string(cfg.Service)),
		entries:        make(map[string]*entry[C]),
		defaultAccount: cfg.DefaultAccount,
	}, nil
}

// Service returns the provider this registry serves.
func (r *Registry[C]) Service() credentials.Provider {
	return r.cfg.Service
}

// Client returns the cached client for account, constructing it on first
// use. An empty account selects the default account.
func (r *Registry[C]) Client(ctx context.Context, account string) (C, error) {
	var zero C
	account, err := r.resolve(account)
	if err != nil {
		return zero, err
	}
	if err := ctx.Err(); err != nil {
		return zero, apperr.FromContext(err)
	}
	e, err := r.entry(account)
	if err != nil {
		return zero, err
	}
	return e.client, nil
}

// AddAccount creates or reuses the client of account and drives its
// credential to the valid state, authorizing interactively if required.
// Concurrent calls for the same account share one attempt.
func (r *Registry[C]) AddAccount(ctx context.Context, account string) (C, error) {
	var zero C
	if account == "" {
		return zero, errors.New("account id is required")
	}

	ch := r.group.DoChan(account, func() (any, error) {
		e, err := r.entry(account)
		if err != nil {
			return nil, err
		}
		if _, err := e.handler.Credentials(ctx); err != nil {
			return nil, fmt.Errorf("add account %s: %w", account, err)
		}
		return e, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return zero, fmt.Errorf("add account %s: %w", account, apperr.FromContext(ctx.Err()))
	}
	if res.Err != nil {
		r.logger.Warn("failed to add account", logging.UserHash(account), logging.ErrorKind(apperr.Kind(res.Err)), logging.Err(res.Err))
		return zero, res.Err
	}

	r.mu.Lock()
	if r.cfg.DefaultToFirstAdded && r.defaultAccount == "" {
		r.defaultAccount = account
		r.logger.Info("default account set to first added account", logging.UserHash(account))
	}
	r.mu.Unlock()

	r.logger.Info("account added", logging.UserHash(account))
	return res.Val.(*entry[C]).client, nil
}

// RemoveAccount revokes the credential of account and evicts its client.
// Removing an unknown account is a no-op. If account was the default, the
// default is cleared.
func (r *Registry[C]) RemoveAccount(ctx context.Context, account string) error {
	if account == "" {
		return errors.New("account id is required")
	}

	r.mu.Lock()
	e := r.entries[account]
	delete(r.entries, account)
	if r.defaultAccount == account {
		r.defaultAccount = ""
	}
	r.mu.Unlock()

	h, err := r.handlerFor(e, account)
	if err != nil {
		return err
	}
	if err := h.Revoke(ctx); err != nil {
		return fmt.Errorf("remove account %s: %w", account, err)
	}
	r.logger.Info("account removed", logging.UserHash(account))
	return nil
}

// ListAccounts returns the accounts with a stored credential, sorted.
// It reflects the store, not the in-memory cache.
func (r *Registry[C]) ListAccounts(ctx context.Context) ([]string, error) {
	accounts, err := oauth.ListAuthenticatedAccounts(ctx, r.cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("list %s accounts: %w", r.cfg.Service, err)
	}
	return accounts, nil
}

// SetDefaultAccount makes account the default. The account must be listed.
func (r *Registry[C]) SetDefaultAccount(ctx context.Context, account string) error {
	accounts, err := r.ListAccounts(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(accounts, account) {
		return fmt.Errorf("set default account %q: %w", account, apperr.ErrAccountNotFound)
	}

	r.mu.Lock()
	r.defaultAccount = account
	r.mu.Unlock()

	r.logger.Info("default account changed", logging.UserHash(account))
	return nil
}

// DefaultAccount returns the default account or "" if none is set.
func (r *Registry[C]) DefaultAccount() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defaultAccount
}

// AccountStatus describes one stored account.
type AccountStatus struct {
	Account       string `json:"account"`
	Default       bool   `json:"default"`
	Authenticated bool   `json:"authenticated"`
}

// Status reports every stored account with its authentication state. It
// never contacts the network.
func (r *Registry[C]) Status(ctx context.Context) ([]AccountStatus, error) {
	accounts, err := r.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	def := r.DefaultAccount()

	statuses := make([]AccountStatus, 0, len(accounts))
	for _, account := range accounts {
		r.mu.Lock()
		e := r.entries[account]
		r.mu.Unlock()

		h, err := r.handlerFor(e, account)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, AccountStatus{
			Account:       account,
			Default:       account == def,
			Authenticated: h.IsAuthenticated(ctx),
		})
	}
	return statuses, nil
}

func (r *Registry[C]) resolve(account string) (string, error) {
	if account != "" {
		return account, nil
	}
	if def := r.DefaultAccount(); def != "" {
		return def, nil
	}
	return "", fmt.Errorf("%s: %w", r.cfg.Service, apperr.ErrNoDefaultAccount)
}

// entry returns the cached entry for account or constructs one. Construction
// happens under the lock so concurrent first use yields a single entry.
func (r *Registry[C]) entry(account string) (*entry[C], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[account]; ok {
		return e, nil
	}

	h, err := r.cfg.NewHandler(account)
	if err != nil {
		return nil, fmt.Errorf("create credential handler for %s: %w", account, err)
	}
	client, err := r.cfg.NewClient(h)
	if err != nil {
		return nil, fmt.Errorf("create %s client for %s: %w", r.cfg.Service, account, err)
	}
	e := &entry[C]{client: client, handler: h}
	r.entries[account] = e
	r.logger.Debug("created client", logging.UserHash(account))
	return e, nil
}

// handlerFor returns the cached handler or a transient one for accounts that
// are not cached.
func (r *Registry[C]) handlerFor(e *entry[C], account string) (*oauth.Handler, error) {
	if e != nil {
		return e.handler, nil
	}
	h, err := r.cfg.NewHandler(account)
	if err != nil {
		return nil, fmt.Errorf("create credential handler for %s: %w", account, err)
	}
	return h, nil
}
