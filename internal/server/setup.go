package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"gorm.io/gorm"

	"github.com/sumeria/sumeria/internal/accounts"
	"github.com/sumeria/sumeria/internal/apperr"
	"github.com/sumeria/sumeria/internal/calendar"
	"github.com/sumeria/sumeria/internal/config"
	"github.com/sumeria/sumeria/internal/credentials"
	"github.com/sumeria/sumeria/internal/gmail"
	"github.com/sumeria/sumeria/internal/instrumentation"
	"github.com/sumeria/sumeria/internal/oauth"
	"github.com/sumeria/sumeria/internal/retry"
)

// BuildOptions holds the process-level dependencies passed to Build.
type BuildOptions struct {
	Metrics *instrumentation.Metrics
	Logger  *slog.Logger

	// Authorizer overrides the loopback browser flow.
	Authorizer oauth.Authorizer
	// HTTPClient is used to reach the OAuth token endpoint.
	HTTPClient *http.Client

	// GmailEndpoint and CalendarEndpoint override the API base URLs.
	GmailEndpoint    string
	CalendarEndpoint string
}

// Build wires the token stores, credential handlers, retry invokers and
// account registries described by cfg. It performs no network I/O.
func Build(ctx context.Context, cfg config.Config, opts BuildOptions) (*ServerContext, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var closers []func() error
	var db *gorm.DB
	if cfg.TokenStore == config.StoreSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.TokenStorePath), 0o700); err != nil {
			return nil, fmt.Errorf("%w: create token database directory: %w", apperr.ErrFileSystem, err)
		}
		var err error
		db, err = credentials.OpenSQLite(cfg.TokenStorePath)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("%w: token database handle: %w", apperr.ErrFileSystem, err)
		}
		closers = append(closers, sqlDB.Close)
	}
	storeFor := func(svc config.ServiceConfig, provider credentials.Provider) credentials.Store {
		if db != nil {
			return credentials.NewSQLStore(db, string(provider))
		}
		return credentials.NewFileStore(svc.TokensDir)
	}

	invoker := func(service string, rl retry.RateLimit) *retry.Invoker {
		return retry.NewInvoker(service,
			retry.WithPolicy(cfg.Retry.Policy()),
			retry.WithRateLimit(retry.NewLimiter(rl)),
			retry.WithMetrics(opts.Metrics),
			retry.WithLogger(logger),
		)
	}
	handlerConfig := func(svc config.ServiceConfig, provider credentials.Provider, store credentials.Store) oauth.Config {
		return oauth.Config{
			Service:         provider,
			CredentialsFile: svc.CredentialsFile,
			Scopes:          svc.Scopes,
			Store:           store,
			Authorizer:      opts.Authorizer,
			HTTPClient:      opts.HTTPClient,
			Metrics:         opts.Metrics,
			Logger:          logger,
		}
	}

	gmailStore := storeFor(cfg.Gmail, credentials.ProviderGmail)
	gmailRegistry, err := accounts.NewRegistry(accounts.Config[*gmail.Client]{
		Service:    credentials.ProviderGmail,
		Store:      gmailStore,
		NewHandler: accounts.Handlers(handlerConfig(cfg.Gmail, credentials.ProviderGmail, gmailStore)),
		NewClient: gmail.Factory(gmail.Options{
			Invoker:  invoker(instrumentation.ServiceGmail, cfg.Gmail.RateLimit),
			Endpoint: opts.GmailEndpoint,
		}),
		DefaultAccount: cfg.Gmail.DefaultAccount,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	calendarStore := storeFor(cfg.Calendar, credentials.ProviderGoogleCalendar)
	calendarRegistry, err := accounts.NewRegistry(accounts.Config[*calendar.Client]{
		Service:    credentials.ProviderGoogleCalendar,
		Store:      calendarStore,
		NewHandler: accounts.Handlers(handlerConfig(cfg.Calendar, credentials.ProviderGoogleCalendar, calendarStore)),
		NewClient: calendar.Factory(calendar.Options{
			Invoker:  invoker(instrumentation.ServiceCalendar, cfg.Calendar.RateLimit),
			Endpoint: opts.CalendarEndpoint,
		}),
		DefaultAccount:      cfg.Calendar.DefaultAccount,
		DefaultToFirstAdded: true,
		Logger:              logger,
	})
	if err != nil {
		return nil, err
	}

	return NewServerContext(ctx, Options{
		Gmail:    gmailRegistry,
		Calendar: calendarRegistry,
		Metrics:  opts.Metrics,
		Logger:   logger,
		Closers:  closers,
	})
}
