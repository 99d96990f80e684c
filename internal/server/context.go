package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/sumeria/sumeria/internal/accounts"
	"github.com/sumeria/sumeria/internal/calendar"
	"github.com/sumeria/sumeria/internal/gmail"
	"github.com/sumeria/sumeria/internal/instrumentation"
)

// GmailRegistry is the account registry of Gmail clients.
type GmailRegistry = accounts.Registry[*gmail.Client]

// CalendarRegistry is the account registry of Calendar clients.
type CalendarRegistry = accounts.Registry[*calendar.Client]

// Options holds the dependencies of a ServerContext.
type Options struct {
	Gmail    *GmailRegistry
	Calendar *CalendarRegistry
	Metrics  *instrumentation.Metrics
	Logger   *slog.Logger

	// Closers run on Shutdown in order, e.g. the token database.
	Closers []func() error
}

// ServerContext holds the account registries shared by tools and commands.
type ServerContext struct {
	ctx      context.Context
	cancel   context.CancelFunc
	gmail    *GmailRegistry
	calendar *CalendarRegistry
	logger   *slog.Logger
	closers  []func() error

	mu       sync.RWMutex
	metrics  *instrumentation.Metrics
	shutdown bool
}

// NewServerContext creates a new server context
func NewServerContext(ctx context.Context, opts Options) (*ServerContext, error) {
	if opts.Gmail == nil || opts.Calendar == nil {
		return nil, errors.New("server: gmail and calendar registries are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	shutdownCtx, cancel := context.WithCancel(ctx)
	return &ServerContext{
		ctx:      shutdownCtx,
		cancel:   cancel,
		gmail:    opts.Gmail,
		calendar: opts.Calendar,
		logger:   logger,
		closers:  opts.Closers,
		metrics:  opts.Metrics,
	}, nil
}

// Context returns the server context
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Gmail returns the Gmail account registry.
func (sc *ServerContext) Gmail() *GmailRegistry {
	return sc.gmail
}

// Calendar returns the Calendar account registry.
func (sc *ServerContext) Calendar() *CalendarRegistry {
	return sc.calendar
}

// Logger returns the server logger.
func (sc *ServerContext) Logger() *slog.Logger {
	return sc.logger
}

// Metrics returns the tool metrics recorder, or nil when disabled.
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.metrics
}

// SetMetrics sets the metrics recorder used by instrumented tools.
func (sc *ServerContext) SetMetrics(m *instrumentation.Metrics) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.metrics = m
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown cancels the server context and runs the closers. It is safe to
// call more than once.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	if sc.shutdown {
		sc.mu.Unlock()
		return nil
	}
	sc.shutdown = true
	closers := sc.closers
	sc.mu.Unlock()

	sc.cancel()
	var errs []error
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
