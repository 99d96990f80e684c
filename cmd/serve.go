package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/sumeria/sumeria/internal/instrumentation"
	"github.com/sumeria/sumeria/internal/server"
	"github.com/sumeria/sumeria/internal/tools/calendar_tools"
	"github.com/sumeria/sumeria/internal/tools/gmail_tools"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server on stdio",
		Long: `Start the Model Context Protocol (MCP) server on standard input/output.

Tools:
  gmail_list_accounts, gmail_add_account, gmail_remove_account,
  gmail_set_default_account, gmail_search_messages
  calendar_list_accounts, calendar_add_account, calendar_remove_account,
  calendar_set_default_account, calendar_list_events

Adding an account that has no refreshable credential opens the Google consent
page; the URL is also printed to stderr.

Metrics:
  --metrics-addr (or METRICS_ADDR) serves /metrics, /healthz and /readyz.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, metricsAddr)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Address for the Prometheus metrics endpoint (e.g. :9090); disabled when empty")
	return cmd
}

func runServe(ctx context.Context, opts *rootOptions, metricsAddr string) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	logger := newLogger(cfg)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version
	instrConfig.TokenStore = cfg.TokenStore
	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), server.DefaultShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("instrumentation shutdown failed", "error", err)
		}
	}()

	sc, err := server.Build(ctx, cfg, server.BuildOptions{
		Metrics: provider.Metrics(),
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := sc.Shutdown(); err != nil {
			logger.Warn("server context shutdown failed", "error", err)
		}
	}()

	if cfg.MetricsAddr != "" && provider.Enabled() {
		stop, err := startMetricsServer(ctx, cfg.MetricsAddr, provider, sc, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	mcpSrv := mcpserver.NewMCPServer("sumeria", version,
		mcpserver.WithToolCapabilities(true),
	)
	if err := registerAllTools(mcpSrv, sc); err != nil {
		return err
	}

	return runStdioServer(ctx, mcpSrv, logger)
}

func startMetricsServer(ctx context.Context, addr string, provider *instrumentation.Provider, sc *server.ServerContext, logger *slog.Logger) (func(), error) {
	metricsServer, err := server.NewMetricsServer(server.MetricsServerConfig{
		Addr:                    addr,
		InstrumentationProvider: provider,
		ServerContext:           sc,
		Logger:                  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics server: %w", err)
	}
	if err := metricsServer.Listen(); err != nil {
		return nil, err
	}
	go func() {
		if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), server.DefaultShutdownTimeout)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", "error", err)
		}
	}, nil
}

func runStdioServer(ctx context.Context, mcpSrv *mcpserver.MCPServer, logger *slog.Logger) error {
	stdio := mcpserver.NewStdioServer(mcpSrv)
	stdio.SetErrorLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))

	logger.Info("serving MCP on stdio", "version", version)
	err := stdio.Listen(ctx, os.Stdin, os.Stdout)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}

// registerAllTools registers the Gmail and Calendar tools
func registerAllTools(mcpSrv *mcpserver.MCPServer, sc *server.ServerContext) error {
	registrations := []struct {
		name     string
		register func() error
	}{
		{
			name:     "Gmail",
			register: func() error { return gmail_tools.RegisterGmailTools(mcpSrv, sc) },
		},
		{
			name:     "Calendar",
			register: func() error { return calendar_tools.RegisterCalendarTools(mcpSrv, sc) },
		},
	}

	for _, reg := range registrations {
		if err := reg.register(); err != nil {
			return fmt.Errorf("failed to register %s tools: %w", reg.name, err)
		}
	}
	return nil
}
