package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sumeria/sumeria/internal/config"
	"github.com/sumeria/sumeria/internal/logging"
)

// version will be set by main
var version = "dev"

// SetVersion sets the version reported by the CLI
func SetVersion(v string) {
	version = v
}

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	debug      bool
}

// loadConfig reads --config and the environment, then applies --debug.
func (o *rootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// newLogger writes to stderr; stdout carries MCP traffic in serve mode.
func newLogger(cfg config.Config) *slog.Logger {
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	return logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "sumeria",
		Short: "Multi-account Google credential manager and MCP server",
		Long: `sumeria manages OAuth credentials for several Google accounts per service
(Gmail and Google Calendar) and exposes them to AI assistants over MCP.

It can run as:
  - An MCP (Model Context Protocol) server on stdio (serve)
  - An operator CLI for adding, removing and inspecting accounts (accounts)`,
		Version:      version,
		SilenceUsage: true,
	}
	rootCmd.SetVersionTemplate(`{{printf "sumeria version %s\n" .Version}}`)

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a YAML config file (environment variables override it)")
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newAccountsCmd(opts))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute is the main entry point for the CLI application
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
