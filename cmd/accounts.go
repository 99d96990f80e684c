package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/sumeria/sumeria/internal/accounts"
	"github.com/sumeria/sumeria/internal/apperr"
	"github.com/sumeria/sumeria/internal/config"
	"github.com/sumeria/sumeria/internal/server"
)

// accountOps is the service-independent view of one account registry.
type accountOps struct {
	add        func(ctx context.Context, account string) error
	remove     func(ctx context.Context, account string) error
	list       func(ctx context.Context) ([]string, error)
	status     func(ctx context.Context) ([]accounts.AccountStatus, error)
	setDefault func(ctx context.Context, account string) error
}

func opsFor[C any](r *accounts.Registry[C]) accountOps {
	return accountOps{
		add: func(ctx context.Context, account string) error {
			_, err := r.AddAccount(ctx, account)
			return err
		},
		remove:     r.RemoveAccount,
		list:       r.ListAccounts,
		status:     r.Status,
		setDefault: r.SetDefaultAccount,
	}
}

type accountsOptions struct {
	*rootOptions
	service string
}

// withRegistry builds the server context and runs fn against the registry
// of the selected service.
func (o *accountsOptions) withRegistry(ctx context.Context, fn func(ctx context.Context, ops accountOps) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	sc, err := server.Build(ctx, cfg, server.BuildOptions{Logger: newLogger(cfg)})
	if err != nil {
		return err
	}
	defer func() { _ = sc.Shutdown() }()

	switch o.service {
	case "gmail":
		return fn(ctx, opsFor(sc.Gmail()))
	case "calendar":
		return fn(ctx, opsFor(sc.Calendar()))
	}
	return fmt.Errorf("unknown service %q (supported: gmail, calendar)", o.service)
}

func newAccountsCmd(root *rootOptions) *cobra.Command {
	opts := &accountsOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage the Google accounts of a service",
		Long: `Add, remove and inspect the accounts sumeria holds credentials for.

Examples:
  # Authorize a Gmail account (opens the Google consent page)
  sumeria accounts add alice@example.com

  # Show every Calendar account and whether its credential is usable
  sumeria accounts status --service calendar

  # Make an account the default in the config file
  sumeria --config ~/.config/sumeria.yaml accounts set-default alice@example.com`,
	}
	cmd.PersistentFlags().StringVar(&opts.service, "service", "gmail", "Service to manage: gmail or calendar")

	cmd.AddCommand(&cobra.Command{
		Use:   "add <account>",
		Short: "Authorize an account and store its credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRegistry(cmd.Context(), func(ctx context.Context, ops accountOps) error {
				if err := ops.add(ctx, args[0]); err != nil {
					return err
				}
				cmd.Printf("Account %s added to %s.\n", args[0], opts.service)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <account>",
		Short: "Delete the stored credential of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRegistry(cmd.Context(), func(ctx context.Context, ops accountOps) error {
				if err := ops.remove(ctx, args[0]); err != nil {
					return err
				}
				cmd.Printf("Account %s removed from %s.\n", args[0], opts.service)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the accounts with a stored credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRegistry(cmd.Context(), func(ctx context.Context, ops accountOps) error {
				list, err := ops.list(ctx)
				if err != nil {
					return err
				}
				for _, account := range list {
					cmd.Println(account)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show each account, the default and whether its credential is usable",
		Long: `Show each stored account, whether it is the default and whether its
credential is usable. Expired credentials with a refresh token count as
usable; nothing is refreshed and the network is not contacted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRegistry(cmd.Context(), func(ctx context.Context, ops accountOps) error {
				statuses, err := ops.status(ctx)
				if err != nil {
					return err
				}
				return writeStatus(cmd.OutOrStdout(), statuses)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set-default <account>",
		Short: "Record an account as the default in the config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.configPath == "" {
				return errors.New("set-default needs --config to store the default account")
			}
			err := opts.withRegistry(cmd.Context(), func(ctx context.Context, ops accountOps) error {
				return ops.setDefault(ctx, args[0])
			})
			if err != nil {
				if errors.Is(err, apperr.ErrAccountNotFound) {
					return fmt.Errorf("%w: run 'sumeria accounts add %s --service %s' first", err, args[0], opts.service)
				}
				return err
			}
			if err := config.SetDefaultAccount(opts.configPath, opts.service, args[0]); err != nil {
				return err
			}
			cmd.Printf("Default %s account set to %s.\n", opts.service, args[0])
			return nil
		},
	})

	return cmd
}

func writeStatus(w io.Writer, statuses []accounts.AccountStatus) error {
	if len(statuses) == 0 {
		_, err := fmt.Fprintln(w, "No accounts.")
		return err
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Account", "Default", "Authenticated"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetRowLine(false)

	for _, s := range statuses {
		table.Append([]string{s.Account, yesNo(s.Default), yesNo(s.Authenticated)})
	}
	table.Render()
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
