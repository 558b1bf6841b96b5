package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"eat/internal/app"
	"eat/internal/domain"
)

type trustEntry struct {
	KeyID   string `json:"keyId"`
	Source  string `json:"source"`
	AddedAt string `json:"addedAt,omitempty"`
}

func newTrustCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trust",
		Short: "Manage the local trust store of catalog signing keys",
	}
	cmd.AddCommand(newTrustAddCmd(opts), newTrustListCmd(opts), newTrustRemoveCmd(opts))
	return cmd
}

func newTrustAddCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <kid> <pem-file>",
		Short: "Trust a PEM public key under a key id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, opts, func(_ context.Context, application *app.Application) error {
				store, err := application.TrustStore()
				if err != nil {
					return err
				}
				pem, err := os.ReadFile(args[1])
				if err != nil {
					return domain.E(domain.CodeConfiguration, "cli.trust_add", "", fmt.Errorf("read key: %w", err))
				}
				if err := store.Put(args[0], string(pem)); err != nil {
					return domain.E(domain.CodeConfiguration, "cli.trust_add", "", err)
				}
				_, err = fmt.Fprintf(cmd.ErrOrStderr(), "trusted %s\n", args[0])
				return err
			})
		},
	}
}

func newTrustListCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pinned and stored keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApplication(cmd, opts, func(_ context.Context, application *app.Application) error {
				entries := make([]trustEntry, 0)
				for _, entry := range application.PinnedKeys() {
					entries = append(entries, trustEntry{KeyID: entry.KeyID, Source: "config"})
				}
				if store, err := application.TrustStore(); err == nil {
					stored, err := store.List()
					if err != nil {
						return err
					}
					for _, entry := range stored {
						entries = append(entries, trustEntry{KeyID: entry.KeyID, Source: store.Path(), AddedAt: entry.AddedAt})
					}
				}
				return render(cmd.OutOrStdout(), opts, entries, func(w io.Writer) error {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "KID\tSOURCE\tADDED")
					for _, entry := range entries {
						added := entry.AddedAt
						if added == "" {
							added = "-"
						}
						fmt.Fprintf(tw, "%s\t%s\t%s\n", entry.KeyID, entry.Source, added)
					}
					return tw.Flush()
				})
			})
		},
	}
}

func newTrustRemoveCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <kid>",
		Short: "Remove a stored key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, opts, func(_ context.Context, application *app.Application) error {
				store, err := application.TrustStore()
				if err != nil {
					return err
				}
				existed, err := store.Delete(args[0])
				if err != nil {
					return domain.E(domain.CodeConfiguration, "cli.trust_remove", "", err)
				}
				if !existed {
					return domain.ConfigurationError("cli.trust_remove", fmt.Sprintf("key %q is not in the trust store", args[0]))
				}
				_, err = fmt.Fprintf(cmd.ErrOrStderr(), "removed %s\n", args[0])
				return err
			})
		},
	}
}
