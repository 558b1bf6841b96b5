package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"eat/internal/app"
	"eat/internal/app/catalog"
	"eat/internal/domain"
)

type verifySummary struct {
	Origin            string `json:"origin"`
	Encoding          string `json:"encoding"`
	SignatureVerified bool   `json:"signatureVerified"`
	ETag              string `json:"etag"`
	Tools             int    `json:"tools"`
}

func newVerifyCmd(opts *cliOptions) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "verify <origin>",
		Short: "Fetch a catalog and verify its signature and spec digests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, opts, func(ctx context.Context, application *app.Application) error {
				cat, err := fetchCatalog(ctx, application, args[0])
				if err != nil {
					if quiet {
						return exitSilent(exitCodeFor(err))
					}
					return err
				}
				if quiet {
					return nil
				}
				tools, err := cat.Tools()
				if err != nil {
					return err
				}
				encoding, _ := cat.Encoding()
				summary := verifySummary{
					Origin:            cat.Origin(),
					Encoding:          string(encoding),
					SignatureVerified: application.VerifiesSignatures() && encoding == domain.EncodingJWS,
					ETag:              cat.ETag(),
					Tools:             len(tools),
				}
				return render(cmd.OutOrStdout(), opts, summary, func(w io.Writer) error {
					state := "verified"
					if !summary.SignatureVerified {
						state = "UNVERIFIED signature"
					}
					_, err := fmt.Fprintf(w, "%s: %s, %d tools, encoding=%s etag=%s\n",
						summary.Origin, state, summary.Tools, summary.Encoding, summary.ETag)
					return err
				})
			})
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print nothing; report the result through the exit code")
	return cmd
}

type toolsOptions struct {
	capability          string
	descriptionContains string
	hasExamples         bool
}

func newToolsCmd(opts *cliOptions) *cobra.Command {
	toolsOpts := toolsOptions{}
	cmd := &cobra.Command{
		Use:   "tools <origin>",
		Short: "List catalog tools, optionally filtered",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filters := map[string]any{}
			if cmd.Flags().Changed("description-contains") {
				filters[catalog.FilterDescriptionContains] = toolsOpts.descriptionContains
			}
			if cmd.Flags().Changed("has-examples") {
				filters[catalog.FilterHasExamples] = toolsOpts.hasExamples
			}
			return withApplication(cmd, opts, func(ctx context.Context, application *app.Application) error {
				cat, err := fetchCatalog(ctx, application, args[0])
				if err != nil {
					return err
				}
				found, err := cat.Find(toolsOpts.capability, filters)
				if err != nil {
					return err
				}
				records := make([]domain.ToolRecord, 0, len(found))
				for _, tool := range found {
					records = append(records, tool.Record())
				}
				return render(cmd.OutOrStdout(), opts, records, func(w io.Writer) error {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tCAPABILITIES\tENDPOINT\tDESCRIPTION")
					for _, record := range records {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", record.ID, joinSorted(record.Capabilities), record.Endpoint, record.Description)
					}
					return tw.Flush()
				})
			})
		},
	}
	cmd.Flags().StringVar(&toolsOpts.capability, "capability", "", "only tools advertising this capability tag")
	cmd.Flags().StringVar(&toolsOpts.descriptionContains, "description-contains", "", "case-insensitive description substring")
	cmd.Flags().BoolVar(&toolsOpts.hasExamples, "has-examples", false, "only tools with (true) or without (false) examples")
	return cmd
}

func fetchCatalog(ctx context.Context, application *app.Application, origin string) (*catalog.Catalog, error) {
	cat, err := application.Catalog(origin)
	if err != nil {
		return nil, err
	}
	if _, err := cat.Fetch(ctx); err != nil {
		return nil, err
	}
	return cat, nil
}
