package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"eat/internal/app"
	"eat/internal/domain"
	"eat/internal/infra/hashutil"
)

type digestResult struct {
	Target string `json:"target"`
	Digest string `json:"digest"`
	Match  *bool  `json:"match,omitempty"`
}

func newDigestCmd(opts *cliOptions) *cobra.Command {
	var expected string
	cmd := &cobra.Command{
		Use:   "digest <path|url>",
		Short: "Print the SHA-256 digest of a local file or remote document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, opts, func(ctx context.Context, application *app.Application) error {
				target := args[0]
				data, err := readTarget(ctx, application, target)
				if err != nil {
					return err
				}
				result := digestResult{Target: target, Digest: string(hashutil.Digest(data))}
				if expected != "" {
					ok, err := hashutil.Verify(data, expected)
					if err != nil {
						return domain.E(domain.CodeConfiguration, "cli.digest", "", err)
					}
					result.Match = &ok
				}
				if err := render(cmd.OutOrStdout(), opts, result, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "%s  %s\n", result.Digest, result.Target)
					return err
				}); err != nil {
					return err
				}
				if result.Match != nil && !*result.Match {
					return domain.E(domain.CodeIntegrity, "cli.digest", fmt.Sprintf("digest of %s does not match %s", target, expected), nil)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&expected, "expect", "", "fail unless the digest equals this value")
	return cmd
}

// readTarget fetches URLs through the shared fetcher and reads anything
// else from disk.
func readTarget(ctx context.Context, application *app.Application, target string) ([]byte, error) {
	if u, err := url.Parse(target); err == nil {
		switch u.Scheme {
		case "http", "https", "file":
			return application.Fetcher().FetchFresh(ctx, target)
		}
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return nil, domain.E(domain.CodeConfiguration, "cli.digest", "", fmt.Errorf("read %s: %w", target, err))
	}
	return data, nil
}
