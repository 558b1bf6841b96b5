package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"eat/internal/app"
	"eat/internal/domain"
	"eat/internal/infra/signature"
)

type signOptions struct {
	outFile     string
	privateKey  string
	keyID       string
	placeholder bool
	unsigned    bool
}

func newSignCmd(opts *cliOptions) *cobra.Command {
	signOpts := signOptions{}
	cmd := &cobra.Command{
		Use:   "sign <catalog.json>",
		Short: "Attach spec digests to a catalog and sign it as a compact JWS",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, opts, func(ctx context.Context, application *app.Application) error {
				return runSign(ctx, cmd, application, args[0], signOpts)
			})
		},
	}
	cmd.Flags().StringVar(&signOpts.outFile, "out", "", "write the result to this file instead of stdout")
	cmd.Flags().StringVar(&signOpts.privateKey, "private-key", "", "PEM private key (overrides signing.privateKeyFile)")
	cmd.Flags().StringVar(&signOpts.keyID, "key-id", "", "key id placed in the JWS header (overrides signing.keyId)")
	cmd.Flags().BoolVar(&signOpts.placeholder, "unsafe-placeholder-digests", false, "digest the spec URL when the spec cannot be fetched; such records never verify")
	cmd.Flags().BoolVar(&signOpts.unsigned, "unsigned", false, "only attach digests and write pretty-printed JSON")
	return cmd
}

func runSign(ctx context.Context, cmd *cobra.Command, application *app.Application, path string, signOpts signOptions) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.E(domain.CodeConfiguration, "cli.sign", "", fmt.Errorf("read catalog: %w", err))
	}
	doc, err := domain.DecodeCatalogDocument(data)
	if err != nil {
		return err
	}

	signing := application.Config().Signing
	flags := cmd.Flags()
	if flags.Changed("private-key") {
		signing.PrivateKeyFile = signOpts.privateKey
	}
	if flags.Changed("key-id") {
		signing.KeyID = signOpts.keyID
	}
	if flags.Changed("unsafe-placeholder-digests") {
		signing.UnsafePlaceholderDigests = signOpts.placeholder
	}

	var (
		payload      []byte
		placeholders []string
	)
	if signOpts.unsigned {
		preparer := signature.NewPreparer(signature.SignerOptions{
			Logger:                   application.Logger(),
			Probe:                    application.Diagnostics(),
			Fetcher:                  application.Fetcher(),
			UnsafePlaceholderDigests: signing.UnsafePlaceholderDigests,
		})
		prepared, flagged, err := preparer.Prepare(ctx, doc)
		if err != nil {
			return err
		}
		payload, err = json.MarshalIndent(prepared, "", "  ")
		if err != nil {
			return err
		}
		payload = append(payload, '\n')
		placeholders = flagged
	} else {
		signer, err := application.Signer(signing)
		if err != nil {
			return err
		}
		result, err := signer.Sign(ctx, doc)
		if err != nil {
			return err
		}
		payload = []byte(result.Token)
		placeholders = result.Placeholders
	}

	if len(placeholders) > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: placeholder spec digests for %s; these tools will fail verification\n",
			strings.Join(placeholders, ", "))
	}
	if signOpts.outFile == "" {
		return writePayload(cmd.OutOrStdout(), payload, !signOpts.unsigned)
	}
	if err := os.WriteFile(signOpts.outFile, payload, 0o644); err != nil {
		return domain.E(domain.CodeConfiguration, "cli.sign", "", fmt.Errorf("write output: %w", err))
	}
	return nil
}

func writePayload(w io.Writer, payload []byte, newline bool) error {
	if _, err := w.Write(payload); err != nil {
		return err
	}
	if newline {
		_, err := io.WriteString(w, "\n")
		return err
	}
	return nil
}
