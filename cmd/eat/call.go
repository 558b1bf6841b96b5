package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"eat/internal/app"
	"eat/internal/domain"
)

type callOptions struct {
	args     string
	argsFile string
	validate bool
}

func newCallCmd(opts *cliOptions) *cobra.Command {
	callOpts := callOptions{}
	cmd := &cobra.Command{
		Use:   "call <origin> <tool>",
		Short: "Invoke a catalog tool at its endpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			arguments, err := parseArguments(callOpts)
			if err != nil {
				return err
			}
			return withApplication(cmd, opts, func(ctx context.Context, application *app.Application) error {
				cat, err := fetchCatalog(ctx, application, args[0])
				if err != nil {
					return err
				}
				tool, ok, err := cat.Get(args[1])
				if err != nil {
					return err
				}
				if !ok {
					return domain.ConfigurationError("cli.call", fmt.Sprintf("tool %q not found in %s", args[1], cat.Origin()))
				}
				if callOpts.validate {
					if err := tool.ValidateArguments(arguments); err != nil {
						return err
					}
				}
				result, err := application.Invoker().Invoke(ctx, tool.Record(), arguments)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts, result, func(w io.Writer) error {
					return writeJSON(w, result)
				})
			})
		},
	}
	cmd.Flags().StringVar(&callOpts.args, "args", "", "tool arguments as a JSON object")
	cmd.Flags().StringVar(&callOpts.argsFile, "args-file", "", "read tool arguments from a JSON file")
	cmd.Flags().BoolVar(&callOpts.validate, "validate", false, "validate arguments against the tool's parameter schema first")
	return cmd
}

func parseArguments(callOpts callOptions) (map[string]any, error) {
	const op = "cli.call"
	raw := strings.TrimSpace(callOpts.args)
	if callOpts.argsFile != "" {
		if raw != "" {
			return nil, domain.ConfigurationError(op, "--args and --args-file are mutually exclusive")
		}
		data, err := os.ReadFile(callOpts.argsFile)
		if err != nil {
			return nil, domain.E(domain.CodeConfiguration, op, "", fmt.Errorf("read args file: %w", err))
		}
		raw = strings.TrimSpace(string(data))
	}
	if raw == "" {
		return map[string]any{}, nil
	}
	var arguments map[string]any
	if err := json.Unmarshal([]byte(raw), &arguments); err != nil || arguments == nil {
		return nil, domain.ConfigurationError(op, "arguments must be a JSON object")
	}
	return arguments, nil
}

func newRemoteCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Talk to a tool endpoint directly",
	}
	cmd.AddCommand(newRemoteListCmd(opts), newRemoteSchemaCmd(opts))
	return cmd
}

func newRemoteListCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <endpoint>",
		Short: "List the tools an endpoint serves",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, opts, func(ctx context.Context, application *app.Application) error {
				tools, err := application.Invoker().ListTools(ctx, args[0])
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts, tools, func(w io.Writer) error {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "NAME\tDESCRIPTION")
					for _, tool := range tools {
						fmt.Fprintf(tw, "%s\t%s\n", tool.Name, tool.Description)
					}
					return tw.Flush()
				})
			})
		},
	}
}

func newRemoteSchemaCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema <endpoint> <tool>",
		Short: "Fetch a tool's argument schema from its endpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, opts, func(ctx context.Context, application *app.Application) error {
				schema, err := application.Invoker().GetSchema(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts, schema, func(w io.Writer) error {
					return writeJSON(w, schema)
				})
			})
		},
	}
}
