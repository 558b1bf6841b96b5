package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"eat/internal/app"
	"eat/internal/infra/telemetry"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

type cliOptions struct {
	configPath         string
	jsonOutput         bool
	output             string
	logLevel           string
	devLogs            bool
	insecureSkipVerify bool
	metrics            bool
	trace              bool
	logger             *zap.Logger
}

func newRootCommand() *cobra.Command {
	opts := cliOptions{
		output:   outputText,
		logLevel: "warn",
		logger:   zap.NewNop(),
	}

	root := &cobra.Command{
		Use:           "eat",
		Short:         "Sign, verify, discover and call tools from signed tool catalogs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			applyRootFlagBindings(cmd, &opts)
			return setupLogger(&opts)
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			_ = opts.logger.Sync()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to YAML config file (defaults apply when empty)")
	flags.BoolVar(&opts.jsonOutput, "json", false, "output JSON (same as --output json)")
	flags.StringVarP(&opts.output, "output", "o", opts.output, "output format: text, json or yaml")
	flags.StringVar(&opts.logLevel, "log-level", opts.logLevel, "log level: debug, info, warn, error")
	flags.BoolVar(&opts.devLogs, "dev-logs", false, "human readable development logs")
	flags.BoolVar(&opts.insecureSkipVerify, "insecure-skip-verify", false, "skip catalog signature verification (spec integrity is still checked)")
	flags.BoolVar(&opts.metrics, "metrics", false, "dump Prometheus metrics to stderr on exit")
	flags.BoolVar(&opts.trace, "trace", false, "print trust pipeline diagnostics to stderr on exit")

	root.AddCommand(
		newSignCmd(&opts),
		newVerifyCmd(&opts),
		newToolsCmd(&opts),
		newCallCmd(&opts),
		newRemoteCmd(&opts),
		newDigestCmd(&opts),
		newTrustCmd(&opts),
	)
	return root
}

func applyRootFlagBindings(cmd *cobra.Command, opts *cliOptions) {
	flags := cmd.Flags()
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "json":
			if on, _ := flags.GetBool("json"); on {
				opts.output = outputJSON
			}
		case "output":
			opts.output, _ = flags.GetString("output")
		}
	})
	opts.output = strings.ToLower(strings.TrimSpace(opts.output))
}

func setupLogger(opts *cliOptions) error {
	switch opts.output {
	case outputText, outputJSON, outputYAML:
	default:
		return exitError{code: exitUsage, message: fmt.Sprintf("unknown output format %q", opts.output)}
	}
	logger, err := app.NewLogger(app.LoggingConfig{Level: opts.logLevel, Development: opts.devLogs})
	if err != nil {
		return exitError{code: exitUsage, message: err.Error()}
	}
	opts.logger = logger
	return nil
}

// withApplication builds the application from --config, runs fn and then
// emits any requested diagnostics before releasing resources.
func withApplication(cmd *cobra.Command, opts *cliOptions, fn func(ctx context.Context, application *app.Application) error) (err error) {
	ctx, cancel := signalAwareContext(cmd.Context())
	defer cancel()
	ctx, _ = telemetry.EnsureRequestMeta(ctx, "", "")

	application, err := app.Load(ctx, opts.configPath, app.Options{
		Logger:                    opts.logger,
		SkipSignatureVerification: opts.insecureSkipVerify,
	})
	if err != nil {
		return err
	}
	defer func() {
		stderr := cmd.ErrOrStderr()
		if opts.trace {
			writeTrace(stderr, application.Diagnostics())
		}
		if opts.metrics {
			if merr := dumpMetrics(stderr, application.Registry()); merr != nil {
				opts.logger.Warn("dump metrics", zap.Error(merr))
			}
		}
		if cerr := application.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, application)
}

func signalAwareContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
