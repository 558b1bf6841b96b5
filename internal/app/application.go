package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"eat/internal/app/catalog"
	"eat/internal/domain"
	"eat/internal/infra/config"
	"eat/internal/infra/invocation"
	"eat/internal/infra/keyresolver"
	"eat/internal/infra/signature"
	"eat/internal/infra/telemetry"
	"eat/internal/infra/telemetry/diagnostics"
	"eat/internal/infra/transport"
	"eat/internal/infra/truststore"
)

// Options adjusts wiring that does not come from the config file.
type Options struct {
	Logger   *zap.Logger
	Registry *prometheus.Registry
	// SkipSignatureVerification overrides verifySignatures=true.
	SkipSignatureVerification bool
	// HTTPClient replaces the base client for outbound fetches and calls.
	HTTPClient *http.Client
}

// Application owns the components built from one configuration.
type Application struct {
	cfg              config.Config
	logger           *zap.Logger
	registry         *prometheus.Registry
	metrics          domain.Metrics
	diagnostics      *diagnostics.Log
	fetcher          *transport.Fetcher
	pinned           *truststore.MapStore
	trust            *truststore.BoltStore
	resolver         *keyresolver.Resolver
	verifier         *signature.Verifier
	invoker          *invocation.Client
	verifySignatures bool
}

func New(cfg config.Config, opts Options) (*Application, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("app")

	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	metrics := telemetry.NewPrometheusMetrics(registry)
	probe := diagnostics.NewLog(cfg.DiagnosticsBufferSize)

	fetcher, err := transport.NewFetcher(transport.FetcherOptions{
		Logger:        logger,
		Timeout:       cfg.FetchTimeout(),
		MaxBytes:      cfg.MaxDocumentBytes,
		UserAgent:     cfg.UserAgent,
		AllowFileURLs: cfg.AllowFileURLs,
		Client:        opts.HTTPClient,
	})
	if err != nil {
		return nil, err
	}

	pinned, err := loadPinnedKeys(cfg.TrustStore.Keys)
	if err != nil {
		return nil, err
	}
	chain := truststore.Chain{pinned}
	var bolt *truststore.BoltStore
	if cfg.TrustStore.Path != "" {
		bolt, err = truststore.OpenBoltStore(cfg.TrustStore.Path)
		if err != nil {
			return nil, domain.E(domain.CodeConfiguration, "app.new", "", fmt.Errorf("open trust store: %w", err))
		}
		chain = append(chain, bolt)
	}

	resolver := keyresolver.NewDefault(fetcher, chain, keyresolver.Options{
		Logger:  logger,
		Metrics: metrics,
		Probe:   probe,
		Timeout: cfg.KeyResolutionTimeout(),
	})
	verifier := signature.NewVerifier(resolver, fetcher, signature.VerifierOptions{
		Logger:      logger,
		Metrics:     metrics,
		Probe:       probe,
		Concurrency: cfg.IntegrityConcurrency,
	})
	invoker := invocation.New(invocation.Options{
		Logger:     logger,
		Metrics:    metrics,
		Timeout:    cfg.InvokeTimeout(),
		UserAgent:  cfg.UserAgent,
		HTTPClient: opts.HTTPClient,
	})

	verify := cfg.VerifySignatures && !opts.SkipSignatureVerification
	if !verify {
		logger.Warn("signature verification disabled; spec integrity is still enforced")
	}

	return &Application{
		cfg:              cfg,
		logger:           logger,
		registry:         registry,
		metrics:          metrics,
		diagnostics:      probe,
		fetcher:          fetcher,
		pinned:           pinned,
		trust:            bolt,
		resolver:         resolver,
		verifier:         verifier,
		invoker:          invoker,
		verifySignatures: verify,
	}, nil
}

// Load reads the config at path and builds an Application from it.
func Load(ctx context.Context, path string, opts Options) (*Application, error) {
	cfg, err := config.NewLoader(opts.Logger).Load(ctx, path)
	if err != nil {
		return nil, err
	}
	return New(cfg, opts)
}

// Catalog returns an unfetched catalog bound to origin.
func (a *Application) Catalog(origin string) (*catalog.Catalog, error) {
	return catalog.New(origin, a.fetcher, a.verifier, catalog.Options{
		Logger:                    a.logger,
		Metrics:                   a.metrics,
		Probe:                     a.diagnostics,
		SkipSignatureVerification: !a.verifySignatures,
	})
}

// Signer loads the private key named by signing.
func (a *Application) Signer(signing config.SigningConfig) (*signature.Signer, error) {
	const op = "app.signer"
	if strings.TrimSpace(signing.PrivateKeyFile) == "" {
		return nil, domain.ConfigurationError(op, "signing private key file is required")
	}
	if strings.TrimSpace(signing.KeyID) == "" {
		return nil, domain.ConfigurationError(op, "signing key id is required")
	}
	key, err := signature.LoadPrivateKey(signing.PrivateKeyFile)
	if err != nil {
		return nil, err
	}
	return signature.NewSigner(key, signing.KeyID, signature.SignerOptions{
		Logger:                   a.logger,
		Probe:                    a.diagnostics,
		Fetcher:                  a.fetcher,
		UnsafePlaceholderDigests: signing.UnsafePlaceholderDigests,
	})
}

// TrustStore returns the persistent store or a configuration error when
// trustStore.path is unset.
func (a *Application) TrustStore() (*truststore.BoltStore, error) {
	if a.trust == nil {
		return nil, domain.ConfigurationError("app.trust_store", "trustStore.path is not configured")
	}
	return a.trust, nil
}

func (a *Application) Config() config.Config { return a.cfg }
func (a *Application) Logger() *zap.Logger { return a.logger }
func (a *Application) Registry() *prometheus.Registry { return a.registry }
func (a *Application) Diagnostics() *diagnostics.Log { return a.diagnostics }
func (a *Application) Fetcher() *transport.Fetcher { return a.fetcher }
func (a *Application) Resolver() *keyresolver.Resolver { return a.resolver }
func (a *Application) Verifier() *signature.Verifier { return a.verifier }
func (a *Application) Invoker() *invocation.Client { return a.invoker }
func (a *Application) PinnedKeys() []truststore.Entry { return a.pinned.List() }
func (a *Application) VerifiesSignatures() bool { return a.verifySignatures }

func (a *Application) Close() error {
	var errs []error
	if err := a.invoker.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.trust != nil {
		if err := a.trust.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func loadPinnedKeys(keys []config.TrustedKey) (*truststore.MapStore, error) {
	const op = "app.pinned_keys"
	pems := make(map[string]string, len(keys))
	for _, key := range keys {
		pem := key.PEM
		if key.PEMFile != "" {
			data, err := os.ReadFile(key.PEMFile)
			if err != nil {
				return nil, domain.E(domain.CodeConfiguration, op, "", fmt.Errorf("read pinned key %s: %w", key.KeyID, err))
			}
			pem = string(data)
		}
		if err := truststore.ValidatePEM(pem); err != nil {
			return nil, domain.E(domain.CodeConfiguration, op, "", fmt.Errorf("pinned key %s: %w", key.KeyID, err))
		}
		pems[key.KeyID] = pem
	}
	return truststore.NewMapStore(pems), nil
}
